package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadWatchlistParsesAndSkipsCommentsAndBlanks(t *testing.T) {
	path := writeFile(t, "watchlist.txt", ""+
		"0x0742d35Cc6634C0532925a3b844Bc9e7595f0bEb\n"+
		"# a comment\n"+
		"\n"+
		"dAC17F958D2ee523a2206206994597C13D831ec7\n")

	addrs, err := LoadWatchlist(path)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
}

func TestLoadWatchlistRejectsEmpty(t *testing.T) {
	path := writeFile(t, "watchlist.txt", "# only a comment\n")
	_, err := LoadWatchlist(path)
	require.Error(t, err)
}

func TestLoadWatchlistRejectsBadAddress(t *testing.T) {
	path := writeFile(t, "watchlist.txt", "not-an-address\n")
	_, err := LoadWatchlist(path)
	require.Error(t, err)
}

func TestLoadTokenListMissingPathReturnsNil(t *testing.T) {
	addrs, err := LoadTokenList(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	require.NoError(t, err)
	require.Nil(t, addrs)
}

func TestLoadTokenListEmptyPathReturnsNil(t *testing.T) {
	addrs, err := LoadTokenList("")
	require.NoError(t, err)
	require.Nil(t, addrs)
}

func TestLoadParsesTOMLOverDefaults(t *testing.T) {
	path := writeFile(t, "ethindex.toml", ""+
		"rpc_url = \"https://example.invalid/rpc\"\n"+
		"db_path = \"/var/lib/ethindex\"\n"+
		"poll_interval_secs = 30\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://example.invalid/rpc", cfg.RPCURL)
	require.Equal(t, "/var/lib/ethindex", cfg.DBPath)
	require.Equal(t, 30*time.Second, cfg.PollInterval())
	require.Equal(t, "watchlist.txt", cfg.WatchlistPath)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
