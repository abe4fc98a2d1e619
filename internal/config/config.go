// Package config loads the daemon's TOML configuration and its plain-text
// address watchlists.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the daemon's full runtime configuration, loaded from a TOML
// file and overridable by command-line flags.
type Config struct {
	RPCURL           string `toml:"rpc_url"`
	DBPath           string `toml:"db_path"`
	WatchlistPath    string `toml:"watchlist_path"`
	TokenListPath    string `toml:"token_list_path"`
	PollIntervalSecs int64  `toml:"poll_interval_secs"`
	UseFinalized     bool   `toml:"use_finalized"`
}

// PollInterval is PollIntervalSecs as a time.Duration, the unit every
// caller (the pipeline's poll loop) actually wants.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// Default returns the configuration the daemon falls back to when no file
// is given, matching the teacher's localhost-devnet defaults.
func Default() Config {
	return Config{
		RPCURL:           "http://127.0.0.1:8545",
		DBPath:           "./ethindex_db",
		WatchlistPath:    "watchlist.txt",
		PollIntervalSecs: 12,
	}
}

// Load reads a TOML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWatchlist parses a newline-separated address file. Blank lines and
// lines starting with '#' are ignored. At least one address is required.
func LoadWatchlist(path string) ([]common.Address, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open watchlist %s: %w", path, err)
	}
	defer f.Close()

	var addrs []common.Address
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, err := parseAddress(line)
		if err != nil {
			return nil, fmt.Errorf("config: invalid address on line %d of %s: %w", lineNum, path, err)
		}
		addrs = append(addrs, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read watchlist %s: %w", path, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("config: watchlist %s is empty", path)
	}
	return addrs, nil
}

// LoadTokenList is the ERC-20 analogue of LoadWatchlist: one token contract
// address per line. An empty or missing path means token tracking is off.
func LoadTokenList(path string) ([]common.Address, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return LoadWatchlist(path)
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 40 {
		return common.Address{}, fmt.Errorf("address must be 40 hex chars, got %d", len(s))
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not a valid hex address: %q", s)
	}
	return common.HexToAddress(s), nil
}
