package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethindex/ethindex/internal/ethrecord"
	"github.com/ethindex/ethindex/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	s, err := store.OpenBoltStore(filepath.Join(t.TempDir(), "ethindex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &Engine{Store: s}, s
}

func TestFillForwardLaw(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")

	require.NoError(t, s.PutWatchMeta(ctx, addr, ethrecord.WatchMeta{StartBlock: 100}))
	require.NoError(t, s.SetHead(ctx, 105))
	require.NoError(t, s.PutSnapshot(ctx, addr, 100, uint256.NewInt(10_000)))

	d101 := ethrecord.NewBlockDelta()
	d101.DeltaMinus = uint256.NewInt(100)
	require.NoError(t, s.PutDelta(ctx, addr, 101, *d101))

	d103 := ethrecord.NewBlockDelta()
	d103.DeltaPlus = uint256.NewInt(500)
	require.NoError(t, s.PutDelta(ctx, addr, 103, *d103))

	d105 := ethrecord.NewBlockDelta()
	d105.DeltaMinus = uint256.NewInt(200)
	require.NoError(t, s.PutDelta(ctx, addr, 105, *d105))

	result, err := e.BalancesInRange(ctx, addr, 101, 105)
	require.NoError(t, err)
	require.Len(t, result.Data, 5)

	want := []uint64{9900, 9900, 10400, 10400, 10200}
	for i, p := range result.Data {
		require.Equal(t, want[i], p.Balance.Uint64(), "block %d", p.Block)
	}
}

func TestAnchorProtection(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")

	require.NoError(t, s.PutWatchMeta(ctx, addr, ethrecord.WatchMeta{StartBlock: 100}))
	require.NoError(t, s.PutSnapshot(ctx, addr, 50, uint256.NewInt(1)))
	require.NoError(t, s.SetHead(ctx, 200))

	_, err := e.BalancesInRange(ctx, addr, 100, 150)
	require.Error(t, err)
	require.True(t, store.IsCoverage(err))
}

func TestCoverageClamping(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")

	require.NoError(t, s.PutWatchMeta(ctx, addr, ethrecord.WatchMeta{StartBlock: 100}))
	require.NoError(t, s.SetHead(ctx, 150))

	result, err := e.DeltasInRange(ctx, addr, 90, 200)
	require.NoError(t, err)
	require.Equal(t, uint64(100), result.EffectiveStart)
	require.Equal(t, uint64(150), result.EffectiveEnd)
	require.Contains(t, result.Message, "Earliest known balance starts at block 100")
	require.Contains(t, result.Message, "Latest available block is 150")
}

func TestDenseDeltasFillsGaps(t *testing.T) {
	entries := []store.DeltaEntry{
		{Block: 101, Delta: *ethrecord.NewBlockDelta()},
	}
	dense := DenseDeltas(100, 103, entries)
	require.Len(t, dense, 4)
	require.Equal(t, uint64(100), dense[0].Block)
	require.True(t, dense[0].Delta.DeltaPlus.IsZero())
	require.Equal(t, uint64(101), dense[1].Block)
}

func TestNotTrackingErrorWhenWatchMetaMissing(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")

	_, err := e.DeltasInRange(ctx, addr, 0, 100)
	require.Error(t, err)
	require.True(t, store.IsNotFound(err))
}

func TestEmptyRangeWhenEffectiveStartExceedsEnd(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	require.NoError(t, s.PutWatchMeta(ctx, addr, ethrecord.WatchMeta{StartBlock: 500}))

	result, err := e.DeltasInRange(ctx, addr, 0, 100)
	require.NoError(t, err)
	require.Empty(t, result.Data)
}
