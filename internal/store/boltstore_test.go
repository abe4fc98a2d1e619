package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethindex/ethindex/internal/ethrecord"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ethindex.db")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1")

	_, found, err := s.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.False(t, found)

	rec := ethrecord.AccountRecord{Nonce: 5, Balance: uint256.NewInt(1000), CodeHash: common.Hash{}}
	require.NoError(t, s.PutAccount(ctx, addr, rec))

	got, found, err := s.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rec.Nonce, got.Nonce)
	require.Equal(t, rec.Balance, got.Balance)
}

func TestMissingStorageReturnsZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	slot := common.HexToHash("0x01")

	v, err := s.GetStorage(ctx, addr, slot)
	require.NoError(t, err)
	require.True(t, v.IsZero())

	require.NoError(t, s.PutStorage(ctx, addr, slot, uint256.NewInt(42)))
	v, err = s.GetStorage(ctx, addr, slot)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(42), v)
}

func TestHeadSetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.GetHead(ctx)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SetHead(ctx, 18_000_000))
	head, found, err := s.GetHead(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(18_000_000), head)
}

func TestDeltaRangeScan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	other := common.HexToAddress("0x0000000000000000000000000000000000000002")

	for _, block := range []uint64{100, 101, 103, 105} {
		d := ethrecord.NewBlockDelta()
		d.DeltaPlus = uint256.NewInt(block)
		require.NoError(t, s.PutDelta(ctx, addr, block, *d))
	}
	// different address must never appear in addr's scan
	d := ethrecord.NewBlockDelta()
	d.DeltaPlus = uint256.NewInt(999)
	require.NoError(t, s.PutDelta(ctx, other, 102, *d))

	entries, err := s.GetDeltasInRange(ctx, addr, 101, 105)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, uint64(101), entries[0].Block)
	require.Equal(t, uint64(103), entries[1].Block)
	require.Equal(t, uint64(105), entries[2].Block)
}

func TestLatestSnapshotAtOrBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")

	require.NoError(t, s.PutSnapshot(ctx, addr, 100, uint256.NewInt(10_000)))
	require.NoError(t, s.PutSnapshot(ctx, addr, 103, uint256.NewInt(10_400)))

	block, bal, found, err := s.GetLatestSnapshotAtOrBefore(ctx, addr, 102)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(100), block)
	require.Equal(t, uint256.NewInt(10_000), bal)

	block, bal, found, err = s.GetLatestSnapshotAtOrBefore(ctx, addr, 103)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(103), block)
	require.Equal(t, uint256.NewInt(10_400), bal)

	_, _, found, err = s.GetLatestSnapshotAtOrBefore(ctx, addr, 99)
	require.NoError(t, err)
	require.False(t, found)
}

func TestLatestSnapshotNeverCrossesAddressBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a1 := common.HexToAddress("0x0000000000000000000000000000000000000001")
	a2 := common.HexToAddress("0x0000000000000000000000000000000000000002")

	require.NoError(t, s.PutSnapshot(ctx, a1, 100, uint256.NewInt(1)))
	// a2 has no snapshot at all; its query must not see a1's.
	_, _, found, err := s.GetLatestSnapshotAtOrBefore(ctx, a2, 200)
	require.NoError(t, err)
	require.False(t, found)
}

func TestWatchMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")

	_, found, err := s.GetWatchMeta(ctx, addr)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.PutWatchMeta(ctx, addr, ethrecord.WatchMeta{StartBlock: 100}))
	meta, found, err := s.GetWatchMeta(ctx, addr)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(100), meta.StartBlock)
}

func TestErc20BalanceAndWatchMetaAreIndependentOfEachOther(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	token := common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	owner := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1")

	require.NoError(t, s.PutErc20WatchMeta(ctx, token, owner, ethrecord.Erc20WatchMeta{StartBlock: 50}))
	require.NoError(t, s.PutErc20Balance(ctx, token, owner, uint256.NewInt(777)))

	meta, found, err := s.GetErc20WatchMeta(ctx, token, owner)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(50), meta.StartBlock)

	bal, found, err := s.GetErc20Balance(ctx, token, owner)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint256.NewInt(777), bal)
}

func TestErc20DeltaRangeScan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	token := common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	owner := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1")

	for _, block := range []uint64{10, 20, 30} {
		d := ethrecord.NewErc20Delta()
		d.DeltaPlus = uint256.NewInt(block)
		require.NoError(t, s.PutErc20Delta(ctx, token, owner, block, *d))
	}

	entries, err := s.GetErc20DeltasInRange(ctx, token, owner, 15, 30)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(20), entries[0].Block)
	require.Equal(t, uint64(30), entries[1].Block)
}
