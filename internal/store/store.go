// Package store provides the ordered key-value abstraction the indexer
// persists its data model into, and a bbolt-backed implementation of it.
package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ethindex/ethindex/internal/ethrecord"
)

// DeltaEntry pairs a block number with the delta recorded at it, the shape
// returned by range scans over the delta family.
type DeltaEntry struct {
	Block uint64
	Delta ethrecord.BlockDelta
}

// Erc20DeltaEntry is the ERC-20 analogue of DeltaEntry.
type Erc20DeltaEntry struct {
	Block uint64
	Delta ethrecord.Erc20Delta
}

// Store is the capability set the rest of the indexer depends on. It has a
// single implementation here (BoltStore) but is kept as an interface so
// that an in-memory or remote backend can stand in for tests.
type Store interface {
	GetAccount(ctx context.Context, addr common.Address) (ethrecord.AccountRecord, bool, error)
	PutAccount(ctx context.Context, addr common.Address, rec ethrecord.AccountRecord) error

	GetCode(ctx context.Context, codeHash common.Hash) ([]byte, bool, error)
	PutCode(ctx context.Context, codeHash common.Hash, code []byte) error

	// GetStorage returns uint256 zero when no value has been written,
	// matching the EVM's own "missing slot = zero" convention.
	GetStorage(ctx context.Context, addr common.Address, slot common.Hash) (*uint256.Int, error)
	PutStorage(ctx context.Context, addr common.Address, slot common.Hash, val *uint256.Int) error

	GetHeader(ctx context.Context, block uint64) (ethrecord.HeaderRecord, bool, error)
	PutHeader(ctx context.Context, block uint64, rec ethrecord.HeaderRecord) error

	GetBlockHash(ctx context.Context, block uint64) (common.Hash, bool, error)
	PutBlockHash(ctx context.Context, block uint64, hash common.Hash) error

	GetHead(ctx context.Context) (uint64, bool, error)
	SetHead(ctx context.Context, block uint64) error

	PutDelta(ctx context.Context, addr common.Address, block uint64, d ethrecord.BlockDelta) error
	GetDelta(ctx context.Context, addr common.Address, block uint64) (ethrecord.BlockDelta, bool, error)
	GetDeltasInRange(ctx context.Context, addr common.Address, start, end uint64) ([]DeltaEntry, error)

	PutSnapshot(ctx context.Context, addr common.Address, block uint64, bal *uint256.Int) error
	GetSnapshot(ctx context.Context, addr common.Address, block uint64) (*uint256.Int, bool, error)
	GetLatestSnapshotAtOrBefore(ctx context.Context, addr common.Address, block uint64) (uint64, *uint256.Int, bool, error)

	PutWatchMeta(ctx context.Context, addr common.Address, meta ethrecord.WatchMeta) error
	GetWatchMeta(ctx context.Context, addr common.Address) (ethrecord.WatchMeta, bool, error)

	PutErc20Delta(ctx context.Context, token, owner common.Address, block uint64, d ethrecord.Erc20Delta) error
	GetErc20Delta(ctx context.Context, token, owner common.Address, block uint64) (ethrecord.Erc20Delta, bool, error)
	GetErc20DeltasInRange(ctx context.Context, token, owner common.Address, start, end uint64) ([]Erc20DeltaEntry, error)

	PutErc20Snapshot(ctx context.Context, token, owner common.Address, block uint64, bal *uint256.Int) error
	GetErc20Snapshot(ctx context.Context, token, owner common.Address, block uint64) (*uint256.Int, bool, error)
	GetLatestErc20SnapshotAtOrBefore(ctx context.Context, token, owner common.Address, block uint64) (uint64, *uint256.Int, bool, error)

	GetErc20Balance(ctx context.Context, token, owner common.Address) (*uint256.Int, bool, error)
	PutErc20Balance(ctx context.Context, token, owner common.Address, bal *uint256.Int) error

	PutErc20WatchMeta(ctx context.Context, token, owner common.Address, meta ethrecord.Erc20WatchMeta) error
	GetErc20WatchMeta(ctx context.Context, token, owner common.Address) (ethrecord.Erc20WatchMeta, bool, error)

	Close() error
}
