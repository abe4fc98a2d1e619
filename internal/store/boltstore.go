package store

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	bolt "go.etcd.io/bbolt"

	"github.com/ethindex/ethindex/internal/ethkey"
	"github.com/ethindex/ethindex/internal/ethrecord"
)

// Bucket names. One per logical entity family, the bbolt analogue of the
// RocksDB column families the original store was built on.
var (
	bucketAccounts        = []byte("accounts")
	bucketCode            = []byte("code")
	bucketStorage          = []byte("storage")
	bucketHeaders          = []byte("headers")
	bucketBlockHashes      = []byte("block_hashes")
	bucketMeta             = []byte("meta")
	bucketDeltas           = []byte("deltas")
	bucketSnapshots        = []byte("snapshots")
	bucketWatchMeta        = []byte("watch_meta")
	bucketErc20Deltas      = []byte("erc20_deltas")
	bucketErc20Snapshots   = []byte("erc20_snapshots")
	bucketErc20Balances    = []byte("erc20_balances")
	bucketErc20WatchMeta   = []byte("erc20_watch_meta")

	allBuckets = [][]byte{
		bucketAccounts, bucketCode, bucketStorage, bucketHeaders, bucketBlockHashes,
		bucketMeta, bucketDeltas, bucketSnapshots, bucketWatchMeta,
		bucketErc20Deltas, bucketErc20Snapshots, bucketErc20Balances, bucketErc20WatchMeta,
	}
)

// BoltStore is the Store implementation backed by an embedded bbolt
// database file. Single-writer, single-reader per the pipeline's
// concurrency model; bbolt itself serializes writers and allows concurrent
// read transactions.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt database at path and
// ensures every bucket this store depends on exists.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, newConfigErr("store: failed to open database", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, newConfigErr("store: failed to initialize buckets", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func (s *BoltStore) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

// --- accounts ---

func (s *BoltStore) GetAccount(ctx context.Context, addr common.Address) (ethrecord.AccountRecord, bool, error) {
	var rec ethrecord.AccountRecord
	found := false
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAccounts).Get(addr.Bytes())
		if v == nil {
			return nil
		}
		r, err := ethrecord.DecodeAccountRecord(v)
		if err != nil {
			return newDataErr("store: corrupt account record", err)
		}
		rec, found = r, true
		return nil
	})
	return rec, found, err
}

func (s *BoltStore) PutAccount(ctx context.Context, addr common.Address, rec ethrecord.AccountRecord) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put(addr.Bytes(), rec.Encode())
	})
}

// --- code ---

func (s *BoltStore) GetCode(ctx context.Context, codeHash common.Hash) ([]byte, bool, error) {
	var code []byte
	found := false
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCode).Get(codeHash.Bytes())
		if v == nil {
			return nil
		}
		code = append([]byte(nil), v...)
		found = true
		return nil
	})
	return code, found, err
}

func (s *BoltStore) PutCode(ctx context.Context, codeHash common.Hash, code []byte) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCode).Put(codeHash.Bytes(), code)
	})
}

// --- storage ---

func (s *BoltStore) GetStorage(ctx context.Context, addr common.Address, slot common.Hash) (*uint256.Int, error) {
	key := append(append([]byte{}, addr.Bytes()...), slot.Bytes()...)
	var val *uint256.Int
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStorage).Get(key)
		if v == nil {
			val = new(uint256.Int)
			return nil
		}
		decoded, err := ethrecord.DecodeU256(v)
		if err != nil {
			return newDataErr("store: corrupt storage value", err)
		}
		val = decoded
		return nil
	})
	return val, err
}

func (s *BoltStore) PutStorage(ctx context.Context, addr common.Address, slot common.Hash, v *uint256.Int) error {
	key := append(append([]byte{}, addr.Bytes()...), slot.Bytes()...)
	enc := ethrecord.EncodeU256(v)
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStorage).Put(key, enc[:])
	})
}

// --- headers / block hashes ---

func (s *BoltStore) GetHeader(ctx context.Context, block uint64) (ethrecord.HeaderRecord, bool, error) {
	var rec ethrecord.HeaderRecord
	found := false
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeaders).Get(ethkey.Header(block))
		if v == nil {
			return nil
		}
		r, err := ethrecord.DecodeHeaderRecord(v)
		if err != nil {
			return newDataErr("store: corrupt header record", err)
		}
		rec, found = r, true
		return nil
	})
	return rec, found, err
}

func (s *BoltStore) PutHeader(ctx context.Context, block uint64, rec ethrecord.HeaderRecord) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeaders).Put(ethkey.Header(block), rec.Encode())
	})
}

func (s *BoltStore) GetBlockHash(ctx context.Context, block uint64) (common.Hash, bool, error) {
	var h common.Hash
	found := false
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlockHashes).Get(ethkey.BlockHash(block))
		if v == nil {
			return nil
		}
		if len(v) != common.HashLength {
			return newDataErr("store: corrupt block hash record", fmt.Errorf("want %d bytes, got %d", common.HashLength, len(v)))
		}
		h = common.BytesToHash(v)
		found = true
		return nil
	})
	return h, found, err
}

func (s *BoltStore) PutBlockHash(ctx context.Context, block uint64, hash common.Hash) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlockHashes).Put(ethkey.BlockHash(block), hash.Bytes())
	})
}

// --- head ---

func (s *BoltStore) GetHead(ctx context.Context) (uint64, bool, error) {
	var head uint64
	found := false
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte{ethkey.MetaHead})
		if v == nil {
			return nil
		}
		if len(v) != 8 {
			return newDataErr("store: corrupt head record", fmt.Errorf("want 8 bytes, got %d", len(v)))
		}
		head = beUint64(v)
		found = true
		return nil
	})
	return head, found, err
}

func (s *BoltStore) SetHead(ctx context.Context, block uint64) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte{ethkey.MetaHead}, beBytes(block))
	})
}

// --- ETH deltas ---

func (s *BoltStore) PutDelta(ctx context.Context, addr common.Address, block uint64, d ethrecord.BlockDelta) error {
	key := ethkey.Delta(addr, block)
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeltas).Put(key, d.Encode())
	})
}

func (s *BoltStore) GetDelta(ctx context.Context, addr common.Address, block uint64) (ethrecord.BlockDelta, bool, error) {
	var d ethrecord.BlockDelta
	found := false
	key := ethkey.Delta(addr, block)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDeltas).Get(key)
		if v == nil {
			return nil
		}
		dec, err := ethrecord.DecodeBlockDelta(v)
		if err != nil {
			return newDataErr("store: corrupt delta record", err)
		}
		d, found = dec, true
		return nil
	})
	return d, found, err
}

func (s *BoltStore) GetDeltasInRange(ctx context.Context, addr common.Address, start, end uint64) ([]DeltaEntry, error) {
	lower := ethkey.Delta(addr, start)
	upper := ethkey.DeltaRangeUpper(addr, end)
	if end == math.MaxUint64 {
		// end+1 would wrap to block 0; bound just past addr's last possible key.
		upper = append(ethkey.Delta(addr, end), 0)
	}
	var out []DeltaEntry
	err := s.view(ctx, func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeltas).Cursor()
		for k, v := c.Seek(lower); k != nil && bytes.Compare(k, upper) < 0; k, v = c.Next() {
			gotAddr, block, err := ethkey.DecodeDelta(k)
			if err != nil {
				return newDataErr("store: corrupt delta key", err)
			}
			if gotAddr != addr {
				return newDataErr("store: delta scan returned mismatched address", fmt.Errorf("expected %s got %s", addr, gotAddr))
			}
			d, err := ethrecord.DecodeBlockDelta(v)
			if err != nil {
				return newDataErr("store: corrupt delta record", err)
			}
			out = append(out, DeltaEntry{Block: block, Delta: d})
		}
		return nil
	})
	return out, err
}

// --- ETH snapshots ---

func (s *BoltStore) PutSnapshot(ctx context.Context, addr common.Address, block uint64, bal *uint256.Int) error {
	key := ethkey.Snapshot(addr, block)
	enc := ethrecord.EncodeU256(bal)
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(key, enc[:])
	})
}

func (s *BoltStore) GetSnapshot(ctx context.Context, addr common.Address, block uint64) (*uint256.Int, bool, error) {
	key := ethkey.Snapshot(addr, block)
	var val *uint256.Int
	found := false
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSnapshots).Get(key)
		if v == nil {
			return nil
		}
		dec, err := ethrecord.DecodeU256(v)
		if err != nil {
			return newDataErr("store: corrupt snapshot value", err)
		}
		val, found = dec, true
		return nil
	})
	return val, found, err
}

func (s *BoltStore) GetLatestSnapshotAtOrBefore(ctx context.Context, addr common.Address, block uint64) (uint64, *uint256.Int, bool, error) {
	target := ethkey.Snapshot(addr, block)
	var (
		foundBlock uint64
		val        *uint256.Int
		found      bool
	)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		k, v := c.Seek(target)
		if k == nil || !bytes.Equal(k, target) {
			k, v = c.Prev()
		}
		if k == nil {
			return nil
		}
		gotAddr, gotBlock, err := ethkey.DecodeSnapshot(k)
		if err != nil {
			return newDataErr("store: corrupt snapshot key", err)
		}
		if gotAddr != addr {
			return nil
		}
		dec, err := ethrecord.DecodeU256(v)
		if err != nil {
			return newDataErr("store: corrupt snapshot value", err)
		}
		foundBlock, val, found = gotBlock, dec, true
		return nil
	})
	return foundBlock, val, found, err
}

// --- ETH watch meta ---

func (s *BoltStore) PutWatchMeta(ctx context.Context, addr common.Address, meta ethrecord.WatchMeta) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWatchMeta).Put(addr.Bytes(), meta.Encode())
	})
}

func (s *BoltStore) GetWatchMeta(ctx context.Context, addr common.Address) (ethrecord.WatchMeta, bool, error) {
	var meta ethrecord.WatchMeta
	found := false
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketWatchMeta).Get(addr.Bytes())
		if v == nil {
			return nil
		}
		m, err := ethrecord.DecodeWatchMeta(v)
		if err != nil {
			return newDataErr("store: corrupt watch meta record", err)
		}
		meta, found = m, true
		return nil
	})
	return meta, found, err
}

// --- ERC-20 deltas ---

func (s *BoltStore) PutErc20Delta(ctx context.Context, token, owner common.Address, block uint64, d ethrecord.Erc20Delta) error {
	key := ethkey.Erc20Delta(token, owner, block)
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketErc20Deltas).Put(key, d.Encode())
	})
}

func (s *BoltStore) GetErc20Delta(ctx context.Context, token, owner common.Address, block uint64) (ethrecord.Erc20Delta, bool, error) {
	var d ethrecord.Erc20Delta
	found := false
	key := ethkey.Erc20Delta(token, owner, block)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketErc20Deltas).Get(key)
		if v == nil {
			return nil
		}
		dec, err := ethrecord.DecodeErc20Delta(v)
		if err != nil {
			return newDataErr("store: corrupt erc20 delta record", err)
		}
		d, found = dec, true
		return nil
	})
	return d, found, err
}

func (s *BoltStore) GetErc20DeltasInRange(ctx context.Context, token, owner common.Address, start, end uint64) ([]Erc20DeltaEntry, error) {
	lower := ethkey.Erc20Delta(token, owner, start)
	upper := ethkey.Erc20DeltaRangeUpper(token, owner, end)
	if end == math.MaxUint64 {
		// end+1 would wrap to block 0; bound just past the pair's last possible key.
		upper = append(ethkey.Erc20Delta(token, owner, end), 0)
	}
	var out []Erc20DeltaEntry
	err := s.view(ctx, func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketErc20Deltas).Cursor()
		for k, v := c.Seek(lower); k != nil && bytes.Compare(k, upper) < 0; k, v = c.Next() {
			gotToken, gotOwner, block, err := ethkey.DecodeErc20Delta(k)
			if err != nil {
				return newDataErr("store: corrupt erc20 delta key", err)
			}
			if gotToken != token || gotOwner != owner {
				return newDataErr("store: erc20 delta scan returned mismatched pair", fmt.Errorf("expected (%s,%s) got (%s,%s)", token, owner, gotToken, gotOwner))
			}
			d, err := ethrecord.DecodeErc20Delta(v)
			if err != nil {
				return newDataErr("store: corrupt erc20 delta record", err)
			}
			out = append(out, Erc20DeltaEntry{Block: block, Delta: d})
		}
		return nil
	})
	return out, err
}

// --- ERC-20 snapshots ---

func (s *BoltStore) PutErc20Snapshot(ctx context.Context, token, owner common.Address, block uint64, bal *uint256.Int) error {
	key := ethkey.Erc20Snapshot(token, owner, block)
	enc := ethrecord.EncodeU256(bal)
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketErc20Snapshots).Put(key, enc[:])
	})
}

func (s *BoltStore) GetErc20Snapshot(ctx context.Context, token, owner common.Address, block uint64) (*uint256.Int, bool, error) {
	key := ethkey.Erc20Snapshot(token, owner, block)
	var val *uint256.Int
	found := false
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketErc20Snapshots).Get(key)
		if v == nil {
			return nil
		}
		dec, err := ethrecord.DecodeU256(v)
		if err != nil {
			return newDataErr("store: corrupt erc20 snapshot value", err)
		}
		val, found = dec, true
		return nil
	})
	return val, found, err
}

func (s *BoltStore) GetLatestErc20SnapshotAtOrBefore(ctx context.Context, token, owner common.Address, block uint64) (uint64, *uint256.Int, bool, error) {
	target := ethkey.Erc20Snapshot(token, owner, block)
	var (
		foundBlock uint64
		val        *uint256.Int
		found      bool
	)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketErc20Snapshots).Cursor()
		k, v := c.Seek(target)
		if k == nil || !bytes.Equal(k, target) {
			k, v = c.Prev()
		}
		if k == nil {
			return nil
		}
		gotToken, gotOwner, gotBlock, err := ethkey.DecodeErc20Snapshot(k)
		if err != nil {
			return newDataErr("store: corrupt erc20 snapshot key", err)
		}
		if gotToken != token || gotOwner != owner {
			return nil
		}
		dec, err := ethrecord.DecodeU256(v)
		if err != nil {
			return newDataErr("store: corrupt erc20 snapshot value", err)
		}
		foundBlock, val, found = gotBlock, dec, true
		return nil
	})
	return foundBlock, val, found, err
}

// --- ERC-20 live balance ---

func (s *BoltStore) GetErc20Balance(ctx context.Context, token, owner common.Address) (*uint256.Int, bool, error) {
	key := ethkey.Erc20WatchMeta(token, owner) // (token, owner) shape reused for the live-balance key
	var val *uint256.Int
	found := false
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketErc20Balances).Get(key)
		if v == nil {
			return nil
		}
		dec, err := ethrecord.DecodeU256(v)
		if err != nil {
			return newDataErr("store: corrupt erc20 balance value", err)
		}
		val, found = dec, true
		return nil
	})
	return val, found, err
}

func (s *BoltStore) PutErc20Balance(ctx context.Context, token, owner common.Address, bal *uint256.Int) error {
	key := ethkey.Erc20WatchMeta(token, owner)
	enc := ethrecord.EncodeU256(bal)
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketErc20Balances).Put(key, enc[:])
	})
}

// --- ERC-20 watch meta ---

func (s *BoltStore) PutErc20WatchMeta(ctx context.Context, token, owner common.Address, meta ethrecord.Erc20WatchMeta) error {
	key := ethkey.Erc20WatchMeta(token, owner)
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketErc20WatchMeta).Put(key, meta.Encode())
	})
}

func (s *BoltStore) GetErc20WatchMeta(ctx context.Context, token, owner common.Address) (ethrecord.Erc20WatchMeta, bool, error) {
	key := ethkey.Erc20WatchMeta(token, owner)
	var meta ethrecord.Erc20WatchMeta
	found := false
	err := s.view(ctx, func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketErc20WatchMeta).Get(key)
		if v == nil {
			return nil
		}
		m, err := ethrecord.DecodeErc20WatchMeta(v)
		if err != nil {
			return newDataErr("store: corrupt erc20 watch meta record", err)
		}
		meta, found = m, true
		return nil
	})
	return meta, found, err
}

func beBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

var _ Store = (*BoltStore)(nil)
