// Package ethrecord defines the binary record shapes persisted by the
// state store and their fixed-width encode/decode functions.
//
// Every record has a fixed byte length for its kind, so decoding needs no
// schema versioning: a length mismatch is always a corruption error. u256
// values are always encoded as 32 bytes big-endian, matching Ethereum's own
// on-wire convention for word-sized values.
package ethrecord

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EncodeU256 writes v as a fixed 32-byte big-endian array.
func EncodeU256(v *uint256.Int) [32]byte {
	return v.Bytes32()
}

// DecodeU256 reads a fixed 32-byte big-endian array into a u256 value.
func DecodeU256(b []byte) (*uint256.Int, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("ethrecord: u256 encoding must be exactly 32 bytes, got %d", len(b))
	}
	return new(uint256.Int).SetBytes(b), nil
}

// AccountRecord is the current (not historical) state of a watched address.
type AccountRecord struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash common.Hash
}

const lenAccountRecord = 8 + 32 + 32

// Encode serializes an AccountRecord to its fixed 72-byte wire form.
func (a AccountRecord) Encode() []byte {
	buf := make([]byte, 0, lenAccountRecord)
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], a.Nonce)
	buf = append(buf, nonceBuf[:]...)
	bal := balanceOrZero(a.Balance)
	balBytes := bal.Bytes32()
	buf = append(buf, balBytes[:]...)
	buf = append(buf, a.CodeHash.Bytes()...)
	return buf
}

// DecodeAccountRecord reverses AccountRecord.Encode.
func DecodeAccountRecord(b []byte) (AccountRecord, error) {
	if len(b) != lenAccountRecord {
		return AccountRecord{}, fmt.Errorf("ethrecord: account record must be %d bytes, got %d", lenAccountRecord, len(b))
	}
	nonce := binary.BigEndian.Uint64(b[0:8])
	balance := new(uint256.Int).SetBytes(b[8:40])
	codeHash := common.BytesToHash(b[40:72])
	return AccountRecord{Nonce: nonce, Balance: balance, CodeHash: codeHash}, nil
}

// HeaderRecord carries the minimal per-block metadata the core consumes.
// It is optional: the core never depends on having one stored.
type HeaderRecord struct {
	Number     uint64
	Timestamp  uint64
	BaseFee    *uint256.Int
	Coinbase   common.Address
	PrevRandao common.Hash
	GasLimit   uint64
	ChainID    uint64
}

const lenHeaderRecord = 8 + 8 + 32 + 20 + 32 + 8 + 8

// Encode serializes a HeaderRecord to its fixed 116-byte wire form.
func (h HeaderRecord) Encode() []byte {
	buf := make([]byte, 0, lenHeaderRecord)
	buf = appendU64(buf, h.Number)
	buf = appendU64(buf, h.Timestamp)
	baseFee := balanceOrZero(h.BaseFee).Bytes32()
	buf = append(buf, baseFee[:]...)
	buf = append(buf, h.Coinbase.Bytes()...)
	buf = append(buf, h.PrevRandao.Bytes()...)
	buf = appendU64(buf, h.GasLimit)
	buf = appendU64(buf, h.ChainID)
	return buf
}

// DecodeHeaderRecord reverses HeaderRecord.Encode.
func DecodeHeaderRecord(b []byte) (HeaderRecord, error) {
	if len(b) != lenHeaderRecord {
		return HeaderRecord{}, fmt.Errorf("ethrecord: header record must be %d bytes, got %d", lenHeaderRecord, len(b))
	}
	off := 0
	number := binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	timestamp := binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	baseFee := new(uint256.Int).SetBytes(b[off : off+32])
	off += 32
	coinbase := common.BytesToAddress(b[off : off+20])
	off += 20
	prevrandao := common.BytesToHash(b[off : off+32])
	off += 32
	gasLimit := binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	chainID := binary.BigEndian.Uint64(b[off : off+8])
	return HeaderRecord{
		Number:     number,
		Timestamp:  timestamp,
		BaseFee:    baseFee,
		Coinbase:   coinbase,
		PrevRandao: prevrandao,
		GasLimit:   gasLimit,
		ChainID:    chainID,
	}, nil
}

// BlockDelta is the per-(watched_address, block) aggregate of value moved,
// fees paid, and nonce change. It is only ever persisted when HasChanges
// is true.
type BlockDelta struct {
	DeltaPlus     *uint256.Int
	DeltaMinus    *uint256.Int
	ReceivedValue *uint256.Int
	SentValue     *uint256.Int
	FeePaid       *uint256.Int
	FailedFee     *uint256.Int
	NonceDelta    uint64
	TxCount       uint32
}

// NewBlockDelta returns a zero-valued delta ready for in-place accumulation.
func NewBlockDelta() *BlockDelta {
	return &BlockDelta{
		DeltaPlus:     new(uint256.Int),
		DeltaMinus:    new(uint256.Int),
		ReceivedValue: new(uint256.Int),
		SentValue:     new(uint256.Int),
		FeePaid:       new(uint256.Int),
		FailedFee:     new(uint256.Int),
	}
}

// HasChanges reports whether this delta represents any observable movement:
// any positive value flow or a nonce increment. Deltas that fail this check
// are never persisted (invariant 4 in the store's data model).
func (d *BlockDelta) HasChanges() bool {
	if d == nil {
		return false
	}
	return !d.DeltaPlus.IsZero() || !d.DeltaMinus.IsZero() || d.NonceDelta != 0
}

const lenBlockDelta = 32*6 + 8 + 4

// Encode serializes a BlockDelta to its fixed 204-byte wire form.
func (d BlockDelta) Encode() []byte {
	buf := make([]byte, 0, lenBlockDelta)
	for _, v := range []*uint256.Int{d.DeltaPlus, d.DeltaMinus, d.ReceivedValue, d.SentValue, d.FeePaid, d.FailedFee} {
		b := balanceOrZero(v).Bytes32()
		buf = append(buf, b[:]...)
	}
	buf = appendU64(buf, d.NonceDelta)
	var txCountBuf [4]byte
	binary.BigEndian.PutUint32(txCountBuf[:], d.TxCount)
	buf = append(buf, txCountBuf[:]...)
	return buf
}

// DecodeBlockDelta reverses BlockDelta.Encode.
func DecodeBlockDelta(b []byte) (BlockDelta, error) {
	if len(b) != lenBlockDelta {
		return BlockDelta{}, fmt.Errorf("ethrecord: block delta must be %d bytes, got %d", lenBlockDelta, len(b))
	}
	off := 0
	next := func() *uint256.Int {
		v := new(uint256.Int).SetBytes(b[off : off+32])
		off += 32
		return v
	}
	d := BlockDelta{
		DeltaPlus:     next(),
		DeltaMinus:    next(),
		ReceivedValue: next(),
		SentValue:     next(),
		FeePaid:       next(),
		FailedFee:     next(),
	}
	d.NonceDelta = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	d.TxCount = binary.BigEndian.Uint32(b[off : off+4])
	return d, nil
}

// WatchMeta records the earliest block for which coverage exists for a
// watched ETH address.
type WatchMeta struct {
	StartBlock uint64
}

const lenWatchMeta = 8

// Encode serializes WatchMeta to its fixed 8-byte wire form.
func (w WatchMeta) Encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, w.StartBlock)
	return buf
}

// DecodeWatchMeta reverses WatchMeta.Encode.
func DecodeWatchMeta(b []byte) (WatchMeta, error) {
	if len(b) != lenWatchMeta {
		return WatchMeta{}, fmt.Errorf("ethrecord: watch meta must be %d bytes, got %d", lenWatchMeta, len(b))
	}
	return WatchMeta{StartBlock: binary.BigEndian.Uint64(b)}, nil
}

// Erc20Delta is the per-(token, owner, block) aggregate of token movement.
type Erc20Delta struct {
	DeltaPlus  *uint256.Int
	DeltaMinus *uint256.Int
	TxCount    uint32
}

// NewErc20Delta returns a zero-valued delta ready for accumulation.
func NewErc20Delta() *Erc20Delta {
	return &Erc20Delta{DeltaPlus: new(uint256.Int), DeltaMinus: new(uint256.Int)}
}

// HasChanges reports whether any token movement was recorded.
func (d *Erc20Delta) HasChanges() bool {
	if d == nil {
		return false
	}
	return !d.DeltaPlus.IsZero() || !d.DeltaMinus.IsZero()
}

const lenErc20Delta = 32 + 32 + 4

// Encode serializes an Erc20Delta to its fixed 68-byte wire form.
func (d Erc20Delta) Encode() []byte {
	buf := make([]byte, 0, lenErc20Delta)
	plus := balanceOrZero(d.DeltaPlus).Bytes32()
	minus := balanceOrZero(d.DeltaMinus).Bytes32()
	buf = append(buf, plus[:]...)
	buf = append(buf, minus[:]...)
	var txCountBuf [4]byte
	binary.BigEndian.PutUint32(txCountBuf[:], d.TxCount)
	buf = append(buf, txCountBuf[:]...)
	return buf
}

// DecodeErc20Delta reverses Erc20Delta.Encode.
func DecodeErc20Delta(b []byte) (Erc20Delta, error) {
	if len(b) != lenErc20Delta {
		return Erc20Delta{}, fmt.Errorf("ethrecord: erc20 delta must be %d bytes, got %d", lenErc20Delta, len(b))
	}
	plus := new(uint256.Int).SetBytes(b[0:32])
	minus := new(uint256.Int).SetBytes(b[32:64])
	txCount := binary.BigEndian.Uint32(b[64:68])
	return Erc20Delta{DeltaPlus: plus, DeltaMinus: minus, TxCount: txCount}, nil
}

// Erc20WatchMeta records the earliest block for which coverage exists for a
// watched (token, owner) pair.
type Erc20WatchMeta struct {
	StartBlock uint64
}

// Encode serializes Erc20WatchMeta to its fixed 8-byte wire form.
func (w Erc20WatchMeta) Encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, w.StartBlock)
	return buf
}

// DecodeErc20WatchMeta reverses Erc20WatchMeta.Encode.
func DecodeErc20WatchMeta(b []byte) (Erc20WatchMeta, error) {
	if len(b) != 8 {
		return Erc20WatchMeta{}, fmt.Errorf("ethrecord: erc20 watch meta must be 8 bytes, got %d", len(b))
	}
	return Erc20WatchMeta{StartBlock: binary.BigEndian.Uint64(b)}, nil
}

func balanceOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
