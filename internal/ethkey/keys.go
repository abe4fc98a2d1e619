// Package ethkey encodes and decodes the store's record keys.
//
// Every key starts with a single-byte domain prefix followed by fixed-width
// binary fields, big-endian for anything numeric. This keeps prefix scans
// over one entity contiguous and lexicographically ordered the same as
// numeric order.
package ethkey

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Domain prefixes. One byte each and all distinct, so keys of different
// entities never collide even where their payload lengths are equal (delta
// and snapshot keys, header and block-hash keys).
const (
	PrefixAccount        byte = 'A'
	PrefixCode           byte = 'C'
	PrefixStorage        byte = 'S'
	PrefixHeader         byte = 'H'
	PrefixBlockHash      byte = 'B'
	PrefixMeta           byte = 'M'
	PrefixDelta          byte = 'D'
	PrefixSnapshot       byte = 'Z'
	PrefixWatchMeta      byte = 'W'
	PrefixErc20Delta     byte = 'T'
	PrefixErc20Snapshot  byte = 'U'
	PrefixErc20WatchMeta byte = 'X'
)

// MetaHead is the single-byte meta id for the head-block record.
const MetaHead byte = 0x01

const (
	lenAccount        = 1 + common.AddressLength
	lenCode           = 1 + common.HashLength
	lenStorage        = 1 + common.AddressLength + common.HashLength
	lenHeader         = 1 + 8
	lenBlockHash      = 1 + 8
	lenMeta           = 1 + 1
	lenDelta          = 1 + common.AddressLength + 8
	lenSnapshot       = 1 + common.AddressLength + 8
	lenWatchMeta      = 1 + common.AddressLength
	lenErc20Delta     = 1 + common.AddressLength + common.AddressLength + 8
	lenErc20Snapshot  = 1 + common.AddressLength + common.AddressLength + 8
	lenErc20WatchMeta = 1 + common.AddressLength + common.AddressLength
)

func beBlock(block uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], block)
	return b
}

// Account encodes an account record key: 'A' + 20-byte address.
func Account(addr common.Address) []byte {
	key := make([]byte, 0, lenAccount)
	key = append(key, PrefixAccount)
	key = append(key, addr.Bytes()...)
	return key
}

// Code encodes a contract bytecode key: 'C' + 32-byte code hash.
func Code(codeHash common.Hash) []byte {
	key := make([]byte, 0, lenCode)
	key = append(key, PrefixCode)
	key = append(key, codeHash.Bytes()...)
	return key
}

// Storage encodes a contract storage slot key: 'S' + 20-byte address + 32-byte slot.
func Storage(addr common.Address, slot common.Hash) []byte {
	key := make([]byte, 0, lenStorage)
	key = append(key, PrefixStorage)
	key = append(key, addr.Bytes()...)
	key = append(key, slot.Bytes()...)
	return key
}

// Header encodes a block header key: 'H' + 8-byte BE block number.
func Header(block uint64) []byte {
	key := make([]byte, 0, lenHeader)
	key = append(key, PrefixHeader)
	b := beBlock(block)
	return append(key, b[:]...)
}

// BlockHash encodes a block hash key: 'B' + 8-byte BE block number.
func BlockHash(block uint64) []byte {
	key := make([]byte, 0, lenBlockHash)
	key = append(key, PrefixBlockHash)
	b := beBlock(block)
	return append(key, b[:]...)
}

// Meta encodes a single-byte meta-id key: 'M' + 1-byte id.
func Meta(id byte) []byte {
	return []byte{PrefixMeta, id}
}

// Delta encodes an ETH delta key: 'D' + 20-byte address + 8-byte BE block.
//
// Address-first so that every delta for one address forms one contiguous
// range, independent of how many blocks separate them.
func Delta(addr common.Address, block uint64) []byte {
	key := make([]byte, 0, lenDelta)
	key = append(key, PrefixDelta)
	key = append(key, addr.Bytes()...)
	b := beBlock(block)
	return append(key, b[:]...)
}

// DecodeDelta reverses Delta.
func DecodeDelta(key []byte) (common.Address, uint64, error) {
	if len(key) != lenDelta {
		return common.Address{}, 0, fmt.Errorf("ethkey: delta key must be %d bytes, got %d", lenDelta, len(key))
	}
	if key[0] != PrefixDelta {
		return common.Address{}, 0, fmt.Errorf("ethkey: invalid delta key prefix %q", key[0])
	}
	addr := common.BytesToAddress(key[1 : 1+common.AddressLength])
	block := binary.BigEndian.Uint64(key[1+common.AddressLength:])
	return addr, block, nil
}

// Snapshot encodes an ETH balance snapshot key: 'Z' + 20-byte address + 8-byte BE block.
func Snapshot(addr common.Address, block uint64) []byte {
	key := make([]byte, 0, lenSnapshot)
	key = append(key, PrefixSnapshot)
	key = append(key, addr.Bytes()...)
	b := beBlock(block)
	return append(key, b[:]...)
}

// DecodeSnapshot reverses Snapshot.
func DecodeSnapshot(key []byte) (common.Address, uint64, error) {
	if len(key) != lenSnapshot {
		return common.Address{}, 0, fmt.Errorf("ethkey: snapshot key must be %d bytes, got %d", lenSnapshot, len(key))
	}
	if key[0] != PrefixSnapshot {
		return common.Address{}, 0, fmt.Errorf("ethkey: invalid snapshot key prefix %q", key[0])
	}
	addr := common.BytesToAddress(key[1 : 1+common.AddressLength])
	block := binary.BigEndian.Uint64(key[1+common.AddressLength:])
	return addr, block, nil
}

// WatchMeta encodes an ETH watch-metadata key: 'W' + 20-byte address.
func WatchMeta(addr common.Address) []byte {
	key := make([]byte, 0, lenWatchMeta)
	key = append(key, PrefixWatchMeta)
	key = append(key, addr.Bytes()...)
	return key
}

// Erc20Delta encodes an ERC-20 delta key: 'T' + 20-byte token + 20-byte owner + 8-byte BE block.
func Erc20Delta(token, owner common.Address, block uint64) []byte {
	key := make([]byte, 0, lenErc20Delta)
	key = append(key, PrefixErc20Delta)
	key = append(key, token.Bytes()...)
	key = append(key, owner.Bytes()...)
	b := beBlock(block)
	return append(key, b[:]...)
}

// DecodeErc20Delta reverses Erc20Delta.
func DecodeErc20Delta(key []byte) (token, owner common.Address, block uint64, err error) {
	if len(key) != lenErc20Delta {
		return common.Address{}, common.Address{}, 0, fmt.Errorf("ethkey: erc20 delta key must be %d bytes, got %d", lenErc20Delta, len(key))
	}
	if key[0] != PrefixErc20Delta {
		return common.Address{}, common.Address{}, 0, fmt.Errorf("ethkey: invalid erc20 delta key prefix %q", key[0])
	}
	token = common.BytesToAddress(key[1 : 1+common.AddressLength])
	owner = common.BytesToAddress(key[1+common.AddressLength : 1+2*common.AddressLength])
	block = binary.BigEndian.Uint64(key[1+2*common.AddressLength:])
	return token, owner, block, nil
}

// Erc20Snapshot encodes an ERC-20 snapshot key: 'U' + 20-byte token + 20-byte owner + 8-byte BE block.
func Erc20Snapshot(token, owner common.Address, block uint64) []byte {
	key := make([]byte, 0, lenErc20Snapshot)
	key = append(key, PrefixErc20Snapshot)
	key = append(key, token.Bytes()...)
	key = append(key, owner.Bytes()...)
	b := beBlock(block)
	return append(key, b[:]...)
}

// DecodeErc20Snapshot reverses Erc20Snapshot.
func DecodeErc20Snapshot(key []byte) (token, owner common.Address, block uint64, err error) {
	if len(key) != lenErc20Snapshot {
		return common.Address{}, common.Address{}, 0, fmt.Errorf("ethkey: erc20 snapshot key must be %d bytes, got %d", lenErc20Snapshot, len(key))
	}
	if key[0] != PrefixErc20Snapshot {
		return common.Address{}, common.Address{}, 0, fmt.Errorf("ethkey: invalid erc20 snapshot key prefix %q", key[0])
	}
	token = common.BytesToAddress(key[1 : 1+common.AddressLength])
	owner = common.BytesToAddress(key[1+common.AddressLength : 1+2*common.AddressLength])
	block = binary.BigEndian.Uint64(key[1+2*common.AddressLength:])
	return token, owner, block, nil
}

// Erc20WatchMeta encodes a token watch-metadata key: 'X' + 20-byte token + 20-byte owner.
func Erc20WatchMeta(token, owner common.Address) []byte {
	key := make([]byte, 0, lenErc20WatchMeta)
	key = append(key, PrefixErc20WatchMeta)
	key = append(key, token.Bytes()...)
	key = append(key, owner.Bytes()...)
	return key
}

// DeltaRangeUpper returns the exclusive upper bound for a [start, end]
// delta range scan: encode_delta(addr, end+1). Callers must treat
// end == math.MaxUint64 as "to the end of the address's range" instead of
// calling this (it would wrap to block 0 of the same address).
func DeltaRangeUpper(addr common.Address, end uint64) []byte {
	return Delta(addr, end+1)
}

// Erc20DeltaRangeUpper is the ERC-20 analogue of DeltaRangeUpper.
func Erc20DeltaRangeUpper(token, owner common.Address, end uint64) []byte {
	return Erc20Delta(token, owner, end+1)
}
