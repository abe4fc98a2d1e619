// Package erc20 parses Transfer event logs from successful receipts and
// folds them into per-(token, owner) deltas, live balances, and snapshots.
package erc20

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/ethindex/ethindex/internal/chain"
	"github.com/ethindex/ethindex/internal/ethrecord"
	"github.com/ethindex/ethindex/internal/feeengine"
	"github.com/ethindex/ethindex/internal/store"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), the
// fixed topic[0] every ERC-20 Transfer log carries.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// pairKey identifies one (token, owner) accumulator slot within a block.
type pairKey struct {
	Token common.Address
	Owner common.Address
}

// Tracker folds Transfer logs into per-(token, owner) deltas for one block
// at a time. It is stateless across blocks: ProcessBlock both accumulates
// and persists.
type Tracker struct {
	Store         store.Store
	WatchedTokens map[common.Address]bool
	WatchedOwners map[common.Address]bool
}

// isTransferEvent reports whether lg is a well-formed Transfer(address,
// address, uint256) log: three topics (signature + two indexed addresses)
// and a 32-byte value.
func isTransferEvent(lg chain.Log) bool {
	return len(lg.Topics) == 3 && lg.Topics[0] == TransferTopic && len(lg.Data) >= 32
}

// parseTransferLog extracts (from, to, value) from a log already known to
// satisfy isTransferEvent.
func parseTransferLog(lg chain.Log) (from, to common.Address, value *uint256.Int) {
	from = addressFromTopic(lg.Topics[1])
	to = addressFromTopic(lg.Topics[2])
	value = new(uint256.Int).SetBytes(lg.Data[0:32])
	return from, to, value
}

func addressFromTopic(topic common.Hash) common.Address {
	return common.BytesToAddress(topic.Bytes()[12:32])
}

// ProcessBlock folds every watched Transfer log in receipts (already
// filtered to the block the caller is processing) into per-(token, owner)
// deltas, then persists delta, live balance, and snapshot for every pair
// covered by a TokenWatchMeta that has started as of block.
func (t *Tracker) ProcessBlock(ctx context.Context, block uint64, receipts []chain.Receipt) error {
	if len(t.WatchedTokens) == 0 {
		return nil
	}
	if err := t.undoPriorDeltas(ctx, block); err != nil {
		return err
	}
	deltas := make(map[pairKey]*ethrecord.Erc20Delta)

	for _, receipt := range receipts {
		if receipt.IsFailure() {
			continue
		}
		for _, lg := range receipt.Logs {
			if !t.WatchedTokens[lg.Address] || !isTransferEvent(lg) {
				continue
			}
			from, to, value := parseTransferLog(lg)
			if value.IsZero() {
				continue
			}
			var zero common.Address
			if from != zero && t.WatchedOwners[from] {
				d := getOrCreate(deltas, pairKey{Token: lg.Address, Owner: from})
				d.DeltaMinus = feeengine.SaturatingAdd(d.DeltaMinus, value)
				d.TxCount++
			}
			if to != zero && t.WatchedOwners[to] {
				d := getOrCreate(deltas, pairKey{Token: lg.Address, Owner: to})
				d.DeltaPlus = feeengine.SaturatingAdd(d.DeltaPlus, value)
				d.TxCount++
			}
		}
	}

	for key, d := range deltas {
		if !d.HasChanges() {
			continue
		}
		meta, found, err := t.Store.GetErc20WatchMeta(ctx, key.Token, key.Owner)
		if err != nil {
			return err
		}
		if !found || block < meta.StartBlock {
			log.Debug("erc20: dropping delta outside coverage", "token", key.Token, "owner", key.Owner, "block", block)
			continue
		}
		if err := t.Store.PutErc20Delta(ctx, key.Token, key.Owner, block, *d); err != nil {
			return err
		}
		live, found, err := t.Store.GetErc20Balance(ctx, key.Token, key.Owner)
		if err != nil {
			return err
		}
		if !found {
			live = new(uint256.Int)
		}
		withPlus := feeengine.SaturatingAdd(live, d.DeltaPlus)
		newBalance := feeengine.SaturatingSub(withPlus, d.DeltaMinus)
		if err := t.Store.PutErc20Balance(ctx, key.Token, key.Owner, newBalance); err != nil {
			return err
		}
		if err := t.Store.PutErc20Snapshot(ctx, key.Token, key.Owner, block, newBalance); err != nil {
			return err
		}
	}
	return nil
}

// undoPriorDeltas reverses any Erc20Delta already persisted for this exact
// block, across the full watched (token, owner) cross product, before the
// block's Transfer logs are folded in again. Mirrors
// internal/pipeline.Watcher.undoPriorDelta: makes replaying the same block
// idempotent instead of compounding its delta onto the live balance twice.
func (t *Tracker) undoPriorDeltas(ctx context.Context, block uint64) error {
	for token := range t.WatchedTokens {
		for owner := range t.WatchedOwners {
			prior, found, err := t.Store.GetErc20Delta(ctx, token, owner, block)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			live, found, err := t.Store.GetErc20Balance(ctx, token, owner)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			reverted := feeengine.SaturatingSub(feeengine.SaturatingAdd(live, prior.DeltaMinus), prior.DeltaPlus)
			if err := t.Store.PutErc20Balance(ctx, token, owner, reverted); err != nil {
				return err
			}
		}
	}
	return nil
}

func getOrCreate(m map[pairKey]*ethrecord.Erc20Delta, key pairKey) *ethrecord.Erc20Delta {
	d, ok := m[key]
	if !ok {
		d = ethrecord.NewErc20Delta()
		m[key] = d
	}
	return d
}
