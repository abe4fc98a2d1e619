// Package ethapply folds one transaction (plus its receipt and block) into
// the in-memory per-block delta accumulator and the mutable account
// records of the sender and, when applicable, the receiver.
package ethapply

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/ethindex/ethindex/internal/calltrace"
	"github.com/ethindex/ethindex/internal/chain"
	"github.com/ethindex/ethindex/internal/contractcache"
	"github.com/ethindex/ethindex/internal/ethrecord"
	"github.com/ethindex/ethindex/internal/feeengine"
	"github.com/ethindex/ethindex/internal/store"
)

// Accumulator is the per-block map of watched address to its in-progress
// delta, owned exclusively by the pipeline for the duration of one block.
type Accumulator map[common.Address]*ethrecord.BlockDelta

// NewAccumulator returns an empty accumulator.
func NewAccumulator() Accumulator {
	return make(Accumulator)
}

// Get returns addr's delta, creating a zero one on first touch.
func (a Accumulator) Get(addr common.Address) *ethrecord.BlockDelta {
	d, ok := a[addr]
	if !ok {
		d = ethrecord.NewBlockDelta()
		a[addr] = d
	}
	return d
}

// ContractResolver answers "is this address a contract" for addresses the
// contract-flag cache hasn't seen yet. Implemented by internal/rpcclient.
type ContractResolver interface {
	IsContract(ctx context.Context, addr common.Address) (bool, error)
}

// Applier carries the collaborators ApplyTransaction needs: the store for
// account reads/writes, the contract-flag cache, and a resolver for
// addresses the cache doesn't yet know about.
type Applier struct {
	Store    store.Store
	Cache    *contractcache.Cache
	Resolver ContractResolver
}

// ApplyTransaction implements §4.7's sender/receiver rules. watchedEOAs is
// the configured watchlist; acc accumulates this block's deltas.
func (a *Applier) ApplyTransaction(ctx context.Context, tx chain.Transaction, receipt chain.Receipt, block chain.Block, watchedEOAs map[common.Address]bool, acc Accumulator) error {
	eff, fee, err := feeengine.Calculate(tx, receipt, block)
	if err != nil {
		return err
	}

	if watchedEOAs[tx.From] {
		if err := a.applySender(ctx, tx, receipt, fee, acc); err != nil {
			return err
		}
	}

	if receipt.IsSuccess() && tx.To != nil && watchedEOAs[*tx.To] && chain.IsEOAToEOATransfer(tx) {
		isEOA, err := a.resolveIsEOA(ctx, *tx.To)
		if err != nil {
			return err
		}
		if isEOA {
			if err := a.applyReceiver(ctx, *tx.To, tx.Value, acc); err != nil {
				return err
			}
		}
	}

	log.Debug("ethapply: applied transaction", "hash", tx.Hash, "from", tx.From, "to", tx.To, "effectiveGasPrice", eff, "fee", fee, "success", receipt.IsSuccess())
	return nil
}

func (a *Applier) applySender(ctx context.Context, tx chain.Transaction, receipt chain.Receipt, fee *uint256.Int, acc Accumulator) error {
	rec, found, err := a.Store.GetAccount(ctx, tx.From)
	if err != nil {
		return err
	}
	if !found {
		rec = ethrecord.AccountRecord{Balance: new(uint256.Int)}
	}
	before := rec.Balance.Clone()
	d := acc.Get(tx.From)

	if receipt.IsSuccess() {
		value := txValue(tx)
		total := feeengine.SaturatingAdd(value, fee)
		rec.Balance = feeengine.SaturatingSub(rec.Balance, total)
		d.DeltaMinus = feeengine.SaturatingAdd(d.DeltaMinus, total)
		d.SentValue = feeengine.SaturatingAdd(d.SentValue, value)
		d.FeePaid = feeengine.SaturatingAdd(d.FeePaid, fee)
	} else {
		rec.Balance = feeengine.SaturatingSub(rec.Balance, fee)
		d.DeltaMinus = feeengine.SaturatingAdd(d.DeltaMinus, fee)
		d.FailedFee = feeengine.SaturatingAdd(d.FailedFee, fee)
	}
	rec.Nonce++
	d.NonceDelta++
	d.TxCount++

	log.Debug("ethapply: sender branch", "addr", tx.From, "before", before, "after", rec.Balance)
	return a.Store.PutAccount(ctx, tx.From, rec)
}

func (a *Applier) applyReceiver(ctx context.Context, to common.Address, value *uint256.Int, acc Accumulator) error {
	rec, found, err := a.Store.GetAccount(ctx, to)
	if err != nil {
		return err
	}
	if !found {
		rec = ethrecord.AccountRecord{Balance: new(uint256.Int)}
	}
	before := rec.Balance.Clone()
	v := txValue(chain.Transaction{Value: value})
	rec.Balance = feeengine.SaturatingAdd(rec.Balance, v)

	d := acc.Get(to)
	d.DeltaPlus = feeengine.SaturatingAdd(d.DeltaPlus, v)
	d.ReceivedValue = feeengine.SaturatingAdd(d.ReceivedValue, v)
	d.TxCount++

	log.Debug("ethapply: receiver branch", "addr", to, "before", before, "after", rec.Balance)
	return a.Store.PutAccount(ctx, to, rec)
}

// ApplyInternalTransfer credits the receiver side of an internal (trace
// derived) transfer. Contracts are never debited: tracking contract
// balances is out of scope.
func (a *Applier) ApplyInternalTransfer(ctx context.Context, t calltrace.InternalTransfer, acc Accumulator) error {
	rec, found, err := a.Store.GetAccount(ctx, t.To)
	if err != nil {
		return err
	}
	if !found {
		rec = ethrecord.AccountRecord{Balance: new(uint256.Int)}
	}
	rec.Balance = feeengine.SaturatingAdd(rec.Balance, t.Value)

	d := acc.Get(t.To)
	d.DeltaPlus = feeengine.SaturatingAdd(d.DeltaPlus, t.Value)
	d.ReceivedValue = feeengine.SaturatingAdd(d.ReceivedValue, t.Value)
	d.TxCount++

	return a.Store.PutAccount(ctx, t.To, rec)
}

func (a *Applier) resolveIsEOA(ctx context.Context, addr common.Address) (bool, error) {
	switch a.Cache.Status(addr) {
	case contractcache.KnownContract:
		return false, nil
	case contractcache.KnownEOA:
		return true, nil
	}
	isContract, err := a.Resolver.IsContract(ctx, addr)
	if err != nil {
		return false, err
	}
	a.Cache.Mark(addr, isContract)
	return !isContract, nil
}

func txValue(tx chain.Transaction) *uint256.Int {
	if tx.Value == nil {
		return new(uint256.Int)
	}
	return tx.Value
}
