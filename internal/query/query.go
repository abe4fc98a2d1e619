// Package query reconstructs historical deltas and balances over a
// requested block range, clamping to the coverage the store actually has
// and anchoring balance reconstruction to the nearest snapshot.
package query

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ethindex/ethindex/internal/ethrecord"
	"github.com/ethindex/ethindex/internal/feeengine"
	"github.com/ethindex/ethindex/internal/store"
)

// Result is the coverage-annotated envelope every range query returns.
type Result[T any] struct {
	RequestedStart uint64
	RequestedEnd   uint64
	EffectiveStart uint64
	EffectiveEnd   uint64
	WatchStartBlock uint64
	HeadBlock      uint64
	HeadKnown      bool
	Message        string
	Data           []T
}

// BalancePoint is one (block, balance) entry of a fill-forward
// reconstruction.
type BalancePoint struct {
	Block   uint64
	Balance *uint256.Int
}

// Engine answers range queries against a store.
type Engine struct {
	Store store.Store
}

func clamp(reqStart, reqEnd, watchStart uint64, head uint64, headKnown bool) (effStart, effEnd uint64, message string) {
	effStart = reqStart
	if watchStart > effStart {
		effStart = watchStart
	}
	effEnd = reqEnd
	if headKnown && head < effEnd {
		effEnd = head
	}
	clampedLow := effStart > reqStart
	clampedHigh := headKnown && effEnd < reqEnd
	switch {
	case clampedLow && clampedHigh:
		message = fmt.Sprintf("Earliest known balance starts at block %d. Latest available block is %d.", watchStart, head)
	case clampedLow:
		message = fmt.Sprintf("Earliest known balance starts at block %d.", watchStart)
	case clampedHigh:
		message = fmt.Sprintf("Latest available block is %d.", head)
	}
	return effStart, effEnd, message
}

// DeltasInRange implements §4.10's deltas_in_range for an ETH address.
func (e *Engine) DeltasInRange(ctx context.Context, addr common.Address, reqStart, reqEnd uint64) (Result[store.DeltaEntry], error) {
	meta, found, err := e.Store.GetWatchMeta(ctx, addr)
	if err != nil {
		return Result[store.DeltaEntry]{}, err
	}
	if !found {
		return Result[store.DeltaEntry]{}, notTrackingErr(addr)
	}
	head, headKnown, err := e.Store.GetHead(ctx)
	if err != nil {
		return Result[store.DeltaEntry]{}, err
	}
	effStart, effEnd, msg := clamp(reqStart, reqEnd, meta.StartBlock, head, headKnown)

	result := Result[store.DeltaEntry]{
		RequestedStart: reqStart, RequestedEnd: reqEnd,
		EffectiveStart: effStart, EffectiveEnd: effEnd,
		WatchStartBlock: meta.StartBlock, HeadBlock: head, HeadKnown: headKnown,
		Message: msg,
	}
	if effStart > effEnd {
		return result, nil
	}
	entries, err := e.Store.GetDeltasInRange(ctx, addr, effStart, effEnd)
	if err != nil {
		return Result[store.DeltaEntry]{}, err
	}
	result.Data = entries
	return result, nil
}

// BalancesInRange implements §4.10's balances_in_range for an ETH address:
// anchor at the nearest snapshot at or before the effective start, then
// fold forward deltas to produce a fill-forward timeline.
func (e *Engine) BalancesInRange(ctx context.Context, addr common.Address, reqStart, reqEnd uint64) (Result[BalancePoint], error) {
	meta, found, err := e.Store.GetWatchMeta(ctx, addr)
	if err != nil {
		return Result[BalancePoint]{}, err
	}
	if !found {
		return Result[BalancePoint]{}, notTrackingErr(addr)
	}
	head, headKnown, err := e.Store.GetHead(ctx)
	if err != nil {
		return Result[BalancePoint]{}, err
	}
	effStart, effEnd, msg := clamp(reqStart, reqEnd, meta.StartBlock, head, headKnown)

	result := Result[BalancePoint]{
		RequestedStart: reqStart, RequestedEnd: reqEnd,
		EffectiveStart: effStart, EffectiveEnd: effEnd,
		WatchStartBlock: meta.StartBlock, HeadBlock: head, HeadKnown: headKnown,
		Message: msg,
	}
	if effStart > effEnd {
		return result, nil
	}

	anchorBlock, anchorBal, found, err := e.Store.GetLatestSnapshotAtOrBefore(ctx, addr, effStart)
	if err != nil {
		return Result[BalancePoint]{}, err
	}
	if !found || anchorBlock < meta.StartBlock {
		return Result[BalancePoint]{}, anchorMissingErr(addr)
	}

	entries, err := e.Store.GetDeltasInRange(ctx, addr, effStart, effEnd)
	if err != nil {
		return Result[BalancePoint]{}, err
	}
	byBlock := make(map[uint64]ethrecord.BlockDelta, len(entries))
	for _, en := range entries {
		byBlock[en.Block] = en.Delta
	}

	balance := anchorBal.Clone()
	points := make([]BalancePoint, 0, effEnd-effStart+1)
	for b := effStart; b <= effEnd; b++ {
		if d, ok := byBlock[b]; ok {
			withPlus := feeengine.SaturatingAdd(balance, d.DeltaPlus)
			balance = feeengine.SaturatingSub(withPlus, d.DeltaMinus)
		}
		points = append(points, BalancePoint{Block: b, Balance: balance.Clone()})
		if b == ^uint64(0) {
			break
		}
	}
	result.Data = points
	return result, nil
}

func notTrackingErr(addr common.Address) error {
	return &store.Error{Kind: store.KindNotFound, Msg: fmt.Sprintf("query: address %s is not tracked", addr)}
}

func anchorMissingErr(addr common.Address) error {
	return store.NewCoverageErr(fmt.Sprintf("query: no valid anchor snapshot for %s at or after its watch start block; reinitialize required", addr))
}

// Erc20DeltasInRange is the token-keyed analogue of DeltasInRange.
func (e *Engine) Erc20DeltasInRange(ctx context.Context, token, owner common.Address, reqStart, reqEnd uint64) (Result[store.Erc20DeltaEntry], error) {
	meta, found, err := e.Store.GetErc20WatchMeta(ctx, token, owner)
	if err != nil {
		return Result[store.Erc20DeltaEntry]{}, err
	}
	if !found {
		return Result[store.Erc20DeltaEntry]{}, notTrackingPairErr(token, owner)
	}
	head, headKnown, err := e.Store.GetHead(ctx)
	if err != nil {
		return Result[store.Erc20DeltaEntry]{}, err
	}
	effStart, effEnd, msg := clamp(reqStart, reqEnd, meta.StartBlock, head, headKnown)

	result := Result[store.Erc20DeltaEntry]{
		RequestedStart: reqStart, RequestedEnd: reqEnd,
		EffectiveStart: effStart, EffectiveEnd: effEnd,
		WatchStartBlock: meta.StartBlock, HeadBlock: head, HeadKnown: headKnown,
		Message: msg,
	}
	if effStart > effEnd {
		return result, nil
	}
	entries, err := e.Store.GetErc20DeltasInRange(ctx, token, owner, effStart, effEnd)
	if err != nil {
		return Result[store.Erc20DeltaEntry]{}, err
	}
	result.Data = entries
	return result, nil
}

// Erc20BalancesInRange is the token-keyed analogue of BalancesInRange.
func (e *Engine) Erc20BalancesInRange(ctx context.Context, token, owner common.Address, reqStart, reqEnd uint64) (Result[BalancePoint], error) {
	meta, found, err := e.Store.GetErc20WatchMeta(ctx, token, owner)
	if err != nil {
		return Result[BalancePoint]{}, err
	}
	if !found {
		return Result[BalancePoint]{}, notTrackingPairErr(token, owner)
	}
	head, headKnown, err := e.Store.GetHead(ctx)
	if err != nil {
		return Result[BalancePoint]{}, err
	}
	effStart, effEnd, msg := clamp(reqStart, reqEnd, meta.StartBlock, head, headKnown)

	result := Result[BalancePoint]{
		RequestedStart: reqStart, RequestedEnd: reqEnd,
		EffectiveStart: effStart, EffectiveEnd: effEnd,
		WatchStartBlock: meta.StartBlock, HeadBlock: head, HeadKnown: headKnown,
		Message: msg,
	}
	if effStart > effEnd {
		return result, nil
	}

	anchorBlock, anchorBal, found, err := e.Store.GetLatestErc20SnapshotAtOrBefore(ctx, token, owner, effStart)
	if err != nil {
		return Result[BalancePoint]{}, err
	}
	if !found || anchorBlock < meta.StartBlock {
		return Result[BalancePoint]{}, anchorMissingPairErr(token, owner)
	}

	entries, err := e.Store.GetErc20DeltasInRange(ctx, token, owner, effStart, effEnd)
	if err != nil {
		return Result[BalancePoint]{}, err
	}
	byBlock := make(map[uint64]ethrecord.Erc20Delta, len(entries))
	for _, en := range entries {
		byBlock[en.Block] = en.Delta
	}

	balance := anchorBal.Clone()
	points := make([]BalancePoint, 0, effEnd-effStart+1)
	for b := effStart; b <= effEnd; b++ {
		if d, ok := byBlock[b]; ok {
			withPlus := feeengine.SaturatingAdd(balance, d.DeltaPlus)
			balance = feeengine.SaturatingSub(withPlus, d.DeltaMinus)
		}
		points = append(points, BalancePoint{Block: b, Balance: balance.Clone()})
		if b == ^uint64(0) {
			break
		}
	}
	result.Data = points
	return result, nil
}

func notTrackingPairErr(token, owner common.Address) error {
	return &store.Error{Kind: store.KindNotFound, Msg: fmt.Sprintf("query: pair (%s,%s) is not tracked", token, owner)}
}

func anchorMissingPairErr(token, owner common.Address) error {
	return store.NewCoverageErr(fmt.Sprintf("query: no valid anchor snapshot for (%s,%s) at or after its watch start block; reinitialize required", token, owner))
}

// DenseDeltas fills blocks in [start, end] that lack a stored delta with an
// all-zero BlockDelta, the rendering the CLI's dense mode uses. The engine's
// own queries return only what is actually stored; densification is a
// caller-side presentation step.
func DenseDeltas(start, end uint64, entries []store.DeltaEntry) []store.DeltaEntry {
	byBlock := make(map[uint64]ethrecord.BlockDelta, len(entries))
	for _, e := range entries {
		byBlock[e.Block] = e.Delta
	}
	out := make([]store.DeltaEntry, 0, end-start+1)
	for b := start; b <= end; b++ {
		if d, ok := byBlock[b]; ok {
			out = append(out, store.DeltaEntry{Block: b, Delta: d})
		} else {
			out = append(out, store.DeltaEntry{Block: b, Delta: *ethrecord.NewBlockDelta()})
		}
		if b == ^uint64(0) {
			break
		}
	}
	return out
}
