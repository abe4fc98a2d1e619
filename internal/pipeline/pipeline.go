// Package pipeline implements the per-block state machine that drives the
// rest of the indexer: fetch, apply top-level transfers, walk call traces
// for internal transfers, fold ERC-20 transfers, flush deltas and
// snapshots, then advance the head.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/ethindex/ethindex/internal/calltrace"
	"github.com/ethindex/ethindex/internal/chain"
	"github.com/ethindex/ethindex/internal/contractcache"
	"github.com/ethindex/ethindex/internal/erc20"
	"github.com/ethindex/ethindex/internal/ethapply"
	"github.com/ethindex/ethindex/internal/ethrecord"
	"github.com/ethindex/ethindex/internal/feeengine"
	"github.com/ethindex/ethindex/internal/store"
)

// ChainClient is the read-only chain surface the pipeline depends on.
// internal/rpcclient.Client satisfies it.
type ChainClient interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FinalizedBlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (chain.Block, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (chain.Receipt, error)
	TraceTransaction(ctx context.Context, hash common.Hash) (chain.CallFrame, error)
	BalanceAt(ctx context.Context, addr common.Address, block uint64) (*uint256.Int, error)
	NonceAt(ctx context.Context, addr common.Address, block uint64) (uint64, error)
	ethapply.ContractResolver
}

// Config tunes the watcher's polling and block-tag behavior.
type Config struct {
	PollInterval time.Duration
	UseFinalized bool
}

// Watcher is the C9 orchestrator: it owns the watchlist, the chain
// collaborator, and the per-component appliers, and drives them through the
// Fetch -> Apply -> Trace+ApplyInternal -> ApplyERC20 -> Flush ->
// AdvanceHead state machine, one block at a time.
type Watcher struct {
	Store   store.Store
	Chain   ChainClient
	Applier *ethapply.Applier
	Cache   *contractcache.Cache
	Tracker *erc20.Tracker

	Watchlist     []common.Address
	watchedEOAs   map[common.Address]bool
	WatchedTokens []common.Address

	cfg Config
}

// New constructs a Watcher. watchlist and tokens are the configured EOA and
// ERC-20-contract address lists; the (token, owner) pair space watched by
// Tracker is their full cross product.
func New(s store.Store, chain ChainClient, watchlist, tokens []common.Address, cfg Config) *Watcher {
	cache := contractcache.New()
	watched := make(map[common.Address]bool, len(watchlist))
	for _, a := range watchlist {
		watched[a] = true
	}
	watchedTokens := make(map[common.Address]bool, len(tokens))
	for _, t := range tokens {
		watchedTokens[t] = true
	}
	return &Watcher{
		Store:   s,
		Chain:   chain,
		Applier: &ethapply.Applier{Store: s, Cache: cache, Resolver: chain},
		Cache:   cache,
		Tracker: &erc20.Tracker{Store: s, WatchedTokens: watchedTokens, WatchedOwners: watched},

		Watchlist:     watchlist,
		watchedEOAs:   watched,
		WatchedTokens: tokens,
		cfg:           cfg,
	}
}

// headBlockTag resolves the chain's current head block number per the
// configured finalized/latest policy.
func (w *Watcher) headBlockTag(ctx context.Context) (uint64, error) {
	if w.cfg.UseFinalized {
		return w.Chain.FinalizedBlockNumber(ctx)
	}
	return w.Chain.LatestBlockNumber(ctx)
}

// Initialize loads initial account and token state for the watchlist. If a
// head already exists (a resumed run), only addresses and pairs missing a
// record are (re-)initialized, so existing coverage and start_block values
// are never clobbered.
func (w *Watcher) Initialize(ctx context.Context) error {
	head, headKnown, err := w.Store.GetHead(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: get head: %w", err)
	}

	current, err := w.headBlockTag(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: get current block: %w", err)
	}

	if headKnown {
		log.Info("pipeline: resuming from existing state", "head", head, "current", current)
		for _, addr := range w.Watchlist {
			if _, found, err := w.Store.GetAccount(ctx, addr); err != nil {
				return err
			} else if !found {
				if err := w.initAccount(ctx, addr, current); err != nil {
					return err
				}
			}
		}
	} else {
		log.Info("pipeline: first run, initializing watchlist", "block", current)
		for _, addr := range w.Watchlist {
			if err := w.initAccount(ctx, addr, current); err != nil {
				return err
			}
		}
		if err := w.Store.SetHead(ctx, current); err != nil {
			return fmt.Errorf("pipeline: set head: %w", err)
		}
	}

	for _, token := range w.WatchedTokens {
		for _, owner := range w.Watchlist {
			if _, found, err := w.Store.GetErc20WatchMeta(ctx, token, owner); err != nil {
				return err
			} else if !found {
				if err := w.initTokenPair(ctx, token, owner, current); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (w *Watcher) initAccount(ctx context.Context, addr common.Address, atBlock uint64) error {
	balance, err := w.Chain.BalanceAt(ctx, addr, atBlock)
	if err != nil {
		return fmt.Errorf("pipeline: balance of %s: %w", addr, err)
	}
	nonce, err := w.Chain.NonceAt(ctx, addr, atBlock)
	if err != nil {
		return fmt.Errorf("pipeline: nonce of %s: %w", addr, err)
	}
	rec := ethrecord.AccountRecord{Nonce: nonce, Balance: balance}
	if err := w.Store.PutAccount(ctx, addr, rec); err != nil {
		return err
	}
	if err := w.Store.PutSnapshot(ctx, addr, atBlock, balance); err != nil {
		return err
	}
	if err := w.Store.PutWatchMeta(ctx, addr, ethrecord.WatchMeta{StartBlock: atBlock}); err != nil {
		return err
	}
	log.Info("pipeline: initialized address", "addr", addr, "balance", balance, "nonce", nonce, "block", atBlock)
	return nil
}

// balanceOfCaller exposes the ERC-20 balanceOf view call the pipeline needs
// at initialization time, implemented by internal/rpcclient via
// accounts/abi.
type balanceOfCaller interface {
	Erc20BalanceOf(ctx context.Context, token, owner common.Address, block uint64) (*uint256.Int, error)
}

func (w *Watcher) initTokenPair(ctx context.Context, token, owner common.Address, atBlock uint64) error {
	var balance *uint256.Int
	if caller, ok := w.Chain.(balanceOfCaller); ok {
		b, err := caller.Erc20BalanceOf(ctx, token, owner, atBlock)
		if err != nil {
			return fmt.Errorf("pipeline: balanceOf(%s, %s): %w", token, owner, err)
		}
		balance = b
	} else {
		balance = new(uint256.Int)
	}
	if err := w.Store.PutErc20Balance(ctx, token, owner, balance); err != nil {
		return err
	}
	if err := w.Store.PutErc20Snapshot(ctx, token, owner, atBlock, balance); err != nil {
		return err
	}
	if err := w.Store.PutErc20WatchMeta(ctx, token, owner, ethrecord.Erc20WatchMeta{StartBlock: atBlock}); err != nil {
		return err
	}
	log.Info("pipeline: initialized token pair", "token", token, "owner", owner, "balance", balance, "block", atBlock)
	return nil
}

// Run polls for new blocks and processes them until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	log.Info("pipeline: starting watcher loop")
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.tick(ctx); err != nil {
			log.Error("pipeline: tick failed, will retry next poll", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) tick(ctx context.Context) error {
	localHead, known, err := w.Store.GetHead(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: get local head: %w", err)
	}
	if !known {
		return fmt.Errorf("pipeline: no head set, Initialize was not run")
	}
	chainHead, err := w.headBlockTag(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: get chain head: %w", err)
	}
	if localHead >= chainHead {
		log.Debug("pipeline: up to date", "local", localHead, "chain", chainHead)
		return nil
	}
	log.Info("pipeline: new blocks available", "local", localHead, "chain", chainHead)
	return w.ProcessBlockRange(ctx, localHead+1, chainHead)
}

// ProcessBlockRange processes blocks [from, to] in order, back to back with
// no pause, advancing the head after each block.
func (w *Watcher) ProcessBlockRange(ctx context.Context, from, to uint64) error {
	if from > to {
		return nil
	}
	for n := from; n <= to; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := w.processBlock(ctx, n); err != nil {
			return fmt.Errorf("pipeline: block %d: %w", n, err)
		}
	}
	return nil
}

func (w *Watcher) processBlock(ctx context.Context, number uint64) error {
	block, err := w.Chain.BlockByNumber(ctx, number)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	log.Info("pipeline: processing block", "number", number, "txs", len(block.Transactions))

	if err := w.undoPriorDelta(ctx, number); err != nil {
		return fmt.Errorf("undo prior delta: %w", err)
	}

	acc := ethapply.NewAccumulator()
	var allReceipts []chain.Receipt

	for _, tx := range block.Transactions {
		receipt, err := w.Chain.TransactionReceipt(ctx, tx.Hash)
		if err != nil {
			return fmt.Errorf("receipt %s: %w", tx.Hash, err)
		}
		allReceipts = append(allReceipts, receipt)

		// Tracing is unconditional on top-level relevance: a contract call
		// from/to an unwatched address can still carry a nested internal
		// transfer that credits a watched EOA several calls deep.
		if receipt.IsSuccess() {
			if err := w.applyTrace(ctx, tx, block, acc); err != nil {
				log.Warn("pipeline: trace fetch failed, skipping internal transfers", "tx", tx.Hash, "err", err)
			}
		}

		if !w.isRelevant(tx) {
			continue
		}

		if err := w.Applier.ApplyTransaction(ctx, tx, receipt, block, w.watchedEOAs, acc); err != nil {
			return fmt.Errorf("apply %s: %w", tx.Hash, err)
		}
	}

	if len(w.WatchedTokens) > 0 {
		if err := w.Tracker.ProcessBlock(ctx, number, allReceipts); err != nil {
			return fmt.Errorf("erc20: %w", err)
		}
	}

	if err := w.flush(ctx, number, acc); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	if err := w.Store.SetHead(ctx, number); err != nil {
		return fmt.Errorf("advance head: %w", err)
	}
	log.Info("pipeline: completed block", "number", number)
	return nil
}

// undoPriorDelta reverses any delta already persisted for this exact block
// number, for every watchlist address, before the block is (re-)applied.
// Every address flush() ever writes a delta for is drawn from the
// watchlist (direct sender/receiver or the watched end of an internal
// transfer), so walking the watchlist is sufficient to make replaying the
// same block idempotent: a crash between flush and AdvanceHead, or a
// deliberate re-run over an already-processed range, folds the identical
// recomputed delta back onto the account rather than compounding it a
// second time.
func (w *Watcher) undoPriorDelta(ctx context.Context, number uint64) error {
	for _, addr := range w.Watchlist {
		prior, found, err := w.Store.GetDelta(ctx, addr, number)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		rec, found, err := w.Store.GetAccount(ctx, addr)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		rec.Balance = feeengine.SaturatingSub(feeengine.SaturatingAdd(rec.Balance, prior.DeltaMinus), prior.DeltaPlus)
		rec.Nonce -= prior.NonceDelta
		if err := w.Store.PutAccount(ctx, addr, rec); err != nil {
			return err
		}
	}
	return nil
}

// isRelevant implements §4.9's relevance decision: a sender-watched
// transaction is always processed (fees must be deducted); a
// receiver-only-watched transaction is processed only when it is a plain
// EOA-to-EOA value transfer.
func (w *Watcher) isRelevant(tx chain.Transaction) bool {
	if w.watchedEOAs[tx.From] {
		return true
	}
	if tx.To != nil && w.watchedEOAs[*tx.To] {
		return chain.IsEOAToEOATransfer(tx)
	}
	return false
}

func (w *Watcher) applyTrace(ctx context.Context, tx chain.Transaction, block chain.Block, acc ethapply.Accumulator) error {
	root, err := w.Chain.TraceTransaction(ctx, tx.Hash)
	if err != nil {
		return err
	}
	for _, sender := range calltrace.CollectSenders(root) {
		if w.Cache.Status(sender) != contractcache.Unknown {
			continue
		}
		isContract, err := w.Chain.IsContract(ctx, sender)
		if err != nil {
			log.Warn("pipeline: could not resolve sender contract status", "addr", sender, "err", err)
			continue
		}
		w.Cache.Mark(sender, isContract)
	}
	transfers := calltrace.CollectInternalTransfers(root, true, w.watchedEOAs, func(addr common.Address) bool {
		return w.Cache.Status(addr) == contractcache.KnownContract
	})
	for _, t := range transfers {
		if err := w.Applier.ApplyInternalTransfer(ctx, t, acc); err != nil {
			return err
		}
	}
	return nil
}

// flush persists every address with a non-empty accumulated delta, then
// reads back its current balance and writes a snapshot at this block.
func (w *Watcher) flush(ctx context.Context, number uint64, acc ethapply.Accumulator) error {
	for addr, delta := range acc {
		if !delta.HasChanges() {
			continue
		}
		if err := w.Store.PutDelta(ctx, addr, number, *delta); err != nil {
			return err
		}
		rec, found, err := w.Store.GetAccount(ctx, addr)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("flush: no account record for %s after apply", addr)
		}
		if err := w.Store.PutSnapshot(ctx, addr, number, rec.Balance); err != nil {
			return err
		}
	}
	return nil
}
