// Package rpcclient wraps ethclient for the minimal read-only chain surface
// the indexer depends on, plus the raw debug_traceTransaction call that
// ethclient does not expose.
package rpcclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/ethindex/ethindex/internal/chain"
)

// erc20BalanceOfABI is the minimal ERC-20 fragment needed for the
// balanceOf(address) view call used at watch-pair initialization.
const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

var parsedErc20ABI = mustParseABI(erc20BalanceOfABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("rpcclient: invalid embedded ABI: %v", err))
	}
	return parsed
}

// Client is the chain collaborator the pipeline depends on. It is a thin
// wrapper over ethclient.Client plus the raw RPC client for calls ethclient
// does not wrap.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", url, err)
	}
	return &Client{eth: c}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// FinalizedBlockNumber returns the chain's finalized block number, falling
// back to latest when the node does not support the finalized tag (e.g.
// local dev chains).
func (c *Client) FinalizedBlockNumber(ctx context.Context) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, big.NewInt(int64(ethereumRPCFinalizedBlockNumber)))
	if err != nil {
		log.Debug("rpcclient: finalized tag unavailable, falling back to latest", "err", err)
		return c.LatestBlockNumber(ctx)
	}
	return header.Number.Uint64(), nil
}

// ethereumRPCFinalizedBlockNumber is go-ethereum's sentinel for the
// "finalized" block tag in HeaderByNumber's big.Int argument.
const ethereumRPCFinalizedBlockNumber = -3

// LatestBlockNumber returns the chain's current latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("rpcclient: block number: %w", err)
	}
	return n, nil
}

// BalanceAt returns the wei balance of addr at block (0 for latest).
func (c *Client) BalanceAt(ctx context.Context, addr common.Address, block uint64) (*uint256.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, addr, blockArg(block))
	if err != nil {
		return nil, fmt.Errorf("rpcclient: balance at %s: %w", addr, err)
	}
	v, overflow := uint256.FromBig(bal)
	if overflow {
		return nil, fmt.Errorf("rpcclient: balance at %s overflows uint256", addr)
	}
	return v, nil
}

// NonceAt returns the transaction count of addr at block.
func (c *Client) NonceAt(ctx context.Context, addr common.Address, block uint64) (uint64, error) {
	n, err := c.eth.NonceAt(ctx, addr, blockArg(block))
	if err != nil {
		return 0, fmt.Errorf("rpcclient: nonce at %s: %w", addr, err)
	}
	return n, nil
}

// CodeAt returns the bytecode at addr and block. Empty for EOAs.
func (c *Client) CodeAt(ctx context.Context, addr common.Address, block uint64) ([]byte, error) {
	code, err := c.eth.CodeAt(ctx, addr, blockArg(block))
	if err != nil {
		return nil, fmt.Errorf("rpcclient: code at %s: %w", addr, err)
	}
	return code, nil
}

// IsContract implements ethapply.ContractResolver via an eth_getCode length
// check at the latest block.
func (c *Client) IsContract(ctx context.Context, addr common.Address) (bool, error) {
	code, err := c.CodeAt(ctx, addr, 0)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// Erc20BalanceOf calls the token contract's balanceOf(owner) view function
// at block and returns the result as a uint256.
func (c *Client) Erc20BalanceOf(ctx context.Context, token, owner common.Address, block uint64) (*uint256.Int, error) {
	data, err := parsedErc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: pack balanceOf: %w", err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, blockArg(block))
	if err != nil {
		return nil, fmt.Errorf("rpcclient: call balanceOf(%s) on %s: %w", owner, token, err)
	}
	var out *big.Int
	if err := parsedErc20ABI.UnpackIntoInterface(&out, "balanceOf", raw); err != nil {
		return nil, fmt.Errorf("rpcclient: unpack balanceOf result: %w", err)
	}
	v, overflow := uint256.FromBig(out)
	if overflow {
		return nil, fmt.Errorf("rpcclient: balanceOf(%s) on %s overflows uint256", owner, token)
	}
	return v, nil
}

func blockArg(block uint64) *big.Int {
	if block == 0 {
		return nil
	}
	return new(big.Int).SetUint64(block)
}

// BlockByNumber fetches a block with full transactions and translates it
// into the domain chain.Block shape.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (chain.Block, error) {
	b, err := c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return chain.Block{}, fmt.Errorf("rpcclient: block %d: %w", number, err)
	}
	out := chain.Block{
		Number: b.NumberU64(),
		Hash:   b.Hash(),
	}
	if base := b.BaseFee(); base != nil {
		v, overflow := uint256.FromBig(base)
		if !overflow {
			out.BaseFeePerGas = v
		}
	}
	signer := types.LatestSignerForChainID(b.Number())
	for _, tx := range b.Transactions() {
		out.Transactions = append(out.Transactions, toDomainTx(tx, signer))
	}
	return out, nil
}

func toDomainTx(tx *types.Transaction, signer types.Signer) chain.Transaction {
	from, err := types.Sender(signer, tx)
	if err != nil {
		log.Debug("rpcclient: could not recover sender, leaving zero address", "tx", tx.Hash(), "err", err)
	}
	out := chain.Transaction{
		Hash:  tx.Hash(),
		From:  from,
		To:    tx.To(),
		Input: tx.Data(),
		Nonce: tx.Nonce(),
		Gas:   tx.Gas(),
	}
	if v, overflow := uint256.FromBig(tx.Value()); !overflow {
		out.Value = v
	}
	switch tx.Type() {
	case types.DynamicFeeTxType, types.BlobTxType:
		if v, overflow := uint256.FromBig(tx.GasFeeCap()); !overflow {
			out.MaxFeePerGas = v
		}
		if v, overflow := uint256.FromBig(tx.GasTipCap()); !overflow {
			out.MaxPriorityFeePerGas = v
		}
	default:
		if v, overflow := uint256.FromBig(tx.GasPrice()); !overflow {
			out.GasPrice = v
		}
	}
	return out
}

// TransactionReceipt fetches a receipt and translates it into the domain
// chain.Receipt shape, preferring the RPC's effectiveGasPrice field.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (chain.Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return chain.Receipt{}, fmt.Errorf("rpcclient: receipt %s: %w", hash, err)
	}
	out := chain.Receipt{
		Status:  r.Status,
		GasUsed: r.GasUsed,
	}
	if r.EffectiveGasPrice != nil {
		if v, overflow := uint256.FromBig(r.EffectiveGasPrice); !overflow {
			out.EffectiveGasPrice = v
		}
	}
	for _, lg := range r.Logs {
		topics := make([]common.Hash, len(lg.Topics))
		copy(topics, lg.Topics)
		out.Logs = append(out.Logs, chain.Log{Address: lg.Address, Topics: topics, Data: lg.Data})
	}
	return out, nil
}

// rawCallFrame mirrors the JSON shape debug_traceTransaction's callTracer
// returns; it is decoded then translated into chain.CallFrame.
type rawCallFrame struct {
	Type  string         `json:"type"`
	From  string         `json:"from"`
	To    string         `json:"to"`
	Value string         `json:"value"`
	Error string         `json:"error"`
	Calls []rawCallFrame `json:"calls"`
}

// TraceTransaction runs debug_traceTransaction with the callTracer and
// returns the resulting call-frame tree. ethclient has no typed wrapper for
// the debug namespace, so this goes through the raw RPC client directly.
func (c *Client) TraceTransaction(ctx context.Context, hash common.Hash) (chain.CallFrame, error) {
	var raw rawCallFrame
	err := c.eth.Client().CallContext(ctx, &raw, "debug_traceTransaction", hash, map[string]interface{}{
		"tracer": "callTracer",
	})
	if err != nil {
		return chain.CallFrame{}, fmt.Errorf("rpcclient: trace %s: %w", hash, err)
	}
	return toDomainFrame(raw), nil
}

func toDomainFrame(raw rawCallFrame) chain.CallFrame {
	frame := chain.CallFrame{Type: raw.Type, Error: raw.Error}
	if raw.From != "" {
		a := common.HexToAddress(raw.From)
		frame.From = &a
	}
	if raw.To != "" {
		a := common.HexToAddress(raw.To)
		frame.To = &a
	}
	if raw.Value != "" {
		v, err := uint256.FromHex(raw.Value)
		if err == nil {
			frame.Value = v
		}
	}
	for _, child := range raw.Calls {
		frame.Calls = append(frame.Calls, toDomainFrame(child))
	}
	return frame
}
