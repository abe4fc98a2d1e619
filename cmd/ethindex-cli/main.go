// Command ethindex-cli is a developer-facing tool for inspecting and
// seeding the state store directly, plus running the range queries the
// pipeline's query engine exposes. All commands print pretty JSON.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/ethindex/ethindex/internal/ethrecord"
	"github.com/ethindex/ethindex/internal/query"
	"github.com/ethindex/ethindex/internal/store"
)

func main() {
	dbPath := flag.String("db", "./ethindex_db", "state store directory")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ethindex-cli -db <path> <command> [args...]")
		printCommands()
		os.Exit(1)
	}

	s, err := store.OpenBoltStore(*dbPath)
	if err != nil {
		fail("open store at %s: %v", *dbPath, err)
	}
	defer s.Close()

	ctx := context.Background()
	cmd, rest := args[0], args[1:]
	result, err := dispatch(ctx, s, cmd, rest)
	if err != nil {
		fail("%s: %v", cmd, err)
	}
	printJSON(result)
}

func printCommands() {
	fmt.Fprintln(os.Stderr, `commands:
  set-head <block>
  get-head
  put-account <address> <nonce> <balance_hex> <code_hash>
  get-account <address>
  put-code <code_hash> <hex_bytecode>
  get-code <code_hash>
  put-storage <address> <slot> <value_hex>
  get-storage <address> <slot>
  put-header <number> <timestamp> <basefee_hex> <coinbase> <prevrandao> <gas_limit> <chain_id>
  get-header <number>
  put-block-hash <number> <hash>
  get-block-hash <number>
  deltas <address> <start> <end> [-dense]
  balances <address> <start> <end>
  erc20-deltas <token> <owner> <start> <end>
  erc20-balances <token> <owner> <start> <end>`)
}

func dispatch(ctx context.Context, s store.Store, cmd string, args []string) (any, error) {
	switch cmd {
	case "set-head":
		block, err := parseUint(arg(args, 0))
		if err != nil {
			return nil, err
		}
		if err := s.SetHead(ctx, block); err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "head_block": block}, nil

	case "get-head":
		block, known, err := s.GetHead(ctx)
		if err != nil {
			return nil, err
		}
		if !known {
			return map[string]any{"head_block": nil}, nil
		}
		return map[string]any{"head_block": block}, nil

	case "put-account":
		addr, err := parseAddress(arg(args, 0))
		if err != nil {
			return nil, err
		}
		nonce, err := parseUint(arg(args, 1))
		if err != nil {
			return nil, err
		}
		balance, err := parseU256(arg(args, 2))
		if err != nil {
			return nil, err
		}
		codeHash, err := parseHash(arg(args, 3))
		if err != nil {
			return nil, err
		}
		rec := ethrecord.AccountRecord{Nonce: nonce, Balance: balance, CodeHash: codeHash}
		if err := s.PutAccount(ctx, addr, rec); err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "address": addr.Hex(), "account": accountJSON(rec)}, nil

	case "get-account":
		addr, err := parseAddress(arg(args, 0))
		if err != nil {
			return nil, err
		}
		rec, found, err := s.GetAccount(ctx, addr)
		if err != nil {
			return nil, err
		}
		if !found {
			return map[string]any{"address": addr.Hex(), "account": nil}, nil
		}
		return map[string]any{"address": addr.Hex(), "account": accountJSON(rec)}, nil

	case "put-code":
		codeHash, err := parseHash(arg(args, 0))
		if err != nil {
			return nil, err
		}
		code, err := parseHexBytes(arg(args, 1))
		if err != nil {
			return nil, err
		}
		if err := s.PutCode(ctx, codeHash, code); err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "code_hash": codeHash.Hex(), "code_length": len(code)}, nil

	case "get-code":
		codeHash, err := parseHash(arg(args, 0))
		if err != nil {
			return nil, err
		}
		code, found, err := s.GetCode(ctx, codeHash)
		if err != nil {
			return nil, err
		}
		if !found {
			return map[string]any{"code_hash": codeHash.Hex(), "code": nil}, nil
		}
		return map[string]any{"code_hash": codeHash.Hex(), "code": hexutil.Encode(code), "code_length": len(code)}, nil

	case "put-storage":
		addr, err := parseAddress(arg(args, 0))
		if err != nil {
			return nil, err
		}
		slot, err := parseHash(arg(args, 1))
		if err != nil {
			return nil, err
		}
		val, err := parseU256(arg(args, 2))
		if err != nil {
			return nil, err
		}
		if err := s.PutStorage(ctx, addr, slot, val); err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "address": addr.Hex(), "slot": slot.Hex(), "value": u256Hex(val)}, nil

	case "get-storage":
		addr, err := parseAddress(arg(args, 0))
		if err != nil {
			return nil, err
		}
		slot, err := parseHash(arg(args, 1))
		if err != nil {
			return nil, err
		}
		val, err := s.GetStorage(ctx, addr, slot)
		if err != nil {
			return nil, err
		}
		return map[string]any{"address": addr.Hex(), "slot": slot.Hex(), "value": u256Hex(val)}, nil

	case "put-header":
		number, err := parseUint(arg(args, 0))
		if err != nil {
			return nil, err
		}
		timestamp, err := parseUint(arg(args, 1))
		if err != nil {
			return nil, err
		}
		baseFee, err := parseU256(arg(args, 2))
		if err != nil {
			return nil, err
		}
		coinbase, err := parseAddress(arg(args, 3))
		if err != nil {
			return nil, err
		}
		prevrandao, err := parseHash(arg(args, 4))
		if err != nil {
			return nil, err
		}
		gasLimit, err := parseUint(arg(args, 5))
		if err != nil {
			return nil, err
		}
		chainID, err := parseUint(arg(args, 6))
		if err != nil {
			return nil, err
		}
		rec := ethrecord.HeaderRecord{
			Number: number, Timestamp: timestamp, BaseFee: baseFee,
			Coinbase: coinbase, PrevRandao: prevrandao, GasLimit: gasLimit, ChainID: chainID,
		}
		if err := s.PutHeader(ctx, number, rec); err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "block": number, "header": headerJSON(rec)}, nil

	case "get-header":
		number, err := parseUint(arg(args, 0))
		if err != nil {
			return nil, err
		}
		rec, found, err := s.GetHeader(ctx, number)
		if err != nil {
			return nil, err
		}
		if !found {
			return map[string]any{"block": number, "header": nil}, nil
		}
		return map[string]any{"block": number, "header": headerJSON(rec)}, nil

	case "put-block-hash":
		number, err := parseUint(arg(args, 0))
		if err != nil {
			return nil, err
		}
		hash, err := parseHash(arg(args, 1))
		if err != nil {
			return nil, err
		}
		if err := s.PutBlockHash(ctx, number, hash); err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "block": number, "hash": hash.Hex()}, nil

	case "get-block-hash":
		number, err := parseUint(arg(args, 0))
		if err != nil {
			return nil, err
		}
		hash, found, err := s.GetBlockHash(ctx, number)
		if err != nil {
			return nil, err
		}
		if !found {
			return map[string]any{"block": number, "hash": nil}, nil
		}
		return map[string]any{"block": number, "hash": hash.Hex()}, nil

	case "deltas":
		return runRangeQuery(ctx, s, args, deltasInRange)
	case "balances":
		return runRangeQuery(ctx, s, args, balancesInRange)
	case "erc20-deltas":
		return runPairRangeQuery(ctx, s, args, erc20DeltasInRange)
	case "erc20-balances":
		return runPairRangeQuery(ctx, s, args, erc20BalancesInRange)

	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func arg(args []string, i int) string {
	if i >= len(args) {
		return ""
	}
	return args[i]
}

func u256Hex(v *uint256.Int) string {
	if v == nil {
		v = new(uint256.Int)
	}
	b := v.Bytes()
	if len(b) == 0 {
		b = []byte{0}
	}
	return hexutil.Encode(b)
}

func accountJSON(rec ethrecord.AccountRecord) map[string]any {
	return map[string]any{"nonce": rec.Nonce, "balance": u256Hex(rec.Balance), "code_hash": rec.CodeHash.Hex()}
}

func headerJSON(rec ethrecord.HeaderRecord) map[string]any {
	return map[string]any{
		"number": rec.Number, "timestamp": rec.Timestamp, "basefee": u256Hex(rec.BaseFee),
		"coinbase": rec.Coinbase.Hex(), "prevrandao": rec.PrevRandao.Hex(),
		"gas_limit": rec.GasLimit, "chain_id": rec.ChainID,
	}
}

// rangeArgs strips a trailing "-dense" flag (order-independent) and returns
// the remaining positional args plus whether dense rendering was requested.
func rangeArgs(args []string) (positional []string, dense bool) {
	for _, a := range args {
		if a == "-dense" || a == "--dense" {
			dense = true
			continue
		}
		positional = append(positional, a)
	}
	return positional, dense
}

func deltaJSON(block uint64, d ethrecord.BlockDelta) map[string]any {
	return map[string]any{
		"block": block, "delta_plus": u256Hex(d.DeltaPlus), "delta_minus": u256Hex(d.DeltaMinus),
		"received_value": u256Hex(d.ReceivedValue), "sent_value": u256Hex(d.SentValue),
		"fee_paid": u256Hex(d.FeePaid), "failed_fee": u256Hex(d.FailedFee),
		"nonce_delta": d.NonceDelta, "tx_count": d.TxCount,
	}
}

func erc20DeltaJSON(block uint64, d ethrecord.Erc20Delta) map[string]any {
	return map[string]any{
		"block": block, "delta_plus": u256Hex(d.DeltaPlus), "delta_minus": u256Hex(d.DeltaMinus),
		"tx_count": d.TxCount,
	}
}

func balancePointsJSON(points []query.BalancePoint) []map[string]any {
	out := make([]map[string]any, 0, len(points))
	for _, p := range points {
		out = append(out, map[string]any{"block": p.Block, "balance": u256Hex(p.Balance)})
	}
	return out
}

func deltasInRange(ctx context.Context, e *query.Engine, addr common.Address, start, end uint64, dense bool) (any, error) {
	res, err := e.DeltasInRange(ctx, addr, start, end)
	if err != nil {
		return nil, err
	}
	entries := res.Data
	if dense {
		entries = query.DenseDeltas(res.EffectiveStart, res.EffectiveEnd, entries)
	}
	out := make([]map[string]any, 0, len(entries))
	for _, en := range entries {
		out = append(out, deltaJSON(en.Block, en.Delta))
	}
	return resultJSON(res.RequestedStart, res.RequestedEnd, res.EffectiveStart, res.EffectiveEnd, res.Message, out), nil
}

func balancesInRange(ctx context.Context, e *query.Engine, addr common.Address, start, end uint64, _ bool) (any, error) {
	res, err := e.BalancesInRange(ctx, addr, start, end)
	if err != nil {
		return nil, err
	}
	return resultJSON(res.RequestedStart, res.RequestedEnd, res.EffectiveStart, res.EffectiveEnd, res.Message, balancePointsJSON(res.Data)), nil
}

func erc20DeltasInRange(ctx context.Context, e *query.Engine, token, owner common.Address, start, end uint64, _ bool) (any, error) {
	res, err := e.Erc20DeltasInRange(ctx, token, owner, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(res.Data))
	for _, en := range res.Data {
		out = append(out, erc20DeltaJSON(en.Block, en.Delta))
	}
	return resultJSON(res.RequestedStart, res.RequestedEnd, res.EffectiveStart, res.EffectiveEnd, res.Message, out), nil
}

func erc20BalancesInRange(ctx context.Context, e *query.Engine, token, owner common.Address, start, end uint64, _ bool) (any, error) {
	res, err := e.Erc20BalancesInRange(ctx, token, owner, start, end)
	if err != nil {
		return nil, err
	}
	return resultJSON(res.RequestedStart, res.RequestedEnd, res.EffectiveStart, res.EffectiveEnd, res.Message, balancePointsJSON(res.Data)), nil
}

func resultJSON(reqStart, reqEnd, effStart, effEnd uint64, message string, data any) map[string]any {
	return map[string]any{
		"requested_start": reqStart, "requested_end": reqEnd,
		"effective_start": effStart, "effective_end": effEnd,
		"message": message, "data": data,
	}
}

func runRangeQuery(ctx context.Context, s store.Store, args []string, fn func(context.Context, *query.Engine, common.Address, uint64, uint64, bool) (any, error)) (any, error) {
	positional, dense := rangeArgs(args)
	addr, err := parseAddress(arg(positional, 0))
	if err != nil {
		return nil, err
	}
	start, err := parseUint(arg(positional, 1))
	if err != nil {
		return nil, err
	}
	end, err := parseUint(arg(positional, 2))
	if err != nil {
		return nil, err
	}
	return fn(ctx, &query.Engine{Store: s}, addr, start, end, dense)
}

func runPairRangeQuery(ctx context.Context, s store.Store, args []string, fn func(context.Context, *query.Engine, common.Address, common.Address, uint64, uint64, bool) (any, error)) (any, error) {
	positional, dense := rangeArgs(args)
	token, err := parseAddress(arg(positional, 0))
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress(arg(positional, 1))
	if err != nil {
		return nil, err
	}
	start, err := parseUint(arg(positional, 2))
	if err != nil {
		return nil, err
	}
	end, err := parseUint(arg(positional, 3))
	if err != nil {
		return nil, err
	}
	return fn(ctx, &query.Engine{Store: s}, token, owner, start, end, dense)
}

func parseUint(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid unsigned integer %q: %w", s, err)
	}
	return n, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := parseHexBytes(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != 32 {
		return common.Hash{}, fmt.Errorf("hash must be 32 bytes (64 hex chars), got %d bytes", len(b))
	}
	return common.BytesToHash(b), nil
}

func parseU256(s string) (*uint256.Int, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	b, err := parseHexBytes(s)
	if err != nil {
		return nil, err
	}
	if len(b) > 32 {
		return nil, fmt.Errorf("u256 value too large (max 32 bytes), got %d bytes", len(b))
	}
	return new(uint256.Int).SetBytes(b), nil
}

func parseHexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail("encode result: %v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ethindex-cli: "+format+"\n", args...)
	os.Exit(1)
}
