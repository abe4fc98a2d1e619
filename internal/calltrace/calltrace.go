// Package calltrace walks a callTracer call-trace tree and extracts the
// contract-to-watched-EOA internal value transfers a transaction's top-level
// fields can't see.
package calltrace

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ethindex/ethindex/internal/chain"
)

// InternalTransfer is one value-moving call found inside a transaction's
// trace tree.
type InternalTransfer struct {
	From  common.Address
	To    common.Address
	Value *uint256.Int
}

// isValueTransferCall reports whether a trace node's call type can move
// value per the EVM semantics the collector cares about. STATICCALL and
// DELEGATECALL never transfer value regardless of the reported amount.
func isValueTransferCall(callType string) bool {
	switch strings.ToUpper(callType) {
	case "CALL", "CALLCODE", "SELFDESTRUCT":
		return true
	default:
		return false
	}
}

// sender_is_contract(addr) predicate, supplied by the caller (C5-backed).
type SenderIsContractFunc func(addr common.Address) bool

// CollectInternalTransfers walks root and returns every internal transfer
// that moves value from a contract to a watched address. If txSucceeded is
// false, nothing is returned: a reverted transaction's internal calls never
// took effect.
func CollectInternalTransfers(root chain.CallFrame, txSucceeded bool, watchlist map[common.Address]bool, senderIsContract SenderIsContractFunc) []InternalTransfer {
	if !txSucceeded {
		return nil
	}
	var out []InternalTransfer
	var walk func(node chain.CallFrame)
	walk = func(node chain.CallFrame) {
		if isValueTransferCall(node.Type) &&
			node.From != nil && node.To != nil &&
			node.Value != nil && !node.Value.IsZero() &&
			senderIsContract(*node.From) &&
			watchlist[*node.To] {
			out = append(out, InternalTransfer{From: *node.From, To: *node.To, Value: node.Value})
		}
		for _, child := range node.Calls {
			walk(child)
		}
	}
	walk(root)
	return out
}

// CollectSenders gathers every "from" address appearing anywhere in the
// trace tree, for pre-populating the contract-flag cache with a single
// batch of chain lookups instead of one lookup per node during the walk.
func CollectSenders(root chain.CallFrame) []common.Address {
	seen := make(map[common.Address]bool)
	var out []common.Address
	var walk func(node chain.CallFrame)
	walk = func(node chain.CallFrame) {
		if node.From != nil && !seen[*node.From] {
			seen[*node.From] = true
			out = append(out, *node.From)
		}
		for _, child := range node.Calls {
			walk(child)
		}
	}
	walk(root)
	return out
}
