// Package chain defines the minimal transaction, receipt, block, and call
// trace shapes the indexing core consumes, decoupled from go-ethereum's
// RLP-oriented types so optional fields (absent "to", absent "max_fee_per_gas",
// absent trace "value") are representable directly as nil rather than forcing
// zero-value ambiguity.
package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Transaction is the subset of a chain transaction the core needs.
type Transaction struct {
	Hash                 common.Hash
	From                 common.Address
	To                   *common.Address
	Value                *uint256.Int
	Input                []byte
	Nonce                uint64
	Gas                  uint64
	GasPrice             *uint256.Int // legacy
	MaxFeePerGas         *uint256.Int // EIP-1559
	MaxPriorityFeePerGas *uint256.Int // EIP-1559, nil defaults to zero
}

// IsLegacy reports whether the transaction carries a legacy gas price and no
// EIP-1559 fee cap.
func (t Transaction) IsLegacy() bool {
	return t.GasPrice != nil && t.MaxFeePerGas == nil
}

// IsEIP1559 reports whether the transaction carries an EIP-1559 fee cap.
func (t Transaction) IsEIP1559() bool {
	return t.MaxFeePerGas != nil
}

// IsContractCreation reports whether the transaction has no recipient.
func (t Transaction) IsContractCreation() bool {
	return t.To == nil
}

// Log is a single event log entry attached to a receipt.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Receipt is the subset of a transaction receipt the core needs.
type Receipt struct {
	Status            uint64 // 1 = success, 0 = failure
	GasUsed           uint64
	EffectiveGasPrice *uint256.Int // nil if the node did not report one
	Logs              []Log
}

// IsSuccess reports whether the transaction this receipt belongs to succeeded.
func (r Receipt) IsSuccess() bool { return r.Status == 1 }

// IsFailure is the complement of IsSuccess.
func (r Receipt) IsFailure() bool { return !r.IsSuccess() }

// Block is the subset of a chain block the core needs.
type Block struct {
	Number        uint64
	Hash          common.Hash
	BaseFeePerGas *uint256.Int // nil on pre-London chains
	Transactions  []Transaction
}

// CallFrame is one node of a callTracer call-trace tree. From, To, and Value
// are optional per the tracer's own output shape (e.g. a node that errored
// before execution may lack them).
type CallFrame struct {
	Type  string
	From  *common.Address
	To    *common.Address
	Value *uint256.Int
	Calls []CallFrame
	Error string
}

// IsEOAToEOATransfer reports whether tx is a simple value transfer with no
// contract-call payload: a recipient is present, value is positive, and the
// input data is empty.
func IsEOAToEOATransfer(tx Transaction) bool {
	return tx.To != nil && tx.Value != nil && !tx.Value.IsZero() && len(tx.Input) == 0
}
