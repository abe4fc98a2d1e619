// Package feeengine computes the effective gas price and total fee paid by
// a transaction, reconciling legacy and EIP-1559 fee models with the
// receipt's own reported value when present.
package feeengine

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/ethindex/ethindex/internal/chain"
)

// ErrNoBaseFee is returned when an EIP-1559 transaction must be priced
// against a block with no base fee reported.
var ErrNoBaseFee = fmt.Errorf("feeengine: eip-1559 transaction requires a block base fee")

// ErrUnclassifiable is returned when a transaction has neither a legacy gas
// price nor an EIP-1559 fee cap and the receipt carries no effective price.
var ErrUnclassifiable = fmt.Errorf("feeengine: transaction has neither legacy nor eip-1559 gas pricing")

// EffectiveGasPrice implements the priority order: receipt-reported price
// first, then legacy tx.gas_price, then the EIP-1559 formula
// min(max_fee_per_gas, base_fee + max_priority_fee_per_gas).
func EffectiveGasPrice(tx chain.Transaction, receipt chain.Receipt, block chain.Block) (*uint256.Int, error) {
	if receipt.EffectiveGasPrice != nil {
		return receipt.EffectiveGasPrice, nil
	}
	if tx.IsLegacy() {
		return tx.GasPrice, nil
	}
	if tx.IsEIP1559() {
		if block.BaseFeePerGas == nil {
			return nil, ErrNoBaseFee
		}
		priority := tx.MaxPriorityFeePerGas
		if priority == nil {
			priority = new(uint256.Int)
		}
		sum := SaturatingAdd(block.BaseFeePerGas, priority)
		if tx.MaxFeePerGas.Lt(sum) {
			return tx.MaxFeePerGas.Clone(), nil
		}
		return sum, nil
	}
	return nil, ErrUnclassifiable
}

// Fee computes gas_used * effective_gas_price with saturating multiplication.
func Fee(gasUsed uint64, effectiveGasPrice *uint256.Int) *uint256.Int {
	gu := new(uint256.Int).SetUint64(gasUsed)
	return SaturatingMul(gu, effectiveGasPrice)
}

// Calculate is the convenience entry point combining EffectiveGasPrice and
// Fee for one transaction.
func Calculate(tx chain.Transaction, receipt chain.Receipt, block chain.Block) (effectiveGasPrice, fee *uint256.Int, err error) {
	eff, err := EffectiveGasPrice(tx, receipt, block)
	if err != nil {
		return nil, nil, err
	}
	return eff, Fee(receipt.GasUsed, eff), nil
}

// SaturatingAdd returns a+b, clamped to the maximum u256 value on overflow.
func SaturatingAdd(a, b *uint256.Int) *uint256.Int {
	out := new(uint256.Int)
	if _, overflow := out.AddOverflow(a, b); overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}

// SaturatingSub returns a-b, clamped to zero on underflow.
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	out := new(uint256.Int)
	if _, underflow := out.SubOverflow(a, b); underflow {
		return new(uint256.Int)
	}
	return out
}

// SaturatingMul returns a*b, clamped to the maximum u256 value on overflow.
func SaturatingMul(a, b *uint256.Int) *uint256.Int {
	out := new(uint256.Int)
	if _, overflow := out.MulOverflow(a, b); overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}
