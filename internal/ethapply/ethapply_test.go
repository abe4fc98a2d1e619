package ethapply

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethindex/ethindex/internal/calltrace"
	"github.com/ethindex/ethindex/internal/chain"
	"github.com/ethindex/ethindex/internal/contractcache"
	"github.com/ethindex/ethindex/internal/ethrecord"
	"github.com/ethindex/ethindex/internal/store"
)

type stubResolver struct {
	contracts map[common.Address]bool
}

func (s stubResolver) IsContract(ctx context.Context, addr common.Address) (bool, error) {
	return s.contracts[addr], nil
}

func newTestApplier(t *testing.T, contracts map[common.Address]bool) *Applier {
	t.Helper()
	s, err := store.OpenBoltStore(filepath.Join(t.TempDir(), "ethindex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &Applier{Store: s, Cache: contractcache.New(), Resolver: stubResolver{contracts: contracts}}
}

func gwei(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000))
}

func TestSenderAppliedOnSuccess(t *testing.T) {
	sender := common.HexToAddress("0x0000000000000000000000000000000000000001")
	receiver := common.HexToAddress("0x0000000000000000000000000000000000000002")
	a := newTestApplier(t, nil)
	ctx := context.Background()

	require.NoError(t, a.Store.PutAccount(ctx, sender, accountWithBalance(1_000_000_000_000_000_000)))

	tx := chain.Transaction{
		Hash:  common.HexToHash("0x01"),
		From:  sender,
		To:    &receiver,
		Value: uint256.NewInt(1_000_000),
		Gas:   21000,
	}
	receipt := chain.Receipt{Status: 1, GasUsed: 21000, EffectiveGasPrice: gwei(20)}
	block := chain.Block{}
	watched := map[common.Address]bool{sender: true}
	acc := NewAccumulator()

	require.NoError(t, a.ApplyTransaction(ctx, tx, receipt, block, watched, acc))

	rec, found, err := a.Store.GetAccount(ctx, sender)
	require.NoError(t, err)
	require.True(t, found)

	fee := new(uint256.Int).Mul(uint256.NewInt(21000), gwei(20))
	expected := new(uint256.Int).Sub(uint256.NewInt(1_000_000_000_000_000_000), new(uint256.Int).Add(uint256.NewInt(1_000_000), fee))
	require.Equal(t, expected, rec.Balance)
	require.Equal(t, uint64(1), rec.Nonce)

	d := acc[sender]
	require.Equal(t, uint64(1), d.NonceDelta)
	require.Equal(t, uint32(1), d.TxCount)
	require.Equal(t, uint256.NewInt(1_000_000), d.SentValue)
	require.Equal(t, fee, d.FeePaid)
}

func TestSenderAppliedOnFailureDoesNotTouchSentOrFee(t *testing.T) {
	sender := common.HexToAddress("0x0000000000000000000000000000000000000001")
	a := newTestApplier(t, nil)
	ctx := context.Background()
	require.NoError(t, a.Store.PutAccount(ctx, sender, accountWithBalance(1_000_000_000_000_000_000)))

	tx := chain.Transaction{
		Hash:  common.HexToHash("0x01"),
		From:  sender,
		Value: uint256.NewInt(1_000_000),
		Gas:   21000,
	}
	receipt := chain.Receipt{Status: 0, GasUsed: 21000, EffectiveGasPrice: gwei(20)}
	block := chain.Block{}
	watched := map[common.Address]bool{sender: true}
	acc := NewAccumulator()

	require.NoError(t, a.ApplyTransaction(ctx, tx, receipt, block, watched, acc))

	rec, _, err := a.Store.GetAccount(ctx, sender)
	require.NoError(t, err)

	fee := new(uint256.Int).Mul(uint256.NewInt(21000), gwei(20))
	expected := new(uint256.Int).Sub(uint256.NewInt(1_000_000_000_000_000_000), fee)
	require.Equal(t, expected, rec.Balance)
	require.Equal(t, uint64(1), rec.Nonce)

	d := acc[sender]
	require.Equal(t, fee, d.FailedFee)
	require.Equal(t, fee, d.DeltaMinus)
	require.True(t, d.SentValue.IsZero())
	require.True(t, d.FeePaid.IsZero())
	require.True(t, d.DeltaPlus.IsZero())
}

func TestReceiverCreditedOnlyForSimpleEOATransfer(t *testing.T) {
	sender := common.HexToAddress("0x0000000000000000000000000000000000000001")
	receiver := common.HexToAddress("0x0000000000000000000000000000000000000002")
	a := newTestApplier(t, map[common.Address]bool{receiver: false})
	ctx := context.Background()

	tx := chain.Transaction{
		Hash:  common.HexToHash("0x01"),
		From:  sender,
		To:    &receiver,
		Value: uint256.NewInt(500),
	}
	receipt := chain.Receipt{Status: 1, GasUsed: 21000, EffectiveGasPrice: gwei(20)}
	block := chain.Block{}
	watched := map[common.Address]bool{receiver: true}
	acc := NewAccumulator()

	require.NoError(t, a.ApplyTransaction(ctx, tx, receipt, block, watched, acc))

	rec, found, err := a.Store.GetAccount(ctx, receiver)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint256.NewInt(500), rec.Balance)

	d := acc[receiver]
	require.Equal(t, uint256.NewInt(500), d.DeltaPlus)
	require.Equal(t, uint256.NewInt(500), d.ReceivedValue)
	require.Equal(t, uint32(1), d.TxCount)
}

func TestReceiverNotCreditedWhenContract(t *testing.T) {
	sender := common.HexToAddress("0x0000000000000000000000000000000000000001")
	receiver := common.HexToAddress("0x0000000000000000000000000000000000000002")
	a := newTestApplier(t, map[common.Address]bool{receiver: true})
	ctx := context.Background()

	tx := chain.Transaction{Hash: common.HexToHash("0x01"), From: sender, To: &receiver, Value: uint256.NewInt(500)}
	receipt := chain.Receipt{Status: 1, GasUsed: 21000, EffectiveGasPrice: gwei(20)}
	watched := map[common.Address]bool{receiver: true}
	acc := NewAccumulator()

	require.NoError(t, a.ApplyTransaction(ctx, tx, receipt, chain.Block{}, watched, acc))

	_, found, err := a.Store.GetAccount(ctx, receiver)
	require.NoError(t, err)
	require.False(t, found)
}

func TestInternalTransferCreditsReceiverWithoutNonceChange(t *testing.T) {
	receiver := common.HexToAddress("0x0000000000000000000000000000000000000002")
	a := newTestApplier(t, nil)
	ctx := context.Background()
	acc := NewAccumulator()

	transfer := calltrace.InternalTransfer{
		From:  common.HexToAddress("0x0000000000000000000000000000000000000009"),
		To:    receiver,
		Value: uint256.NewInt(1000),
	}
	require.NoError(t, a.ApplyInternalTransfer(ctx, transfer, acc))

	rec, found, err := a.Store.GetAccount(ctx, receiver)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint256.NewInt(1000), rec.Balance)
	require.Equal(t, uint64(0), rec.Nonce)

	d := acc[receiver]
	require.Equal(t, uint256.NewInt(1000), d.DeltaPlus)
	require.Equal(t, uint64(0), d.NonceDelta)
}

func accountWithBalance(n uint64) ethrecord.AccountRecord {
	return ethrecord.AccountRecord{Balance: uint256.NewInt(n)}
}
