package ethrecord

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestAccountRecordRoundTrip(t *testing.T) {
	a := AccountRecord{
		Nonce:    42,
		Balance:  uint256.NewInt(1_000_000_000_000),
		CodeHash: common.HexToHash("0xabc123"),
	}
	got, err := DecodeAccountRecord(a.Encode())
	require.NoError(t, err)
	require.Equal(t, a.Nonce, got.Nonce)
	require.Equal(t, a.Balance, got.Balance)
	require.Equal(t, a.CodeHash, got.CodeHash)
}

func TestAccountRecordZeroBalance(t *testing.T) {
	a := AccountRecord{Nonce: 0, CodeHash: common.Hash{}}
	got, err := DecodeAccountRecord(a.Encode())
	require.NoError(t, err)
	require.True(t, got.Balance.IsZero())
}

func TestAccountRecordDecodeRejectsWrongLength(t *testing.T) {
	_, err := DecodeAccountRecord([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestHeaderRecordRoundTrip(t *testing.T) {
	h := HeaderRecord{
		Number:     12345,
		Timestamp:  1690000000,
		BaseFee:    uint256.NewInt(30_000_000_000),
		Coinbase:   common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1"),
		PrevRandao: common.HexToHash("0xdeadbeef"),
		GasLimit:   30_000_000,
		ChainID:    1,
	}
	got, err := DecodeHeaderRecord(h.Encode())
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestBlockDeltaRoundTrip(t *testing.T) {
	d := NewBlockDelta()
	d.DeltaPlus = uint256.NewInt(500)
	d.DeltaMinus = uint256.NewInt(200)
	d.ReceivedValue = uint256.NewInt(500)
	d.SentValue = uint256.NewInt(190)
	d.FeePaid = uint256.NewInt(10)
	d.NonceDelta = 1
	d.TxCount = 2

	got, err := DecodeBlockDelta(d.Encode())
	require.NoError(t, err)
	require.Equal(t, d.DeltaPlus, got.DeltaPlus)
	require.Equal(t, d.DeltaMinus, got.DeltaMinus)
	require.Equal(t, d.ReceivedValue, got.ReceivedValue)
	require.Equal(t, d.SentValue, got.SentValue)
	require.Equal(t, d.FeePaid, got.FeePaid)
	require.Equal(t, d.NonceDelta, got.NonceDelta)
	require.Equal(t, d.TxCount, got.TxCount)
}

func TestBlockDeltaHasChanges(t *testing.T) {
	d := NewBlockDelta()
	require.False(t, d.HasChanges())

	d.NonceDelta = 1
	require.True(t, d.HasChanges())

	d2 := NewBlockDelta()
	d2.DeltaPlus = uint256.NewInt(1)
	require.True(t, d2.HasChanges())

	var nilDelta *BlockDelta
	require.False(t, nilDelta.HasChanges())
}

func TestWatchMetaRoundTrip(t *testing.T) {
	w := WatchMeta{StartBlock: 18_000_000}
	got, err := DecodeWatchMeta(w.Encode())
	require.NoError(t, err)
	require.Equal(t, w, got)
}

func TestErc20DeltaRoundTrip(t *testing.T) {
	d := NewErc20Delta()
	d.DeltaPlus = uint256.NewInt(1000)
	d.DeltaMinus = uint256.NewInt(0)
	d.TxCount = 1

	got, err := DecodeErc20Delta(d.Encode())
	require.NoError(t, err)
	require.Equal(t, d.DeltaPlus, got.DeltaPlus)
	require.Equal(t, d.DeltaMinus, got.DeltaMinus)
	require.Equal(t, d.TxCount, got.TxCount)
}

func TestErc20DeltaHasChanges(t *testing.T) {
	d := NewErc20Delta()
	require.False(t, d.HasChanges())
	d.DeltaMinus = uint256.NewInt(5)
	require.True(t, d.HasChanges())
}

func TestErc20WatchMetaRoundTrip(t *testing.T) {
	w := Erc20WatchMeta{StartBlock: 19_000_000}
	got, err := DecodeErc20WatchMeta(w.Encode())
	require.NoError(t, err)
	require.Equal(t, w, got)
}

func TestEncodeDecodeU256RoundTrip(t *testing.T) {
	v := uint256.NewInt(123456789)
	b := EncodeU256(v)
	got, err := DecodeU256(b[:])
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestDecodeU256RejectsWrongLength(t *testing.T) {
	_, err := DecodeU256([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}
