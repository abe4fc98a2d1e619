package calltrace

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethindex/ethindex/internal/chain"
)

func addr(hex string) *common.Address {
	a := common.HexToAddress(hex)
	return &a
}

func allContracts(common.Address) bool { return true }
func allEOAs(common.Address) bool      { return false }

func TestTopLevelEOAToEOAYieldsNothing(t *testing.T) {
	watched := map[common.Address]bool{*addr("0x02"): true}
	root := chain.CallFrame{
		Type:  "CALL",
		From:  addr("0x01"),
		To:    addr("0x02"),
		Value: uint256.NewInt(500),
	}
	got := CollectInternalTransfers(root, true, watched, allEOAs)
	require.Empty(t, got)
}

func TestNestedContractToWatchedYieldsOne(t *testing.T) {
	watchedAddr := addr("0x03")
	watched := map[common.Address]bool{*watchedAddr: true}
	root := chain.CallFrame{
		Type: "CALL",
		From: addr("0x01"),
		To:   addr("0x02"),
		Calls: []chain.CallFrame{
			{
				Type:  "CALL",
				From:  addr("0x02"),
				To:    watchedAddr,
				Value: uint256.NewInt(1000),
			},
		},
	}
	got := CollectInternalTransfers(root, true, watched, allContracts)
	require.Len(t, got, 1)
	require.Equal(t, *addr("0x02"), got[0].From)
	require.Equal(t, *watchedAddr, got[0].To)
	require.Equal(t, uint256.NewInt(1000), got[0].Value)
}

func TestDelegateCallNeverTransfersValue(t *testing.T) {
	watched := map[common.Address]bool{*addr("0x02"): true}
	root := chain.CallFrame{
		Type:  "DELEGATECALL",
		From:  addr("0x01"),
		To:    addr("0x02"),
		Value: uint256.NewInt(9999),
	}
	got := CollectInternalTransfers(root, true, watched, allContracts)
	require.Empty(t, got)
}

func TestStaticCallNeverTransfersValue(t *testing.T) {
	watched := map[common.Address]bool{*addr("0x02"): true}
	root := chain.CallFrame{
		Type:  "STATICCALL",
		From:  addr("0x01"),
		To:    addr("0x02"),
		Value: uint256.NewInt(9999),
	}
	got := CollectInternalTransfers(root, true, watched, allContracts)
	require.Empty(t, got)
}

func TestSelfdestructToWatchedCounts(t *testing.T) {
	watchedAddr := addr("0x02")
	watched := map[common.Address]bool{*watchedAddr: true}
	root := chain.CallFrame{
		Type:  "SELFDESTRUCT",
		From:  addr("0x01"),
		To:    watchedAddr,
		Value: uint256.NewInt(42),
	}
	got := CollectInternalTransfers(root, true, watched, allContracts)
	require.Len(t, got, 1)
}

func TestRevertedTransactionYieldsNothingRegardlessOfTree(t *testing.T) {
	watchedAddr := addr("0x02")
	watched := map[common.Address]bool{*watchedAddr: true}
	root := chain.CallFrame{
		Type:  "CALL",
		From:  addr("0x01"),
		To:    watchedAddr,
		Value: uint256.NewInt(42),
	}
	got := CollectInternalTransfers(root, false, watched, allContracts)
	require.Empty(t, got)
}

func TestZeroValueCallsAreIgnored(t *testing.T) {
	watchedAddr := addr("0x02")
	watched := map[common.Address]bool{*watchedAddr: true}
	root := chain.CallFrame{
		Type:  "CALL",
		From:  addr("0x01"),
		To:    watchedAddr,
		Value: uint256.NewInt(0),
	}
	got := CollectInternalTransfers(root, true, watched, allContracts)
	require.Empty(t, got)
}

func TestUnwatchedRecipientIsIgnored(t *testing.T) {
	watched := map[common.Address]bool{*addr("0x99"): true}
	root := chain.CallFrame{
		Type:  "CALL",
		From:  addr("0x01"),
		To:    addr("0x02"),
		Value: uint256.NewInt(42),
	}
	got := CollectInternalTransfers(root, true, watched, allContracts)
	require.Empty(t, got)
}

func TestCollectSendersDeduplicatesAcrossTree(t *testing.T) {
	root := chain.CallFrame{
		Type: "CALL",
		From: addr("0x01"),
		To:   addr("0x02"),
		Calls: []chain.CallFrame{
			{Type: "CALL", From: addr("0x02"), To: addr("0x03")},
			{Type: "CALL", From: addr("0x02"), To: addr("0x04")},
		},
	}
	got := CollectSenders(root)
	require.ElementsMatch(t, []common.Address{*addr("0x01"), *addr("0x02")}, got)
}
