package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

func GetStorageKey(blockNumber uint64, account common.Address, slot common.Hash) string {
	return fmt.Sprintf("storage_b%d_a%s_s%s", blockNumber, account.Hex(), slot.Hex())
}

func GetAccountKey(blockNumber uint64, account common.Address) string {
	return fmt.Sprintf("account_b%d_a%s", blockNumber, account.Hex())
}

func GetRelayKey(blockNumber uint64) string {
	return fmt.Sprintf("relay_b%d", blockNumber)
}
