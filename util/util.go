package util

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// StringToUint64 converts string to uint64
func StringToUint64(str string) (uint64, error) {
	ui64, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, err
	}
	return ui64, nil
}

// Uint64ToString coverts uint64 to string
func Uint64ToString(u uint64) string {
	return strconv.FormatUint(u, 10)
}

// HexToUint64 converts hex string to uint64
func HexToUint64(hexStr string) (uint64, error) {
	intValue, err := strconv.ParseUint(hexStr, 0, 64)
	if err != nil {
		return 0, err
	}
	return intValue, nil
}

// Uint64ToHex converts uint64 to a 0x prefixed hex string
func Uint64ToHex(u uint64) string {
	return "0x" + strconv.FormatUint(u, 16)
}

// SplitHighLow splits a 256-bit hash into its 128-bit halves. Starknet felts
// cannot hold a full 256-bit word, contracts take (low, high) pairs.
func SplitHighLow(h common.Hash) (low, high *uint256.Int) {
	v := new(uint256.Int).SetBytes(h.Bytes())
	mask := new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	low = new(uint256.Int).And(v, mask)
	high = new(uint256.Int).Rsh(v, 128)
	return low, high
}

// TrimHexPrefix strips a leading 0x if present.
func TrimHexPrefix(s string) string {
	return strings.TrimPrefix(s, "0x")
}

// DecodeHex decodes a hex string with or without the 0x prefix. Odd-length
// strings are accepted, Starknet felts come back without left padding.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// CombineHighLow reassembles a 256-bit value from its 128-bit felt halves.
func CombineHighLow(low, high string) (common.Hash, error) {
	lbz, err := DecodeHex(low)
	if err != nil {
		return common.Hash{}, err
	}
	hbz, err := DecodeHex(high)
	if err != nil {
		return common.Hash{}, err
	}
	h := new(uint256.Int).SetBytes(hbz)
	l := new(uint256.Int).SetBytes(lbz)
	v := h.Lsh(h, 128)
	v = v.Or(v, l)
	return common.Hash(v.Bytes32()), nil
}
