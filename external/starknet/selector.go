package starknet

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// SelectorFromName computes the sn_keccak entry point selector: the low 250
// bits of keccak256 over the function name.
func SelectorFromName(name string) string {
	h := crypto.Keccak256([]byte(name))
	v := new(uint256.Int).SetBytes(h)
	mask := new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 250), uint256.NewInt(1))
	return v.And(v, mask).Hex()
}
