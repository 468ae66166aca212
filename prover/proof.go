package prover

import (
	"encoding/binary"

	"github.com/fossil-labs/proof-hub/util"
)

// flattenNodes turns the RLP trie nodes of an eth_getProof response into the
// word encoding the fact registry verifies against: every node split into
// 64-bit big-endian words, concatenated, together with the byte length of
// each node so the verifier can rebuild node boundaries.
func flattenNodes(nodes []string) (words []uint64, sizedBytes []int, err error) {
	words = make([]uint64, 0)
	sizedBytes = make([]int, 0, len(nodes))
	for _, node := range nodes {
		bz, err := util.DecodeHex(node)
		if err != nil {
			return nil, nil, err
		}
		sizedBytes = append(sizedBytes, len(bz))
		for i := 0; i < len(bz); i += 8 {
			end := i + 8
			if end > len(bz) {
				end = len(bz)
			}
			chunk := make([]byte, 8)
			copy(chunk[8-(end-i):], bz[i:end])
			words = append(words, binary.BigEndian.Uint64(chunk))
		}
	}
	return words, sizedBytes, nil
}
