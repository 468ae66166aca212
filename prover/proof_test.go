package prover

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlattenNodesSingleNode(t *testing.T) {
	words, sizedBytes, err := flattenNodes([]string{"0x0102030405060708090a"})
	require.NoError(t, err)
	require.Equal(t, []int{10}, sizedBytes)
	// the trailing partial chunk is right-aligned into a full word
	require.Equal(t, []uint64{0x0102030405060708, 0x000000000000090a}, words)
}

func TestFlattenNodesMultipleNodes(t *testing.T) {
	words, sizedBytes, err := flattenNodes([]string{
		"0x1122334455667788",
		"0xff",
	})
	require.NoError(t, err)
	require.Equal(t, []int{8, 1}, sizedBytes)
	require.Equal(t, []uint64{0x1122334455667788, 0x00000000000000ff}, words)
}

func TestFlattenNodesOddLengthHex(t *testing.T) {
	// unpadded hex, decodes as 0x01ab
	words, sizedBytes, err := flattenNodes([]string{"0x1ab"})
	require.NoError(t, err)
	require.Equal(t, []int{2}, sizedBytes)
	require.Equal(t, []uint64{0x01ab}, words)
}

func TestFlattenNodesEmpty(t *testing.T) {
	words, sizedBytes, err := flattenNodes(nil)
	require.NoError(t, err)
	require.Empty(t, words)
	require.Empty(t, sizedBytes)
}

func TestFlattenNodesInvalidHex(t *testing.T) {
	_, _, err := flattenNodes([]string{"0xzz"})
	require.Error(t, err)
}
