package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fossil-labs/proof-hub/external/starknet"
	"github.com/fossil-labs/proof-hub/types"
)

func TestAppendWordSequence(t *testing.T) {
	calldata := appendWordSequence([]string{"0x64"}, []uint64{0x1122334455667788, 0xff}, []int{10})
	require.Equal(t, []string{
		"0x64",
		"0x1",  // number of nodes
		"0xa",  // byte length of the single node
		"0x2",  // number of words
		"0x1122334455667788",
		"0xff",
	}, calldata)
}

func TestAppendWordSequenceEmpty(t *testing.T) {
	calldata := appendWordSequence(nil, nil, nil)
	require.Equal(t, []string{"0x0", "0x0"}, calldata)
}

func TestClassifyRevert(t *testing.T) {
	require.Equal(t, types.ClassAlreadySatisfied, types.ClassOf(classifyRevert("Fact already registered")))
	require.Equal(t, types.ClassAlreadySatisfied, types.ClassOf(classifyRevert("storage slot already proven")))
	require.Equal(t, types.ClassInvariantViolation, types.ClassOf(classifyRevert("Account not proven for this block")))
	require.Equal(t, types.ClassRejected, types.ClassOf(classifyRevert("invalid proof encoding")))
}

func TestClassifyCallErr(t *testing.T) {
	rpcErr := &starknet.RPCError{Code: 40, Message: "Contract error"}
	require.Equal(t, types.ClassRejected, types.ClassOf(classifyCallErr(rpcErr)))
	require.Equal(t, types.ClassTransient, types.ClassOf(classifyCallErr(errors.New("connection refused"))))
}

func TestIsNotProvenRevert(t *testing.T) {
	require.True(t, isNotProvenRevert(&starknet.RPCError{Code: 40, Message: "Storage is not proven for this slot"}))
	require.True(t, isNotProvenRevert(&starknet.RPCError{Code: 40, Message: "no storage fact found"}))
	require.False(t, isNotProvenRevert(&starknet.RPCError{Code: 40, Message: "execution failed"}))
	require.False(t, isNotProvenRevert(errors.New("not proven")))
}
