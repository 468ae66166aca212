package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassOf(t *testing.T) {
	require.Equal(t, ClassRejected, ClassOf(Rejected(errors.New("refused"))))
	require.Equal(t, ClassNotFound, ClassOf(NotFound(errors.New("missing"))))
	require.Equal(t, ClassAlreadySatisfied, ClassOf(AlreadySatisfied(errors.New("done"))))
	require.Equal(t, ClassInvariantViolation, ClassOf(InvariantViolation(errors.New("bad order"))))
}

func TestClassOfDefaultsToTransient(t *testing.T) {
	require.Equal(t, ClassTransient, ClassOf(errors.New("connection reset")))
}

func TestClassOfWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("relay block: %w", NotFound(errors.New("unknown block")))
	require.Equal(t, ClassNotFound, ClassOf(wrapped))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := Transient(inner)
	require.ErrorIs(t, err, inner)
	require.Equal(t, "transient: boom", err.Error())
}
