package types

import (
	"errors"
	"fmt"
)

// ErrClass classifies collaborator failures so the orchestrator can decide
// between retrying, short-circuiting and terminating.
type ErrClass int

const (
	// ClassTransient covers network errors and timeouts, eligible for retry.
	ClassTransient ErrClass = iota
	// ClassRejected means the chain explicitly refused the operation.
	ClassRejected
	// ClassAlreadySatisfied means the chain reports the work as already done.
	// It is a success response, never an error.
	ClassAlreadySatisfied
	// ClassNotFound is a definitive negative answer from the chain.
	ClassNotFound
	// ClassInvariantViolation marks a defect, e.g. a storage proof submitted
	// before the account is registered. Never retried, surfaced loudly.
	ClassInvariantViolation
)

func (c ErrClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRejected:
		return "rejected"
	case ClassAlreadySatisfied:
		return "already_satisfied"
	case ClassNotFound:
		return "not_found"
	case ClassInvariantViolation:
		return "invariant_violation"
	}
	return "unknown"
}

type ClassifiedError struct {
	Class ErrClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class.String(), e.Err.Error())
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func Transient(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassTransient, Err: err}
}

func Rejected(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassRejected, Err: err}
}

func AlreadySatisfied(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassAlreadySatisfied, Err: err}
}

func NotFound(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassNotFound, Err: err}
}

func InvariantViolation(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassInvariantViolation, Err: err}
}

// ClassOf extracts the classification of err. Unclassified errors default to
// transient, retrying is the safe side for plain transport failures.
func ClassOf(err error) ErrClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassTransient
}
