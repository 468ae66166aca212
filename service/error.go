package service

import (
	"fmt"
)

// Verify Interface Compliance
var _ error = (*Err)(nil)

// Err defines service errors.
type Err struct {
	Code    int64  `json:"code"`
	Message string `json:"error"`
}

var (
	ErrInvalidAccountAddress = Err{Code: 400, Message: "invalid account address"}
	ErrInvalidStorageKey     = Err{Code: 400, Message: "invalid storage key"}
	ErrJobNotFound           = Err{Code: 404, Message: "job not found"}
	ErrInternal              = Err{Code: 500, Message: "internal error"}
)

func (e Err) Enrich(message string) Err {
	return Err{
		Code:    e.Code,
		Message: fmt.Sprintf("%s: %s", e.Message, message),
	}
}

func (e Err) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}
