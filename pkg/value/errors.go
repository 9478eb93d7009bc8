package value

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownToken is returned when no stage of the resolution chain
	// recognizes a token, including malformed memory references.
	ErrUnknownToken = errors.New("unknown token")
	// ErrMemoryRead is returned when a memory reference can not be read.
	ErrMemoryRead = errors.New("failed to read memory")
	// ErrMemoryWrite is returned when a memory reference can not be written.
	ErrMemoryWrite = errors.New("failed to write memory")
	// ErrRegisterWrite is returned when the thread rejects a register write.
	ErrRegisterWrite = errors.New("failed to write register")
	// ErrNotDebugging is returned by writes attempted without an active
	// debug session. Reads succeed with a zero value instead.
	ErrNotDebugging = errors.New("not debugging")
	// ErrReadOnlyVariable is returned when assigning a read only variable.
	ErrReadOnlyVariable = errors.New("variable is read only")
)

// TokenError wraps the failure to resolve or assign Token.
type TokenError struct {
	Token string
	Err   error
}

func (err *TokenError) Error() string {
	return fmt.Sprintf("%s: %v", err.Token, err.Err)
}

func (err *TokenError) Unwrap() error {
	return err.Err
}

func tokenError(token string, err error) error {
	return &TokenError{Token: token, Err: err}
}
