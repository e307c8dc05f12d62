package token

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is wrapped by every parse failure.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrInconsistentRegions is wrapped by ConsistencyError.
	ErrInconsistentRegions = errors.New("session tokens track inconsistent regions")
)

// ParseError describes why a wire string is not a session token.
type ParseError struct {
	Input  string
	Offset int // byte offset of the offending segment
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v %q at offset %d: %s", ErrInvalidToken, e.Input, e.Offset, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrInvalidToken
}

// ConsistencyError reports two tokens of the same topology version that
// disagree on the set of tracked regions. It indicates corrupted state
// upstream and must not be retried by the caller.
type ConsistencyError struct {
	Required  string
	Candidate string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("compared session tokens %q and %q have unexpected regions", e.Required, e.Candidate)
}

func (e *ConsistencyError) Unwrap() error {
	return ErrInconsistentRegions
}

func inconsistent(a, b *Token) error {
	return &ConsistencyError{Required: a.text, Candidate: b.text}
}

func errNil(op string) error {
	return fmt.Errorf("%s: %w: nil token", op, ErrInvalidToken)
}
