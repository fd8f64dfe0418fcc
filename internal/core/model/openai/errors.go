package openai

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks requests rejected before any network call
	ErrInvalidRequest = errors.New("invalid completion request")
	// ErrEmptyReply marks a response without usable text
	ErrEmptyReply = errors.New("completion returned no reply")
)

// CompletionFailure is returned for every failed completion
type CompletionFailure struct {
	Attempts   int
	StatusCode int
	Err        error
}

func (e *CompletionFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion failed after %d attempt(s) (status %d): %v", e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *CompletionFailure) Unwrap() error {
	return e.Err
}
