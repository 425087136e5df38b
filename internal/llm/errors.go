package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means the active settings are missing a credential or
	// model name; it is raised before any network call.
	ErrNotConfigured = errors.New("provider is not configured")

	// ErrInvalidCredential is an activation failure for the cloud provider.
	ErrInvalidCredential = errors.New("invalid or missing provider credential")

	// ErrModelNotFound is an activation failure for the local provider.
	ErrModelNotFound = errors.New("model not found on local provider")

	// ErrMalformedHistory means the history handed to the cloud adapter does
	// not end in a user turn. Request-fatal, never degraded.
	ErrMalformedHistory = errors.New("history must end with a user turn")

	// ErrEmptyHistory means no convertible turns were handed to the local
	// adapter. Request-fatal, never degraded.
	ErrEmptyHistory = errors.New("history contains no messages")
)

// providerCallError wraps transport and API failures. The dispatch engine
// degrades these to a canonical text-only result instead of failing the
// request.
type providerCallError struct {
	provider string
	err      error
}

func (e providerCallError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.provider, e.err)
}

func (e providerCallError) Unwrap() error {
	return e.err
}

func callFailed(provider string, err error) error {
	return providerCallError{provider: provider, err: err}
}
