package llm

import (
	"fmt"
	"strings"
)

// TransportError wraps a provider transport failure with enough context to
// decide whether a retry is worthwhile.
type TransportError struct {
	Provider  string
	Model     string
	Err       error
	Retryable bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: model %s: %v", e.Provider, e.Model, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// wrapTransport classifies err and wraps it as a TransportError. Context
// cancellation is passed through unchanged so callers can distinguish it.
func wrapTransport(provider, model string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{
		Provider:  provider,
		Model:     model,
		Err:       err,
		Retryable: isRetryable(err),
	}
}

// isRetryable reports whether an error looks transient: rate limits, server
// errors, and timeouts. Authentication and validation failures are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"rate limit", "429",
		"500", "502", "503", "504",
		"timeout", "deadline exceeded",
		"overloaded", "connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
