package agent

import (
	"context"
	"errors"

	"github.com/haasonsaas/maestro/internal/tools"
)

// abortedMessage is the diagnostic surfaced for a fired cancel signal.
const abortedMessage = "Request was aborted"

// errorFallbackContent marks a persisted ai message for a turn that
// produced no content before failing.
const errorFallbackContent = "(agent encountered an error)"

// IsCancellation reports whether err stems from a fired cancel signal.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsUserInterrupt reports whether err is the distinguished interrupt a
// tool raises to request human input.
func IsUserInterrupt(err error) bool {
	var interrupt *tools.UserInterruptError
	return errors.As(err, &interrupt)
}
