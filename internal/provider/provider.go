package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/retroterm/c64bridge/memory"
)

// Result is one completed generation: the optional thinking commentary and
// the answer text.
type Result struct {
	Thinking string
	Answer   string
}

// Generator produces a response for the conversation so far. The last turn
// in turns is the new user message.
type Generator interface {
	Converse(ctx context.Context, turns []memory.Turn) (Result, error)
}

// RequestError is a generation-service failure. Retryable errors are
// consumed by the retry loop; any RequestError that escapes a Converse call
// is terminal for that exchange.
type RequestError struct {
	Provider  string
	Status    int // HTTP status, 0 for transport-level failures
	Message   string
	Retryable bool
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsRetryable reports whether err is a RequestError the retry policy may
// retry.
func IsRetryable(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Retryable
}

// DeviceTextCap is the longest thinking or error text forwarded to the
// device; longer text is cut to 197 characters plus a trailing ellipsis.
const DeviceTextCap = 200

// Truncate cuts s to at most max bytes, replacing the tail with "..." when
// cutting. Used for thinking text and error messages bound for the device.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
