package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrSchemaNotSupported is returned when the model rejects response schema
// enforcement. Callers fall back to prompt-level JSON instructions.
var ErrSchemaNotSupported = errors.New("response schema not supported by model")

// ErrMalformedResponse is returned when a completion cannot be parsed into
// the expected structure after extraction attempts.
var ErrMalformedResponse = errors.New("malformed model response")

// IsTransient reports whether an error is worth retrying (rate limits,
// timeouts, server-side failures). Malformed output counts: the model
// usually produces valid structure on a re-issue, so parse failures are
// retried exactly like call failures. Schema rejection is not transient;
// it has its own fallback path.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSchemaNotSupported) {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "server error") ||
		strings.Contains(msg, "request failed:") ||
		strings.Contains(msg, "timeout")
}
