package billing

import (
	"context"
	"errors"
	"fmt"
)

// Operation names, used for metrics, spans and StaticGate fault injection.
const (
	OpCheck       = "check"
	OpCheckStream = "check_stream"
	OpStartStream = "start_stream"
	OpStopStream  = "stop_stream"
)

var (
	// ErrUnavailable wraps every error that left Resilient after retries.
	ErrUnavailable = errors.New("billing: provider unavailable")
	// ErrMalformed reports a provider response that could not be understood.
	ErrMalformed = errors.New("billing: malformed provider response")
	// ErrConfig reports an invalid billing configuration.
	ErrConfig = errors.New("billing: invalid config")
)

// Gate is the billing decision provider.
type Gate interface {
	// Check decides whether principalID may start a session.
	Check(ctx context.Context, principalID string) (Verdict, error)
	// CheckStream decides whether the stream of sessionID is still paid for.
	CheckStream(ctx context.Context, sessionID string) (Verdict, error)
	StartStream(ctx context.Context, sessionID, principalID string) error
	StopStream(ctx context.Context, sessionID string) error
}

// StatusError is a non-success HTTP status from the provider.
type StatusError struct {
	Op   string
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("billing: %s: unexpected status %d", e.Op, e.Code)
}

// Retryable reports whether the status is worth another attempt.
func (e StatusError) Retryable() bool { return IsRetryableHTTPStatus(e.Code) }

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Retryable classifies a gate error. Transport failures and attempt timeouts
// are transient; malformed responses, 4xx statuses and caller cancellation are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMalformed) {
		return false
	}
	var se StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
