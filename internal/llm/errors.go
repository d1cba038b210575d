package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/resilience"
)

// Kind separates timeouts from other upstream failures.
type Kind string

const (
	KindTimeout  Kind = "timeout"
	KindUpstream Kind = "upstream"
)

// CallError is returned once the adapter has given up on a call.
type CallError struct {
	Kind       Kind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm: %s (status %d) after %d attempt(s): %v", e.Kind, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("llm: %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a CallError of kind timeout.
func IsTimeout(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == KindTimeout
}

// attemptTimeout is produced when either the attempt context or the hard
// backstop fires.
type attemptTimeout struct {
	after    time.Duration
	backstop bool
}

func (e *attemptTimeout) Error() string {
	if e.backstop {
		return fmt.Sprintf("llm: hard timeout after %s", e.after)
	}
	return fmt.Sprintf("llm: attempt timed out after %s", e.after)
}

func (e *attemptTimeout) Unwrap() error { return context.DeadlineExceeded }
func (e *attemptTimeout) Timeout() bool { return true }

type httpStatuser interface {
	HTTPStatus() int
}

func newCallError(err error, attempts int) *CallError {
	ce := &CallError{Kind: KindUpstream, Attempts: attempts, Err: err}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		ce.Kind = KindTimeout
	}

	ce.StatusCode = resilience.StatusCode(err)
	if ce.StatusCode == 0 {
		var hs httpStatuser
		if errors.As(err, &hs) {
			ce.StatusCode = hs.HTTPStatus()
		}
	}
	return ce
}
