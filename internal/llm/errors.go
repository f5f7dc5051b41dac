package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// GatewayError is the typed failure surface of all LLM clients. The
// agent loop catches it at the turn boundary and converts it into an
// error-typed response; it is never allowed to crash a turn. Clients
// do not retry internally — retry policy belongs to the caller.
type GatewayError struct {
	// Provider names the backend that failed ("ollama", "anthropic").
	Provider string
	// Op describes the operation ("chat", "ping").
	Op string
	// Timeout is true when the failure was a deadline or network timeout.
	Timeout bool
	// Err is the underlying cause.
	Err error
}

func (e *GatewayError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: timeout: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// gatewayErr wraps err as a *GatewayError, classifying timeouts from
// context deadlines and net.Error.
func gatewayErr(provider, op string, err error) *GatewayError {
	ge := &GatewayError{Provider: provider, Op: op, Err: err}

	if errors.Is(err, context.DeadlineExceeded) {
		ge.Timeout = true
		return ge
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		ge.Timeout = true
	}
	return ge
}

// IsGatewayError reports whether err is (or wraps) a *GatewayError and
// returns it if so.
func IsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
