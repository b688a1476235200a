package llm

import (
	"errors"
	"fmt"
)

// CallErrorKind classifies gateway call failures.
type CallErrorKind int

const (
	// Transient - a retryable infrastructure fault (timeout, rate limit,
	// 5xx). The gateway retries these internally.
	Transient CallErrorKind = iota
	// Exhausted - the retry budget was spent on transient failures.
	Exhausted
	// Invalid - a structural fault (bad credentials, malformed request).
	// Never retried.
	Invalid
)

func (k CallErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Exhausted:
		return "exhausted"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// CallError is the gateway-level error type. Exhausted and Invalid propagate
// to callers; Transient only escapes provider clients and is consumed by the
// gateway's retry loop.
type CallError struct {
	Kind     CallErrorKind
	Provider string
	Attempts int        // attempts spent (Exhausted)
	Usage    TokenUsage // partial usage observed on the failing attempt, if known
	Cause    error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("llm call %s", e.Kind)
	if e.Provider != "" {
		msg += " (" + e.Provider + ")"
	}
	if e.Kind == Exhausted {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == Transient
}

// IsExhausted reports whether err is a spent retry budget.
func IsExhausted(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == Exhausted
}
