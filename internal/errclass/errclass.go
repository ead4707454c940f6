// Package errclass maps raw errors into the structured taxonomy from
// spec §7: {kind, severity, retriable, details}. Classification prefers
// errors.As over typed wrappers (StepError-style, adapted from the
// teacher's internal/pipeline/errors.go) and falls back to substring
// sniffing only for host-supplied freeform errors, mirroring the
// teacher's FailureClassifier fallback in internal/contract.
package errclass

import (
	"errors"
	"strings"
)

// Kind enumerates the taxonomy from spec §7.
type Kind string

const (
	KindNetwork     Kind = "NetworkError"
	KindTimeout     Kind = "TimeoutError"
	KindHTTPStatus  Kind = "HttpStatusError"
	KindSchema      Kind = "SchemaError"
	KindLogic       Kind = "LogicError"
	KindConfig      Kind = "ConfigError"
	KindValidation  Kind = "ValidationError"
	KindBusiness    Kind = "BusinessError"
	KindCancelled   Kind = "Cancelled"
	KindQueueDrop   Kind = "QueueOverflow"
	KindUnknown     Kind = "Unknown"
)

// Severity is the error propagation policy from spec §7/§4.K.
type Severity string

const (
	Warn  Severity = "warn"
	Block Severity = "block"
	Fatal Severity = "fatal"
)

// Classified is the structured result of classifying a raw error.
type Classified struct {
	Kind      Kind
	Severity  Severity
	Retriable bool
	Details   []string
	Err       error
}

func (c *Classified) Error() string {
	if c.Err != nil {
		return string(c.Kind) + ": " + c.Err.Error()
	}
	return string(c.Kind)
}

func (c *Classified) Unwrap() error { return c.Err }

// Typed error structs for each taxonomy kind, so callers can use
// errors.As to recover structured detail instead of string-matching.

type NetworkError struct{ Err error }

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

type TimeoutError struct{ Err error }

func (e *TimeoutError) Error() string { return "timeout: " + e.Err.Error() }
func (e *TimeoutError) Unwrap() error { return e.Err }

type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return "unexpected HTTP status " + itoa(e.Status)
}

type SchemaError struct {
	Name    string
	Details []string
}

func (e *SchemaError) Error() string { return "schema validation failed: " + e.Name }

type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return "validation error: " + e.Msg }

type BusinessError struct {
	Code string
	Msg  string
}

func (e *BusinessError) Error() string { return "business error: " + e.Msg }

type CancelledError struct{}

func (e *CancelledError) Error() string { return "cancelled" }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Policy is the table-driven default severity per kind; callers may
// override per action.
type Policy map[Kind]Severity

// DefaultPolicy mirrors spec §7's propagation guidance: network/HTTP
// failures default to warn unless the caller opts into stricter
// handling, business/schema/logic/validation failures default to block,
// config failures default to fatal, and
// cancellation is always its own lane (never retried, never escalated).
func DefaultPolicy() Policy {
	return Policy{
		KindNetwork:    Warn,
		KindTimeout:    Warn,
		KindHTTPStatus: Warn,
		KindSchema:     Block,
		KindLogic:      Block,
		KindConfig:     Fatal,
		KindValidation: Block,
		KindBusiness:   Block,
		KindCancelled:  Warn,
		KindQueueDrop:  Warn,
		KindUnknown:    Warn,
	}
}

// SeverityFor resolves the severity for kind, falling back to warn for
// an unregistered kind.
func (p Policy) SeverityFor(kind Kind) Severity {
	if s, ok := p[kind]; ok {
		return s
	}
	return Warn
}

// Classify maps a raw error to its taxonomy Kind using errors.As against
// the typed wrappers above, then table-driven severity from policy. A
// nil policy uses DefaultPolicy.
func Classify(err error, policy Policy) *Classified {
	if err == nil {
		return nil
	}
	if policy == nil {
		policy = DefaultPolicy()
	}

	kind, retriable, details := classifyKind(err)
	return &Classified{
		Kind:      kind,
		Severity:  policy.SeverityFor(kind),
		Retriable: retriable,
		Details:   details,
		Err:       err,
	}
}

func classifyKind(err error) (Kind, bool, []string) {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return KindNetwork, true, nil
	}
	var toErr *TimeoutError
	if errors.As(err, &toErr) {
		return KindTimeout, true, nil
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		retriable := httpErr.Status >= 500 || httpErr.Status == 408 || httpErr.Status == 429
		return KindHTTPStatus, retriable, []string{"status=" + itoa(httpErr.Status)}
	}
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return KindSchema, false, schemaErr.Details
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return KindConfig, false, nil
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return KindValidation, false, nil
	}
	var bizErr *BusinessError
	if errors.As(err, &bizErr) {
		return KindBusiness, false, nil
	}
	var cancelErr *CancelledError
	if errors.As(err, &cancelErr) {
		return KindCancelled, false, nil
	}

	// Fallback: substring sniffing for host-supplied freeform errors
	// that don't implement any of the typed wrappers above.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout, true, nil
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "network"):
		return KindNetwork, true, nil
	case strings.Contains(msg, "cancel"):
		return KindCancelled, false, nil
	default:
		return KindUnknown, false, nil
	}
}
