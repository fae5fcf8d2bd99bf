// Package csaerr defines the error taxonomy shared across the pipeline.
// Components return structured errors (kind + message + cause chain)
// rather than ad-hoc strings, so callers can switch on kind instead of
// grepping error text.
package csaerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error without pinning down its exact message. Callers
// (the orchestrator, the batch/plan retry classifier) switch on Kind.
type Kind string

const (
	ToolNotInstalled              Kind = "tool_not_installed"
	RateLimited                   Kind = "rate_limited"
	SlotExhausted                 Kind = "slot_exhausted"
	SessionNotFound               Kind = "session_not_found"
	InvalidSessionID              Kind = "invalid_session_id"
	Ambiguous                     Kind = "ambiguous"
	OomRisk                       Kind = "oom_risk"
	SandboxRequiredButUnavailable Kind = "sandbox_required_but_unavailable"
	Timeout                       Kind = "timeout"
	ConfigError                   Kind = "config_error"
	IoError                       Kind = "io_error"
	ParseError                    Kind = "parse_error"
)

// TimeoutKind further classifies a Timeout error.
type TimeoutKind string

const (
	TimeoutIdle       TimeoutKind = "idle"
	TimeoutSlotWait   TimeoutKind = "slot_wait"
	TimeoutInit       TimeoutKind = "init"
	TimeoutStdinWrite TimeoutKind = "stdin_write"
)

// Error is the structured error type every component returns for
// taxonomy-significant failures. It wraps an optional cause and carries a
// user-facing hint near the top of the call stack.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against a bare *Error{Kind: k}.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NewToolNotInstalled(tool string) *Error {
	return &Error{
		Kind: ToolNotInstalled,
		Message: fmt.Sprintf("tool %q not found on PATH", tool),
		Hint: fmt.Sprintf("install %s and ensure it is on PATH", tool),
	}
}

func NewRateLimited(tool, message string) *Error {
	return &Error{
		Kind: RateLimited,
		Message: fmt.Sprintf("%s: %s", tool, message),
		Hint: "wait and retry, or switch to an alternative tool",
	}
}

func NewSlotExhausted(tool string, max int, alternatives []string) *Error {
	hint := "wait for a slot to free up"
	if len(alternatives) > 0 {
		hint = fmt.Sprintf("wait for a slot, or try: %v", alternatives)
	}
	return &Error{
		Kind: SlotExhausted,
		Message: fmt.Sprintf("all %d slots for %q are in use", max, tool),
		Hint: hint,
	}
}

func NewSessionNotFound(prefix string) *Error {
	return &Error{Kind: SessionNotFound, Message: fmt.Sprintf("no session matches prefix %q", prefix)}
}

func NewInvalidSessionID(id string) *Error {
	return &Error{Kind: InvalidSessionID, Message: fmt.Sprintf("invalid session id %q", id)}
}

func NewAmbiguous(prefix string, matches []string) *Error {
	return &Error{
		Kind: Ambiguous,
		Message: fmt.Sprintf("prefix %q matches %d sessions: %v", prefix, len(matches), matches),
	}
}

func NewOomRisk(availableMB, bufferMB, estimateMB int) *Error {
	return &Error{
		Kind: OomRisk,
		Message: fmt.Sprintf("available=%dMB buffer=%dMB estimate=%dMB",
			availableMB, bufferMB, estimateMB),
		Hint: "free memory or raise min_free_memory_mb",
	}
}

func NewSandboxRequiredButUnavailable(reason string) *Error {
	return &Error{Kind: SandboxRequiredButUnavailable, Message: reason}
}

func NewTimeout(kind TimeoutKind, message string) *Error {
	return &Error{Kind: Timeout, Message: fmt.Sprintf("%s: %s", kind, message)}
}

func NewConfigError(message string) *Error { return &Error{Kind: ConfigError, Message: message} }
func NewIoError(message string, cause error) *Error {
	return &Error{Kind: IoError, Message: message, Cause: cause}
}
func NewParseError(message string, cause error) *Error {
	return &Error{Kind: ParseError, Message: message, Cause: cause}
}
