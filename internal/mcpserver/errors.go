package mcpserver

import (
	"encoding/json"
	"errors"
	"strings"

	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// toolError is the on-the-wire shape for every failed tool call
// (spec.md §6/§7's closed, tool-visible error code set).
type toolError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	AfterMs    int    `json:"afterMs,omitempty"`
}

// mapError translates the engine's closed error-kind structs (pkg/errors)
// into spec.md §6's closed tool-visible code set. Two collapses happen
// here deliberately: every InterpreterErrorKind other than
// InterpreterMissingContext and InterpreterUnsatisfiableCondition, and
// every ValidationEngineErrorKind, name an engine invariant violation
// rather than a caller mistake, so they report as INTERNAL_ERROR rather
// than inventing new tool-visible codes the spec never names.
// InterpreterUnsatisfiableCondition is a caller-visible precondition (the
// workflow's own runCondition rejected every remaining step), not an
// engine bug, so it reports as PRECONDITION_FAILED with the offending
// variable in Field. SessionHealthError splits on its code: the two lock
// variants are what a caller experiences as a locked session
// (TOKEN_SESSION_LOCKED, carrying the retry hint spec.md §6 requires),
// the rest (corruption, I/O, invariant) are SESSION_NOT_HEALTHY.
func mapError(err error) toolError {
	var valErr *wrerrors.ValidationError
	if errors.As(err, &valErr) {
		return toolError{Code: "VALIDATION_ERROR", Message: valErr.Message, Field: valErr.Field, Suggestion: valErr.Suggestion}
	}

	var precErr *wrerrors.PreconditionError
	if errors.As(err, &precErr) {
		return toolError{Code: "PRECONDITION_FAILED", Message: precErr.Error()}
	}

	var notFoundErr *wrerrors.NotFoundError
	if errors.As(err, &notFoundErr) {
		return toolError{Code: "NOT_FOUND", Message: notFoundErr.Error()}
	}

	var tokErr *wrerrors.TokenError
	if errors.As(err, &tokErr) {
		return toolError{Code: string(tokErr.Code), Message: tokErr.Message}
	}

	var healthErr *wrerrors.SessionHealthError
	if errors.As(err, &healthErr) {
		switch healthErr.Code {
		case wrerrors.SessionLockBusy, wrerrors.SessionLockReentrant:
			return toolError{Code: "TOKEN_SESSION_LOCKED", Message: healthErr.Error(), Retryable: healthErr.Retryable, AfterMs: healthErr.AfterMs}
		default:
			return toolError{Code: "SESSION_NOT_HEALTHY", Message: healthErr.Error(), Retryable: healthErr.Retryable, AfterMs: healthErr.AfterMs}
		}
	}

	var interpErr *wrerrors.InterpreterError
	if errors.As(err, &interpErr) {
		switch interpErr.Kind {
		case wrerrors.InterpreterMissingContext:
			return toolError{Code: "MISSING_CONTEXT", Message: interpErr.Error()}
		case wrerrors.InterpreterUnsatisfiableCondition:
			return toolError{Code: "PRECONDITION_FAILED", Message: interpErr.Error(), Field: interpErr.Variable}
		}
		return toolError{Code: "INTERNAL_ERROR", Message: sanitize(interpErr.Error())}
	}

	var valEngErr *wrerrors.ValidationEngineError
	if errors.As(err, &valEngErr) {
		return toolError{Code: "INTERNAL_ERROR", Message: sanitize(valEngErr.Error())}
	}

	var intErr *wrerrors.InternalError
	if errors.As(err, &intErr) {
		return toolError{Code: "INTERNAL_ERROR", Message: sanitize(intErr.Message)}
	}

	return toolError{Code: "INTERNAL_ERROR", Message: sanitize(err.Error())}
}

// sanitize strips anything resembling a home directory path, per
// spec.md's "sanitized to strip home directory paths" requirement on
// INTERNAL_ERROR messages.
func sanitize(msg string) string {
	home := homeDir()
	if home == "" {
		return msg
	}
	return strings.ReplaceAll(msg, home, "~")
}

func (e toolError) json() string {
	data, err := json.Marshal(map[string]toolError{"error": e})
	if err != nil {
		return `{"error":{"code":"INTERNAL_ERROR","message":"failed to encode error"}}`
	}
	return string(data)
}
