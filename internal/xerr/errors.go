// Package xerr defines the error kinds surfaced by xurl.
package xerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the command layer can pick an exit status
// and callers can match with errors.Is.
type Kind string

const (
	KindInvalidURI             Kind = "InvalidUri"
	KindUnknownProvider        Kind = "UnknownProvider"
	KindConversationNotFound   Kind = "ConversationNotFound"
	KindEntryNotFound          Kind = "EntryNotFound"
	KindCorruptStore           Kind = "CorruptStore"
	KindInvalidWriteTarget     Kind = "InvalidWriteTarget"
	KindInvalidWorkdir         Kind = "InvalidWorkdir"
	KindExternalProcessFailure Kind = "ExternalProcessFailure"
	KindModeConflict           Kind = "ModeConflict"
	KindUnsupportedOperation   Kind = "UnsupportedOperation"
)

// Sentinels for errors.Is matching. Only the Kind is compared.
var (
	ErrInvalidURI             = &Error{Kind: KindInvalidURI}
	ErrUnknownProvider        = &Error{Kind: KindUnknownProvider}
	ErrConversationNotFound   = &Error{Kind: KindConversationNotFound}
	ErrEntryNotFound          = &Error{Kind: KindEntryNotFound}
	ErrCorruptStore           = &Error{Kind: KindCorruptStore}
	ErrInvalidWriteTarget     = &Error{Kind: KindInvalidWriteTarget}
	ErrInvalidWorkdir         = &Error{Kind: KindInvalidWorkdir}
	ErrExternalProcessFailure = &Error{Kind: KindExternalProcessFailure}
	ErrModeConflict           = &Error{Kind: KindModeConflict}
	ErrUnsupportedOperation   = &Error{Kind: KindUnsupportedOperation}
)

// Error is a classified failure. Err, when set, is the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// ExitCode is only meaningful for KindExternalProcessFailure.
	ExitCode int
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, prefixing it with a formatted message.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// InvalidURI reports a structurally malformed reference.
func InvalidURI(input string, reason string) *Error {
	if reason == "" {
		return New(KindInvalidURI, "invalid uri: %s", input)
	}
	return New(KindInvalidURI, "invalid uri: %s (%s)", input, reason)
}

// NotFound reports a conversation absent from every searched location.
func NotFound(provider, id string, searched ...string) *Error {
	e := New(KindConversationNotFound, "thread not found for provider=%s session_id=%s", provider, id)
	if len(searched) > 0 {
		e.Msg = fmt.Sprintf("%s (searched: %v)", e.Msg, searched)
	}
	return e
}

// ProcessFailure reports a provider CLI that could not run or exited non-zero.
func ProcessFailure(command string, code int, stderr string) *Error {
	e := New(KindExternalProcessFailure, "command failed: %s (exit code: %d)", command, code)
	if stderr != "" {
		e.Msg = fmt.Sprintf("%s: %s", e.Msg, stderr)
	}
	e.ExitCode = code
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == KindExternalProcessFailure && e.ExitCode > 0 {
		return e.ExitCode
	}
	return 1
}
