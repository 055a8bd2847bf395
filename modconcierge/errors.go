package modconcierge

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed command, and decides what the invoking
// user is told about it.
type ErrorKind string

const (
	// KindPermissionDenied means the caller lacks the required
	// permission, role position or ownership
	KindPermissionDenied ErrorKind = "permission_denied"

	// KindPreconditionFailed covers disabled features, duplicate
	// whisper threads and commands run in the wrong place
	KindPreconditionFailed ErrorKind = "precondition_failed"

	// KindUpstreamFailure means a discord API or database call failed
	KindUpstreamFailure ErrorKind = "upstream_failure"

	// KindNotConfigured means a required channel couldn't be found
	// or created
	KindNotConfigured ErrorKind = "not_configured"
)

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUpstreamFailure    = errors.New("upstream failure")
	ErrNotConfigured      = errors.New("not configured")
)

var errorKindSentinels = map[ErrorKind]error{
	KindPermissionDenied:   ErrPermissionDenied,
	KindPreconditionFailed: ErrPreconditionFailed,
	KindUpstreamFailure:    ErrUpstreamFailure,
	KindNotConfigured:      ErrNotConfigured,
}

// CommandError is returned by command handlers. Message is shown to the
// user as-is. Err is the underlying cause, which is logged but never
// shown.
type CommandError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel error for e's Kind, so
// errors.Is(err, ErrPermissionDenied) works for wrapped command errors
func (e *CommandError) Is(target error) bool {
	sentinel, ok := errorKindSentinels[e.Kind]
	return ok && sentinel == target
}

func permissionDenied(msg string) *CommandError {
	return &CommandError{Kind: KindPermissionDenied, Message: msg}
}

func preconditionFailed(msg string) *CommandError {
	return &CommandError{Kind: KindPreconditionFailed, Message: msg}
}

func upstreamFailure(msg string, err error) *CommandError {
	return &CommandError{Kind: KindUpstreamFailure, Message: msg, Err: err}
}

func notConfigured(msg string, err error) *CommandError {
	return &CommandError{Kind: KindNotConfigured, Message: msg, Err: err}
}

// UserMessage returns the message to show the invoking user for err.
// Errors that aren't a [CommandError] are replaced with fallback, so
// internal details never reach the user.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Message != "" {
		return cmdErr.Message
	}
	if fallback == "" {
		return DefaultDiscordErrorMessage
	}
	return fallback
}
