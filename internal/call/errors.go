package call

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAccessDenied = errors.New("media access denied")
	ErrRoomNotFound      = errors.New("room not found")
	ErrSignalingChannel  = errors.New("signaling channel error")
	ErrPeerConnection    = errors.New("peer connection failure")
	ErrWaitTimeout       = errors.New("timed out waiting for the other party")
	ErrBusy              = errors.New("a call is already in progress")
	ErrHungUp            = errors.New("call ended before setup finished")
	ErrNoCall            = errors.New("no active call")
	ErrWrongRole         = errors.New("operation not allowed for this role")
)

// Error ties a failure to the call step that hit it.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// classify wraps cause under one of the call error categories. Both stay
// reachable through errors.Is.
func classify(op string, kind, cause error) *Error {
	if cause == nil {
		return NewError(op, kind)
	}
	return NewError(op, fmt.Errorf("%w: %w", kind, cause))
}

// UserMessage turns a call error into the notification shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMediaAccessDenied):
		return "Camera or microphone access was denied. Allow access and try again."
	case errors.Is(err, ErrRoomNotFound):
		return "This consultation room does not exist or has already ended."
	case errors.Is(err, ErrSignalingChannel):
		return "Lost connection to the consultation service. The call has ended."
	case errors.Is(err, ErrPeerConnection):
		return "The video connection failed. The call has ended."
	case errors.Is(err, ErrWaitTimeout):
		return "Nobody joined the consultation in time. The call has ended."
	case errors.Is(err, ErrHungUp):
		return "The call ended before it was set up."
	case errors.Is(err, ErrBusy):
		return "A call is already in progress."
	default:
		return err.Error()
	}
}
