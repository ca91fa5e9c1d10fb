package transport

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors for the control surface.
type ErrorKind string

const (
	ErrDeviceBusy         ErrorKind = "device_busy"
	ErrDeviceMissing      ErrorKind = "device_missing"
	ErrStorageUnavailable ErrorKind = "storage_unavailable"
	ErrDiskFull           ErrorKind = "disk_full"
	ErrSpawnFailed        ErrorKind = "spawn_failed"
	ErrProcessCrashed     ErrorKind = "process_crashed"
	ErrAlreadyFinalized   ErrorKind = "already_finalized"
	ErrInvalidTransition  ErrorKind = "invalid_transition"
	ErrNotRunning         ErrorKind = "not_running"
)

// Error is an engine error carrying its kind. Guard failures leave
// state unchanged; only ProcessCrashed ever changes state on its own.
type Error struct {
	Kind ErrorKind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, err error, msg string) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

// KindOf extracts the ErrorKind from an engine error, or "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKind("internal")
}
