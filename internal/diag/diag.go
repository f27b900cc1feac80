// Package diag holds the closed set of fatal host conditions and renders
// them as localized, operator-facing diagnoses.
package diag

import (
	"fmt"
)

// Kind identifies one fatal condition. The set is closed; Describe switches
// on it exhaustively.
type Kind int

const (
	KindNoGpuDevice Kind = iota + 1
	KindNoDisplaySession
	KindNvidiaToolkitMissing
	KindRuntimeUnreachable
	KindInvalidIdentity
)

func (k Kind) String() string {
	switch k {
	case KindNoGpuDevice:
		return "NoGpuDevice"
	case KindNoDisplaySession:
		return "NoDisplaySession"
	case KindNvidiaToolkitMissing:
		return "NvidiaToolkitMissing"
	case KindRuntimeUnreachable:
		return "RuntimeUnreachable"
	case KindInvalidIdentity:
		return "InvalidIdentity"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a fatal condition with its diagnostic context.
type Error struct {
	Kind Kind
	// Path is the device node, socket or directory involved, if any.
	Path string
	// Detail is free-form context (the probed binaries, the bad id).
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of the context carried.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNoGpuDevice          = &Error{Kind: KindNoGpuDevice}
	ErrNoDisplaySession     = &Error{Kind: KindNoDisplaySession}
	ErrNvidiaToolkitMissing = &Error{Kind: KindNvidiaToolkitMissing}
	ErrRuntimeUnreachable   = &Error{Kind: KindRuntimeUnreachable}
	ErrInvalidIdentity      = &Error{Kind: KindInvalidIdentity}
)

func NoGpuDevice(path string) *Error {
	return &Error{Kind: KindNoGpuDevice, Path: path}
}

func NoDisplaySession() *Error {
	return &Error{Kind: KindNoDisplaySession, Detail: "neither WAYLAND_DISPLAY nor DISPLAY is set"}
}

func NvidiaToolkitMissing(device string, probed []string) *Error {
	return &Error{Kind: KindNvidiaToolkitMissing, Path: device, Detail: fmt.Sprintf("none of %v on PATH", probed)}
}

func RuntimeUnreachable(socket string, err error) *Error {
	return &Error{Kind: KindRuntimeUnreachable, Path: socket, Err: err}
}

func InvalidIdentity(detail string, err error) *Error {
	return &Error{Kind: KindInvalidIdentity, Detail: detail, Err: err}
}
