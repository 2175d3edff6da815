package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine-level failures the way the upstream block
// consumer needs to distinguish them (spec.md §7).
type Kind int

const (
	// KindInvalidParameter covers malformed or out-of-range creation/request parameters.
	KindInvalidParameter Kind = iota
	// KindInsufficientResources covers allocation failures (memory, fds, device slots).
	KindInsufficientResources
	// KindNotFound covers lookups against a device id that isn't registered.
	KindNotFound
	// KindAccessDenied covers backend-open permission failures.
	KindAccessDenied
	// KindConnectionRefused covers a rejected proxy CONNECT handshake.
	KindConnectionRefused
	// KindIoDeviceError covers backend/transport I/O failures.
	KindIoDeviceError
	// KindBufferOverflow covers a response that would overrun the caller's buffer.
	KindBufferOverflow
	// KindCancelled covers a request aborted by cancellation or device teardown.
	KindCancelled
	// KindDriverInternalError covers invariant violations inside the engine itself.
	KindDriverInternalError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParameter:
		return "InvalidParameter"
	case KindInsufficientResources:
		return "InsufficientResources"
	case KindNotFound:
		return "NotFound"
	case KindAccessDenied:
		return "AccessDenied"
	case KindConnectionRefused:
		return "ConnectionRefused"
	case KindIoDeviceError:
		return "IoDeviceError"
	case KindBufferOverflow:
		return "BufferOverflow"
	case KindCancelled:
		return "Cancelled"
	case KindDriverInternalError:
		return "DriverInternalError"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with the Kind the upstream consumer
// needs to branch on. It supports errors.Is/errors.As against both the
// Kind sentinels below and the wrapped cause.
type Error struct {
	Kind  Kind
	Op    string // short description of what was being attempted
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, KindNotFound) work directly against a Kind value
// wrapped in a sentinel error (see the kindSentinel type below).
func (e *Error) Is(target error) bool {
	var ks kindSentinel
	if errors.As(target, &ks) {
		return e.Kind == Kind(ks)
	}
	return false
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return Kind(k).String() }

// Sentinel errors for errors.Is(err, engine.ErrNotFound) style checks.
var (
	ErrInvalidParameter      error = kindSentinel(KindInvalidParameter)
	ErrInsufficientResources error = kindSentinel(KindInsufficientResources)
	ErrNotFound              error = kindSentinel(KindNotFound)
	ErrAccessDenied          error = kindSentinel(KindAccessDenied)
	ErrConnectionRefused     error = kindSentinel(KindConnectionRefused)
	ErrIoDeviceError         error = kindSentinel(KindIoDeviceError)
	ErrBufferOverflow        error = kindSentinel(KindBufferOverflow)
	ErrCancelled             error = kindSentinel(KindCancelled)
	ErrDriverInternalError   error = kindSentinel(KindDriverInternalError)
)

// newErr wraps cause (which may be nil) under op with the given kind.
func newErr(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}
