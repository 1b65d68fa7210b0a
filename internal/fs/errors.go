package fs

import (
	"github.com/gravitational/trace"
)

// The FsContract error taxonomy is implemented on top of trace's existing
// kinds rather than a bespoke enum, the way every package in zmb3-teleport's
// lib/client does: callers branch on trace.Is* predicates, and Unsupported
// maps to trace.NotImplemented so "an endpoint doesn't support this op" and
// "this isn't wired up yet" share one idiom.

// ErrNotConnected is returned by any operation attempted before Connect
// succeeds.
func ErrNotConnected(what string) error {
	return trace.ConnectionProblem(nil, "%s: not connected", what)
}

// ErrUnsupported marks an operation the endpoint intentionally does not
// implement (Open/Create streaming, chmod on non-unix backends, exec on
// backends without shell access, ...).
func ErrUnsupported(op string) error {
	return trace.NotImplemented("%s is not supported by this endpoint", op)
}

// IsUnsupported reports whether err denotes an unsupported operation.
func IsUnsupported(err error) bool { return trace.IsNotImplemented(err) }

// IsNotFound reports whether err denotes a missing path.
func IsNotFound(err error) bool { return trace.IsNotFound(err) }

// IsAlreadyExists reports whether err denotes a path collision.
func IsAlreadyExists(err error) bool { return trace.IsAlreadyExists(err) }

// IsPermissionDenied reports whether err denotes an access-control failure.
func IsPermissionDenied(err error) bool { return trace.IsAccessDenied(err) }

// IsNotConnected reports whether err denotes an operation attempted on a
// disconnected endpoint.
func IsNotConnected(err error) bool { return trace.IsConnectionProblem(err) }

// ErrAbrupted marks user-requested cancellation of a transfer, as distinct
// from a bare FsContract failure. The transfer engine returns it unwrapped,
// so callers can check it with errors.Is after trace.Unwrap.
var ErrAbrupted = trace.Errorf("transfer aborted by caller")

// RemoteIo wraps a failure that occurred reading/writing the remote side of
// a transfer.
func RemoteIo(err error) error {
	return trace.Wrap(err, "remote i/o error")
}

// HostIo wraps a failure that occurred reading/writing the host-bridge side
// of a transfer.
func HostIo(err error) error {
	return trace.Wrap(err, "host i/o error")
}
