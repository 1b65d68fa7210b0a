package fs

import (
	"errors"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestErrorPredicates(t *testing.T) {
	require.True(t, IsUnsupported(ErrUnsupported("chmod")))
	require.True(t, IsNotConnected(ErrNotConnected("stat")))
	require.True(t, IsNotFound(trace.NotFound("missing")))
	require.True(t, IsAlreadyExists(trace.AlreadyExists("exists")))
	require.True(t, IsPermissionDenied(trace.AccessDenied("denied")))
}

func TestErrorPredicatesRejectUnrelatedErrors(t *testing.T) {
	other := errors.New("boring error")
	require.False(t, IsUnsupported(other))
	require.False(t, IsNotConnected(other))
	require.False(t, IsNotFound(other))
	require.False(t, IsAlreadyExists(other))
	require.False(t, IsPermissionDenied(other))
}

func TestAbruptedIsStable(t *testing.T) {
	wrapped := trace.Wrap(ErrAbrupted)
	require.True(t, errors.Is(wrapped, ErrAbrupted))
}

func TestRemoteIoAndHostIoWrap(t *testing.T) {
	base := errors.New("disk full")
	require.ErrorIs(t, RemoteIo(base), base)
	require.ErrorIs(t, HostIo(base), base)
}
