package activity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veeso/termscp-sub002/internal/browser"
	"github.com/veeso/termscp-sub002/internal/host"
	"github.com/veeso/termscp-sub002/internal/params"
)

func TestFileTransferBuildHostEndpointLocalhost(t *testing.T) {
	ft := NewFileTransferActivity()
	ctx := newTestContext(t)
	dir := t.TempDir()
	hb := params.HostBridgeParams{Localhost: dir}
	remote := sftpParams("example.com", "bob", "hunter2")
	ctx.HostBridge = &hb
	ctx.Remote = &remote
	ft.OnCreate(ctx)

	ep, err := ft.buildHostEndpoint()
	require.NoError(t, err)
	require.NotNil(t, ep)

	_, err = ep.Connect(context.Background())
	require.NoError(t, err)
	pwd, err := ep.Pwd(context.Background())
	require.NoError(t, err)
	require.Equal(t, dir, pwd)
}

func TestFileTransferLookupPrivateKeyReturnsRegisteredMaterial(t *testing.T) {
	ft := NewFileTransferActivity()
	ctx := newTestContext(t)
	hb := params.HostBridgeParams{Localhost: "."}
	remote := sftpParams("example.com", "bob", "")
	ctx.HostBridge = &hb
	ctx.Remote = &remote
	ft.OnCreate(ctx)

	require.NoError(t, ctx.Config.AddSSHKey("example.com", "bob", "key-material"))

	material := ft.lookupPrivateKey()
	require.Equal(t, []byte("key-material"), material)
}

func TestFileTransferLookupPrivateKeyNilWithoutRegisteredKey(t *testing.T) {
	ft := NewFileTransferActivity()
	ctx := newTestContext(t)
	hb := params.HostBridgeParams{Localhost: "."}
	remote := sftpParams("example.com", "bob", "hunter2")
	ctx.HostBridge = &hb
	ctx.Remote = &remote
	ft.OnCreate(ctx)

	require.Nil(t, ft.lookupPrivateKey())
}

func TestFileTransferStatQueueBuildsEntriesWithJoinedDst(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("world"), 0o644))

	local, err := host.NewLocal(dir)
	require.NoError(t, err)
	bgCtx := context.Background()
	_, err = local.Connect(bgCtx)
	require.NoError(t, err)

	b, err := browser.New(bgCtx, local)
	require.NoError(t, err)
	b.Mark(filepath.Join(dir, "a.txt"))
	b.Mark(filepath.Join(dir, "b.txt"))

	ft := &FileTransferActivity{}
	items, err := ft.statQueue(bgCtx, local, b, "/upload")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		require.Contains(t, []string{"/upload/a.txt", "/upload/b.txt"}, item.Dst)
	}
}

func TestFileTransferSendBeforeConnectFails(t *testing.T) {
	ft := NewFileTransferActivity()
	ctx := newTestContext(t)
	hb := params.HostBridgeParams{Localhost: "."}
	remote := sftpParams("example.com", "bob", "hunter2")
	ctx.HostBridge = &hb
	ctx.Remote = &remote
	ft.OnCreate(ctx)

	err := ft.SendQueuedToRemote(context.Background(), "/dst", nil)
	require.Error(t, err)
}

func TestFileTransferEngineStateNilBeforeAnyTransfer(t *testing.T) {
	ft := NewFileTransferActivity()
	require.Nil(t, ft.EngineState())
	ft.Abort()
}

func TestFileTransferRequestDisconnectAndQuit(t *testing.T) {
	ft := NewFileTransferActivity()
	ctx := newTestContext(t)
	ft.OnCreate(ctx)

	kind, done := ft.WillUmount()
	require.False(t, done)
	require.Equal(t, KindNone, kind)

	ft.RequestDisconnect()
	kind, done = ft.WillUmount()
	require.True(t, done)
	require.Equal(t, KindAuth, kind)
}

func TestFileTransferOnDestroyReleasesContextWithoutEndpoints(t *testing.T) {
	ft := NewFileTransferActivity()
	ctx := newTestContext(t)
	ft.OnCreate(ctx)

	released := ft.OnDestroy()
	require.Same(t, ctx, released)
}
