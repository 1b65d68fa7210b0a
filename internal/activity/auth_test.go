package activity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veeso/termscp-sub002/internal/params"
	"github.com/veeso/termscp-sub002/internal/secret"
	"github.com/veeso/termscp-sub002/internal/store"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	dir := t.TempDir()
	ks := secret.NewKeyStore(t.TempDir(), true)
	bookmarks, err := store.OpenBookmarks(filepath.Join(dir, "bookmarks.toml"), ks, false, store.DefaultRecentsCap, true)
	require.NoError(t, err)
	cfg := store.OpenConfig(filepath.Join(dir, "config.toml"), filepath.Join(dir, ".ssh"))
	theme := store.OpenTheme(filepath.Join(dir, "theme.toml"))
	return &Context{Bookmarks: bookmarks, Config: cfg, Theme: theme}
}

func sftpParams(host, user, password string) params.FileTransferParams {
	ftp, err := params.NewFileTransferParams(params.ProtocolSFTP, params.ConnectionParams{
		Generic: &params.Generic{Address: host, Port: 22, Username: user, Password: password},
	})
	if err != nil {
		panic(err)
	}
	return ftp
}

func TestSubmitConnectionQueuesFileTransferExit(t *testing.T) {
	auth := NewAuthActivity()
	ctx := newTestContext(t)
	auth.OnCreate(ctx)

	kind, done := auth.WillUmount()
	require.False(t, done)
	require.Equal(t, KindNone, kind)

	require.NoError(t, auth.SubmitConnection(params.HostBridgeParams{Localhost: "."}, sftpParams("example.com", "bob", "hunter2")))

	kind, done = auth.WillUmount()
	require.True(t, done)
	require.Equal(t, KindFileTransfer, kind)
}

func TestSubmitConnectionRecordsRecent(t *testing.T) {
	auth := NewAuthActivity()
	ctx := newTestContext(t)
	auth.OnCreate(ctx)

	require.NoError(t, auth.SubmitConnection(params.HostBridgeParams{Localhost: "."}, sftpParams("example.com", "bob", "hunter2")))
	require.Len(t, ctx.Bookmarks.IterRecents(), 1)
}

func TestSubmitConnectionRejectsInvalidHostBridge(t *testing.T) {
	auth := NewAuthActivity()
	ctx := newTestContext(t)
	auth.OnCreate(ctx)

	err := auth.SubmitConnection(params.HostBridgeParams{}, sftpParams("example.com", "bob", "hunter2"))
	require.Error(t, err)

	_, done := auth.WillUmount()
	require.False(t, done, "a rejected submission must not queue an exit")
}

func TestRequestQuitAndRequestSetup(t *testing.T) {
	auth := NewAuthActivity()
	ctx := newTestContext(t)
	auth.OnCreate(ctx)

	auth.RequestSetup()
	kind, done := auth.WillUmount()
	require.True(t, done)
	require.Equal(t, KindSetup, kind)

	quitter := NewAuthActivity()
	quitter.OnCreate(newTestContext(t))
	quitter.RequestQuit()
	kind, done = quitter.WillUmount()
	require.True(t, done)
	require.Equal(t, KindNone, kind)
}

// TestOnDestroyReleasesContext is part of spec.md §8's Context-ownership
// invariant: OnDestroy must hand back the same Context OnCreate received,
// and the activity must not retain it afterward.
func TestOnDestroyReleasesContext(t *testing.T) {
	auth := NewAuthActivity()
	ctx := newTestContext(t)
	auth.OnCreate(ctx)

	released := auth.OnDestroy()
	require.Same(t, ctx, released)
	require.Nil(t, auth.ctx, "the activity must not retain Context after OnDestroy")
}

func TestNeedsPasswordPromptSFTPWithRegisteredKey(t *testing.T) {
	auth := NewAuthActivity()
	ctx := newTestContext(t)
	auth.OnCreate(ctx)
	require.NoError(t, ctx.Config.AddSSHKey("example.com", "bob", "key-material"))

	remote := sftpParams("example.com", "bob", "")
	require.False(t, auth.NeedsPasswordPrompt(remote), "a registered SSH key elides the password prompt")
}

func TestNeedsPasswordPromptWithoutKey(t *testing.T) {
	auth := NewAuthActivity()
	ctx := newTestContext(t)
	auth.OnCreate(ctx)

	remote := sftpParams("example.com", "bob", "")
	require.True(t, auth.NeedsPasswordPrompt(remote))
}

func TestNeedsPasswordPromptFalseWhenPasswordAlreadySet(t *testing.T) {
	auth := NewAuthActivity()
	ctx := newTestContext(t)
	auth.OnCreate(ctx)

	remote := sftpParams("example.com", "bob", "hunter2")
	require.False(t, auth.NeedsPasswordPrompt(remote))
}

func TestConnectFromBookmarkNotFound(t *testing.T) {
	auth := NewAuthActivity()
	ctx := newTestContext(t)
	auth.OnCreate(ctx)

	err := auth.ConnectFromBookmark("missing", ".")
	require.Error(t, err)
}

func TestConnectFromBookmarkSubmits(t *testing.T) {
	auth := NewAuthActivity()
	ctx := newTestContext(t)
	auth.OnCreate(ctx)

	require.NoError(t, ctx.Bookmarks.AddBookmark("work", sftpParams("example.com", "bob", "hunter2"), true))
	require.NoError(t, auth.ConnectFromBookmark("work", "."))

	kind, done := auth.WillUmount()
	require.True(t, done)
	require.Equal(t, KindFileTransfer, kind)
	require.Equal(t, "example.com", ctx.Remote.Params.Generic.Address)
}
