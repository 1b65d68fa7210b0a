package activity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veeso/termscp-sub002/internal/store"
)

func TestSetupUpdateUIPersists(t *testing.T) {
	setup := NewSetupActivity()
	ctx := newTestContext(t)
	setup.OnCreate(ctx)

	ui := ctx.Config.UI()
	ui.TextEditor = "nano"
	require.NoError(t, setup.UpdateUI(ui))
	require.Equal(t, "nano", ctx.Config.UI().TextEditor)
}

func TestSetupSetThemePersists(t *testing.T) {
	setup := NewSetupActivity()
	ctx := newTestContext(t)
	setup.OnCreate(ctx)

	require.NoError(t, setup.SetTheme("auth_address", "magenta"))
	require.Equal(t, "magenta", ctx.Theme.Get("auth_address"))
}

func TestSetupAddAndDelSSHKey(t *testing.T) {
	setup := NewSetupActivity()
	ctx := newTestContext(t)
	setup.OnCreate(ctx)

	require.NoError(t, setup.AddSSHKey("example.com", "bob", "material"))
	keys := setup.ListSSHKeys()
	require.Contains(t, keys, "bob@example.com")

	require.NoError(t, setup.DelSSHKey("example.com", "bob"))
	require.NotContains(t, setup.ListSSHKeys(), "bob@example.com")
}

func TestSetupRequestExitQueuesAuth(t *testing.T) {
	setup := NewSetupActivity()
	ctx := newTestContext(t)
	setup.OnCreate(ctx)

	_, done := setup.WillUmount()
	require.False(t, done)

	setup.RequestExit()
	kind, done := setup.WillUmount()
	require.True(t, done)
	require.Equal(t, KindAuth, kind)
}

func TestSetupUpdateUIDegraded(t *testing.T) {
	setup := NewSetupActivity()
	ctx := newTestContext(t)
	ctx.Config = store.Degraded()
	setup.OnCreate(ctx)

	err := setup.UpdateUI(ctx.Config.UI())
	require.Error(t, err)
}
