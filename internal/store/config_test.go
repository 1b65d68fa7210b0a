package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	s := OpenConfig(filepath.Join(dir, "config.toml"), filepath.Join(dir, ".ssh"))
	require.False(t, s.IsDegraded())

	ui := s.UI()
	require.Equal(t, "SFTP", ui.DefaultProtocol)
	require.True(t, ui.CheckForUpdates)
	require.EqualValues(t, DefaultNotificationThresholdBytes, ui.NotificationThresholdMiB)
}

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	sshDir := filepath.Join(dir, ".ssh")

	s1 := OpenConfig(configPath, sshDir)
	ui := s1.UI()
	ui.ShowHiddenFiles = true
	ui.TextEditor = "vim"
	s1.SetUI(ui)
	require.NoError(t, s1.Write())

	s2 := OpenConfig(configPath, sshDir)
	require.False(t, s2.IsDegraded())
	require.True(t, s2.UI().ShowHiddenFiles)
	require.Equal(t, "vim", s2.UI().TextEditor)
}

// TestConfigDegradedModeGettersStillWork covers spec.md §4.7's degraded mode
// invariant: getters return defaults even though the store can't persist.
func TestConfigDegradedModeGettersStillWork(t *testing.T) {
	s := Degraded()
	require.True(t, s.IsDegraded())
	require.Equal(t, "SFTP", s.UI().DefaultProtocol)

	s.SetUI(UIConfig{TextEditor: "nano"})
	require.Equal(t, "SFTP", s.UI().DefaultProtocol, "SetUI must be inert in degraded mode")

	require.Error(t, s.Write())
	require.Error(t, s.AddSSHKey("host", "user", "material"))
	require.Error(t, s.DelSSHKey("host", "user"))
}

func TestConfigSSHKeyAddDelSync(t *testing.T) {
	dir := t.TempDir()
	s := OpenConfig(filepath.Join(dir, "config.toml"), filepath.Join(dir, ".ssh"))

	require.NoError(t, s.AddSSHKey("example.com", "bob", "-----BEGIN KEY-----"))
	path, ok := s.GetSSHKey("bob@example.com")
	require.True(t, ok)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "-----BEGIN KEY-----", string(data))

	require.NoError(t, s.DelSSHKey("example.com", "bob"))
	_, ok = s.GetSSHKey("bob@example.com")
	require.False(t, ok)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestConfigSSHConfigPathDefault(t *testing.T) {
	dir := t.TempDir()
	s := OpenConfig(filepath.Join(dir, "config.toml"), filepath.Join(dir, ".ssh"))
	require.NotEmpty(t, s.SSHConfigPath())

	s.SetSSHConfigPath("/custom/path")
	require.Equal(t, "/custom/path", s.SSHConfigPath())
}
