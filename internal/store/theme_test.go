package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenThemeDefaults(t *testing.T) {
	dir := t.TempDir()
	s := OpenTheme(filepath.Join(dir, "theme.toml"))
	require.False(t, s.IsDegraded())
	require.Equal(t, "cyan", s.Get("auth_address"))
}

func TestThemeSetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "theme.toml")

	s1 := OpenTheme(path)
	s1.Set("auth_address", "magenta")
	require.NoError(t, s1.Write())

	s2 := OpenTheme(path)
	require.Equal(t, "magenta", s2.Get("auth_address"))
	require.Equal(t, "cyan", s2.Get("auth_port"), "unset roles keep falling back to the default palette")
}

func TestThemeUnknownRoleFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	s := OpenTheme(filepath.Join(dir, "theme.toml"))
	require.Equal(t, DefaultTheme()["misc_error_dialog"], s.Get("misc_error_dialog"))
}

func TestThemeImportMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	externalPath := filepath.Join(dir, "external.toml")
	require.NoError(t, os.WriteFile(externalPath, []byte(`auth_address = "white"`+"\n"), 0o600))

	s := OpenTheme(filepath.Join(dir, "theme.toml"))
	require.NoError(t, s.Import(externalPath))

	require.Equal(t, "white", s.Get("auth_address"))
	require.Equal(t, "cyan", s.Get("auth_port"), "import merges rather than replacing the whole palette")
}

func TestThemeDegradedMode(t *testing.T) {
	s := DegradedTheme()
	require.True(t, s.IsDegraded())
	require.Equal(t, "cyan", s.Get("auth_address"))

	s.Set("auth_address", "magenta")
	require.Equal(t, "cyan", s.Get("auth_address"), "Set must be inert in degraded mode")

	require.Error(t, s.Write())
	require.Error(t, s.Import("/nonexistent"))
}
