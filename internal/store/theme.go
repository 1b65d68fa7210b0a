package store

import (
	"os"

	"github.com/gravitational/trace"
	"github.com/pelletier/go-toml"
)

// Theme is a flat map of semantic UI role names (e.g. "auth_address",
// "transfer_progress_bar_full") to color strings. Colors are stored as
// whatever the UI layer accepts (named-css, palette names, "r,g,b",
// "#rrggbb", or "Reset") and are treated as opaque strings here; only the
// UI's renderer (out of scope, see spec.md §1) parses them.
type Theme map[string]string

// DefaultTheme returns the built-in palette, used both as the starting
// point for a fresh theme.toml and as the fallback for any role a loaded
// theme file doesn't define.
func DefaultTheme() Theme {
	return Theme{
		"auth_address":                        "cyan",
		"auth_port":                           "cyan",
		"auth_protocol":                       "cyan",
		"auth_username":                       "cyan",
		"auth_password":                       "cyan",
		"auth_bookmark_name":                  "green",
		"misc_error_dialog":                   "red",
		"misc_info_dialog":                    "blue",
		"misc_input_dialog":                   "cyan",
		"misc_keys":                           "cyan",
		"misc_quit_dialog":                    "yellow",
		"misc_save_dialog":                    "cyan",
		"misc_warn_dialog":                    "yellow",
		"transfer_local_explorer_background":  "Reset",
		"transfer_local_explorer_foreground":  "Reset",
		"transfer_remote_explorer_background": "Reset",
		"transfer_remote_explorer_foreground": "Reset",
		"transfer_log_window":                 "Reset",
		"transfer_progress_bar_partial":       "cyan",
		"transfer_progress_bar_full":          "green",
		"transfer_status_hidden":              "gray",
		"transfer_status_sorting":             "cyan",
		"transfer_status_sync_browsing":       "green",
	}
}

// ThemeStore owns the theme.toml file. Like ConfigStore, it supports a
// degraded mode: getters fall back to DefaultTheme entries, Write fails
// with Generic.
type ThemeStore struct {
	path     string
	degraded bool
	data     Theme
}

// OpenTheme opens (or initializes with DefaultTheme) the theme file at
// themePath. As with ConfigStore, any I/O failure degrades rather than
// erroring.
func OpenTheme(themePath string) *ThemeStore {
	if _, err := os.Stat(themePath); os.IsNotExist(err) {
		s := &ThemeStore{path: themePath, data: DefaultTheme()}
		if err := s.Write(); err != nil {
			return DegradedTheme()
		}
		return s
	}

	raw, err := os.ReadFile(themePath)
	if err != nil {
		return DegradedTheme()
	}
	data := Theme{}
	if err := toml.Unmarshal(raw, &data); err != nil {
		return DegradedTheme()
	}
	merged := DefaultTheme()
	for k, v := range data {
		merged[k] = v
	}
	return &ThemeStore{path: themePath, data: merged}
}

// DegradedTheme returns an in-memory theme store seeded with DefaultTheme
// whose Write always fails.
func DegradedTheme() *ThemeStore {
	return &ThemeStore{degraded: true, data: DefaultTheme()}
}

// IsDegraded reports whether this store can persist to disk.
func (t *ThemeStore) IsDegraded() bool { return t.degraded }

// Get returns the color assigned to role, falling back to DefaultTheme's
// value if role was never customized.
func (t *ThemeStore) Get(role string) string {
	if v, ok := t.data[role]; ok {
		return v
	}
	return DefaultTheme()[role]
}

// Set assigns role's color; inert in degraded mode.
func (t *ThemeStore) Set(role, color string) {
	if t.degraded {
		return
	}
	t.data[role] = color
}

// Import merges the colors of an external TOML file over the current
// palette and persists the result (the `theme PATH` CLI subcommand,
// spec.md §6); roles the file does not name keep their current color.
func (t *ThemeStore) Import(path string) error {
	if t.degraded {
		return trace.Errorf("generic: theme store is degraded, writes are disabled")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return trace.Wrap(err, "serializer: reading %s", path)
	}
	data := Theme{}
	if err := toml.Unmarshal(raw, &data); err != nil {
		return trace.Wrap(err, "serializer: parsing %s", path)
	}
	for k, v := range data {
		t.data[k] = v
	}
	return t.Write()
}

// Write persists the theme to disk.
func (t *ThemeStore) Write() error {
	if t.degraded {
		return trace.Errorf("generic: theme store is degraded, writes are disabled")
	}
	out, err := toml.Marshal(t.data)
	if err != nil {
		return trace.Wrap(err, "serializer: marshaling theme")
	}
	return atomicWriteFile(t.path, out, 0o600)
}
