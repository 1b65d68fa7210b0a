package activity

import (
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/veeso/termscp-sub002/internal/sshimport"
	"github.com/veeso/termscp-sub002/internal/store"
)

// SetupActivity mutates ConfigStore, ThemeStore and the SSH key registry,
// per spec.md §4.12. It always hands control back to AuthActivity on exit;
// ActivityManager special-cases this rather than reading it off WillUmount
// (spec.md §4.12's loop table: "SetupActivity → run SetupActivity (then
// re-enter Auth)").
type SetupActivity struct {
	ctx *Context
	log log.FieldLogger

	exiting bool
}

// NewSetupActivity constructs a SetupActivity; OnCreate must still be
// called before use.
func NewSetupActivity() *SetupActivity {
	return &SetupActivity{log: log.WithField(trace.Component, "activity:setup")}
}

// OnCreate adopts ctx.
func (s *SetupActivity) OnCreate(ctx *Context) {
	s.ctx = ctx
	s.exiting = false
}

// OnDraw is a no-op placeholder; SetupActivity has no queued intents that
// require per-tick work.
func (s *SetupActivity) OnDraw() {}

// WillUmount reports the queued exit, if any. The Kind returned is always
// KindAuth; callers that want the special one-shot Quit path should check
// Context's owning AuthActivity, not this value.
func (s *SetupActivity) WillUmount() (Kind, bool) {
	if !s.exiting {
		return KindNone, false
	}
	return KindAuth, true
}

// OnDestroy releases Context back to the manager.
func (s *SetupActivity) OnDestroy() *Context {
	ctx := s.ctx
	s.ctx = nil
	return ctx
}

// RequestExit queues the return to AuthActivity.
func (s *SetupActivity) RequestExit() {
	s.exiting = true
}

// UpdateUI replaces the UI preference block and persists it immediately.
// When the config store is degraded (spec.md §4.7), SetUI leaves the store
// unchanged and Write fails with Generic, so UpdateUI returns that error.
func (s *SetupActivity) UpdateUI(ui store.UIConfig) error {
	s.ctx.Config.SetUI(ui)
	return s.ctx.Config.Write()
}

// SetTheme assigns role's color and persists the theme file.
func (s *SetupActivity) SetTheme(role, color string) error {
	s.ctx.Theme.Set(role, color)
	return s.ctx.Theme.Write()
}

// ImportTheme merges the colors of an external TOML file over the current
// palette and persists the result (the `theme PATH` CLI subcommand).
func (s *SetupActivity) ImportTheme(path string) error {
	return s.ctx.Theme.Import(path)
}

// AddSSHKey registers a new SSH key for user@host.
func (s *SetupActivity) AddSSHKey(host, user, material string) error {
	return s.ctx.Config.AddSSHKey(host, user, material)
}

// DelSSHKey unregisters an SSH key.
func (s *SetupActivity) DelSSHKey(host, user string) error {
	return s.ctx.Config.DelSSHKey(host, user)
}

// ListSSHKeys returns every registered "user@host" -> keyfile mapping.
func (s *SetupActivity) ListSSHKeys() map[string]string {
	return s.ctx.Config.ListSSHKeys()
}

// ImportSSHConfig runs the ssh_config importer against the configured (or
// explicitly given) path, populating bookmarks and the key registry in one
// pass (spec.md §4.9).
func (s *SetupActivity) ImportSSHConfig(path string) (sshimport.Result, error) {
	if path == "" {
		path = s.ctx.Config.SSHConfigPath()
	}
	return sshimport.Import(path, s.ctx.Bookmarks, s.ctx.Config)
}
