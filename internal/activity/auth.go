package activity

import (
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/veeso/termscp-sub002/internal/params"
)

// AuthActivity collects HostBridgeParams/FileTransferParams from a
// form/bookmark/recent selection, matching spec.md §4.12's AuthActivity.
// Form collection and rendering themselves belong to the UI runtime (spec.md
// §1/§6); this type owns validation, bookmark/recents lookups, and the
// password-elision decision so the UI never has to reimplement them.
type AuthActivity struct {
	ctx *Context
	log log.FieldLogger

	exitKind Kind
	exiting  bool
}

// NewAuthActivity constructs an AuthActivity; OnCreate still must be called
// before use, matching the Activity lifecycle.
func NewAuthActivity() *AuthActivity {
	return &AuthActivity{log: log.WithField(trace.Component, "activity:auth")}
}

// OnCreate adopts ctx.
func (a *AuthActivity) OnCreate(ctx *Context) {
	a.ctx = ctx
	a.exiting = false
}

// OnDraw is a no-op placeholder for queued-intent processing; AuthActivity
// has none that requires per-tick work.
func (a *AuthActivity) OnDraw() {}

// WillUmount reports the queued exit, if any.
func (a *AuthActivity) WillUmount() (Kind, bool) {
	if !a.exiting {
		return KindNone, false
	}
	return a.exitKind, true
}

// OnDestroy releases Context back to the manager.
func (a *AuthActivity) OnDestroy() *Context {
	ctx := a.ctx
	a.ctx = nil
	return ctx
}

// RequestQuit ends the process.
func (a *AuthActivity) RequestQuit() {
	a.exitKind = KindNone
	a.exiting = true
}

// RequestSetup transitions to SetupActivity.
func (a *AuthActivity) RequestSetup() {
	a.exitKind = KindSetup
	a.exiting = true
}

// SubmitConnection validates params, records it as a recent connection, and
// queues a transition to FileTransferActivity.
func (a *AuthActivity) SubmitConnection(host params.HostBridgeParams, remote params.FileTransferParams) error {
	if err := host.Validate(); err != nil {
		return trace.Wrap(err)
	}
	if err := remote.Params.Validate(); err != nil {
		return trace.Wrap(err)
	}
	a.ctx.HostBridge = &host
	a.ctx.Remote = &remote

	if err := a.ctx.Bookmarks.AddRecent(remote, time.Now()); err != nil {
		a.log.WithError(err).Warn("failed to record recent connection")
	} else if err := a.ctx.Bookmarks.Write(); err != nil {
		a.log.WithError(err).Warn("failed to persist recents")
	}

	a.exitKind = KindFileTransfer
	a.exiting = true
	return nil
}

// ConnectFromBookmark loads a saved bookmark and submits it the same way a
// freshly filled form would be.
func (a *AuthActivity) ConnectFromBookmark(name string, localPath string) error {
	remote, ok, err := a.ctx.Bookmarks.GetBookmark(name)
	if err != nil {
		a.log.WithError(err).Warnf("bookmark %s: password could not be decrypted, continuing without it", name)
	}
	if !ok {
		return trace.NotFound("bookmark %q not found", name)
	}
	return a.SubmitConnection(params.HostBridgeParams{Localhost: localPath}, remote)
}

// ConnectFromRecent mirrors ConnectFromBookmark against the recents MRU.
func (a *AuthActivity) ConnectFromRecent(name string, localPath string) error {
	remote, ok, err := a.ctx.Bookmarks.GetRecent(name)
	if err != nil {
		a.log.WithError(err).Warnf("recent %s: password could not be decrypted, continuing without it", name)
	}
	if !ok {
		return trace.NotFound("recent %q not found", name)
	}
	return a.SubmitConnection(params.HostBridgeParams{Localhost: localPath}, remote)
}

// NeedsPasswordPrompt reports whether the UI must prompt for a password
// before connecting. It is false when the params already carry a password
// or their variant takes none (S3, Kube); otherwise it is true unless the
// protocol is SSH-family and an SSH key is already registered for
// user@host, per spec.md §4.12's password-elision rule.
func (a *AuthActivity) NeedsPasswordPrompt(remote params.FileTransferParams) bool {
	if !remote.Params.PasswordMissing() {
		return false
	}
	if remote.Protocol != params.ProtocolSFTP && remote.Protocol != params.ProtocolSCP {
		return true
	}
	if remote.Params.Generic == nil {
		return true
	}
	userAtHost := remote.Params.Generic.Username + "@" + remote.Params.Generic.Address
	_, hasKey := a.ctx.Config.GetSSHKey(userAtHost)
	return !hasKey
}
