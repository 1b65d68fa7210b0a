package activity

import (
	"context"
	"os"
	"path"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/veeso/termscp-sub002/internal/browser"
	"github.com/veeso/termscp-sub002/internal/fs"
	"github.com/veeso/termscp-sub002/internal/host"
	"github.com/veeso/termscp-sub002/internal/transfer"
)

// FileTransferActivity owns the two fs.FsContract endpoints (host bridge
// and remote), their Browsers, and the TransferEngine, per spec.md §4.12.
// Both endpoints connect lazily on the first OnDraw call rather than in
// OnCreate, so a slow dial never blocks the activity handoff itself.
type FileTransferActivity struct {
	ctx *Context
	log log.FieldLogger

	hostEndpoint   fs.FsContract
	remoteEndpoint fs.FsContract
	hostBrowser    *browser.Browser
	remoteBrowser  *browser.Browser
	engine         *transfer.Engine

	connected bool
	exitKind  Kind
	exiting   bool
}

// NewFileTransferActivity constructs a FileTransferActivity; OnCreate must
// still be called before use.
func NewFileTransferActivity() *FileTransferActivity {
	return &FileTransferActivity{log: log.WithField(trace.Component, "activity:filetransfer")}
}

// OnCreate adopts ctx and resets the activity's state. Both endpoints are
// built from the HostBridge/Remote parameters AuthActivity populated, and
// connected, later, on the first OnDraw.
func (a *FileTransferActivity) OnCreate(ctx *Context) {
	a.ctx = ctx
	a.exiting = false
	a.connected = false
	a.hostEndpoint = nil
	a.remoteEndpoint = nil
	a.hostBrowser = nil
	a.remoteBrowser = nil
	a.engine = nil
}

// OnDraw lazy-connects both endpoints on its first invocation after
// OnCreate; subsequent calls are no-ops for connection purposes. Connection
// failure queues a Disconnect exit back to AuthActivity, per spec.md §7's
// rule that activities never propagate errors to the process.
func (a *FileTransferActivity) OnDraw() {
	if a.connected || a.exiting {
		return
	}
	if err := a.connect(context.Background()); err != nil {
		a.log.WithError(err).Error("failed to connect, returning to authentication")
		a.RequestDisconnect()
		return
	}
	a.connected = true
}

func (a *FileTransferActivity) connect(ctx context.Context) error {
	hostEP, err := a.buildHostEndpoint()
	if err != nil {
		return trace.Wrap(err)
	}
	if _, err := hostEP.Connect(ctx); err != nil {
		return trace.Wrap(err, "connecting host bridge")
	}

	remoteEP, err := host.NewRemote(*a.ctx.Remote, a.lookupPrivateKey())
	if err != nil {
		hostEP.Disconnect(ctx)
		return trace.Wrap(err)
	}
	if _, err := remoteEP.Connect(ctx); err != nil {
		hostEP.Disconnect(ctx)
		return trace.Wrap(err, "connecting remote")
	}

	if a.ctx.HostBridge.Localhost != "" && a.ctx.HostBridge.Localhost != "." {
		if _, err := hostEP.ChangeDir(ctx, a.ctx.HostBridge.Localhost); err != nil {
			a.log.WithError(err).Warnf("could not cd host bridge to %s", a.ctx.HostBridge.Localhost)
		}
	}
	if a.ctx.Remote.RemotePath != "" {
		if _, err := remoteEP.ChangeDir(ctx, a.ctx.Remote.RemotePath); err != nil {
			a.log.WithError(err).Warnf("could not cd remote to %s", a.ctx.Remote.RemotePath)
		}
	}

	hostBrowser, err := browser.New(ctx, hostEP)
	if err != nil {
		return trace.Wrap(err)
	}
	remoteBrowser, err := browser.New(ctx, remoteEP)
	if err != nil {
		return trace.Wrap(err)
	}

	a.hostEndpoint = hostEP
	a.remoteEndpoint = remoteEP
	a.hostBrowser = hostBrowser
	a.remoteBrowser = remoteBrowser
	a.engine = nil
	return nil
}

// buildHostEndpoint constructs the "near" side: a Local endpoint, or
// another remote protocol endpoint when HostBridgeParams names one (the
// remote-to-remote-via-scratch case, spec.md's glossary entry for "host
// bridge").
func (a *FileTransferActivity) buildHostEndpoint() (fs.FsContract, error) {
	if a.ctx.HostBridge.Remote != nil {
		return host.NewRemote(*a.ctx.HostBridge.Remote, nil)
	}
	return host.NewLocal(a.ctx.HostBridge.Localhost)
}

// lookupPrivateKey returns the registered SSH key material for the remote
// connection's user@host, if any, implementing the password-elision path
// host.NewRemote's sshAuth consumes.
func (a *FileTransferActivity) lookupPrivateKey() []byte {
	if a.ctx.Remote.Params.Generic == nil {
		return nil
	}
	userAtHost := a.ctx.Remote.Params.Generic.Username + "@" + a.ctx.Remote.Params.Generic.Address
	keyPath, ok := a.ctx.Config.GetSSHKey(userAtHost)
	if !ok {
		return nil
	}
	material, err := os.ReadFile(keyPath)
	if err != nil {
		a.log.WithError(err).Warnf("could not read registered ssh key %s", keyPath)
		return nil
	}
	return material
}

// HostBrowser returns the host-bridge side Browser, or nil before the first
// successful connect.
func (a *FileTransferActivity) HostBrowser() *browser.Browser { return a.hostBrowser }

// RemoteBrowser returns the remote side Browser, or nil before the first
// successful connect.
func (a *FileTransferActivity) RemoteBrowser() *browser.Browser { return a.remoteBrowser }

// Connected reports whether both endpoints have completed their initial
// connect.
func (a *FileTransferActivity) Connected() bool { return a.connected }

// SendToRemote copies entry (a file or directory, already Stat'd from the
// host bridge) into dstDir on the remote side.
func (a *FileTransferActivity) SendToRemote(ctx context.Context, entry fs.File, dstDir string, tick transfer.TickFunc) error {
	if !a.connected {
		return trace.BadParameter("not connected")
	}
	engine := transfer.NewEngine(a.hostEndpoint, a.remoteEndpoint, tick)
	a.engine = engine
	kind := transfer.KindSingleFile
	if entry.IsDir() {
		kind = transfer.KindTree
	}
	err := engine.Run(ctx, transfer.Request{Kind: kind, Source: entry, DstDir: dstDir})
	if err == nil {
		if reloadErr := a.remoteBrowser.Reload(ctx); reloadErr != nil {
			a.log.WithError(reloadErr).Warn("remote browser reload after send failed")
		}
	}
	return err
}

// RecvFromRemote is SendToRemote's mirror: it copies entry (stat'd from the
// remote side) into dstDir on the host bridge.
func (a *FileTransferActivity) RecvFromRemote(ctx context.Context, entry fs.File, dstDir string, tick transfer.TickFunc) error {
	if !a.connected {
		return trace.BadParameter("not connected")
	}
	engine := transfer.NewEngine(a.remoteEndpoint, a.hostEndpoint, tick)
	a.engine = engine
	kind := transfer.KindSingleFile
	if entry.IsDir() {
		kind = transfer.KindTree
	}
	err := engine.Run(ctx, transfer.Request{Kind: kind, Source: entry, DstDir: dstDir})
	if err == nil {
		if reloadErr := a.hostBrowser.Reload(ctx); reloadErr != nil {
			a.log.WithError(reloadErr).Warn("host browser reload after recv failed")
		}
	}
	return err
}

// SendQueuedToRemote batches every path currently marked in the host
// Browser's queue into a single TransferEngine run.
func (a *FileTransferActivity) SendQueuedToRemote(ctx context.Context, dstDir string, tick transfer.TickFunc) error {
	if !a.connected {
		return trace.BadParameter("not connected")
	}
	items, err := a.statQueue(ctx, a.hostEndpoint, a.hostBrowser, dstDir)
	if err != nil {
		return err
	}
	engine := transfer.NewEngine(a.hostEndpoint, a.remoteEndpoint, tick)
	a.engine = engine
	err = engine.Run(ctx, transfer.Request{Kind: transfer.KindBatch, Items: items})
	a.hostBrowser.ClearQueue()
	if err == nil {
		if reloadErr := a.remoteBrowser.Reload(ctx); reloadErr != nil {
			a.log.WithError(reloadErr).Warn("remote browser reload after batch send failed")
		}
	}
	return err
}

func (a *FileTransferActivity) statQueue(ctx context.Context, ep fs.FsContract, b *browser.Browser, dstDir string) ([]transfer.Entry, error) {
	paths := b.Queue()
	items := make([]transfer.Entry, 0, len(paths))
	for _, p := range paths {
		entry, err := ep.Stat(ctx, p)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		items = append(items, transfer.Entry{File: entry, Dst: path.Join(dstDir, entry.Name())})
	}
	return items, nil
}

// EngineState exposes the last-run transfer's progress, or nil if no
// transfer has started yet in this activity instance.
func (a *FileTransferActivity) EngineState() *transfer.State {
	if a.engine == nil {
		return nil
	}
	return a.engine.State()
}

// Abort requests cancellation of the in-flight transfer, if any.
func (a *FileTransferActivity) Abort() {
	if a.engine != nil {
		a.engine.Abort()
	}
}

// WillUmount reports the queued exit, if any.
func (a *FileTransferActivity) WillUmount() (Kind, bool) {
	if !a.exiting {
		return KindNone, false
	}
	return a.exitKind, true
}

// OnDestroy disconnects both endpoints and releases Context back to the
// manager.
func (a *FileTransferActivity) OnDestroy() *Context {
	ctx := context.Background()
	if a.hostEndpoint != nil && a.hostEndpoint.IsConnected() {
		if err := a.hostEndpoint.Disconnect(ctx); err != nil {
			a.log.WithError(err).Warn("host bridge disconnect failed")
		}
	}
	if a.remoteEndpoint != nil && a.remoteEndpoint.IsConnected() {
		if err := a.remoteEndpoint.Disconnect(ctx); err != nil {
			a.log.WithError(err).Warn("remote disconnect failed")
		}
	}
	c := a.ctx
	a.ctx = nil
	return c
}

// RequestDisconnect queues a transition back to AuthActivity.
func (a *FileTransferActivity) RequestDisconnect() {
	a.exitKind = KindAuth
	a.exiting = true
}

// RequestQuit ends the process.
func (a *FileTransferActivity) RequestQuit() {
	a.exitKind = KindNone
	a.exiting = true
}

