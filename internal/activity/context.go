// Package activity implements the top-level Authentication → FileTransfer →
// Setup state machine (spec.md §4.12) and the Context handoff protocol that
// guarantees no two activities hold mutable state simultaneously.
package activity

import (
	"github.com/veeso/termscp-sub002/internal/params"
	"github.com/veeso/termscp-sub002/internal/store"
)

// Context bundles every piece of shared, process-lifetime state: the
// persistent stores and whatever connection parameters the previous
// activity handed off. It is owned by exactly one activity at a time;
// ActivityManager moves it via OnDestroy/OnCreate, never shares it.
type Context struct {
	Bookmarks *store.BookmarksStore
	Config    *store.ConfigStore
	Theme     *store.ThemeStore

	// HostBridge/Remote are populated by AuthActivity before it exits with
	// KindFileTransfer, and consumed by FileTransferActivity.OnCreate.
	HostBridge *params.HostBridgeParams
	Remote     *params.FileTransferParams
}

// Kind identifies which activity the ActivityManager should run next.
type Kind int

const (
	KindNone Kind = iota
	KindAuth
	KindFileTransfer
	KindSetup
)

// Activity is the lifecycle every top-level activity implements, mirroring
// spec.md §4.12's on_create/on_draw/will_umount/on_destroy contract. on_draw
// itself is the UI runtime's responsibility (spec.md §6); activities expose
// it only as a hook point for intent processing queued between draws, since
// actual terminal rendering is out of this module's scope.
type Activity interface {
	// OnCreate receives ownership of ctx from the previous activity.
	OnCreate(ctx *Context)
	// OnDraw processes any queued intents; called by the UI runtime at at
	// least the configured tick rate.
	OnDraw()
	// WillUmount reports whether this activity has decided to exit, and if
	// so, which activity (if any) should run next.
	WillUmount() (Kind, bool)
	// OnDestroy releases ownership of Context back to the manager.
	OnDestroy() *Context
}
