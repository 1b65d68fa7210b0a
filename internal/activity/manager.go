package activity

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gravitational/trace"
)

// DefaultTickInterval matches the CLI's `-T` default (spec.md §6): 10ms
// between OnDraw polls when the UI runtime hasn't overridden it.
const DefaultTickInterval = 10 * time.Millisecond

// Manager owns the Context and sequences Authentication → FileTransfer →
// Setup activities, per spec.md §4.12. At no point during a transition do
// two activities hold Context simultaneously: the producing activity
// returns it from OnDestroy before the consuming activity receives it in
// OnCreate.
type Manager struct {
	ctx *Context
	log log.FieldLogger

	auth         *AuthActivity
	fileTransfer *FileTransferActivity
	setup        *SetupActivity

	tickFn       func(Activity)
	tickInterval time.Duration
}

// NewManager builds a Manager that owns ctx for the remainder of the
// process's activity lifecycle.
func NewManager(ctx *Context) *Manager {
	return &Manager{
		ctx:          ctx,
		log:          log.WithField(trace.Component, "activity:manager"),
		auth:         NewAuthActivity(),
		fileTransfer: NewFileTransferActivity(),
		setup:        NewSetupActivity(),
		tickInterval: DefaultTickInterval,
	}
}

// SetTickInterval overrides the pacing between OnDraw polls, matching the
// CLI's `-T MILLIS` flag.
func (m *Manager) SetTickInterval(d time.Duration) {
	if d > 0 {
		m.tickInterval = d
	}
}

// SetTickFunc installs the hook Run calls once per poll with the currently
// running activity, so the UI runtime can deliver input events. Run polls
// OnDraw, this hook and WillUmount in turn, sleeping the tick interval
// between polls, until the activity asks to exit; the interactive redraw
// cadence belongs to the UI runtime (spec.md §1/§6), not this module.
func (m *Manager) SetTickFunc(fn func(Activity)) {
	m.tickFn = fn
}

// Auth, FileTransfer and Setup expose the concrete activity instances so a
// UI runtime driving Run's per-tick hook can type-assert and call their
// intent methods (SubmitConnection, SendToRemote, UpdateUI, ...).
func (m *Manager) Auth() *AuthActivity                 { return m.auth }
func (m *Manager) FileTransfer() *FileTransferActivity { return m.fileTransfer }
func (m *Manager) Setup() *SetupActivity               { return m.setup }

// Run drives the activity sequence to completion starting from
// AuthActivity, calling tickFn (if set) once per OnDraw poll of the active
// activity. It returns when the active activity chain reaches KindNone
// (process exit), matching spec.md §4.12's loop pseudocode.
func (m *Manager) Run() {
	m.RunFrom(KindAuth)
}

// RunFrom is Run, but starting from an arbitrary activity. The CLI's
// `config` subcommand uses this to enter SetupActivity directly instead of
// routing through AuthActivity first.
func (m *Manager) RunFrom(start Kind) {
	next := start
	for next != KindNone {
		next = m.runOne(next)
	}
}

// runOne runs a single activity to its exit and returns the Kind the
// manager should run next, implementing spec.md §4.12's match block.
// SetupActivity is special-cased to always hand back to KindAuth, per the
// loop table's "(then re-enter Auth)" note, rather than trusting its own
// WillUmount value.
func (m *Manager) runOne(kind Kind) Kind {
	var activity Activity
	switch kind {
	case KindAuth:
		activity = m.auth
	case KindFileTransfer:
		activity = m.fileTransfer
	case KindSetup:
		activity = m.setup
	default:
		m.log.Errorf("unknown activity kind %d, exiting", kind)
		return KindNone
	}

	activity.OnCreate(m.ctx)
	m.ctx = nil

	for {
		activity.OnDraw()
		if m.tickFn != nil {
			m.tickFn(activity)
		}
		if exitKind, done := activity.WillUmount(); done {
			m.ctx = activity.OnDestroy()
			if kind == KindSetup {
				return KindAuth
			}
			return exitKind
		}
		time.Sleep(m.tickInterval)
	}
}
