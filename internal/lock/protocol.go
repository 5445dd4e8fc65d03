// Package lock drives the meter through an overspeed or abnormal pulse lock
// episode: warn the driver, record the lock remotely and finally force the
// board to unlock and end the trip.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/cabmeter/internal/mcu"
	"github.com/autopeer-io/cabmeter/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/cabmeter/internal/pkg/util/fsm"
	"github.com/autopeer-io/cabmeter/internal/trip"
)

var (
	// LockBeep is played when a lock episode starts.
	LockBeep = mcu.Beep{Duration: 10, Interval: 80, Repeat: 30}
	// WarningBeep is played once the lock passes the warning threshold.
	WarningBeep = mcu.Beep{Duration: 20, Interval: 20, Repeat: 5}
)

// Thresholds are overspeed durations in seconds.
type Thresholds struct {
	Lock    int
	Warning int
	Unlock  int
}

var DefaultThresholds = Thresholds{Lock: 3, Warning: 30, Unlock: 40}

// StepDelay separates the steps of the lock and unlock sequences.
const StepDelay = time.Second

// Commander executes a board command and waits for it to be written.
type Commander interface {
	Exec(ctx context.Context, cmd mcu.Command) error
}

// Remote is the part of the ledger the lock protocol writes to.
type Remote interface {
	WriteLockRecord(ctx context.Context, isAbnormalPulse bool) error
	ResetRemoteUnlock(ctx context.Context) error
}

// Store is the trip state the protocol observes.
type Store interface {
	Subscribe(ctx context.Context) <-chan trip.Snapshot
	SetAbnormalPulse(v bool)
}

type Option func(*Protocol)

func WithClock(c clock.Clock) Option {
	return func(p *Protocol) { p.clock = c }
}

func WithThresholds(th Thresholds) Option {
	return func(p *Protocol) { p.thresholds = th }
}

func WithLogger(l logr.Logger) Option {
	return func(p *Protocol) { p.log = l }
}

// Protocol is the lock state machine of one meter.
type Protocol struct {
	store  Store
	cmd    Commander
	remote Remote

	clock      clock.Clock
	thresholds Thresholds
	log        logr.Logger

	unlockReq chan struct{}

	mu        sync.Mutex
	fsm       *machine
	unlockRun bool
	warned    bool
	remaining *int
}

func New(store Store, cmd Commander, remote Remote, opts ...Option) *Protocol {
	p := &Protocol{
		store:      store,
		cmd:        cmd,
		remote:     remote,
		clock:      clock.RealClock{},
		thresholds: DefaultThresholds,
		log:        logr.Discard(),
		unlockReq:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.fsm = newMachine(p)
	return p
}

// RemoteUnlock requests an unlock initiated from the remote ledger.
// It never blocks.
func (p *Protocol) RemoteUnlock() {
	select {
	case p.unlockReq <- struct{}{}:
	default:
	}
}

// Action returns the current lock state.
func (p *Protocol) Action() Action {
	return p.fsm.action()
}

// Remaining returns the seconds left before the lock times out, if known.
func (p *Protocol) Remaining() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remaining == nil {
		return 0, false
	}
	return *p.remaining, true
}

// Run evaluates every trip snapshot and remote unlock request until ctx is done.
func (p *Protocol) Run(ctx context.Context) error {
	p.log.Info("Lock protocol started", "thresholds", p.thresholds)
	snaps := p.store.Subscribe(ctx)
	var last trip.Snapshot
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			last = snap
			p.Evaluate(ctx, snap, false)
		case <-p.unlockReq:
			p.Evaluate(ctx, last, true)
		}
	}
}

// Evaluate advances the state machine for one snapshot. remoteUnlock reports
// that the ledger asked for the meter to be unlocked.
func (p *Protocol) Evaluate(ctx context.Context, snap trip.Snapshot, remoteUnlock bool) {
	t := snap.Trip
	p.trackRemaining(t)

	if !t.Active() {
		if p.fsm.action() != NoAction {
			p.fire(ctx, EventReset)
		}
		p.mu.Lock()
		p.unlockRun, p.warned = false, false
		p.mu.Unlock()
		return
	}

	if !t.ShouldLock() {
		return
	}
	abnormal := snap.AbnormalPulse || t.AbnormalPulse()

	if remoteUnlock {
		p.log.Info("Remote unlock requested", "tripID", t.ID)
		if !p.fire(ctx, EventUnlock, abnormal, true) {
			p.log.Info("Remote unlock ignored", "tripID", t.ID, "state", p.fsm.action())
			return
		}
		if err := p.remote.ResetRemoteUnlock(ctx); err != nil {
			p.log.Error(err, "Failed to reset remote unlock flag", "tripID", t.ID)
		}
		return
	}

	if t.OverspeedSeconds > p.thresholds.Lock && p.fsm.action() == NoAction {
		p.fire(ctx, EventLock, abnormal)
	}

	if t.OverspeedSeconds > p.thresholds.Warning && p.fsm.action() == Locked && p.markWarned() {
		p.exec(ctx, mcu.PlayBeep{Beep: WarningBeep})
	}

	if t.OverspeedSeconds > p.thresholds.Unlock {
		p.fire(ctx, EventUnlock, abnormal, false)
	}
}

// fire reports whether the transition ran.
func (p *Protocol) fire(ctx context.Context, event string, args ...any) bool {
	from := p.fsm.action()
	err := p.fsm.Event(ctx, event, args...)
	if err != nil {
		if !fsmutil.Skipped(err) {
			p.log.Error(err, "Lock transition failed", "event", event, "from", from)
		}
		return false
	}
	metrics.LockEpisodes.WithLabelValues(string(p.fsm.action())).Inc()
	p.log.V(1).Info("Lock transition", "event", event, "from", from, "to", p.fsm.action())
	return true
}

// guardUnlock lets the hard threshold unlock once per episode. A remote unlock
// always proceeds.
func (p *Protocol) guardUnlock(_ context.Context, e *fsm.Event) error {
	remote := len(e.Args) > 1 && e.Args[1].(bool)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unlockRun && !remote {
		e.Cancel(fsm.NoTransitionError{})
		return nil
	}
	p.unlockRun = true
	return nil
}

func (p *Protocol) enterLocked(ctx context.Context, e *fsm.Event) error {
	abnormal := len(e.Args) > 0 && e.Args[0].(bool)
	p.log.Info("Meter locked", "abnormalPulse", abnormal)

	p.exec(ctx, mcu.PlayBeep{Beep: LockBeep})
	if err := p.sleep(ctx); err != nil {
		return err
	}
	if err := p.remote.WriteLockRecord(ctx, abnormal); err != nil {
		p.log.Error(err, "Failed to write meter lock record")
	}
	return nil
}

func (p *Protocol) enterUnlocked(ctx context.Context, e *fsm.Event) error {
	abnormal := len(e.Args) > 0 && e.Args[0].(bool)
	if abnormal {
		p.store.SetAbnormalPulse(false)
	}
	p.log.Info("Unlocking meter", "abnormalPulse", abnormal)

	if err := p.exec(ctx, mcu.Unlock{}); err != nil {
		return err
	}
	if err := p.sleep(ctx); err != nil {
		return err
	}
	return p.exec(ctx, mcu.EndTrip{Beep: mcu.DefaultBeep})
}

func (p *Protocol) enterNoAction(context.Context, *fsm.Event) error {
	p.log.Info("Lock episode closed")
	return nil
}

func (p *Protocol) exec(ctx context.Context, cmd mcu.Command) error {
	if err := p.cmd.Exec(ctx, cmd); err != nil {
		p.log.Error(err, "Failed to send lock command", "command", cmd.String())
		return fmt.Errorf("lock: %s: %w", cmd, err)
	}
	return nil
}

func (p *Protocol) sleep(ctx context.Context) error {
	select {
	case <-p.clock.After(StepDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Protocol) markWarned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.warned {
		return false
	}
	p.warned = true
	return true
}

func (p *Protocol) trackRemaining(t *trip.Trip) {
	var remaining *int
	if t.Active() {
		if r, ok := t.RemainingLockSeconds(trip.DefaultMaxLockSeconds, trip.DefaultMinLockSecondsAfter); ok {
			remaining = &r
		}
	}
	p.mu.Lock()
	p.remaining = remaining
	p.mu.Unlock()
}
