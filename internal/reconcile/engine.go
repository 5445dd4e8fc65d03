package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/cabmeter/internal/pkg/metrics"
	"github.com/autopeer-io/cabmeter/internal/trip"
	"github.com/autopeer-io/cabmeter/pkg/log"
)

const DefaultLookupTimeout = 10 * time.Second

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLookupTimeout bounds the remote lookup of a lost trip.
func WithLookupTimeout(d time.Duration) Option {
	return func(e *Engine) { e.lookupTimeout = d }
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine keeps the remote ledger in step with the trip store.
type Engine struct {
	store   *trip.Store
	ledger  Ledger
	history History

	clock         clock.Clock
	lookupTimeout time.Duration
	newID         func() string
	log           log.Logger

	mu         sync.Mutex
	listening  string
	stopListen func()
	recovering bool
	finalized  string
	// unsynced is an ended trip the ledger has not seen in its final state.
	unsynced   *trip.Trip
	paid       PaidStatus
	counters   *[2]int
	recoveries sync.WaitGroup
}

// New returns an engine syncing store against ledger.
func New(store *trip.Store, ledger Ledger, history History, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		ledger:        ledger,
		history:       history,
		clock:         clock.RealClock{},
		lookupTimeout: DefaultLookupTimeout,
		newID:         uuid.NewString,
		log:           log.WithName("reconcile"),
		paid:          NotPaid,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run reconciles every store change until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("Reconciliation engine started", "lookupTimeout", e.lookupTimeout)
	for snap := range e.store.Subscribe(ctx) {
		e.Reconcile(ctx, snap)
	}
	e.detach()
	e.recoveries.Wait()
	return nil
}

// PaidStatus returns the payment state of the current trip.
func (e *Engine) PaidStatus() PaidStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paid
}

// Recovering reports whether a lost trip lookup is in flight.
func (e *Engine) Recovering() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recovering
}

// Reconcile brings the ledger in line with one store snapshot.
func (e *Engine) Reconcile(ctx context.Context, snap trip.Snapshot) {
	t := snap.Trip
	e.retryUnsynced(ctx, t)
	if t == nil {
		e.resetCounters()
		return
	}

	e.logCounters(ctx, t)

	if t.ID == "" {
		e.recoverLostTrip(ctx, t.DeviceID)
		return
	}

	synced := true
	if t.RequiresSync || (t.Active() && e.listeningTo() != t.ID) {
		if err := e.sync(ctx, t); err != nil {
			e.log.Error(err, "Failed to sync trip, retrying on next change", "tripID", t.ID)
			synced = false
		} else {
			e.store.MarkSynced(t.ID)
			e.clearUnsynced(t.ID)
		}
	}

	if t.Status != trip.StatusEnded {
		return
	}
	// The local record of an ended trip does not wait for the ledger.
	if !synced {
		e.mu.Lock()
		e.unsynced = t.Clone()
		e.mu.Unlock()
	}
	e.finalize(ctx, t)
}

// retryUnsynced pushes a held ended trip once the store moved past it.
func (e *Engine) retryUnsynced(ctx context.Context, current *trip.Trip) {
	e.mu.Lock()
	t := e.unsynced
	e.mu.Unlock()
	if t == nil || (current != nil && current.ID == t.ID) {
		return
	}

	var err error
	if t.IsNewTrip {
		err = e.ledger.CreateTrip(ctx, t)
	} else {
		err = e.ledger.PatchTrip(ctx, t.ID, PatchFields(t))
	}
	metrics.LedgerOps.WithLabelValues("retry", metrics.Status(err)).Inc()
	if err != nil {
		e.log.Debug("Ended trip still not on the ledger", "tripID", t.ID, "error", err)
		return
	}
	e.clearUnsynced(t.ID)
	e.log.Info("Ended trip synced to ledger", "tripID", t.ID)
}

func (e *Engine) clearUnsynced(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsynced != nil && e.unsynced.ID == id {
		e.unsynced = nil
	}
}

func (e *Engine) sync(ctx context.Context, t *trip.Trip) error {
	start := e.clock.Now()
	op := "patch"
	var err error
	if t.IsNewTrip {
		op = "create"
		err = e.ledger.CreateTrip(ctx, t)
		if err == nil && t.Active() {
			if perr := e.history.SetOngoingTripID(ctx, t.ID); perr != nil {
				e.log.Error(perr, "Failed to persist ongoing trip id", "tripID", t.ID)
			}
		}
	} else {
		err = e.ledger.PatchTrip(ctx, t.ID, PatchFields(t))
	}
	metrics.LedgerOps.WithLabelValues(op, metrics.Status(err)).Inc()
	metrics.LedgerLatency.WithLabelValues(op).Observe(e.clock.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s trip %s: %w", op, t.ID, err)
	}

	if t.Active() && e.listeningTo() != t.ID {
		e.attach(ctx, t.ID)
	}
	return nil
}

// finalize runs once per ended trip.
func (e *Engine) finalize(ctx context.Context, t *trip.Trip) {
	e.mu.Lock()
	if e.finalized == t.ID {
		e.mu.Unlock()
		return
	}
	e.finalized = t.ID
	e.paid = NotPaid
	e.mu.Unlock()

	if err := e.history.AppendCompletedTrip(ctx, t); err != nil {
		e.log.Error(err, "Failed to store completed trip", "tripID", t.ID)
	}
	if err := e.history.ClearOngoingTripID(ctx); err != nil {
		e.log.Error(err, "Failed to clear ongoing trip id", "tripID", t.ID)
	}
	e.store.SetMostRecent(t)
	e.detach()
	e.log.Info("Trip completed", "tripID", t.ID, "total", t.TotalFare)
}

func (e *Engine) listeningTo() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listening
}

func (e *Engine) attach(ctx context.Context, id string) {
	e.detach()

	stop, err := e.ledger.ListenTrip(ctx, id, e.onRemoteChange)
	if err != nil {
		e.log.Error(err, "Failed to listen for remote trip changes", "tripID", id)
		return
	}

	e.mu.Lock()
	e.listening, e.stopListen = id, stop
	e.mu.Unlock()
	e.log.Debug("Listening to remote trip", "tripID", id)
}

func (e *Engine) detach() {
	e.mu.Lock()
	stop := e.stopListen
	e.listening, e.stopListen = "", nil
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (e *Engine) onRemoteChange(rt RemoteTrip) {
	if rt.Trip == nil {
		return
	}
	status := rt.PaidStatus()

	e.mu.Lock()
	if rt.Trip.ID != e.listening {
		e.mu.Unlock()
		return
	}
	e.paid = status
	e.mu.Unlock()
	e.log.Info("Remote trip changed", "tripID", rt.Trip.ID, "paidStatus", string(status))

	if rt.Trip.Status != trip.StatusEnded {
		return
	}

	// Ended remotely: the ledger no longer expects updates.
	e.detach()
	dash := rt.IsDash()
	e.store.SetDash(rt.Trip.ID, dash)
	if err := e.history.SetDash(context.Background(), rt.Trip.ID, dash); err != nil {
		e.log.Error(err, "Failed to record dash payment", "tripID", rt.Trip.ID)
	}

	e.mu.Lock()
	e.paid = NotPaid
	e.mu.Unlock()
}

// logCounters publishes a pulse counter record whenever a board counter changes to a positive value.
func (e *Engine) logCounters(ctx context.Context, t *trip.Trip) {
	cur := [2]int{t.AbnormalPulseCounter, t.OverspeedCounter}

	e.mu.Lock()
	prev := e.counters
	changed := func(i int) bool { return cur[i] > 0 && (prev == nil || prev[i] != cur[i]) }
	publish := changed(0) || changed(1)
	if publish {
		e.counters = &cur
	}
	e.mu.Unlock()

	if !publish {
		return
	}
	err := e.ledger.WriteLog(ctx, map[string]any{
		"created_by":                   "cable_meter",
		"action":                       "pulse_counter",
		"trip_id":                      t.ID,
		"abnormal_pulse_counter":       t.AbnormalPulseCounter,
		"over_speed_counter":           t.OverspeedCounter,
		"ongoing_measure_board_status": t.MCUStatus().String(),
		"over_speed_lockup_duration":   t.OverspeedSeconds,
		"device_time":                  e.clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		e.log.Error(err, "Failed to publish pulse counter log", "tripID", t.ID)
	}
}

func (e *Engine) resetCounters() {
	e.mu.Lock()
	e.counters = nil
	e.mu.Unlock()
}

// recoverLostTrip resolves the id of a trip the host lost track of. Only one attempt
// runs at a time; snapshots arriving meanwhile are ignored.
func (e *Engine) recoverLostTrip(ctx context.Context, deviceID string) {
	e.mu.Lock()
	if e.recovering {
		e.mu.Unlock()
		return
	}
	e.recovering = true
	e.mu.Unlock()

	e.recoveries.Add(1)
	go func() {
		defer e.recoveries.Done()
		defer func() {
			e.mu.Lock()
			e.recovering = false
			e.mu.Unlock()
		}()
		e.resolve(ctx, deviceID)
	}()
}

func (e *Engine) resolve(ctx context.Context, deviceID string) {
	if id, err := e.history.OngoingTripID(ctx); err != nil {
		e.log.Error(err, "Failed to read ongoing trip id")
	} else if id != "" {
		e.log.Info("Recovered lost trip from local anchor", "tripID", id)
		e.adopt(&trip.Trip{ID: id}, "local")
		return
	}

	remote, err := e.lookup(ctx, deviceID)
	switch {
	case ctx.Err() != nil:
		return
	case err != nil:
		e.log.Warn("Lost trip lookup failed, minting a new trip", "deviceID", deviceID, "error", err)
	case remote != nil && remote.ID != "":
		e.log.Info("Recovered lost trip from ledger", "tripID", remote.ID, "deviceID", deviceID)
		e.adopt(remote, "remote")
		return
	default:
		e.log.Info("No open trip on ledger, minting a new trip", "deviceID", deviceID)
	}

	id := e.newID()
	if err := e.store.AssignID(id, true); err != nil {
		e.log.Warn("Lost trip vanished before an id was assigned", "tripID", id)
		return
	}
	metrics.LedgerOps.WithLabelValues("recover", "minted").Inc()
}

func (e *Engine) adopt(remote *trip.Trip, source string) {
	if err := e.store.Adopt(remote); err != nil {
		e.log.Warn("Lost trip vanished before it was adopted", "tripID", remote.ID)
		return
	}
	metrics.LedgerOps.WithLabelValues("recover", source).Inc()
}

// lookup queries the ledger, treating the deadline as ErrLookupTimeout.
func (e *Engine) lookup(ctx context.Context, deviceID string) (*trip.Trip, error) {
	type result struct {
		t   *trip.Trip
		err error
	}

	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		t, err := e.ledger.QueryLastUnendedTrip(lctx, deviceID)
		done <- result{t, err}
	}()

	select {
	case r := <-done:
		return r.t, r.err
	case <-e.clock.After(e.lookupTimeout):
		return nil, ErrLookupTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PatchFields renders the ledger fields of t.
func PatchFields(t *trip.Trip) map[string]any {
	fields := map[string]any{
		"id":                     t.ID,
		"license_plate":          t.LicensePlate,
		"device_id":              t.DeviceID,
		"trip_status":            string(t.Status),
		"trip_start":             t.StartTime.UTC().Format(time.RFC3339),
		"fare":                   t.Fare,
		"extra":                  t.Extra,
		"trip_total":             t.TotalFare,
		"distance":               t.DistanceMeters,
		"wait_time":              t.WaitSeconds,
		"overspeed_duration":     t.OverspeedSeconds,
		"abnormal_pulse_counter": t.AbnormalPulseCounter,
		"overspeed_counter":      t.OverspeedCounter,
		"mcu_status":             t.MCUStatusCode,
	}
	if t.PauseTime != nil {
		fields["trip_pause"] = t.PauseTime.UTC().Format(time.RFC3339)
	}
	if t.EndTime != nil {
		fields["trip_end"] = t.EndTime.UTC().Format(time.RFC3339)
	}
	return fields
}
