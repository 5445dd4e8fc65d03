package trip

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/cabmeter/internal/mcu"
)

var (
	// ErrTripActive is returned when starting a trip while another is running.
	ErrTripActive = errors.New("trip: a trip is already active")
	// ErrNoTrip is returned when an operation needs an active trip.
	ErrNoTrip = errors.New("trip: no active trip")
	// ErrExtrasLimit is returned when adding extras would reach the cap.
	ErrExtrasLimit = errors.New("trip: extras limit reached")
)

const subscriberBuffer = 32

// Snapshot is an immutable copy of the store state.
type Snapshot struct {
	// Seq increases with every change.
	Seq           uint64
	Trip          *Trip
	Identity      DeviceIdentity
	AbnormalPulse bool
	MCUTime       string
	Params        *mcu.ParametersEnquiry
	MostRecent    *Trip
}

// Store owns the current trip slot and the device state reported by the board.
//
// Every change is published to subscribers as a Snapshot. A slow subscriber
// loses its oldest pending snapshots, never the latest one.
type Store struct {
	clock clock.PassiveClock
	newID func() string

	mu    sync.RWMutex
	state Snapshot
	subs  map[chan Snapshot]struct{}
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used for trip timestamps.
func WithClock(c clock.PassiveClock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithIDGenerator sets the trip id generator.
func WithIDGenerator(fn func() string) StoreOption {
	return func(s *Store) { s.newID = fn }
}

// NewStore returns an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		clock: clock.RealClock{},
		newID: uuid.NewString,
		subs:  make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe returns a channel receiving a snapshot after every change, starting
// with the current state. The channel is closed once ctx is done.
func (s *Store) Subscribe(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, subscriberBuffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.copyLocked()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Trip returns a copy of the current trip, or nil.
func (s *Store) Trip() *Trip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Trip.Clone()
}

func (s *Store) Identity() DeviceIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Identity
}

func (s *Store) SetIdentity(id DeviceIdentity) {
	s.update(func(st *Snapshot) bool {
		if st.Identity == id {
			return false
		}
		st.Identity = id
		return true
	})
}

func (s *Store) AbnormalPulse() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AbnormalPulse
}

func (s *Store) SetAbnormalPulse(v bool) {
	s.update(func(st *Snapshot) bool {
		if st.AbnormalPulse == v {
			return false
		}
		st.AbnormalPulse = v
		return true
	})
}

func (s *Store) MCUTime() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.MCUTime
}

// SetMCUTime records the board clock. It does not notify subscribers.
func (s *Store) SetMCUTime(t string) {
	s.mu.Lock()
	s.state.MCUTime = t
	s.mu.Unlock()
}

func (s *Store) MCUParams() *mcu.ParametersEnquiry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Params == nil {
		return nil
	}
	p := *s.state.Params
	return &p
}

func (s *Store) SetMCUParams(p mcu.ParametersEnquiry) {
	s.update(func(st *Snapshot) bool {
		st.Params = &p
		return true
	})
}

func (s *Store) MostRecent() *Trip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.MostRecent.Clone()
}

func (s *Store) SetMostRecent(t *Trip) {
	s.update(func(st *Snapshot) bool {
		st.MostRecent = t.Clone()
		return true
	})
}

// Begin starts a new trip from the stored identity. Overspeed time starts at zero.
func (s *Store) Begin(paused bool) (*Trip, error) {
	var started *Trip
	err := s.mutate(func(st *Snapshot) error {
		if st.Trip.Active() {
			return ErrTripActive
		}
		status := StatusHired
		if paused {
			status = StatusStopped
		}
		now := s.clock.Now()
		t := &Trip{
			ID:           s.newID(),
			LicensePlate: st.Identity.LicensePlate,
			DeviceID:     st.Identity.DeviceID,
			StartTime:    now,
			Status:       status,
			RequiresSync: true,
			IsNewTrip:    true,
		}
		if paused {
			t.PauseTime = &now
		}
		st.Trip = t
		started = t.Clone()
		return nil
	})
	return started, err
}

// AssignID gives the blank id trip an id. isNew selects whether the remote
// record still has to be created.
func (s *Store) AssignID(id string, isNew bool) error {
	return s.mutate(func(st *Snapshot) error {
		if st.Trip == nil || st.Trip.ID != "" {
			return ErrNoTrip
		}
		st.Trip.ID = id
		st.Trip.IsNewTrip = isNew
		st.Trip.RequiresSync = true
		return nil
	})
}

// Adopt merges a recovered remote record into the blank id trip. Identity and
// start come from the record, live figures stay as reported by the board.
func (s *Store) Adopt(remote *Trip) error {
	return s.mutate(func(st *Snapshot) error {
		if st.Trip == nil || st.Trip.ID != "" {
			return ErrNoTrip
		}
		t := st.Trip
		t.ID = remote.ID
		if !remote.StartTime.IsZero() {
			t.StartTime = remote.StartTime
		}
		if t.Status == StatusStopped && remote.PauseTime != nil {
			p := *remote.PauseTime
			t.PauseTime = &p
		}
		t.IsDash = remote.IsDash
		t.IsNewTrip = false
		t.RequiresSync = true
		return nil
	})
}

// MarkSynced clears the sync flags of trip id without notifying subscribers.
func (s *Store) MarkSynced(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.state.Trip; t != nil && t.ID == id {
		t.RequiresSync = false
		t.IsNewTrip = false
	}
}

// SetDash records whether the trip was paid through the dash app.
func (s *Store) SetDash(id string, dash bool) {
	s.update(func(st *Snapshot) bool {
		if st.Trip == nil || st.Trip.ID != id || st.Trip.IsDash == dash {
			return false
		}
		st.Trip.IsDash = dash
		return true
	})
}

// Clear empties the trip slot.
func (s *Store) Clear() {
	s.update(func(st *Snapshot) bool {
		if st.Trip == nil {
			return false
		}
		st.Trip = nil
		return true
	})
}

func (s *Store) mutate(fn func(*Snapshot) error) error {
	var err error
	s.update(func(st *Snapshot) bool {
		err = fn(st)
		return err == nil
	})
	return err
}

// update applies fn and notifies subscribers when fn reports a change.
func (s *Store) update(fn func(*Snapshot) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !fn(&s.state) {
		return
	}
	s.state.Seq++
	snap := s.copyLocked()
	for ch := range s.subs {
		publish(ch, snap)
	}
}

func publish(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (s *Store) copyLocked() Snapshot {
	c := s.state
	c.Trip = s.state.Trip.Clone()
	c.MostRecent = s.state.MostRecent.Clone()
	if s.state.Params != nil {
		p := *s.state.Params
		c.Params = &p
	}
	return c
}
