package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/cabmeter/internal/mcu"
	"github.com/autopeer-io/cabmeter/internal/trip"
)

type fakeStore struct {
	mu       sync.Mutex
	abnormal []bool
}

func (s *fakeStore) Subscribe(ctx context.Context) <-chan trip.Snapshot {
	ch := make(chan trip.Snapshot)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (s *fakeStore) SetAbnormalPulse(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abnormal = append(s.abnormal, v)
}

type recorder struct {
	mu   sync.Mutex
	cmds []mcu.Command
}

func (r *recorder) Exec(_ context.Context, cmd mcu.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *recorder) take() []mcu.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.cmds
	r.cmds = nil
	return out
}

type fakeRemote struct {
	mu      sync.Mutex
	records []bool
	resets  int
}

func (f *fakeRemote) WriteLockRecord(_ context.Context, abnormal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, abnormal)
	return nil
}

func (f *fakeRemote) ResetRemoteUnlock(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

type fixture struct {
	store  *fakeStore
	cmd    *recorder
	remote *fakeRemote
	clock  *testingclock.FakeClock
	p      *Protocol
}

func newFixture() *fixture {
	f := &fixture{
		store:  &fakeStore{},
		cmd:    &recorder{},
		remote: &fakeRemote{},
		clock:  testingclock.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.p = New(f.store, f.cmd, f.remote, WithClock(f.clock))
	return f
}

// evaluate runs one evaluation, stepping the fake clock over every sequence delay.
func (f *fixture) evaluate(t *testing.T, snap trip.Snapshot, remoteUnlock bool) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.p.Evaluate(context.Background(), snap, remoteUnlock)
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("evaluation did not finish")
		default:
		}
		if f.clock.HasWaiters() {
			f.clock.Step(StepDelay)
		}
		time.Sleep(time.Millisecond)
	}
}

func locked(overspeed int) trip.Snapshot {
	return trip.Snapshot{Trip: &trip.Trip{
		ID:               "trip-1",
		Status:           trip.StatusHired,
		MCUStatusCode:    2,
		OverspeedSeconds: overspeed,
	}}
}

func TestLockEpisodeUnlocksOnce(t *testing.T) {
	f := newFixture()

	f.evaluate(t, locked(2), false)
	assert.Equal(t, NoAction, f.p.Action())
	assert.Empty(t, f.cmd.take())

	f.evaluate(t, locked(5), false)
	assert.Equal(t, Locked, f.p.Action())
	assert.Equal(t, []mcu.Command{mcu.PlayBeep{Beep: LockBeep}}, f.cmd.take())
	assert.Equal(t, []bool{false}, f.remote.records)

	f.evaluate(t, locked(20), false)
	assert.Empty(t, f.cmd.take(), "lock must not repeat while pending")

	f.evaluate(t, locked(31), false)
	f.evaluate(t, locked(35), false)
	assert.Equal(t, []mcu.Command{mcu.PlayBeep{Beep: WarningBeep}}, f.cmd.take())

	f.evaluate(t, locked(41), false)
	assert.Equal(t, Unlocked, f.p.Action())
	assert.Equal(t, []mcu.Command{mcu.Unlock{}, mcu.EndTrip{Beep: mcu.DefaultBeep}}, f.cmd.take())

	for _, s := range []int{45, 60, 120} {
		f.evaluate(t, locked(s), false)
	}
	assert.Empty(t, f.cmd.take(), "unlock must run once per episode")

	ended := locked(120)
	ended.Trip.Status = trip.StatusEnded
	f.evaluate(t, ended, false)
	assert.Equal(t, NoAction, f.p.Action())

	// A new episode locks again.
	f.evaluate(t, locked(5), false)
	assert.Equal(t, Locked, f.p.Action())
	assert.Equal(t, []mcu.Command{mcu.PlayBeep{Beep: LockBeep}}, f.cmd.take())
}

func TestRemoteUnlockShortCircuits(t *testing.T) {
	f := newFixture()

	snap := locked(5)
	snap.AbnormalPulse = true
	f.evaluate(t, snap, true)

	assert.Equal(t, Unlocked, f.p.Action())
	assert.Equal(t, []mcu.Command{mcu.Unlock{}, mcu.EndTrip{Beep: mcu.DefaultBeep}}, f.cmd.take())
	assert.Equal(t, 1, f.remote.resets)
	assert.Empty(t, f.remote.records, "short circuit skips the lock record")
	assert.Equal(t, []bool{false}, f.store.abnormal)
}

func TestRemoteUnlockKeepsFlagWhenAlreadyUnlocked(t *testing.T) {
	f := newFixture()

	f.evaluate(t, locked(5), true)
	require.Equal(t, Unlocked, f.p.Action())
	f.cmd.take()

	f.evaluate(t, locked(6), true)

	assert.Equal(t, Unlocked, f.p.Action())
	assert.Empty(t, f.cmd.take())
	assert.Equal(t, 1, f.remote.resets, "flag is cleared only by the unlock that ran")
}

func TestUnlockedMeterIsIgnored(t *testing.T) {
	f := newFixture()

	snap := locked(50)
	snap.Trip.MCUStatusCode = 0
	f.evaluate(t, snap, true)

	assert.Equal(t, NoAction, f.p.Action())
	assert.Empty(t, f.cmd.take())
	assert.Zero(t, f.remote.resets)
}

func TestAbnormalPulseLockIsRecorded(t *testing.T) {
	f := newFixture()

	snap := locked(5)
	snap.Trip.MCUStatusCode = 4
	f.evaluate(t, snap, false)

	require.Equal(t, Locked, f.p.Action())
	assert.Equal(t, []bool{true}, f.remote.records)
}

func TestRemaining(t *testing.T) {
	f := newFixture()

	_, ok := f.p.Remaining()
	assert.False(t, ok)

	f.p.trackRemaining(locked(100).Trip)
	got, ok := f.p.Remaining()
	assert.True(t, ok)
	assert.Equal(t, 3500, got)

	f.p.trackRemaining(nil)
	_, ok = f.p.Remaining()
	assert.False(t, ok)
}

func TestRunHonoursRemoteUnlock(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	// Without a snapshot there is no trip to unlock.
	f.p.RemoteUnlock()
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, f.cmd.take())

	cancel()
	require.NoError(t, <-done)
}
