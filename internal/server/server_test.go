package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/cabmeter/internal/firmware"
	"github.com/autopeer-io/cabmeter/internal/history"
	"github.com/autopeer-io/cabmeter/internal/lock"
	"github.com/autopeer-io/cabmeter/internal/reconcile"
	"github.com/autopeer-io/cabmeter/internal/trip"
)

type fakeLock struct {
	action    lock.Action
	remaining int
}

func (f fakeLock) Action() lock.Action { return f.action }
func (f fakeLock) Remaining() (int, bool) {
	return f.remaining, f.remaining > 0
}

type fakePayment struct{ status reconcile.PaidStatus }

func (f fakePayment) PaidStatus() reconcile.PaidStatus { return f.status }
func (fakePayment) Recovering() bool                   { return false }

type fakeHistory struct{ trips []*trip.Trip }

func (f fakeHistory) List(_ context.Context, limit int) ([]*trip.Trip, error) {
	if limit > 0 && limit < len(f.trips) {
		return f.trips[:limit], nil
	}
	return f.trips, nil
}

func (f fakeHistory) Get(_ context.Context, id string) (*trip.Trip, error) {
	for _, t := range f.trips {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, history.ErrNotFound
}

type fakeReady bool

func (f fakeReady) Connected() bool { return bool(f) }

type fakeOperator struct {
	started bool
	extras  int
	err     error
}

func (f *fakeOperator) StartTrip(_ context.Context, paused bool) (*trip.Trip, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.started = true
	status := trip.StatusHired
	if paused {
		status = trip.StatusStopped
	}
	return &trip.Trip{ID: "t-1", Status: status}, nil
}
func (f *fakeOperator) PauseTrip(context.Context) error  { return f.err }
func (f *fakeOperator) ResumeTrip(context.Context) error { return f.err }
func (f *fakeOperator) EndTrip(context.Context) error    { return f.err }
func (f *fakeOperator) AddExtras(_ context.Context, n int) (int, error) {
	f.extras += n
	return f.extras, f.err
}
func (f *fakeOperator) SubtractExtras(_ context.Context, n int) (int, error) {
	f.extras = max(f.extras-n, 0)
	return f.extras, f.err
}
func (f *fakeOperator) BeginFirmware(context.Context, string, string) error {
	return firmware.ErrSessionActive
}

func newTestServer(t *testing.T, store *trip.Store, op Operator) *httptest.Server {
	t.Helper()
	srv := New(Deps{
		Trips:    store,
		Lock:     fakeLock{action: lock.Locked, remaining: 120},
		Payment:  fakePayment{status: reconcile.PartiallyPaid},
		History:  fakeHistory{trips: []*trip.Trip{{ID: "b"}, {ID: "a"}}},
		Ready:    fakeReady(false),
		Operator: op,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t, trip.NewStore(), nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetTrip(t *testing.T) {
	store := trip.NewStore(trip.WithIDGenerator(func() string { return "t-1" }))
	store.SetIdentity(trip.DeviceIdentity{DeviceID: "ABC1234567", LicensePlate: "AB1234"})
	_, err := store.Begin(false)
	require.NoError(t, err)

	ts := newTestServer(t, store, nil)
	resp, err := http.Get(ts.URL + "/api/v1/trip")
	require.NoError(t, err)
	defer resp.Body.Close()

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.NotNil(t, st.Trip)
	assert.Equal(t, "t-1", st.Trip.ID)
	assert.Equal(t, "ABC1234567", st.Identity.DeviceID)
	assert.Equal(t, lock.Locked, st.Lock)
	require.NotNil(t, st.RemainingLockSeconds)
	assert.Equal(t, 120, *st.RemainingLockSeconds)
	assert.Equal(t, reconcile.PartiallyPaid, st.PaidStatus)
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t, trip.NewStore(), nil)

	resp, err := http.Get(ts.URL + "/api/v1/history?limit=1")
	require.NoError(t, err)
	var trips []*trip.Trip
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&trips))
	resp.Body.Close()
	require.Len(t, trips, 1)
	assert.Equal(t, "b", trips[0].ID)

	resp, err = http.Get(ts.URL + "/api/v1/history?limit=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/history/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestControlRoutes(t *testing.T) {
	t.Run("disabled without operator", func(t *testing.T) {
		ts := newTestServer(t, trip.NewStore(), nil)
		resp, err := http.Post(ts.URL+"/api/v1/trip/start", "", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("start and extras", func(t *testing.T) {
		op := &fakeOperator{}
		ts := newTestServer(t, trip.NewStore(), op)

		resp, err := http.Post(ts.URL+"/api/v1/trip/start?paused=true", "", nil)
		require.NoError(t, err)
		var started trip.Trip
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
		resp.Body.Close()
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, trip.StatusStopped, started.Status)

		resp, err = http.Post(ts.URL+"/api/v1/trip/extras", "application/json", strings.NewReader(`{"delta":5}`))
		require.NoError(t, err)
		resp.Body.Close()
		resp, err = http.Post(ts.URL+"/api/v1/trip/extras", "application/json", strings.NewReader(`{"delta":-2}`))
		require.NoError(t, err)
		var body map[string]int
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		assert.Equal(t, 3, body["extras"])

		resp, err = http.Post(ts.URL+"/api/v1/trip/extras", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("conflicts", func(t *testing.T) {
		op := &fakeOperator{err: trip.ErrTripActive}
		ts := newTestServer(t, trip.NewStore(), op)

		resp, err := http.Post(ts.URL+"/api/v1/trip/start", "", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		resp, err = http.Post(ts.URL+"/api/v1/firmware", "application/json",
			strings.NewReader(`{"object":"fw.bin","version":"23082501"}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestTripStream(t *testing.T) {
	store := trip.NewStore()
	ts := newTestServer(t, store, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/trip"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first Status
	require.NoError(t, conn.ReadJSON(&first))
	assert.Nil(t, first.Trip)

	store.SetIdentity(trip.DeviceIdentity{DeviceID: "ABC1234567"})

	// The change may already be part of the first message.
	next := first
	for next.Identity.DeviceID == "" {
		require.NoError(t, conn.ReadJSON(&next))
	}
	assert.Equal(t, uint64(1), next.Seq)
	assert.Equal(t, "ABC1234567", next.Identity.DeviceID)
}
