package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/cabmeter/internal/reconcile"
	"github.com/autopeer-io/cabmeter/internal/trip"
	"github.com/autopeer-io/cabmeter/pkg/mqtt"
	"github.com/autopeer-io/cabmeter/pkg/mqtt/topic"
)

type message struct {
	topic   string
	retain  bool
	payload []byte
}

func (m message) fields(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(m.payload, &out))
	return out
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	published []message
	subs      map[string]mqtt.MessageHandler
	unsubs    []string
}

var _ mqtt.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, subs: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) Start(context.Context) error           { return nil }
func (c *fakeClient) Disconnect(context.Context)            {}
func (c *fakeClient) AwaitConnection(context.Context) error { return nil }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(_ context.Context, topic string, _ int, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, message{topic, retain, payload})
	return nil
}

func (c *fakeClient) Subscribe(_ context.Context, topic string, _ int, h mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = h
	return nil
}

func (c *fakeClient) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topic)
	c.unsubs = append(c.unsubs, topic)
	return nil
}

func (c *fakeClient) deliver(t *testing.T, topic string, payload string) {
	t.Helper()
	c.mu.Lock()
	h, ok := c.subs[topic]
	c.mu.Unlock()
	require.True(t, ok, "no subscription for %s", topic)
	h(context.Background(), topic, []byte(payload))
}

func (c *fakeClient) last() message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.published) == 0 {
		return message{}
	}
	return c.published[len(c.published)-1]
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(opts ...Option) (*Ledger, *fakeClient) {
	c := newFakeClient()
	opts = append([]Option{WithClock(testingclock.NewFakeClock(t0))}, opts...)
	return New(c, topic.NewBuilder("cabmeter/v1"), opts...), c
}

func TestCreateAndPatchTrip(t *testing.T) {
	l, c := newTestLedger()
	require.NoError(t, l.Bind(context.Background(), "ABC"))

	tr := &trip.Trip{ID: "t-1", DeviceID: "ABC", Status: trip.StatusHired, StartTime: t0, Fare: 12.5}
	require.NoError(t, l.CreateTrip(context.Background(), tr))

	msg := c.last()
	assert.Equal(t, "cabmeter/v1/trip/create/ABC", msg.topic)
	fields := msg.fields(t)
	assert.Equal(t, "t-1", fields["id"])
	assert.Equal(t, "HIRED", fields["trip_status"])
	assert.Equal(t, 12.5, fields["fare"])
	assert.Equal(t, "2025-01-01T12:00:00Z", fields["created_at"])

	require.NoError(t, l.PatchTrip(context.Background(), "t-1", map[string]any{"fare": 14.0}))
	msg = c.last()
	assert.Equal(t, "cabmeter/v1/trip/patch/ABC", msg.topic)
	fields = msg.fields(t)
	assert.Equal(t, "t-1", fields["id"])
	assert.Equal(t, 14.0, fields["fare"])
}

func TestCreateUsesTripDeviceBeforeBind(t *testing.T) {
	l, c := newTestLedger()
	require.NoError(t, l.CreateTrip(context.Background(), &trip.Trip{ID: "t-1", DeviceID: "XYZ"}))
	assert.Equal(t, "cabmeter/v1/trip/create/XYZ", c.last().topic)

	assert.ErrorIs(t, l.WriteLog(context.Background(), map[string]any{"action": "x"}), ErrNoDevice)
	assert.ErrorIs(t, l.Bind(context.Background(), ""), ErrNoDevice)
}

func TestNotConnected(t *testing.T) {
	l, c := newTestLedger()
	require.NoError(t, l.Bind(context.Background(), "ABC"))
	c.connected = false

	assert.ErrorIs(t, l.PatchTrip(context.Background(), "t-1", nil), ErrNotConnected)
	_, err := l.ListenTrip(context.Background(), "t-1", func(reconcile.RemoteTrip) {})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, l.Connected())
}

func TestListenTrip(t *testing.T) {
	l, c := newTestLedger()

	var got []reconcile.RemoteTrip
	stop, err := l.ListenTrip(context.Background(), "t-1", func(rt reconcile.RemoteTrip) {
		got = append(got, rt)
	})
	require.NoError(t, err)

	c.deliver(t, "cabmeter/v1/trip/state/t-1", `{"trip_status":"HIRED","amount_paid":10,"fare":27}`)
	c.deliver(t, "cabmeter/v1/trip/state/t-1", `{"trip_status":"ENDED","payment_type":"DASH","trip_end":"2025-01-01T12:30:00Z"}`)
	c.deliver(t, "cabmeter/v1/trip/state/t-1", `not json`)

	require.Len(t, got, 2)
	assert.Equal(t, "t-1", got[0].Trip.ID)
	assert.Equal(t, reconcile.PartiallyPaid, got[0].PaidStatus())
	assert.Equal(t, 27.0, got[0].Trip.Fare)
	assert.Equal(t, trip.StatusEnded, got[1].Trip.Status)
	assert.True(t, got[1].IsDash())
	require.NotNil(t, got[1].Trip.EndTime)
	assert.True(t, got[1].Trip.EndTime.Equal(t0.Add(30*time.Minute)))

	stop()
	stop()
	assert.Equal(t, []string{"cabmeter/v1/trip/state/t-1"}, c.unsubs)
}

func TestQueryLastUnendedTrip(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantID   string
		wantErr  bool
	}{
		{name: "hit", response: `"trip":{"id":"remote-7","trip_status":"HIRED","trip_start":"2025-01-01T11:50:00Z"}`, wantID: "remote-7"},
		{name: "miss", response: `"trip":null`},
		{name: "error", response: `"error":"index unavailable"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, c := newTestLedger()
			require.NoError(t, l.Bind(context.Background(), "ABC"))

			type result struct {
				tr  *trip.Trip
				err error
			}
			done := make(chan result, 1)
			go func() {
				tr, err := l.QueryLastUnendedTrip(context.Background(), "ABC")
				done <- result{tr, err}
			}()

			require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, time.Millisecond)
			req := c.last()
			assert.Equal(t, "cabmeter/v1/trip/query/req/ABC", req.topic)
			reqID := req.fields(t)["request_id"].(string)

			c.deliver(t, "cabmeter/v1/trip/query/resp/ABC", `{"request_id":"other"}`)
			c.deliver(t, "cabmeter/v1/trip/query/resp/ABC", `{"request_id":"`+reqID+`",`+tt.response+`}`)

			r := <-done
			if tt.wantErr {
				assert.Error(t, r.err)
				return
			}
			require.NoError(t, r.err)
			if tt.wantID == "" {
				assert.Nil(t, r.tr)
				return
			}
			require.NotNil(t, r.tr)
			assert.Equal(t, tt.wantID, r.tr.ID)
			assert.True(t, r.tr.StartTime.Equal(t0.Add(-10*time.Minute)))
		})
	}
}

func TestQueryHonoursContext(t *testing.T) {
	l, _ := newTestLedger()
	require.NoError(t, l.Bind(context.Background(), "ABC"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.QueryLastUnendedTrip(ctx, "ABC")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, l.pending)
}

func TestRemoteUnlockFlag(t *testing.T) {
	var raised int
	l, c := newTestLedger(WithUnlockHandler(func() { raised++ }))
	require.NoError(t, l.Bind(context.Background(), "ABC"))

	c.deliver(t, "cabmeter/v1/unlock/ABC", `{"unlock":false}`)
	c.deliver(t, "cabmeter/v1/unlock/ABC", `{"unlock":true}`)
	assert.Equal(t, 1, raised)

	require.NoError(t, l.ResetRemoteUnlock(context.Background()))
	msg := c.last()
	assert.Equal(t, "cabmeter/v1/unlock/ABC", msg.topic)
	assert.True(t, msg.retain)
	assert.Equal(t, false, msg.fields(t)["unlock"])

	require.NoError(t, l.WriteLockRecord(context.Background(), true))
	msg = c.last()
	assert.Equal(t, "cabmeter/v1/lock/ABC", msg.topic)
	assert.Equal(t, true, msg.fields(t)["is_abnormal_pulse"])
}

func TestBindSwitchesDevice(t *testing.T) {
	l, c := newTestLedger()
	require.NoError(t, l.Bind(context.Background(), "ABC"))
	require.NoError(t, l.Bind(context.Background(), "ABC"))
	assert.Empty(t, c.unsubs)

	require.NoError(t, l.Bind(context.Background(), "XYZ"))
	assert.ElementsMatch(t, []string{"cabmeter/v1/trip/query/resp/ABC", "cabmeter/v1/unlock/ABC"}, c.unsubs)
	assert.Equal(t, "XYZ", l.DeviceID())
}

func TestReportStatus(t *testing.T) {
	l, c := newTestLedger()
	assert.ErrorIs(t, l.ReportStatus(context.Background(), true), ErrNoDevice)

	require.NoError(t, l.Bind(context.Background(), "ABC"))
	require.NoError(t, l.ReportStatus(context.Background(), true))
	msg := c.last()
	assert.Equal(t, "cabmeter/v1/status/ABC", msg.topic)
	assert.True(t, msg.retain)
	assert.Equal(t, true, msg.fields(t)["online"])

	topicName, payload, err := OfflineWill(topic.NewBuilder("cabmeter/v1"), "ABC")
	require.NoError(t, err)
	assert.Equal(t, "cabmeter/v1/status/ABC", topicName)
	assert.JSONEq(t, `{"device_id":"ABC","online":false}`, string(payload))
}
