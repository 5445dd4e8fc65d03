// Package ledger implements the remote trip ledger over MQTT. Records are
// JSON encoded google.protobuf.Struct values.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/cabmeter/internal/reconcile"
	"github.com/autopeer-io/cabmeter/internal/trip"
	"github.com/autopeer-io/cabmeter/pkg/log"
	"github.com/autopeer-io/cabmeter/pkg/mqtt"
	"github.com/autopeer-io/cabmeter/pkg/mqtt/topic"
)

var (
	// ErrNotConnected is returned while the broker connection is down.
	ErrNotConnected = errors.New("ledger: not connected")
	// ErrNoDevice is returned by device scoped operations before Bind.
	ErrNoDevice = errors.New("ledger: no device bound")
)

const qos = 1

var _ reconcile.Ledger = (*Ledger)(nil)

type Option func(*Ledger)

func WithClock(c clock.PassiveClock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithUnlockHandler sets the callback run when the remote unlock flag is raised.
func WithUnlockHandler(fn func()) Option {
	return func(l *Ledger) { l.onUnlock = fn }
}

// Ledger publishes trip records for one meter and follows the ledger's answers.
type Ledger struct {
	mc     mqtt.Client
	topics *topic.Builder
	clock  clock.PassiveClock
	log    log.Logger

	onUnlock func()

	mu       sync.Mutex
	deviceID string
	pending  map[string]chan queryResult
}

type queryResult struct {
	trip *trip.Trip
	err  error
}

func New(client mqtt.Client, topics *topic.Builder, opts ...Option) *Ledger {
	l := &Ledger{
		mc:      client,
		topics:  topics,
		clock:   clock.RealClock{},
		log:     log.WithName("ledger"),
		pending: make(map[string]chan queryResult),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connected reports whether the broker connection is up.
func (l *Ledger) Connected() bool {
	return l.mc.IsConnected()
}

// DeviceID returns the bound device, if any.
func (l *Ledger) DeviceID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deviceID
}

// Bind scopes the ledger to deviceID and subscribes to the device's topics.
// Binding the same device again is a no-op.
func (l *Ledger) Bind(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return ErrNoDevice
	}
	l.mu.Lock()
	prev := l.deviceID
	l.deviceID = deviceID
	l.mu.Unlock()
	if prev == deviceID {
		return nil
	}

	if prev != "" {
		for _, t := range []string{l.topics.TripQueryResp(prev), l.topics.Unlock(prev)} {
			if err := l.mc.Unsubscribe(ctx, t); err != nil {
				l.log.Warn("Failed to drop subscription of previous device", "topic", t, "error", err)
			}
		}
	}

	if err := l.mc.Subscribe(ctx, l.topics.TripQueryResp(deviceID), qos, l.handleQueryResponse); err != nil {
		return fmt.Errorf("ledger: subscribe query responses: %w", err)
	}
	if err := l.mc.Subscribe(ctx, l.topics.Unlock(deviceID), qos, l.handleUnlock); err != nil {
		return fmt.Errorf("ledger: subscribe unlock flag: %w", err)
	}
	l.log.Info("Ledger bound to device", "deviceID", deviceID)
	return nil
}

func (l *Ledger) CreateTrip(ctx context.Context, t *trip.Trip) error {
	device, err := l.device(t.DeviceID)
	if err != nil {
		return err
	}
	fields := reconcile.PatchFields(t)
	fields["created_at"] = l.now()
	return l.publish(ctx, l.topics.TripCreate(device), false, fields)
}

func (l *Ledger) PatchTrip(ctx context.Context, id string, fields map[string]any) error {
	device, err := l.device("")
	if err != nil {
		return err
	}
	out := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["id"] = id
	out["updated_at"] = l.now()
	return l.publish(ctx, l.topics.TripPatch(device), false, out)
}

func (l *Ledger) ListenTrip(ctx context.Context, id string, onChange func(reconcile.RemoteTrip)) (func(), error) {
	if !l.Connected() {
		return nil, ErrNotConnected
	}
	name := l.topics.TripState(id)
	err := l.mc.Subscribe(ctx, name, qos, func(_ context.Context, _ string, payload []byte) {
		rt, err := decodeRemoteTrip(payload)
		if err != nil {
			l.log.Warn("Dropping undecodable trip state", "tripID", id, "error", err)
			return
		}
		if rt.Trip.ID == "" {
			rt.Trip.ID = id
		}
		onChange(rt)
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: listen trip %s: %w", id, err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.mc.Unsubscribe(ctx, name); err != nil {
				l.log.Warn("Failed to stop listening", "tripID", id, "error", err)
			}
		})
	}
	return stop, nil
}

// QueryLastUnendedTrip asks the ledger for the device's open trip and waits
// for the answer until ctx is done.
func (l *Ledger) QueryLastUnendedTrip(ctx context.Context, deviceID string) (*trip.Trip, error) {
	device, err := l.device(deviceID)
	if err != nil {
		return nil, err
	}

	reqID := uuid.NewString()
	ch := make(chan queryResult, 1)
	l.mu.Lock()
	l.pending[reqID] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, reqID)
		l.mu.Unlock()
	}()

	req := map[string]any{
		"request_id": reqID,
		"device_id":  device,
		"sent_at":    l.now(),
	}
	if err := l.publish(ctx, l.topics.TripQueryReq(device), false, req); err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.trip, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Ledger) WriteLog(ctx context.Context, fields map[string]any) error {
	device, err := l.device("")
	if err != nil {
		return err
	}
	return l.publish(ctx, l.topics.Log(device), false, fields)
}

// WriteLockRecord records that the meter locked on overspeed or an abnormal pulse.
func (l *Ledger) WriteLockRecord(ctx context.Context, isAbnormalPulse bool) error {
	device, err := l.device("")
	if err != nil {
		return err
	}
	return l.publish(ctx, l.topics.Lock(device), false, map[string]any{
		"device_id":         device,
		"is_abnormal_pulse": isAbnormalPulse,
		"locked_at":         l.now(),
	})
}

// ResetRemoteUnlock clears the retained unlock flag once it was honoured.
func (l *Ledger) ResetRemoteUnlock(ctx context.Context) error {
	device, err := l.device("")
	if err != nil {
		return err
	}
	return l.publish(ctx, l.topics.Unlock(device), true, map[string]any{
		"unlock":     false,
		"updated_at": l.now(),
	})
}

// ReportStatus publishes the retained online flag of the bound device.
func (l *Ledger) ReportStatus(ctx context.Context, online bool) error {
	device, err := l.device("")
	if err != nil {
		return err
	}
	return l.publish(ctx, l.topics.Status(device), true, statusFields(device, online))
}

// OfflineWill returns the topic and payload the broker publishes for
// deviceID when the connection drops.
func OfflineWill(topics *topic.Builder, deviceID string) (string, []byte, error) {
	payload, err := encode(statusFields(deviceID, false))
	if err != nil {
		return "", nil, err
	}
	return topics.Status(deviceID), payload, nil
}

func statusFields(device string, online bool) map[string]any {
	return map[string]any{"device_id": device, "online": online}
}

func (l *Ledger) handleQueryResponse(_ context.Context, _ string, payload []byte) {
	resp := &structpb.Struct{}
	if err := protojson.Unmarshal(payload, resp); err != nil {
		l.log.Warn("Dropping undecodable query response", "error", err)
		return
	}
	f := resp.GetFields()
	reqID := f["request_id"].GetStringValue()

	l.mu.Lock()
	ch, ok := l.pending[reqID]
	l.mu.Unlock()
	if !ok {
		l.log.Debug("Query response without a waiting request", "requestID", reqID)
		return
	}

	var r queryResult
	switch tv := f["trip"].GetStructValue(); {
	case f["error"].GetStringValue() != "":
		r.err = fmt.Errorf("ledger: query failed: %s", f["error"].GetStringValue())
	case tv != nil:
		r.trip = decodeTrip(tv)
	}
	select {
	case ch <- r:
	default:
	}
}

func (l *Ledger) handleUnlock(_ context.Context, _ string, payload []byte) {
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(payload, msg); err != nil {
		l.log.Warn("Dropping undecodable unlock flag", "error", err)
		return
	}
	if !msg.GetFields()["unlock"].GetBoolValue() {
		return
	}
	l.log.Info("Remote unlock flag raised")
	if l.onUnlock != nil {
		l.onUnlock()
	}
}

func (l *Ledger) publish(ctx context.Context, name string, retain bool, fields map[string]any) error {
	if !l.Connected() {
		return ErrNotConnected
	}
	payload, err := encode(fields)
	if err != nil {
		return fmt.Errorf("ledger: encode %s: %w", name, err)
	}
	if err := l.mc.Publish(ctx, name, qos, retain, payload); err != nil {
		return fmt.Errorf("ledger: publish %s: %w", name, err)
	}
	return nil
}

func encode(fields map[string]any) ([]byte, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(msg)
}

// device returns the bound device, falling back to hint.
func (l *Ledger) device(hint string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.deviceID != "":
		return l.deviceID, nil
	case hint != "":
		return hint, nil
	default:
		return "", ErrNoDevice
	}
}

func (l *Ledger) now() string {
	return l.clock.Now().UTC().Format(time.RFC3339)
}
