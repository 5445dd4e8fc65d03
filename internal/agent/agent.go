// Package agent wires the meter host together and runs it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/cabmeter/internal/dispatcher"
	"github.com/autopeer-io/cabmeter/internal/firmware"
	"github.com/autopeer-io/cabmeter/internal/history"
	"github.com/autopeer-io/cabmeter/internal/ledger"
	"github.com/autopeer-io/cabmeter/internal/lock"
	"github.com/autopeer-io/cabmeter/internal/mcu"
	"github.com/autopeer-io/cabmeter/internal/pkg/metrics"
	"github.com/autopeer-io/cabmeter/internal/reconcile"
	"github.com/autopeer-io/cabmeter/internal/server"
	"github.com/autopeer-io/cabmeter/internal/trip"
	"github.com/autopeer-io/cabmeter/pkg/log"
	"github.com/autopeer-io/cabmeter/pkg/mqtt"
)

// ledgerPollInterval paces the connectivity gauge and the online report.
const ledgerPollInterval = 5 * time.Second

// transport is the serial link to the board.
type transport interface {
	dispatcher.Writer
	OnReceive(fn func(raw []byte))
	Run(ctx context.Context) error
	Close() error
}

// Agent is the meter host: it owns the board link, the trip state and
// every component reacting to it.
type Agent struct {
	port     transport
	mqtt     mqtt.Client
	history  *history.Store
	store    *trip.Store
	disp     *dispatcher.Dispatcher
	ledger   *ledger.Ledger
	engine   *reconcile.Engine
	lock     *lock.Protocol
	firmware *firmware.Manager
	server   *server.Server

	httpAddr    string
	httpTimeout time.Duration
	extrasCap   int
	clock       clock.WithTicker
	log         log.Logger
}

// Run starts every component and blocks until ctx is done or one of them fails.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("Starting cabmeter-agent", "deviceID", a.store.Identity().DeviceID)
	defer a.history.Close()

	if err := a.mqtt.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		a.mqtt.Disconnect(shutCtx)
	}()

	if err := a.disp.Start(ctx); err != nil {
		return err
	}
	defer a.disp.Close()
	a.port.OnReceive(a.disp.Receive)

	// Sync the board clock and read its tariff once the init frame went out.
	a.enqueue(mcu.NewUpdateTime(a.now()))
	a.enqueue(mcu.EnquireParameters)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.port.Run(ctx)
		if err != nil && ctx.Err() == nil {
			a.log.Error(err, "Serial link failed")
		}
		return err
	})
	g.Go(func() error { return a.engine.Run(ctx) })
	g.Go(func() error { return a.lock.Run(ctx) })
	g.Go(func() error { return a.watchIdentity(ctx) })
	g.Go(func() error { return a.watchLedger(ctx) })
	if a.server != nil {
		g.Go(func() error { return a.server.Run(ctx, a.httpAddr, a.httpTimeout) })
	}

	err := g.Wait()
	a.log.Info("Agent shutting down...")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleFrame consumes one inbound frame on the dispatcher's message worker.
func (a *Agent) HandleFrame(ctx context.Context, raw []byte) {
	sample, err := mcu.Parse(raw)
	if err != nil {
		reason := parseFailure(err)
		metrics.ParseErrors.WithLabelValues(reason).Inc()
		if reason == "unknown" {
			a.log.Debug("Ignoring frame of unknown type", "frame", mcu.Hex(raw))
		} else {
			a.log.Warn("Dropping undecodable frame", "reason", reason, "error", err, "frame", mcu.Hex(raw))
		}
		return
	}
	metrics.FramesReceived.WithLabelValues(typeLabel(sample.Type())).Inc()

	if req, ok := sample.(mcu.UpgradeRequest); ok {
		a.handleUpgradeRequest(req)
		return
	}
	for _, cmd := range a.store.Apply(sample) {
		a.enqueue(cmd)
	}
}

func (a *Agent) handleUpgradeRequest(req mcu.UpgradeRequest) {
	if a.firmware == nil {
		a.log.Warn("Board requested a firmware block but updates are disabled", "version", req.Version, "block", req.Block)
		return
	}
	if err := a.firmware.HandleRequest(req); err != nil {
		a.log.Error(err, "Failed to answer firmware block request", "version", req.Version, "block", req.Block)
	}
}

// watchIdentity binds the ledger and persists the identity whenever the
// board reports a new one.
func (a *Agent) watchIdentity(ctx context.Context) error {
	var bound trip.DeviceIdentity
	for snap := range a.store.Subscribe(ctx) {
		id := snap.Identity
		if id.DeviceID == "" || id == bound {
			continue
		}
		if err := a.ledger.Bind(ctx, id.DeviceID); err != nil {
			a.log.Error(err, "Failed to bind ledger to device", "deviceID", id.DeviceID)
			continue
		}
		if err := a.history.SaveIdentity(ctx, id); err != nil {
			a.log.Error(err, "Failed to persist device identity", "deviceID", id.DeviceID)
		}
		if a.ledger.Connected() {
			a.reportOnline(ctx)
		}
		bound = id
	}
	return nil
}

// watchLedger tracks the broker connection and republishes the online flag
// after every reconnect.
func (a *Agent) watchLedger(ctx context.Context) error {
	ticker := a.clock.NewTicker(ledgerPollInterval)
	defer ticker.Stop()

	connected := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		now := a.ledger.Connected()
		if now {
			metrics.LedgerConnected.Set(1)
		} else {
			metrics.LedgerConnected.Set(0)
		}
		if now && !connected && a.ledger.DeviceID() != "" {
			a.reportOnline(ctx)
		}
		connected = now
	}
}

func (a *Agent) reportOnline(ctx context.Context) {
	if err := a.ledger.ReportStatus(ctx, true); err != nil {
		a.log.Warn("Failed to report online status", "error", err)
	}
}

func (a *Agent) remoteUnlock() {
	a.lock.RemoteUnlock()
}

func (a *Agent) enqueue(cmd mcu.Command) {
	if err := a.disp.Enqueue(cmd); err != nil {
		a.log.Error(err, "Failed to queue board command", "command", cmd.String())
	}
}

func (a *Agent) now() time.Time {
	return a.clock.Now()
}

func parseFailure(err error) string {
	switch {
	case errors.Is(err, mcu.ErrChecksum):
		return "checksum"
	case errors.Is(err, mcu.ErrTruncatedFrame):
		return "truncated"
	case errors.Is(err, mcu.ErrUnknownFrameType):
		return "unknown"
	default:
		return "malformed"
	}
}

func typeLabel(t byte) string {
	return fmt.Sprintf("%02X", t)
}
