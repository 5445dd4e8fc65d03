// Package server is the local status surface of the meter agent.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/cabmeter/internal/firmware"
	"github.com/autopeer-io/cabmeter/internal/lock"
	"github.com/autopeer-io/cabmeter/internal/reconcile"
	"github.com/autopeer-io/cabmeter/internal/trip"
	"github.com/autopeer-io/cabmeter/pkg/log"
)

// TripSource is the trip state store.
type TripSource interface {
	Snapshot() trip.Snapshot
	Subscribe(ctx context.Context) <-chan trip.Snapshot
}

// LockState reports the lock protocol.
type LockState interface {
	Action() lock.Action
	Remaining() (int, bool)
}

// PaymentState reports the reconciliation engine.
type PaymentState interface {
	PaidStatus() reconcile.PaidStatus
	Recovering() bool
}

// HistoryReader reads completed trips.
type HistoryReader interface {
	List(ctx context.Context, limit int) ([]*trip.Trip, error)
	Get(ctx context.Context, id string) (*trip.Trip, error)
}

// Readiness reports whether the remote ledger is reachable.
type Readiness interface {
	Connected() bool
}

// FirmwareState reports a running patch session.
type FirmwareState interface {
	Progress() (firmware.Progress, bool)
}

// Operator drives the meter.
type Operator interface {
	StartTrip(ctx context.Context, paused bool) (*trip.Trip, error)
	PauseTrip(ctx context.Context) error
	ResumeTrip(ctx context.Context) error
	EndTrip(ctx context.Context) error
	AddExtras(ctx context.Context, n int) (int, error)
	SubtractExtras(ctx context.Context, n int) (int, error)
	BeginFirmware(ctx context.Context, object, version string) error
}

// Deps are the components the server reports on. Lock, Payment, Firmware and
// Operator may be nil.
type Deps struct {
	Trips    TripSource
	Lock     LockState
	Payment  PaymentState
	History  HistoryReader
	Ready    Readiness
	Firmware FirmwareState
	Operator Operator
}

// Server serves health, metrics, the trip status and its live stream.
type Server struct {
	deps     Deps
	log      log.Logger
	upgrader websocket.Upgrader
}

func New(deps Deps) *Server {
	return &Server{
		deps: deps,
		log:  log.WithName("server"),
		upgrader: websocket.Upgrader{
			// The status surface is served on the vehicle network only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/trip", s.streamTrip)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/trip", s.getTrip).Methods(http.MethodGet)
	api.HandleFunc("/history", s.listHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/{id}", s.getHistory).Methods(http.MethodGet)

	if s.deps.Operator != nil {
		api.HandleFunc("/trip/start", s.startTrip).Methods(http.MethodPost)
		api.HandleFunc("/trip/pause", s.pauseTrip).Methods(http.MethodPost)
		api.HandleFunc("/trip/resume", s.resumeTrip).Methods(http.MethodPost)
		api.HandleFunc("/trip/end", s.endTrip).Methods(http.MethodPost)
		api.HandleFunc("/trip/extras", s.changeExtras).Methods(http.MethodPost)
		api.HandleFunc("/firmware", s.beginFirmware).Methods(http.MethodPost)
	}
	return r
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string, timeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Ready != nil && !s.deps.Ready.Connected() {
		http.Error(w, "ledger not connected", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
