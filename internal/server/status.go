package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/autopeer-io/cabmeter/internal/firmware"
	"github.com/autopeer-io/cabmeter/internal/history"
	"github.com/autopeer-io/cabmeter/internal/lock"
	"github.com/autopeer-io/cabmeter/internal/mcu"
	"github.com/autopeer-io/cabmeter/internal/reconcile"
	"github.com/autopeer-io/cabmeter/internal/trip"
)

const defaultHistoryLimit = 50

// Status is the meter state served by /api/v1/trip and /ws/trip.
type Status struct {
	Seq           uint64              `json:"seq"`
	Trip          *trip.Trip          `json:"trip"`
	Identity      trip.DeviceIdentity `json:"identity"`
	AbnormalPulse bool                `json:"abnormal_pulse"`
	MCUTime       string              `json:"mcu_time,omitempty"`
	Params        *mcu.FareSummary    `json:"params,omitempty"`
	MostRecent    *trip.Trip          `json:"most_recent,omitempty"`

	Lock                 lock.Action          `json:"lock,omitempty"`
	RemainingLockSeconds *int                 `json:"remaining_lock_seconds,omitempty"`
	PaidStatus           reconcile.PaidStatus `json:"paid_status,omitempty"`
	Recovering           bool                 `json:"recovering"`
	Firmware             *firmware.Progress   `json:"firmware,omitempty"`
}

func (s *Server) status(snap trip.Snapshot) Status {
	st := Status{
		Seq:           snap.Seq,
		Trip:          snap.Trip,
		Identity:      snap.Identity,
		AbnormalPulse: snap.AbnormalPulse,
		MCUTime:       snap.MCUTime,
		MostRecent:    snap.MostRecent,
	}
	if snap.Params != nil {
		sum := snap.Params.Summary()
		st.Params = &sum
	}
	if s.deps.Lock != nil {
		st.Lock = s.deps.Lock.Action()
		if n, ok := s.deps.Lock.Remaining(); ok {
			st.RemainingLockSeconds = &n
		}
	}
	if s.deps.Payment != nil {
		st.PaidStatus = s.deps.Payment.PaidStatus()
		st.Recovering = s.deps.Payment.Recovering()
	}
	if s.deps.Firmware != nil {
		if p, ok := s.deps.Firmware.Progress(); ok {
			st.Firmware = &p
		}
	}
	return st
}

func (s *Server) getTrip(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status(s.deps.Trips.Snapshot()))
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	trips, err := s.deps.History.List(r.Context(), limit)
	if err != nil {
		s.log.Error(err, "Failed to list history")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if trips == nil {
		trips = []*trip.Trip{}
	}
	writeJSON(w, http.StatusOK, trips)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.History.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, history.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// streamTrip pushes a Status for every store change until the client leaves.
func (s *Server) streamTrip(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The reader notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Debug("Trip stream client connected", "remote", r.RemoteAddr)
	for snap := range s.deps.Trips.Subscribe(ctx) {
		if err := conn.WriteJSON(s.status(snap)); err != nil {
			s.log.Debug("Trip stream client gone", "remote", r.RemoteAddr, "err", err)
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
