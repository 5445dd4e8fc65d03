package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/autopeer-io/cabmeter/internal/firmware"
	"github.com/autopeer-io/cabmeter/internal/trip"
)

type extrasRequest struct {
	// Delta is added to the extras total; a negative delta subtracts.
	Delta int `json:"delta"`
}

type firmwareRequest struct {
	Object  string `json:"object"`
	Version string `json:"version"`
}

func (s *Server) startTrip(w http.ResponseWriter, r *http.Request) {
	paused := r.URL.Query().Get("paused") == "true"
	t, err := s.deps.Operator.StartTrip(r.Context(), paused)
	if err != nil {
		s.fail(w, "start", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) pauseTrip(w http.ResponseWriter, r *http.Request) {
	s.done(w, "pause", s.deps.Operator.PauseTrip(r.Context()))
}

func (s *Server) resumeTrip(w http.ResponseWriter, r *http.Request) {
	s.done(w, "resume", s.deps.Operator.ResumeTrip(r.Context()))
}

func (s *Server) endTrip(w http.ResponseWriter, r *http.Request) {
	s.done(w, "end", s.deps.Operator.EndTrip(r.Context()))
}

func (s *Server) changeExtras(w http.ResponseWriter, r *http.Request) {
	var req extrasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Delta == 0 {
		http.Error(w, "body must be {\"delta\": <non-zero int>}", http.StatusBadRequest)
		return
	}

	var (
		total int
		err   error
	)
	if req.Delta > 0 {
		total, err = s.deps.Operator.AddExtras(r.Context(), req.Delta)
	} else {
		total, err = s.deps.Operator.SubtractExtras(r.Context(), -req.Delta)
	}
	if err != nil {
		s.fail(w, "extras", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"extras": total})
}

func (s *Server) beginFirmware(w http.ResponseWriter, r *http.Request) {
	var req firmwareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Object == "" || req.Version == "" {
		http.Error(w, "body must name object and version", http.StatusBadRequest)
		return
	}
	if err := s.deps.Operator.BeginFirmware(r.Context(), req.Object, req.Version); err != nil {
		s.fail(w, "firmware", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) done(w http.ResponseWriter, op string, err error) {
	if err != nil {
		s.fail(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, trip.ErrTripActive), errors.Is(err, trip.ErrNoTrip),
		errors.Is(err, trip.ErrExtrasLimit), errors.Is(err, firmware.ErrSessionActive):
		code = http.StatusConflict
	default:
		s.log.Error(err, "Meter operation failed", "op", op)
	}
	http.Error(w, err.Error(), code)
}
