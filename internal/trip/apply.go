package trip

import (
	"time"

	"github.com/autopeer-io/cabmeter/internal/mcu"
)

// FareChangeBeep is played when a running fare ticks up.
var FareChangeBeep = mcu.Beep{Duration: 5, Interval: 0, Repeat: 1}

// Apply folds a board sample into the store and returns the commands the
// board expects in reply.
func (s *Store) Apply(sample mcu.Sample) []mcu.Command {
	var reply []mcu.Command

	switch v := sample.(type) {
	case mcu.IdleHeartbeat:
		s.SetMCUTime(v.MCUTime)
		s.update(func(st *Snapshot) bool {
			changed := false
			id := DeviceIdentity{DeviceID: v.DeviceID, LicensePlate: v.LicensePlate}
			if st.Identity != id {
				st.Identity = id
				changed = true
			}
			if st.Trip != nil && st.Trip.Status == StatusEnded {
				st.Trip = nil
				changed = true
			}
			return changed
		})

	case mcu.OngoingHeartbeat:
		s.SetMCUTime(v.MCUTime)
		var beep bool
		s.update(func(st *Snapshot) bool {
			if !st.Trip.Active() {
				st.Trip = s.fallbackTrip(st.Identity, v)
				return true
			}
			beep = applyHeartbeat(st.Trip, v, s.clock.Now())
			return true
		})
		if beep {
			reply = append(reply, mcu.PlayBeep{Beep: FareChangeBeep})
		}

	case mcu.TripEndSummary:
		s.update(func(st *Snapshot) bool {
			if !st.Trip.Active() {
				return false
			}
			now := s.clock.Now()
			t := st.Trip
			t.Status = StatusEnded
			t.Fare = v.Fare
			t.Extra = v.Extra
			t.TotalFare = v.TotalFare
			t.DistanceMeters = v.DistanceMeters
			t.WaitSeconds = v.WaitSeconds
			t.EndTime = &now
			t.RequiresSync = true
			return true
		})
		// The board keeps repeating the summary until acknowledged.
		reply = append(reply, mcu.EndAck)

	case mcu.AbnormalPulse:
		s.SetAbnormalPulse(true)

	case mcu.ParametersEnquiry:
		s.SetMCUParams(v)
	}

	return reply
}

// fallbackTrip rebuilds a trip the host lost track of. It has no id so the
// reconciler runs lost trip recovery for it.
func (s *Store) fallbackTrip(id DeviceIdentity, hb mcu.OngoingHeartbeat) *Trip {
	now := s.clock.Now()
	t := &Trip{
		LicensePlate:         id.LicensePlate,
		DeviceID:             id.DeviceID,
		StartTime:            now,
		Status:               StatusOf(hb.Status),
		Fare:                 hb.Fare,
		Extra:                hb.Extra,
		TotalFare:            hb.TotalFare,
		DistanceMeters:       hb.DistanceMeters,
		WaitSeconds:          hb.WaitSeconds,
		OverspeedSeconds:     hb.OverspeedSeconds,
		AbnormalPulseCounter: hb.AbnormalPulseCounter,
		OverspeedCounter:     hb.OverspeedCounter,
		MCUStatusCode:        hb.Status.Code,
		RequiresSync:         true,
		IsNewTrip:            true,
	}
	if t.Status == StatusStopped {
		t.PauseTime = &now
	}
	return t
}

// applyHeartbeat updates t in place and reports whether the fare-change beep is due.
func applyHeartbeat(t *Trip, hb mcu.OngoingHeartbeat, now time.Time) bool {
	status := StatusOf(hb.Status)
	fareChanged := t.Fare != hb.Fare

	t.RequiresSync = t.RequiresSync || fareChanged ||
		t.Status != status ||
		t.Extra != hb.Extra ||
		hb.OverspeedSeconds > 0

	// The board reports the current lockout run; runs are folded into a trip total.
	if t.OverspeedSeconds > hb.OverspeedSeconds {
		t.OverspeedSeconds += hb.OverspeedSeconds
	} else {
		t.OverspeedSeconds = hb.OverspeedSeconds
	}

	switch {
	case status != StatusStopped:
		t.PauseTime = nil
	case t.PauseTime == nil:
		t.PauseTime = &now
	}

	beep := fareChanged && t.Fare != 0
	t.Status = status
	t.Fare = hb.Fare
	t.Extra = hb.Extra
	t.TotalFare = hb.TotalFare
	t.DistanceMeters = hb.DistanceMeters
	t.WaitSeconds = hb.WaitSeconds
	t.AbnormalPulseCounter = hb.AbnormalPulseCounter
	t.OverspeedCounter = hb.OverspeedCounter
	t.MCUStatusCode = hb.Status.Code
	return beep
}
