package trip

import (
	"time"

	"github.com/autopeer-io/cabmeter/internal/mcu"
)

// Status is the lifecycle state of a trip.
type Status string

const (
	StatusHired   Status = "HIRED"
	StatusStopped Status = "STOP"
	StatusEnded   Status = "ENDED"
)

// StatusOf maps the board status to a trip status.
func StatusOf(s mcu.Status) Status {
	if s.Stopped() {
		return StatusStopped
	}
	return StatusHired
}

// Trip is the current or a completed trip.
type Trip struct {
	ID           string     `json:"id"`
	LicensePlate string     `json:"license_plate"`
	DeviceID     string     `json:"device_id"`
	StartTime    time.Time  `json:"trip_start"`
	PauseTime    *time.Time `json:"trip_pause,omitempty"`
	EndTime      *time.Time `json:"trip_end,omitempty"`
	Status       Status     `json:"trip_status"`

	Fare           float64 `json:"fare"`
	Extra          float64 `json:"extra"`
	TotalFare      float64 `json:"trip_total"`
	DistanceMeters float64 `json:"distance"`
	WaitSeconds    int64   `json:"wait_time"`

	OverspeedSeconds     int `json:"overspeed_duration"`
	AbnormalPulseCounter int `json:"abnormal_pulse_counter"`
	OverspeedCounter     int `json:"overspeed_counter"`
	MCUStatusCode        int `json:"mcu_status"`

	IsDash bool `json:"is_dash"`

	// RequiresSync marks fields the remote ledger has not seen yet.
	RequiresSync bool `json:"-"`
	// IsNewTrip is set until the remote record was created.
	IsNewTrip bool `json:"-"`
}

// Clone returns a deep copy.
func (t *Trip) Clone() *Trip {
	if t == nil {
		return nil
	}
	c := *t
	if t.PauseTime != nil {
		p := *t.PauseTime
		c.PauseTime = &p
	}
	if t.EndTime != nil {
		e := *t.EndTime
		c.EndTime = &e
	}
	return &c
}

func (t *Trip) MCUStatus() mcu.Status {
	return mcu.StatusFromCode(t.MCUStatusCode)
}

// Active reports whether the trip still occupies the meter.
func (t *Trip) Active() bool {
	return t != nil && t.Status != StatusEnded
}

// ShouldLock reports whether the board holds a lock and the trip has accrued overspeed time.
func (t *Trip) ShouldLock() bool {
	return t.MCUStatus().Locked() && t.OverspeedSeconds > 0
}

// AbnormalPulse reports whether the board status flags a pulse fault.
func (t *Trip) AbnormalPulse() bool {
	return t.MCUStatus().AbnormalPulse()
}

const (
	DefaultMaxLockSeconds      = 3600
	DefaultMinLockSecondsAfter = 30
)

// RemainingLockSeconds returns the time left before a forced unlock, or false
// when the meter is not locked, the lock just started, or the time is used up.
func (t *Trip) RemainingLockSeconds(maxSeconds, minAfter int) (int, bool) {
	if !t.ShouldLock() {
		return 0, false
	}
	remaining := maxSeconds - t.OverspeedSeconds
	if remaining <= 0 || t.OverspeedSeconds < minAfter {
		return 0, false
	}
	return remaining, true
}

// DeviceIdentity is the measuring board reported by idle heartbeats.
type DeviceIdentity struct {
	DeviceID     string `json:"device_id"`
	LicensePlate string `json:"license_plate"`
}

func (d DeviceIdentity) IsZero() bool {
	return d.DeviceID == "" && d.LicensePlate == ""
}

// DefaultExtrasCap is the exclusive upper bound of the extras total.
const DefaultExtrasCap = 1000

// AddExtras returns the extras total after adding n, or false when it would reach limit.
func AddExtras(t *Trip, n, limit int) (int, bool) {
	if !t.Active() {
		return 0, false
	}
	total := int(t.Extra) + n
	if total >= limit {
		return 0, false
	}
	return total, true
}

// SubtractExtras returns the extras total after removing n, floored at zero.
func SubtractExtras(t *Trip, n int) (int, bool) {
	if !t.Active() {
		return 0, false
	}
	return max(int(t.Extra)-n, 0), true
}
