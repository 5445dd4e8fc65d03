package mcu

import "fmt"

// StatusKind classifies the raw status nibble of an ongoing heartbeat.
type StatusKind uint8

const (
	StatusUnknown StatusKind = iota
	StatusHired
	StatusStopped
	StatusOverspeed
	StatusFault
	StatusFaultAndOverspeed
)

func (k StatusKind) String() string {
	switch k {
	case StatusHired:
		return "Hired"
	case StatusStopped:
		return "Stopped"
	case StatusOverspeed:
		return "Overspeed"
	case StatusFault:
		return "Fault"
	case StatusFaultAndOverspeed:
		return "FaultAndOverspeed"
	case StatusUnknown:
		return "Unknown"
	}
	return fmt.Sprintf("StatusKind(%d)", uint8(k))
}

// Status is the measuring board status. Code keeps the raw value for Unknown.
//
// Even codes are hired, odd codes are stopped:
// 0/1 plain, 2/3 overspeed, 4/5 abnormal pulse, 6/7 both.
type Status struct {
	Kind StatusKind
	Code int
}

// StatusFromCode maps a raw status value to its kind.
func StatusFromCode(code int) Status {
	var k StatusKind
	switch code {
	case 0:
		k = StatusHired
	case 1:
		k = StatusStopped
	case 2, 3:
		k = StatusOverspeed
	case 4, 5:
		k = StatusFault
	case 6, 7:
		k = StatusFaultAndOverspeed
	default:
		k = StatusUnknown
	}
	return Status{Kind: k, Code: code}
}

// Stopped reports whether the meter is paused.
func (s Status) Stopped() bool {
	return s.Kind != StatusUnknown && s.Code%2 == 1
}

// Locked reports whether the board holds an overspeed or fault lock.
func (s Status) Locked() bool {
	switch s.Kind {
	case StatusOverspeed, StatusFault, StatusFaultAndOverspeed:
		return true
	case StatusHired, StatusStopped, StatusUnknown:
		return false
	}
	return false
}

// AbnormalPulse reports whether the board flagged an abnormal pulse fault.
func (s Status) AbnormalPulse() bool {
	switch s.Kind {
	case StatusFault, StatusFaultAndOverspeed:
		return true
	case StatusHired, StatusStopped, StatusOverspeed, StatusUnknown:
		return false
	}
	return false
}

func (s Status) String() string {
	return fmt.Sprintf("%s: %d", s.Kind, s.Code)
}
