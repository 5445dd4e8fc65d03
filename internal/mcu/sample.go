package mcu

import (
	"fmt"
	"strconv"
)

// Inbound frame type codes.
const (
	TypeUpgrading         byte = 0xE1
	TypeIdleHeartbeat     byte = 0xE2
	TypeOngoingHeartbeat  byte = 0xE3
	TypeTripEndSummary    byte = 0xE4
	TypeAbnormalPulse     byte = 0xE5
	TypeParametersEnquiry byte = 0xA4
)

// Sample is a typed frame received from the measuring board.
type Sample interface {
	// Type is the frame type code the sample was classified from.
	Type() byte

	isSample()
}

// IdleHeartbeat is sent while no trip is running.
type IdleHeartbeat struct {
	DeviceID     string
	LicensePlate string
	MCUTime      string
}

// OngoingHeartbeat is sent while a trip is running.
type OngoingHeartbeat struct {
	Status Status
	// OverspeedSeconds is the raw lock duration reported by this sample.
	OverspeedSeconds     int
	DistanceMeters       float64
	WaitSeconds          int64
	Extra                float64
	Fare                 float64
	TotalFare            float64
	MCUTime              string
	AbnormalPulseCounter int
	OverspeedCounter     int
}

// TripEndSummary carries the final figures of a trip. It must be acknowledged with EndAck.
type TripEndSummary struct {
	DistanceMeters float64
	WaitSeconds    int64
	Fare           float64
	Extra          float64
	TotalFare      float64
}

// ParametersEnquiry is the answer to the parameters enquiry command.
// Values are kept as the board reports them.
type ParametersEnquiry struct {
	FirmwareVersion      string
	ParamsVersion        string
	KValue               string
	StartDistance        string
	StartPrice           string
	PeakStartPrice       string
	StepPrice            string
	PeakStepPrice        string
	MorningPeakStart     string
	MorningPeakEnd       string
	NightPeakStart       string
	NightPeakEnd         string
	StepPriceChangedAt   string
	ChangedStepPrice     string
	ChangedPeakStepPrice string
	DistanceInterval     string
	WaitingTimeInterval  string
	OverSpeed            string
}

// AbnormalPulse signals a pulse sensor fault.
type AbnormalPulse struct{}

// UpgradeRequest is the board asking for a firmware block during a patch session.
type UpgradeRequest struct {
	Version string
	Block   int
}

// Unknown wraps a well formed frame of a type this host does not handle.
type Unknown struct {
	Code Code
	Raw  []byte
}

func (IdleHeartbeat) Type() byte     { return TypeIdleHeartbeat }
func (OngoingHeartbeat) Type() byte  { return TypeOngoingHeartbeat }
func (TripEndSummary) Type() byte    { return TypeTripEndSummary }
func (ParametersEnquiry) Type() byte { return TypeParametersEnquiry }
func (AbnormalPulse) Type() byte     { return TypeAbnormalPulse }
func (UpgradeRequest) Type() byte    { return TypeUpgrading }
func (u Unknown) Type() byte         { return u.Code.TypeCode() }

func (IdleHeartbeat) isSample()     {}
func (OngoingHeartbeat) isSample()  {}
func (TripEndSummary) isSample()    {}
func (ParametersEnquiry) isSample() {}
func (AbnormalPulse) isSample()     {}
func (UpgradeRequest) isSample()    {}
func (Unknown) isSample()           {}

// FareSummary is ParametersEnquiry rendered for display.
type FareSummary struct {
	ParamsVersion    string `json:"parameters_version"`
	FirmwareVersion  string `json:"firmware_version"`
	KValue           string `json:"k_value"`
	StartingDistance string `json:"starting_distance"`
	StartingPrice    string `json:"start_price"`
	StepPrice        string `json:"step_price"`
	ChangedPriceAt   string `json:"step_price_change_at"`
	ChangedStepPrice string `json:"changed_step_price"`
}

// Summary formats prices in dollars. Step prices are reported per fifth of a unit.
func (p ParametersEnquiry) Summary() FareSummary {
	return FareSummary{
		ParamsVersion:    p.ParamsVersion,
		FirmwareVersion:  p.FirmwareVersion,
		KValue:           p.KValue,
		StartingDistance: p.StartDistance,
		StartingPrice:    dollars(p.StartPrice, 100),
		StepPrice:        dollars(p.StepPrice, 500),
		ChangedPriceAt:   dollars(p.StepPriceChangedAt, 10),
		ChangedStepPrice: dollars(p.ChangedStepPrice, 500),
	}
}

func dollars(raw string, div float64) string {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	return fmt.Sprintf("$%.2f", v/div)
}
