package mcu

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Field positions are offsets into the upper case hex rendering of the whole frame.
type field struct {
	name     string
	off, len int
}

var (
	ongoingStatus           = field{"status", 17, 1}
	ongoingLocked           = field{"locked-duration", 18, 4}
	ongoingDistance         = field{"distance", 22, 6}
	ongoingDuration         = field{"duration", 28, 6}
	ongoingExtras           = field{"extras", 38, 6}
	ongoingFare             = field{"fare", 44, 6}
	ongoingTotal            = field{"total-fare", 50, 6}
	ongoingTime             = field{"mcu-time", 56, 12}
	ongoingAbnormalCounter  = field{"abnormal-pulse-counter", 68, 2}
	ongoingOverspeedCounter = field{"overspeed-counter", 70, 2}

	idleTime   = field{"mcu-time", 40, 12}
	idleDevice = field{"device-id", 52, 10}
	idlePlate  = field{"license-plate", 110, 16}

	endDistance = field{"distance", 118, 6}
	endDuration = field{"duration", 124, 6}
	endFare     = field{"fare", 130, 6}
	endExtras   = field{"extras", 136, 6}
	endTotal    = field{"total-fare", 142, 6}

	upgradeVersion = field{"version", 16, 8}
	upgradeBlock   = field{"block", 24, 4}
)

var paramFields = []field{
	{"firmware-version", 18, 8},
	{"params-version", 26, 8},
	{"k-value", 34, 4},
	{"start-distance", 38, 4},
	{"start-price", 42, 4},
	{"peak-start-price", 46, 4},
	{"step-price", 50, 4},
	{"peak-step-price", 54, 4},
	{"morning-peak-start", 58, 4},
	{"morning-peak-end", 62, 4},
	{"night-peak-start", 66, 4},
	{"night-peak-end", 70, 4},
	{"step-price-changed-at", 74, 4},
	{"changed-step-price", 78, 4},
	{"changed-peak-step-price", 82, 4},
	{"distance-interval", 86, 4},
	{"waiting-time-interval", 90, 4},
	{"over-speed", 94, 4},
}

// the checksum byte and trailer follow the last field
const trailerHex = 6

// minHexLen is the shortest hex rendering that still contains every field of a sample type.
var minHexLen = map[byte]int{
	TypeOngoingHeartbeat:  ongoingOverspeedCounter.off + ongoingOverspeedCounter.len + trailerHex,
	TypeIdleHeartbeat:     idlePlate.off + idlePlate.len + trailerHex,
	TypeTripEndSummary:    endTotal.off + endTotal.len + trailerHex,
	TypeParametersEnquiry: 98 + trailerHex,
	TypeUpgrading:         upgradeBlock.off + upgradeBlock.len + trailerHex,
	TypeAbnormalPulse:     16 + trailerHex,
}

// Classify returns the type code of a raw frame without validating it.
func Classify(raw []byte) (byte, bool) {
	if len(raw) < 8 || !bytes.HasPrefix(raw, Marker) || !bytes.HasSuffix(raw, Marker) {
		return 0, false
	}
	return raw[7], true
}

// Parse decodes a raw inbound frame into a typed Sample.
// Corrupt or short frames yield ErrMalformedFrame or ErrTruncatedFrame; frames of
// other types yield an Unknown sample together with ErrUnknownFrameType.
func Parse(raw []byte) (Sample, error) {
	f, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	t := f.Code.TypeCode()
	s := Hex(raw)
	if want, ok := minHexLen[t]; ok && len(s) < want {
		return nil, fmt.Errorf("%w: type %02X has %d hex digits, need %d", ErrTruncatedFrame, t, len(s), want)
	}

	r := reader{s: s}
	var sample Sample
	switch t {
	case TypeOngoingHeartbeat:
		sample = r.ongoing()
	case TypeIdleHeartbeat:
		sample = r.idle()
	case TypeTripEndSummary:
		sample = r.tripEnd()
	case TypeParametersEnquiry:
		sample = r.parameters()
	case TypeUpgrading:
		sample = r.upgrade()
	case TypeAbnormalPulse:
		sample = AbnormalPulse{}
	default:
		return Unknown{Code: f.Code, Raw: append([]byte(nil), raw...)}, fmt.Errorf("%w: %02X", ErrUnknownFrameType, t)
	}
	if r.err != nil {
		return nil, r.err
	}
	return sample, nil
}

// reader extracts fields and keeps the first conversion error.
type reader struct {
	s   string
	err error
}

func (r *reader) str(f field) string {
	return r.s[f.off : f.off+f.len]
}

func (r *reader) fail(f field, v string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s %q: %v", ErrMalformedFrame, f.name, v, err)
	}
}

func (r *reader) decimal(f field) int64 {
	v := r.str(f)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(f, v, err)
	}
	return n
}

func (r *reader) hexInt(f field) int {
	v := r.str(f)
	n, err := strconv.ParseInt(v, 16, 64)
	if err != nil {
		r.fail(f, v, err)
	}
	return int(n)
}

// cents reads a decimal field in hundredths.
func (r *reader) cents(f field) float64 {
	return float64(r.decimal(f)) / 100
}

// decameters reads a decimal distance field in units of ten meters.
func (r *reader) decameters(f field) float64 {
	return float64(r.decimal(f) * 10)
}

// hms reads a hhmmss field as seconds.
func (r *reader) hms(f field) int64 {
	v := r.str(f)
	var parts [3]int64
	for i := range parts {
		n, err := strconv.ParseInt(v[i*2:i*2+2], 10, 64)
		if err != nil {
			r.fail(f, v, err)
			return 0
		}
		parts[i] = n
	}
	return parts[0]*3600 + parts[1]*60 + parts[2]
}

func (r *reader) ongoing() OngoingHeartbeat {
	return OngoingHeartbeat{
		Status:               StatusFromCode(r.hexInt(ongoingStatus)),
		OverspeedSeconds:     r.hexInt(ongoingLocked),
		DistanceMeters:       r.decameters(ongoingDistance),
		WaitSeconds:          r.hms(ongoingDuration),
		Extra:                r.cents(ongoingExtras),
		Fare:                 r.cents(ongoingFare),
		TotalFare:            r.cents(ongoingTotal),
		MCUTime:              r.str(ongoingTime),
		AbnormalPulseCounter: r.hexInt(ongoingAbnormalCounter),
		OverspeedCounter:     r.hexInt(ongoingOverspeedCounter),
	}
}

func (r *reader) idle() IdleHeartbeat {
	return IdleHeartbeat{
		DeviceID:     r.str(idleDevice),
		LicensePlate: r.plate(idlePlate),
		MCUTime:      r.str(idleTime),
	}
}

// plate decodes ASCII hex with the 0xFF filler bytes removed.
func (r *reader) plate(f field) string {
	v := r.str(f)
	var kept strings.Builder
	for i := 0; i+2 <= len(v); i += 2 {
		if v[i:i+2] != "FF" {
			kept.WriteString(v[i : i+2])
		}
	}
	b, err := hex.DecodeString(kept.String())
	if err != nil {
		r.fail(f, v, err)
		return ""
	}
	return string(b)
}

func (r *reader) tripEnd() TripEndSummary {
	return TripEndSummary{
		DistanceMeters: r.decameters(endDistance),
		WaitSeconds:    r.hms(endDuration),
		Fare:           r.cents(endFare),
		Extra:          r.cents(endExtras),
		TotalFare:      r.cents(endTotal),
	}
}

func (r *reader) parameters() ParametersEnquiry {
	v := make([]string, len(paramFields))
	for i, f := range paramFields {
		v[i] = r.str(f)
	}
	return ParametersEnquiry{
		FirmwareVersion:      v[0],
		ParamsVersion:        v[1],
		KValue:               v[2],
		StartDistance:        v[3],
		StartPrice:           v[4],
		PeakStartPrice:       v[5],
		StepPrice:            v[6],
		PeakStepPrice:        v[7],
		MorningPeakStart:     v[8],
		MorningPeakEnd:       v[9],
		NightPeakStart:       v[10],
		NightPeakEnd:         v[11],
		StepPriceChangedAt:   v[12],
		ChangedStepPrice:     v[13],
		ChangedPeakStepPrice: v[14],
		DistanceInterval:     v[15],
		WaitingTimeInterval:  v[16],
		OverSpeed:            v[17],
	}
}

func (r *reader) upgrade() UpgradeRequest {
	return UpgradeRequest{
		Version: r.str(upgradeVersion),
		Block:   r.hexInt(upgradeBlock),
	}
}
