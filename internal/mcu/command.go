package mcu

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Beep is the buzzer pattern appended to most commands.
// Duration and Interval are in 10ms units.
type Beep struct {
	Duration uint8
	Interval uint8
	Repeat   uint8
}

var (
	// DefaultBeep is the short confirmation beep sent with trip commands.
	DefaultBeep = Beep{Duration: 10, Interval: 0, Repeat: 1}

	// Mute suppresses the buzzer.
	Mute = Beep{}
)

func (b Beep) bytes() []byte { return []byte{b.Duration, b.Interval, b.Repeat} }

func beepFrom(p []byte) Beep { return Beep{Duration: p[0], Interval: p[1], Repeat: p[2]} }

// Command is an outbound instruction for the measuring board.
// Every implementation is a plain value so queued work can be inspected before it is written.
type Command interface {
	// Code is the command field the frame will carry.
	Code() Code
	// Frame builds the frame for this command.
	Frame() (Frame, error)
	String() string

	isCommand()
}

const tripIDLen = 32

// StartTrip starts metering. With Paused set the trip starts in the stopped state.
type StartTrip struct {
	TripID string
	Paused bool
	Beep   Beep
}

// PauseTrip stops fare accrual.
type PauseTrip struct{ Beep Beep }

// ResumeTrip continues a paused trip. Use Mute for a silent resume.
type ResumeTrip struct{ Beep Beep }

// EndTrip ends the active trip; the board answers with a trip end summary.
type EndTrip struct{ Beep Beep }

// SetExtras replaces the extras total shown on the meter.
type SetExtras struct {
	Amount int
	Beep   Beep
}

// UpdateTime sets the board clock. Stamp is yyyyMMddHHmmss or yyyyMMddHHmm.
type UpdateTime struct{ Stamp string }

// UpdateKValue sets the pulses-per-kilometre calibration.
type UpdateKValue struct{ KValue int }

// PriceParams replaces the tariff. Prices are in cents.
type PriceParams struct {
	StartPrice      int
	StepPrice       int
	Threshold       int
	SecondStepPrice int
}

// PlayBeep sounds the buzzer without any other effect.
type PlayBeep struct{ Beep Beep }

// Unlock clears an overspeed lock on the board.
type Unlock struct{}

// ReadDeviceData asks the board for its device id and plate.
type ReadDeviceData struct{}

// WritePlate stores a license plate of up to eight characters on the board.
type WritePlate struct{ Plate string }

// Fixed is one of the protocol's constant frames.
type Fixed struct {
	Name  string
	frame Frame
}

var (
	// EndAck must follow every trip end summary or the board keeps resending it.
	EndAck = Fixed{Name: "end-ack", frame: Frame{Code: CodeEndAck, Payload: []byte{0x90}}}

	// Init is written once after the link is opened.
	Init = Fixed{Name: "init", frame: Frame{Code: CodeInit, Payload: []byte{0x90}}}

	// EnquireParameters asks the board for its firmware and tariff parameters.
	EnquireParameters = Fixed{Name: "parameters-enquiry", frame: Frame{
		Code:    CodeParametersEnquiry,
		Payload: []byte{0x20, 0x23, 0x02, 0x25, 0x20, 0x03},
	}}
)

func (StartTrip) isCommand()      {}
func (PauseTrip) isCommand()      {}
func (ResumeTrip) isCommand()     {}
func (EndTrip) isCommand()        {}
func (SetExtras) isCommand()      {}
func (UpdateTime) isCommand()     {}
func (UpdateKValue) isCommand()   {}
func (PriceParams) isCommand()    {}
func (PlayBeep) isCommand()       {}
func (Unlock) isCommand()         {}
func (ReadDeviceData) isCommand() {}
func (WritePlate) isCommand()     {}
func (Fixed) isCommand()          {}

func (StartTrip) Code() Code      { return CodeStart }
func (PauseTrip) Code() Code      { return CodePauseResume }
func (ResumeTrip) Code() Code     { return CodePauseResume }
func (EndTrip) Code() Code        { return CodeEnd }
func (SetExtras) Code() Code      { return CodeAddExtras }
func (UpdateTime) Code() Code     { return CodeUpdateParams }
func (UpdateKValue) Code() Code   { return CodeUpdateParams }
func (PriceParams) Code() Code    { return CodePriceParams }
func (PlayBeep) Code() Code       { return CodeBeep }
func (Unlock) Code() Code         { return CodeUnlock }
func (ReadDeviceData) Code() Code { return CodeDeviceData }
func (WritePlate) Code() Code     { return CodeDeviceData }
func (c Fixed) Code() Code        { return c.frame.Code }

func (c StartTrip) String() string {
	if c.Paused {
		return "start-paused(" + c.TripID + ")"
	}
	return "start(" + c.TripID + ")"
}
func (PauseTrip) String() string      { return "pause" }
func (ResumeTrip) String() string     { return "resume" }
func (EndTrip) String() string        { return "end" }
func (c SetExtras) String() string    { return fmt.Sprintf("extras(%d)", c.Amount) }
func (c UpdateTime) String() string   { return "time(" + c.Stamp + ")" }
func (c UpdateKValue) String() string { return fmt.Sprintf("k-value(%d)", c.KValue) }
func (PriceParams) String() string    { return "price-params" }
func (c PlayBeep) String() string {
	return fmt.Sprintf("beep(%d,%d,%d)", c.Beep.Duration, c.Beep.Interval, c.Beep.Repeat)
}
func (Unlock) String() string         { return "unlock" }
func (ReadDeviceData) String() string { return "read-device" }
func (c WritePlate) String() string   { return "write-plate(" + c.Plate + ")" }
func (c Fixed) String() string        { return c.Name }

// TripIDForBoard strips hyphens and keeps the first 32 characters.
func TripIDForBoard(id string) string {
	s := strings.ReplaceAll(id, "-", "")
	if len(s) > tripIDLen {
		s = s[:tripIDLen]
	}
	return s
}

func (c StartTrip) Frame() (Frame, error) {
	id := TripIDForBoard(c.TripID)
	if len(id) != tripIDLen {
		return Frame{}, fmt.Errorf("%w: trip id %q needs %d characters", ErrInvalidArgument, c.TripID, tripIDLen)
	}
	p := make([]byte, 0, 1+tripIDLen+3)
	p = append(p, flag(c.Paused))
	p = append(p, id...)
	p = append(p, c.Beep.bytes()...)
	return Frame{Code: CodeStart, Payload: p}, nil
}

func (c PauseTrip) Frame() (Frame, error) {
	return Frame{Code: CodePauseResume, Payload: append([]byte{0x01}, c.Beep.bytes()...)}, nil
}

func (c ResumeTrip) Frame() (Frame, error) {
	return Frame{Code: CodePauseResume, Payload: append([]byte{0x00}, c.Beep.bytes()...)}, nil
}

func (c EndTrip) Frame() (Frame, error) {
	return Frame{Code: CodeEnd, Payload: append([]byte{0x01}, c.Beep.bytes()...)}, nil
}

func (c SetExtras) Frame() (Frame, error) {
	if c.Amount < 0 {
		return Frame{}, fmt.Errorf("%w: negative extras %d", ErrInvalidArgument, c.Amount)
	}
	digits := strconv.Itoa(c.Amount)
	if len(digits) > 4 {
		return Frame{}, fmt.Errorf("%w: extras %d exceeds 9999", ErrInvalidArgument, c.Amount)
	}
	digits = strings.Repeat("0", 4-len(digits)) + digits
	amount, _ := hex.DecodeString(digits)

	p := append(amount, 0x00)
	p = append(p, c.Beep.bytes()...)
	return Frame{Code: CodeAddExtras, Payload: p}, nil
}

const (
	stampLayout      = "20060102150405"
	defaultStamp     = "20240101161718"
	paramsUpdateTime = 0x01
	paramsUpdateK    = 0x06
)

// NewUpdateTime formats t for the board clock.
func NewUpdateTime(t time.Time) UpdateTime {
	return UpdateTime{Stamp: t.Format(stampLayout)}
}

// normalizeStamp accepts a full stamp, a stamp missing its seconds, or falls back to a fixed date.
func normalizeStamp(s string) string {
	if _, err := time.Parse(stampLayout, s); err == nil {
		return s
	}
	if _, err := time.Parse(stampLayout, s+"00"); err == nil {
		return s + "00"
	}
	return defaultStamp
}

func (c UpdateTime) Frame() (Frame, error) {
	stamp, _ := hex.DecodeString(normalizeStamp(c.Stamp))
	p := []byte{paramsUpdateTime}
	p = append(p, stamp...)
	// k value slot is ignored by the board for this sub-command, then 30 min power-off.
	p = append(p, 0x10, 0x00, 0x00, 0x02)
	return Frame{Code: CodeUpdateParams, Payload: p}, nil
}

func (c UpdateKValue) Frame() (Frame, error) {
	k, err := bcd(c.KValue, 4)
	if err != nil {
		return Frame{}, err
	}
	stamp, _ := hex.DecodeString(defaultStamp)
	p := []byte{paramsUpdateK}
	p = append(p, stamp...)
	p = append(p, k...)
	p = append(p, 0x00, 0x02)
	return Frame{Code: CodeUpdateParams, Payload: p}, nil
}

var (
	paramsVersion = []byte{0x24, 0x07, 0x14, 0xA1}
	startDistance = []byte{0x02, 0x00}
	peakWindows   = []byte{0x08, 0x00, 0x10, 0x30, 0x17, 0x00, 0x19, 0x30}
	priceTail     = []byte{0x00, 0x20, 0x00, 0x60, 0x01, 0x50}
)

func (c PriceParams) Frame() (Frame, error) {
	var fields [4][]byte
	for i, v := range []int{c.StartPrice, c.StepPrice, c.Threshold, c.SecondStepPrice} {
		b, err := bcd(v, 4)
		if err != nil {
			return Frame{}, err
		}
		fields[i] = b
	}
	start, step, threshold, step2 := fields[0], fields[1], fields[2], fields[3]

	p := make([]byte, 0, 34)
	p = append(p, paramsVersion...)
	p = append(p, startDistance...)
	// peak prices mirror the normal prices
	p = append(p, start...)
	p = append(p, start...)
	p = append(p, step...)
	p = append(p, step...)
	p = append(p, peakWindows...)
	p = append(p, threshold...)
	p = append(p, step2...)
	p = append(p, step2...)
	p = append(p, priceTail...)
	return Frame{Code: CodePriceParams, Payload: p}, nil
}

func (c PlayBeep) Frame() (Frame, error) {
	return Frame{Code: CodeBeep, Payload: c.Beep.bytes()}, nil
}

func (Unlock) Frame() (Frame, error) {
	return Frame{Code: CodeUnlock, Payload: []byte{0x90}}, nil
}

const (
	deviceRead  = 0x55
	deviceWrite = 0xAA
	plateLen    = 8
	plateFiller = 24
)

func (ReadDeviceData) Frame() (Frame, error) {
	return Frame{Code: CodeDeviceData, Payload: []byte{deviceRead}}, nil
}

func (c WritePlate) Frame() (Frame, error) {
	if len(c.Plate) > plateLen {
		return Frame{}, fmt.Errorf("%w: plate %q longer than %d", ErrInvalidArgument, c.Plate, plateLen)
	}
	p := make([]byte, 0, 1+plateFiller+plateLen)
	p = append(p, deviceWrite)
	for i := 0; i < plateFiller+plateLen-len(c.Plate); i++ {
		p = append(p, 0xFF)
	}
	p = append(p, c.Plate...)
	return Frame{Code: CodeDeviceData, Payload: p}, nil
}

func (c Fixed) Frame() (Frame, error) {
	f := c.frame
	f.Payload = append([]byte(nil), c.frame.Payload...)
	return f, nil
}

// Build encodes a command into wire bytes.
func Build(c Command) ([]byte, error) {
	f, err := c.Frame()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", c, err)
	}
	return Encode(f), nil
}

// bcd renders n as decimal digits packed two per byte, zero padded to width digits.
func bcd(n, width int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative value %d", ErrInvalidArgument, n)
	}
	s := fmt.Sprintf("%0*d", width, n)
	if len(s) > width {
		return nil, fmt.Errorf("%w: %d exceeds %d digits", ErrInvalidArgument, n, width)
	}
	return hex.DecodeString(s)
}

// unbcd reverses bcd.
func unbcd(b []byte) (int, error) {
	n, err := strconv.Atoi(hex.EncodeToString(b))
	if err != nil {
		return 0, fmt.Errorf("%w: %X is not decimal", ErrMalformedFrame, b)
	}
	return n, nil
}

func flag(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}
