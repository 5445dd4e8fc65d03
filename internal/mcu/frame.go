package mcu

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedFrame is returned when a frame has no preamble/trailer or an impossible length.
	ErrMalformedFrame = errors.New("mcu: malformed frame")

	// ErrTruncatedFrame is returned when a frame is shorter than its declared or required length.
	ErrTruncatedFrame = errors.New("mcu: truncated frame")

	// ErrChecksum is a malformed frame whose XOR byte does not match its contents.
	ErrChecksum = fmt.Errorf("%w: checksum mismatch", ErrMalformedFrame)

	// ErrUnknownFrameType is returned by the classifier for type codes it does not understand.
	ErrUnknownFrameType = errors.New("mcu: unknown frame type")

	// ErrInvalidArgument is returned by command builders for out-of-range parameters.
	ErrInvalidArgument = errors.New("mcu: invalid argument")
)

// Marker opens and closes every frame.
var Marker = []byte{0x55, 0xAA}

const (
	markerLen = 2
	lengthLen = 2
	// type + flags + command code
	headerLen   = 4
	checksumLen = 1

	// MinFrameLen is the size of a frame with an empty payload.
	MinFrameLen = markerLen + lengthLen + headerLen + checksumLen + markerLen
)

// Code is the two byte command field. The low byte identifies the frame type.
type Code uint16

// Outbound command codes.
const (
	CodeStart             Code = 0x10A0
	CodePauseResume       Code = 0x10A1
	CodeAddExtras         Code = 0x10A2
	CodeEnd               Code = 0x10A3
	CodeParametersEnquiry Code = 0x10A4
	CodeUpdateParams      Code = 0x10A5
	CodePriceParams       Code = 0x10A6
	CodeRequestPatch      Code = 0x10A8
	CodeInit              Code = 0x10A9
	CodeUnlock            Code = 0x10AA
	CodeBeep              Code = 0x10AB
	CodeDeviceData        Code = 0x10AC
	CodePatchChunk        Code = 0x00E1
	CodeEndAck            Code = 0x00E4
)

// TypeCode returns the frame type carried in the low byte of the code.
func (c Code) TypeCode() byte { return byte(c) }

func (c Code) String() string { return fmt.Sprintf("%04X", uint16(c)) }

// Frame is a decoded 55AA frame.
type Frame struct {
	Type    byte
	Flags   byte
	Code    Code
	Payload []byte
}

// Checksum XORs every byte of b.
func Checksum(b []byte) byte {
	var x byte
	for _, c := range b {
		x ^= c
	}
	return x
}

// Encode serializes f as 55AA <len> <type> <flags> <code> <payload> <xor> 55AA.
// The length covers type through payload; the XOR covers length through payload.
func Encode(f Frame) []byte {
	n := headerLen + len(f.Payload)

	buf := make([]byte, 0, markerLen+lengthLen+n+checksumLen+markerLen)
	buf = append(buf, Marker...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	buf = append(buf, f.Type, f.Flags)
	buf = binary.BigEndian.AppendUint16(buf, uint16(f.Code))
	buf = append(buf, f.Payload...)
	buf = append(buf, Checksum(buf[markerLen:]))
	return append(buf, Marker...)
}

// Decode validates and splits a single raw frame.
func Decode(raw []byte) (Frame, error) {
	if !bytes.HasPrefix(raw, Marker) {
		return Frame{}, fmt.Errorf("%w: missing preamble", ErrMalformedFrame)
	}
	if len(raw) < MinFrameLen {
		return Frame{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrTruncatedFrame, len(raw), MinFrameLen)
	}

	declared := int(binary.BigEndian.Uint16(raw[markerLen:]))
	if declared < headerLen {
		return Frame{}, fmt.Errorf("%w: declared length %d", ErrMalformedFrame, declared)
	}

	total := FrameLen(declared)
	if len(raw) < total {
		return Frame{}, fmt.Errorf("%w: %d bytes, declared %d", ErrTruncatedFrame, len(raw), total)
	}
	if len(raw) > total || !bytes.Equal(raw[total-markerLen:], Marker) {
		return Frame{}, fmt.Errorf("%w: missing trailer", ErrMalformedFrame)
	}

	sumAt := total - markerLen - checksumLen
	if want := Checksum(raw[markerLen:sumAt]); raw[sumAt] != want {
		return Frame{}, fmt.Errorf("%w: got %02X want %02X", ErrChecksum, raw[sumAt], want)
	}

	body := raw[markerLen+lengthLen : sumAt]
	payload := make([]byte, len(body)-headerLen)
	copy(payload, body[headerLen:])

	return Frame{
		Type:    body[0],
		Flags:   body[1],
		Code:    Code(binary.BigEndian.Uint16(body[2:4])),
		Payload: payload,
	}, nil
}

// FrameLen returns the on-wire size of a frame whose length field is declared.
func FrameLen(declared int) int {
	return markerLen + lengthLen + declared + checksumLen + markerLen
}

// Hex renders raw bytes the way the MCU protocol is documented and logged.
func Hex(raw []byte) string {
	return strings.ToUpper(hex.EncodeToString(raw))
}

// ParseHex accepts upper or lower case hex, optionally separated by spaces.
func ParseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return b, nil
}
