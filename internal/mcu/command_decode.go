package mcu

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeCommand recovers the command value an outbound frame was built from.
// It is the inverse of Command.Frame and is used to inspect traffic written to the board.
func DecodeCommand(f Frame) (Command, error) {
	p := f.Payload
	need := func(n int) error {
		if len(p) != n {
			return fmt.Errorf("%w: %s payload has %d bytes, want %d", ErrMalformedFrame, f.Code, len(p), n)
		}
		return nil
	}

	switch f.Code {
	case CodeStart:
		if err := need(1 + tripIDLen + 3); err != nil {
			return nil, err
		}
		return StartTrip{
			TripID: string(p[1 : 1+tripIDLen]),
			Paused: p[0] == 0x01,
			Beep:   beepFrom(p[1+tripIDLen:]),
		}, nil

	case CodePauseResume:
		if err := need(4); err != nil {
			return nil, err
		}
		if p[0] == 0x01 {
			return PauseTrip{Beep: beepFrom(p[1:])}, nil
		}
		return ResumeTrip{Beep: beepFrom(p[1:])}, nil

	case CodeEnd:
		if err := need(4); err != nil {
			return nil, err
		}
		return EndTrip{Beep: beepFrom(p[1:])}, nil

	case CodeAddExtras:
		if err := need(6); err != nil {
			return nil, err
		}
		n, err := unbcd(p[:2])
		if err != nil {
			return nil, err
		}
		return SetExtras{Amount: n, Beep: beepFrom(p[3:])}, nil

	case CodeUpdateParams:
		if err := need(12); err != nil {
			return nil, err
		}
		switch p[0] {
		case paramsUpdateTime:
			return UpdateTime{Stamp: hex.EncodeToString(p[1:8])}, nil
		case paramsUpdateK:
			k, err := unbcd(p[8:10])
			if err != nil {
				return nil, err
			}
			return UpdateKValue{KValue: k}, nil
		}
		return nil, fmt.Errorf("%w: update sub-command %02X", ErrUnknownFrameType, p[0])

	case CodePriceParams:
		if err := need(34); err != nil {
			return nil, err
		}
		var v [4]int
		for i, off := range []int{6, 10, 22, 24} {
			n, err := unbcd(p[off : off+2])
			if err != nil {
				return nil, err
			}
			v[i] = n
		}
		return PriceParams{StartPrice: v[0], StepPrice: v[1], Threshold: v[2], SecondStepPrice: v[3]}, nil

	case CodeBeep:
		if err := need(3); err != nil {
			return nil, err
		}
		return PlayBeep{Beep: beepFrom(p)}, nil

	case CodeUnlock:
		return Unlock{}, nil

	case CodeDeviceData:
		if len(p) == 1 && p[0] == deviceRead {
			return ReadDeviceData{}, nil
		}
		if err := need(1 + plateFiller + plateLen); err != nil {
			return nil, err
		}
		plate := p[1+plateFiller:]
		for len(plate) > 0 && plate[0] == 0xFF {
			plate = plate[1:]
		}
		return WritePlate{Plate: string(plate)}, nil

	case CodeRequestPatch:
		if err := need(6); err != nil {
			return nil, err
		}
		return RequestPatch{
			Version: hex.EncodeToString(p[:4]),
			Blocks:  int(p[4])<<8 | int(p[5]),
		}, nil

	case CodePatchChunk:
		if err := need(1 + 4 + 2 + PatchBlockSize + 4); err != nil {
			return nil, err
		}
		data := p[7 : 7+PatchBlockSize]
		sum := uint32(p[7+PatchBlockSize])<<24 | uint32(p[8+PatchBlockSize])<<16 |
			uint32(p[9+PatchBlockSize])<<8 | uint32(p[10+PatchBlockSize])
		if sum != DataSum(data) {
			return nil, fmt.Errorf("%w: patch data sum %08X", ErrChecksum, sum)
		}
		return PatchChunk{
			Version: hex.EncodeToString(p[1:5]),
			Block:   int(p[5])<<8 | int(p[6]),
			Data:    append([]byte(nil), data...),
		}, nil
	}

	for _, fixed := range []Fixed{EndAck, Init, EnquireParameters} {
		if fixed.frame.Code == f.Code {
			return fixed, nil
		}
	}
	return nil, fmt.Errorf("%w: command %s", ErrUnknownFrameType, f.Code)
}

// DecodeCommandHex is DecodeCommand for a hex rendered frame.
func DecodeCommandHex(s string) (Command, error) {
	raw, err := ParseHex(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	f, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return DecodeCommand(f)
}
