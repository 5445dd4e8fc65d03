package mcu

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestEncodeFixedFrames(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"end ack", EndAck, "55AA0005000000E4907155AA"},
		{"init", Init, "55AA0005000010A9902C55AA"},
		{"parameters enquiry", EnquireParameters, "55AA000A000010A4202302252003B955AA"},
		{"unlock", Unlock{}, "55AA0005000010AA902F55AA"},
		{"pause", PauseTrip{Beep: DefaultBeep}, "55AA0008000010A1010A0001B355AA"},
		{"resume", ResumeTrip{Beep: DefaultBeep}, "55AA0008000010A1000A0001B255AA"},
		{"extras", SetExtras{Amount: 25, Beep: DefaultBeep}, "55AA000A000010A20025000A00019655AA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Build(tt.cmd)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if got := Hex(raw); got != tt.want {
				t.Errorf("Build() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	valid, _ := Build(PauseTrip{Beep: DefaultBeep})

	flipped := bytes.Clone(valid)
	flipped[8] ^= 0x01

	noTrailer := bytes.Clone(valid)
	noTrailer[len(noTrailer)-1] = 0x00

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, ErrMalformedFrame},
		{"no preamble", []byte{0x00, 0x11, 0x22}, ErrMalformedFrame},
		{"shorter than header", []byte{0x55, 0xAA, 0x00, 0x08}, ErrTruncatedFrame},
		{"shorter than declared", valid[:len(valid)-4], ErrTruncatedFrame},
		{"missing trailer", noTrailer, ErrMalformedFrame},
		{"checksum", flipped, ErrChecksum},
		{"trailing garbage", append(bytes.Clone(valid), 0x00), ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestChecksumDetectsSinglePayloadFlip(t *testing.T) {
	f, err := StartTrip{TripID: "0f8fad5b-d9cb-469f-a165-70867728950e", Beep: DefaultBeep}.Frame()
	if err != nil {
		t.Fatal(err)
	}
	raw := Encode(f)
	sumAt := len(raw) - 3

	for i := 8; i < sumAt; i++ {
		for _, bit := range []byte{0x01, 0x10, 0x80} {
			mutated := bytes.Clone(raw)
			mutated[i] ^= bit
			if Checksum(mutated[2:sumAt]) == raw[sumAt] {
				t.Fatalf("flipping bit %02X of byte %d kept checksum %02X", bit, i, raw[sumAt])
			}
		}
	}
}

func ExampleEncode() {
	raw := Encode(Frame{Code: CodeBeep, Payload: []byte{0x05, 0x00, 0x01}})
	fmt.Println(Hex(raw))
	// Output: 55AA0007000010AB050001B855AA
}
