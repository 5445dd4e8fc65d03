package mcu

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

// inbound builds a board frame whose payload starts at hex offset 16.
func inbound(t *testing.T, code Code, payloadHex string) []byte {
	t.Helper()
	p, err := hex.DecodeString(payloadHex)
	if err != nil {
		t.Fatalf("bad payload hex: %v", err)
	}
	return Encode(Frame{Code: code, Payload: p})
}

const (
	ongoingPayload = "01" + "0005" + "000100" + "000130" + "0000" + "000500" + "001234" + "001734" + "250101120000" + "00" + "02"
	idlePayload    = "000000000000000000000000" + "250101120000" + "ABC1234567" +
		"000000000000000000000000000000000000000000000000" + "FFFF414231323334"
)

func TestParseOngoingHeartbeat(t *testing.T) {
	sample, err := Parse(inbound(t, 0x00E3, ongoingPayload))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	hb, ok := sample.(OngoingHeartbeat)
	if !ok {
		t.Fatalf("Parse() = %T, want OngoingHeartbeat", sample)
	}

	if hb.Status.Kind != StatusStopped || !hb.Status.Stopped() {
		t.Errorf("status = %v, want stopped", hb.Status)
	}
	if hb.OverspeedSeconds != 5 {
		t.Errorf("overspeed = %d, want 5", hb.OverspeedSeconds)
	}
	if hb.DistanceMeters != 1000 {
		t.Errorf("distance = %v, want 1000", hb.DistanceMeters)
	}
	if hb.WaitSeconds != 90 {
		t.Errorf("wait = %d, want 90", hb.WaitSeconds)
	}
	if hb.Extra != 5 || hb.Fare != 12.34 || hb.TotalFare != 17.34 {
		t.Errorf("money = %v/%v/%v, want 5/12.34/17.34", hb.Extra, hb.Fare, hb.TotalFare)
	}
	if hb.MCUTime != "250101120000" {
		t.Errorf("mcu time = %q", hb.MCUTime)
	}
	if hb.AbnormalPulseCounter != 0 || hb.OverspeedCounter != 2 {
		t.Errorf("counters = %d/%d, want 0/2", hb.AbnormalPulseCounter, hb.OverspeedCounter)
	}
}

func TestParseIdleHeartbeat(t *testing.T) {
	sample, err := Parse(inbound(t, 0x00E2, idlePayload))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	idle, ok := sample.(IdleHeartbeat)
	if !ok {
		t.Fatalf("Parse() = %T, want IdleHeartbeat", sample)
	}
	want := IdleHeartbeat{DeviceID: "ABC1234567", LicensePlate: "AB1234", MCUTime: "250101120000"}
	if idle != want {
		t.Errorf("Parse() = %+v, want %+v", idle, want)
	}
}

func TestParseTripEndSummary(t *testing.T) {
	payload := strings.Repeat("0", 102) + "000250" + "001005" + "004560" + "000500" + "005060"
	sample, err := Parse(inbound(t, 0x00E4, payload))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := TripEndSummary{DistanceMeters: 2500, WaitSeconds: 605, Fare: 45.6, Extra: 5, TotalFare: 50.6}
	if got := sample.(TripEndSummary); got != want {
		t.Errorf("Parse() = %+v, want %+v", got, want)
	}
}

func TestParseStatusCodes(t *testing.T) {
	tests := []struct {
		code   string
		kind   StatusKind
		locked bool
		pulse  bool
	}{
		{"0", StatusHired, false, false},
		{"1", StatusStopped, false, false},
		{"2", StatusOverspeed, true, false},
		{"5", StatusFault, true, true},
		{"7", StatusFaultAndOverspeed, true, true},
		{"9", StatusUnknown, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			payload := "0" + tt.code + ongoingPayload[2:]
			sample, err := Parse(inbound(t, 0x00E3, payload))
			if err != nil {
				t.Fatal(err)
			}
			st := sample.(OngoingHeartbeat).Status
			if st.Kind != tt.kind || st.Locked() != tt.locked || st.AbnormalPulse() != tt.pulse {
				t.Errorf("status %s = %v locked=%v pulse=%v", tt.code, st.Kind, st.Locked(), st.AbnormalPulse())
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Run("truncated ongoing", func(t *testing.T) {
		_, err := Parse(inbound(t, 0x00E3, ongoingPayload[:40]))
		if !errors.Is(err, ErrTruncatedFrame) {
			t.Errorf("Parse() error = %v, want ErrTruncatedFrame", err)
		}
	})

	t.Run("non decimal fare", func(t *testing.T) {
		payload := strings.Replace(ongoingPayload, "001234", "00AB34", 1)
		_, err := Parse(inbound(t, 0x00E3, payload))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("Parse() error = %v, want ErrMalformedFrame", err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		raw := inbound(t, 0x00E9, "00")
		sample, err := Parse(raw)
		if !errors.Is(err, ErrUnknownFrameType) {
			t.Fatalf("Parse() error = %v, want ErrUnknownFrameType", err)
		}
		if u, ok := sample.(Unknown); !ok || u.Type() != 0xE9 {
			t.Errorf("Parse() sample = %#v, want Unknown E9", sample)
		}
	})

	t.Run("abnormal pulse", func(t *testing.T) {
		sample, err := Parse(inbound(t, 0x00E5, "00"))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := sample.(AbnormalPulse); !ok {
			t.Errorf("Parse() = %T, want AbnormalPulse", sample)
		}
	})
}

func TestClassify(t *testing.T) {
	raw := inbound(t, 0x00E2, idlePayload)
	if typ, ok := Classify(raw); !ok || typ != TypeIdleHeartbeat {
		t.Errorf("Classify() = %02X, %v", typ, ok)
	}
	if _, ok := Classify([]byte{0x01, 0x02}); ok {
		t.Error("Classify() accepted garbage")
	}
}
