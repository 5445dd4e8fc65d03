package serialport

import (
	"strings"
	"testing"

	"github.com/autopeer-io/cabmeter/internal/mcu"
)

// tripEnd is a trip end summary captured from a board.
const tripEnd = "55AA0031020100E4415830303031202020200002202302252047202302252119000000020000000000162500130000000000130001A355AA"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := mcu.ParseHex(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestSplitterResyncsOnNoise(t *testing.T) {
	var s Splitter
	frames := s.Feed(mustHex(t, "830303"+tripEnd+"1900000002"))
	if len(frames) != 1 || mcu.Hex(frames[0]) != tripEnd {
		t.Fatalf("Feed() = %v", frames)
	}
	if s.Discarded != 3+5 {
		t.Errorf("Discarded = %d, want 8", s.Discarded)
	}
	if _, err := mcu.Decode(frames[0]); err != nil {
		t.Errorf("Decode() error = %v", err)
	}
}

func TestSplitterJoinsFragments(t *testing.T) {
	raw := mustHex(t, tripEnd)
	var s Splitter
	var got [][]byte
	for i := 0; i < len(raw); i += 7 {
		end := min(i+7, len(raw))
		got = append(got, s.Feed(raw[i:end])...)
	}
	if len(got) != 1 || mcu.Hex(got[0]) != tripEnd {
		t.Fatalf("frames = %v", got)
	}
	if s.Buffered() != 0 || s.Discarded != 0 {
		t.Errorf("Buffered() = %d, Discarded = %d", s.Buffered(), s.Discarded)
	}
}

func TestSplitterBackToBack(t *testing.T) {
	ack := mcu.Hex(mcu.Encode(mcu.Frame{Code: mcu.CodeEndAck}))
	var s Splitter
	frames := s.Feed(mustHex(t, tripEnd+ack+tripEnd))
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if mcu.Hex(frames[1]) != ack {
		t.Errorf("frames[1] = %s, want %s", mcu.Hex(frames[1]), ack)
	}
}

func TestSplitterRejectsBadLength(t *testing.T) {
	var s Splitter
	// A marker followed by an absurd length is skipped, the real frame after it is kept.
	frames := s.Feed(mustHex(t, "55AAFFFF"+tripEnd))
	if len(frames) != 1 || !strings.EqualFold(mcu.Hex(frames[0]), tripEnd) {
		t.Fatalf("frames = %v", frames)
	}
}
