package serialport

import (
	"bytes"
	"encoding/binary"

	"github.com/autopeer-io/cabmeter/internal/mcu"
)

// maxDeclaredLen bounds the length field; larger values are treated as line noise.
const maxDeclaredLen = 4096

// Splitter reassembles 55AA frames from a byte stream that may split or join
// frames arbitrarily and may carry noise between them.
type Splitter struct {
	buf []byte
	// Discarded counts bytes dropped while resynchronizing.
	Discarded int
}

// Feed appends p and returns every complete frame found so far.
func (s *Splitter) Feed(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var frames [][]byte
	for {
		start := bytes.Index(s.buf, mcu.Marker)
		if start < 0 {
			// Keep a trailing 0x55 that may be the first half of a marker.
			keep := 0
			if n := len(s.buf); n > 0 && s.buf[n-1] == mcu.Marker[0] {
				keep = 1
			}
			s.drop(len(s.buf) - keep)
			return frames
		}
		s.drop(start)

		if len(s.buf) < 4 {
			return frames
		}
		declared := int(binary.BigEndian.Uint16(s.buf[2:4]))
		if declared < 4 || declared > maxDeclaredLen {
			s.drop(1)
			continue
		}
		total := mcu.FrameLen(declared)
		if len(s.buf) < total {
			return frames
		}
		if !bytes.Equal(s.buf[total-2:total], mcu.Marker) {
			s.drop(1)
			continue
		}

		frames = append(frames, append([]byte(nil), s.buf[:total]...))
		s.buf = s.buf[total:]
	}
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

func (s *Splitter) drop(n int) {
	if n <= 0 {
		return
	}
	s.Discarded += n
	s.buf = s.buf[n:]
}
