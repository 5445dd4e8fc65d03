package mcu

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// PatchBlockSize is the number of firmware bytes carried by one patch chunk.
const PatchBlockSize = 2048

const patchResult = 0x90

// BlockCount is the number of chunks needed for an image of size bytes.
func BlockCount(size int64) int {
	return int((size + PatchBlockSize - 1) / PatchBlockSize)
}

// RequestPatch announces a firmware image to the board.
// Version is eight hex digits, for example "23082501".
type RequestPatch struct {
	Version string
	Blocks  int
}

// PatchChunk carries one 2048 byte block of the firmware image.
// Besides the frame XOR it carries an additive sum over Data.
type PatchChunk struct {
	Version string
	Block   int
	Data    []byte
}

func (RequestPatch) isCommand() {}
func (PatchChunk) isCommand()   {}

func (RequestPatch) Code() Code { return CodeRequestPatch }
func (PatchChunk) Code() Code   { return CodePatchChunk }

func (c RequestPatch) String() string {
	return fmt.Sprintf("request-patch(%s,%d)", c.Version, c.Blocks)
}

func (c PatchChunk) String() string {
	return fmt.Sprintf("patch-chunk(%s,%d)", c.Version, c.Block)
}

func versionBytes(v string) ([]byte, error) {
	b, err := hex.DecodeString(v)
	if err != nil || len(b) != 4 {
		return nil, fmt.Errorf("%w: firmware version %q must be 8 hex digits", ErrInvalidArgument, v)
	}
	return b, nil
}

func (c RequestPatch) Frame() (Frame, error) {
	v, err := versionBytes(c.Version)
	if err != nil {
		return Frame{}, err
	}
	if c.Blocks <= 0 || c.Blocks > 0xFFFF {
		return Frame{}, fmt.Errorf("%w: block count %d", ErrInvalidArgument, c.Blocks)
	}
	p := binary.BigEndian.AppendUint16(v, uint16(c.Blocks))
	return Frame{Type: 0x02, Flags: 0x01, Code: CodeRequestPatch, Payload: p}, nil
}

func (c PatchChunk) Frame() (Frame, error) {
	v, err := versionBytes(c.Version)
	if err != nil {
		return Frame{}, err
	}
	if len(c.Data) != PatchBlockSize {
		return Frame{}, fmt.Errorf("%w: chunk carries %d bytes", ErrInvalidArgument, len(c.Data))
	}
	if c.Block < 0 || c.Block > 0xFFFF {
		return Frame{}, fmt.Errorf("%w: block %d", ErrInvalidArgument, c.Block)
	}

	p := make([]byte, 0, 1+4+2+PatchBlockSize+4)
	p = append(p, patchResult)
	p = append(p, v...)
	p = binary.BigEndian.AppendUint16(p, uint16(c.Block))
	p = append(p, c.Data...)
	p = binary.BigEndian.AppendUint32(p, DataSum(c.Data))
	return Frame{Code: CodePatchChunk, Payload: p}, nil
}

// DataSum is the additive checksum over a chunk's firmware bytes.
func DataSum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

// ReadPatchChunk reads block from img. A short final block is padded with 0xFF.
func ReadPatchChunk(img io.ReaderAt, version string, block int) (PatchChunk, error) {
	data := make([]byte, PatchBlockSize)
	n, err := img.ReadAt(data, int64(block)*PatchBlockSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return PatchChunk{}, fmt.Errorf("read firmware block %d: %w", block, err)
	}
	if n == 0 {
		return PatchChunk{}, fmt.Errorf("%w: block %d is past the end of the image", ErrInvalidArgument, block)
	}
	for i := n; i < PatchBlockSize; i++ {
		data[i] = 0xFF
	}
	return PatchChunk{Version: version, Block: block, Data: data}, nil
}
