// Package serialport is the serial link to the measuring board.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/autopeer-io/cabmeter/internal/mcu"
	"github.com/autopeer-io/cabmeter/pkg/log"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("serialport: closed")

const (
	DefaultDevice      = "/dev/ttyS1"
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 200 * time.Millisecond
)

// Config describes the board link.
type Config struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
}

// conn is the part of serial.Port the link uses.
type conn interface {
	io.ReadWriteCloser
}

// Port writes frames to the board and delivers every frame it sends back.
type Port struct {
	device string
	conn   conn
	log    log.Logger

	wmu    sync.Mutex
	closed bool

	rmu       sync.Mutex
	onReceive func(raw []byte)
}

// Open opens the serial device described by cfg.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	sp, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", cfg.Device, err)
	}
	if err := sp.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = sp.Close()
		return nil, fmt.Errorf("serialport: set read timeout: %w", err)
	}
	// Drop whatever the board sent before we were listening.
	if err := sp.ResetInputBuffer(); err != nil {
		_ = sp.Close()
		return nil, fmt.Errorf("serialport: reset input: %w", err)
	}

	log.Info("Serial link opened", "device", cfg.Device, "baud", cfg.BaudRate)
	return newPort(cfg.Device, sp), nil
}

func newPort(device string, c conn) *Port {
	return &Port{device: device, conn: c, log: log.WithName("serialport")}
}

// OnReceive sets the callback for received frames. It runs on the read
// loop and must not block.
func (p *Port) OnReceive(fn func(raw []byte)) {
	p.rmu.Lock()
	defer p.rmu.Unlock()
	p.onReceive = fn
}

// Write sends one frame. Concurrent writes are serialized.
func (p *Port) Write(_ context.Context, frame []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.closed {
		return ErrClosed
	}
	for len(frame) > 0 {
		n, err := p.conn.Write(frame)
		if err != nil {
			return fmt.Errorf("serialport: write %s: %w", p.device, err)
		}
		frame = frame[n:]
	}
	return nil
}

// Run reads from the link until ctx is done or the port fails.
func (p *Port) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = p.Close()
	}()

	var split Splitter
	buf := make([]byte, 512)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			discarded := split.Discarded
			for _, frame := range split.Feed(buf[:n]) {
				p.deliver(frame)
			}
			if d := split.Discarded - discarded; d > 0 {
				p.log.Debug("Discarded bytes outside a frame", "count", d)
			}
		}
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF):
			return ErrClosed
		case err != nil:
			return fmt.Errorf("serialport: read %s: %w", p.device, err)
		}
	}
}

func (p *Port) deliver(frame []byte) {
	p.rmu.Lock()
	fn := p.onReceive
	p.rmu.Unlock()

	p.log.Debug("Frame received", "frame", mcu.Hex(frame))
	if fn != nil {
		fn(frame)
	}
}

// Close releases the device. It is safe to call more than once.
func (p *Port) Close() error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}
