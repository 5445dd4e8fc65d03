// Package firmware runs a firmware patch session with the measuring board.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/autopeer-io/cabmeter/internal/mcu"
	"github.com/autopeer-io/cabmeter/pkg/log"
)

var (
	// ErrSessionActive is returned when a patch session is already running.
	ErrSessionActive = errors.New("firmware: patch session already running")
	// ErrNoSession is returned when the board asks for a block outside a session.
	ErrNoSession = errors.New("firmware: no patch session")
)

// Enqueuer queues a board command without waiting for it.
type Enqueuer interface {
	Enqueue(cmd mcu.Command) error
}

// Progress describes the running session.
type Progress struct {
	Version string `json:"version"`
	Blocks  int    `json:"blocks"`
	// Sent is the highest block handed to the board so far, or -1.
	Sent int `json:"sent"`
}

// Manager answers board block requests from a locally cached image.
type Manager struct {
	source Source
	cmd    Enqueuer
	dir    string
	log    log.Logger

	mu      sync.Mutex
	img     *os.File
	current Progress
	active  bool
}

// NewManager caches images under dir.
func NewManager(source Source, cmd Enqueuer, dir string) *Manager {
	return &Manager{source: source, cmd: cmd, dir: dir, log: log.WithName("firmware")}
}

// Begin fetches object, announces it to the board as version and waits for
// the board's block requests.
func (m *Manager) Begin(ctx context.Context, object, version string) error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.active = true
	m.mu.Unlock()

	p, img, err := m.prepare(ctx, object, version)
	if err != nil {
		m.reset()
		return err
	}

	m.mu.Lock()
	m.img, m.current = img, p
	m.mu.Unlock()

	if err := m.cmd.Enqueue(mcu.RequestPatch{Version: version, Blocks: p.Blocks}); err != nil {
		m.finish()
		return fmt.Errorf("firmware: announce patch: %w", err)
	}
	m.log.Info("Patch session started", "version", version, "blocks", p.Blocks)
	return nil
}

func (m *Manager) prepare(ctx context.Context, object, version string) (Progress, *os.File, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return Progress{}, nil, fmt.Errorf("firmware: cache dir: %w", err)
	}
	path := filepath.Join(m.dir, version+".bin")
	if err := m.source.Fetch(ctx, object, path); err != nil {
		return Progress{}, nil, err
	}

	img, err := os.Open(path)
	if err != nil {
		return Progress{}, nil, fmt.Errorf("firmware: open image: %w", err)
	}
	info, err := img.Stat()
	if err != nil {
		_ = img.Close()
		return Progress{}, nil, fmt.Errorf("firmware: stat image: %w", err)
	}
	blocks := mcu.BlockCount(info.Size())
	if blocks == 0 {
		_ = img.Close()
		return Progress{}, nil, fmt.Errorf("firmware: image %s is empty", object)
	}
	return Progress{Version: version, Blocks: blocks, Sent: -1}, img, nil
}

// HandleRequest answers one board block request. It never blocks.
func (m *Manager) HandleRequest(req mcu.UpgradeRequest) error {
	m.mu.Lock()
	if !m.active || m.img == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	p, img := m.current, m.img
	m.mu.Unlock()

	if req.Version != p.Version {
		return fmt.Errorf("firmware: board asked for version %s during %s session", req.Version, p.Version)
	}

	chunk, err := mcu.ReadPatchChunk(img, p.Version, req.Block)
	if err != nil {
		return err
	}
	if err := m.cmd.Enqueue(chunk); err != nil {
		return fmt.Errorf("firmware: send block %d: %w", req.Block, err)
	}

	m.mu.Lock()
	if req.Block > m.current.Sent {
		m.current.Sent = req.Block
	}
	m.mu.Unlock()

	if req.Block == p.Blocks-1 {
		m.log.Info("Last firmware block sent", "version", p.Version, "blocks", p.Blocks)
		m.finish()
	}
	return nil
}

// Progress returns the running session, if any.
func (m *Manager) Progress() (Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.active && m.img != nil
}

// Abort ends the running session.
func (m *Manager) Abort() {
	m.finish()
}

func (m *Manager) finish() {
	m.mu.Lock()
	img := m.img
	m.mu.Unlock()
	if img != nil {
		_ = img.Close()
	}
	m.reset()
}

func (m *Manager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.img, m.active, m.current = nil, false, Progress{}
}
