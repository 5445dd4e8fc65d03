package firmware

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/autopeer-io/cabmeter/internal/mcu"
)

type fakeSource struct {
	image []byte
	err   error
}

func (f *fakeSource) Fetch(_ context.Context, _ string, path string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(path, f.image, 0o644)
}

func (f *fakeSource) CheckBucket(context.Context) error { return nil }

type recorder struct{ cmds []mcu.Command }

func (r *recorder) Enqueue(cmd mcu.Command) error {
	r.cmds = append(r.cmds, cmd)
	return nil
}

func TestPatchSession(t *testing.T) {
	image := bytes.Repeat([]byte{0x5A}, 3000)
	cmd := &recorder{}
	m := NewManager(&fakeSource{image: image}, cmd, t.TempDir())

	if err := m.HandleRequest(mcu.UpgradeRequest{Version: "23082501"}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("HandleRequest() outside a session error = %v", err)
	}

	if err := m.Begin(context.Background(), "meter/fw-23082501.bin", "23082501"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := m.Begin(context.Background(), "meter/fw-23082501.bin", "23082501"); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Begin() error = %v", err)
	}
	if len(cmd.cmds) != 1 || cmd.cmds[0] != (mcu.RequestPatch{Version: "23082501", Blocks: 2}) {
		t.Fatalf("commands = %v", cmd.cmds)
	}

	if err := m.HandleRequest(mcu.UpgradeRequest{Version: "99999999", Block: 0}); err == nil {
		t.Error("HandleRequest() accepted a foreign version")
	}

	for block := 0; block < 2; block++ {
		if err := m.HandleRequest(mcu.UpgradeRequest{Version: "23082501", Block: block}); err != nil {
			t.Fatalf("HandleRequest(%d) error = %v", block, err)
		}
		if block == 0 {
			if p, ok := m.Progress(); !ok || p.Sent != 0 || p.Blocks != 2 {
				t.Errorf("Progress() = %+v, %v", p, ok)
			}
		}
	}

	if len(cmd.cmds) != 3 {
		t.Fatalf("got %d commands, want 3", len(cmd.cmds))
	}
	last, ok := cmd.cmds[2].(mcu.PatchChunk)
	if !ok || last.Block != 1 || last.Data[3000-mcu.PatchBlockSize] != 0xFF {
		t.Errorf("last chunk = %v", cmd.cmds[2])
	}
	if _, ok := m.Progress(); ok {
		t.Error("session still running after the last block")
	}
}

func TestBeginFailsOnFetch(t *testing.T) {
	m := NewManager(&fakeSource{err: errors.New("no such object")}, &recorder{}, t.TempDir())
	if err := m.Begin(context.Background(), "missing", "23082501"); err == nil {
		t.Fatal("Begin() succeeded without an image")
	}
	// A failed start leaves no session behind.
	if err := m.Begin(context.Background(), "missing", "23082501"); errors.Is(err, ErrSessionActive) {
		t.Error("failed Begin() left the session active")
	}
}
