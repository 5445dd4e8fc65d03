package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
)

func TestWrapEventAndSkipped(t *testing.T) {
	boom := errors.New("boom")
	m := fsm.NewFSM("idle",
		fsm.Events{
			{Name: "go", Src: []string{"idle"}, Dst: "busy"},
			{Name: "stop", Src: []string{"busy"}, Dst: "idle"},
		},
		fsm.Callbacks{
			"enter_busy": WrapEvent(func(context.Context, *fsm.Event) error { return boom }),
		},
	)

	err := m.Event(context.Background(), "stop")
	if !Skipped(err) {
		t.Errorf("stop from idle: Skipped(%v) = false", err)
	}

	err = m.Event(context.Background(), "go")
	if !errors.Is(err, boom) || Skipped(err) {
		t.Errorf("go: err = %v", err)
	}
	if m.Current() != "busy" {
		t.Errorf("Current() = %s", m.Current())
	}
	if Skipped(nil) {
		t.Error("Skipped(nil) = true")
	}
}
