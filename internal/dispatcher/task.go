package dispatcher

import (
	"context"
	"errors"

	"github.com/autopeer-io/cabmeter/internal/mcu"
)

var (
	// ErrClosed is returned for submissions after the dispatcher was closed,
	// and delivered to tasks discarded at teardown.
	ErrClosed = errors.New("dispatcher: closed")

	// ErrWriteFailure wraps transport errors delivered on a task's Done channel.
	ErrWriteFailure = errors.New("dispatcher: write failure")

	// ErrDropped is delivered to a task evicted from a full queue.
	ErrDropped = errors.New("dispatcher: dropped from full queue")
)

// Task is one command waiting for the serial link.
//
// Done is optional. When set it must have room for one value; it receives the
// outcome after the command was written and the settle delay elapsed.
type Task struct {
	Command mcu.Command
	Done    chan error
}

// NewTask returns a task with a result channel.
func NewTask(cmd mcu.Command) Task {
	return Task{Command: cmd, Done: make(chan error, 1)}
}

func (t Task) finish(err error) {
	if t.Done == nil {
		return
	}
	select {
	case t.Done <- err:
	default:
	}
}

// Writer is the outbound half of the serial transport.
type Writer interface {
	Write(ctx context.Context, frame []byte) error
}

// Handler consumes inbound frames on the message worker.
type Handler interface {
	HandleFrame(ctx context.Context, raw []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, raw []byte)

func (f HandlerFunc) HandleFrame(ctx context.Context, raw []byte) { f(ctx, raw) }
