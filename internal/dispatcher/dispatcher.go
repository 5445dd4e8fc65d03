package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/cabmeter/internal/mcu"
	"github.com/autopeer-io/cabmeter/internal/pkg/metrics"
	"github.com/autopeer-io/cabmeter/pkg/log"
)

const (
	DefaultCapacity    = 100
	DefaultSettleDelay = 200 * time.Millisecond

	taskQueue    = "task"
	messageQueue = "message"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock that paces the settle delay.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithSettleDelay sets the pause after every write.
func WithSettleDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.settle = delay }
}

// WithCapacity sets the bound of both queues.
func WithCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.capacity = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithHandshake makes Start queue the init frame ahead of any other command.
func WithHandshake() Option {
	return func(d *Dispatcher) { d.handshake = true }
}

// Dispatcher serializes all traffic over the single serial link.
//
// Outbound commands go through the task queue and are written strictly in
// submission order, each followed by the settle delay. Inbound frames go
// through the message queue so the transport callback never blocks.
type Dispatcher struct {
	w         Writer
	h         Handler
	clock     clock.Clock
	settle    time.Duration
	capacity  int
	handshake bool
	log       log.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	tasks    *queue[Task]
	messages *queue[[]byte]
	wg       sync.WaitGroup
}

// New returns a dispatcher writing to w and handing inbound frames to h.
func New(w Writer, h Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		w:        w,
		h:        h,
		clock:    clock.RealClock{},
		settle:   DefaultSettleDelay,
		capacity: DefaultCapacity,
		log:      log.WithName("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.tasks = newQueue(taskQueue, d.capacity, func(t Task) {
		d.log.Warn("Task queue full, dropping oldest command", "command", t.Command.String())
		t.finish(ErrDropped)
	})
	d.messages = newQueue(messageQueue, d.capacity, func([]byte) {
		d.log.Warn("Message queue full, dropping oldest frame")
	})
	return d
}

// Start binds both workers to ctx. Cancelling ctx or calling Close stops them.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.ctx != nil {
		return fmt.Errorf("dispatcher: already started")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.startTaskWorker()
	d.startMessageWorker()

	if d.handshake {
		d.tasks.push(Task{Command: mcu.Init})
	}
	d.log.Info("Dispatcher started", "capacity", d.capacity, "settleDelay", d.settle)
	return nil
}

// Submit queues t without blocking. When the queue is full the oldest task is
// dropped and receives ErrDropped.
func (d *Dispatcher) Submit(t Task) error {
	if t.Command == nil {
		return fmt.Errorf("%w: task without command", mcu.ErrInvalidArgument)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.usable(); err != nil {
		return err
	}
	if !d.tasks.alive {
		d.heal(d.tasks.name)
		d.tasks.renew()
		d.startTaskWorker()
	}
	d.tasks.push(t)
	return nil
}

// Enqueue submits cmd without waiting for its outcome.
func (d *Dispatcher) Enqueue(cmd mcu.Command) error {
	return d.Submit(Task{Command: cmd})
}

// Exec submits cmd and waits until it was written and the settle delay elapsed.
func (d *Dispatcher) Exec(ctx context.Context, cmd mcu.Command) error {
	t := NewTask(cmd)
	if err := d.Submit(t); err != nil {
		return err
	}
	select {
	case err := <-t.Done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive queues an inbound frame. It never blocks and is safe to call from
// the transport's receive callback.
func (d *Dispatcher) Receive(raw []byte) {
	frame := append([]byte(nil), raw...)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.usable(); err != nil {
		d.log.Debug("Dropping inbound frame", "reason", err)
		return
	}
	if !d.messages.alive {
		d.heal(d.messages.name)
		d.messages.renew()
		d.startMessageWorker()
	}
	d.messages.push(frame)
}

// Close stops both workers and fails every task still queued with ErrClosed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks.drain(func(t Task) { t.finish(ErrClosed) })
	d.messages.drain(func([]byte) {})
	d.log.Info("Dispatcher closed")
}

// Pending returns the number of queued tasks.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks.ch)
}

func (d *Dispatcher) usable() error {
	if d.closed || d.ctx == nil {
		return ErrClosed
	}
	if d.ctx.Err() != nil {
		return ErrClosed
	}
	return nil
}

func (d *Dispatcher) heal(name string) {
	metrics.WorkerRestarts.WithLabelValues(name).Inc()
	d.log.Warn("Queue worker is gone, recreating channel", "queue", name)
}

// startTaskWorker must be called with mu held.
func (d *Dispatcher) startTaskWorker() {
	d.tasks.alive = true
	d.wg.Add(1)
	go d.runTasks(d.ctx, d.tasks.ch)
}

// startMessageWorker must be called with mu held.
func (d *Dispatcher) startMessageWorker() {
	d.messages.alive = true
	d.wg.Add(1)
	go d.runMessages(d.ctx, d.messages.ch)
}

func (d *Dispatcher) runTasks(ctx context.Context, ch <-chan Task) {
	var current Task
	defer d.wg.Done()
	defer func() {
		r := recover()

		d.mu.Lock()
		if d.tasks.ch == ch {
			d.tasks.alive = false
		}
		d.mu.Unlock()

		if r != nil {
			err := fmt.Errorf("%w: worker panic: %v", ErrWriteFailure, r)
			d.log.Error(err, "Task worker died", "command", fmt.Sprint(current.Command))
			current.finish(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ch:
			if ctx.Err() != nil {
				t.finish(ErrClosed)
				return
			}
			current = t
			d.execute(ctx, t)
			current = Task{}
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, t Task) {
	raw, err := mcu.Build(t.Command)
	if err != nil {
		d.log.Error(err, "Rejecting command", "command", t.Command.String())
		t.finish(err)
		return
	}

	err = d.w.Write(ctx, raw)
	metrics.FramesWritten.WithLabelValues(t.Command.Code().String(), metrics.Status(err)).Inc()
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrWriteFailure, t.Command, err)
		d.log.Error(err, "Serial write failed")
	} else {
		d.log.Debug("Frame written", "command", t.Command.String(), "frame", mcu.Hex(raw))
	}

	// Failed writes settle too.
	select {
	case <-d.clock.After(d.settle):
	case <-ctx.Done():
	}
	t.finish(err)
}

func (d *Dispatcher) runMessages(ctx context.Context, ch <-chan []byte) {
	defer d.wg.Done()
	defer func() {
		r := recover()

		d.mu.Lock()
		if d.messages.ch == ch {
			d.messages.alive = false
		}
		d.mu.Unlock()

		if r != nil {
			d.log.Error(fmt.Errorf("panic: %v", r), "Message worker died")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-ch:
			d.h.HandleFrame(ctx, raw)
		}
	}
}
