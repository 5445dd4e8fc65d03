package dispatcher

import (
	"github.com/autopeer-io/cabmeter/internal/pkg/metrics"
)

// queue is a bounded channel with drop-oldest overflow. The owning dispatcher
// serializes push and renew under its mutex; the worker receives from ch.
type queue[T any] struct {
	name   string
	ch     chan T
	alive  bool
	onDrop func(T)
}

func newQueue[T any](name string, capacity int, onDrop func(T)) *queue[T] {
	return &queue[T]{name: name, ch: make(chan T, capacity), onDrop: onDrop}
}

func (q *queue[T]) push(v T) {
	for {
		select {
		case q.ch <- v:
			metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
			return
		default:
		}

		select {
		case old := <-q.ch:
			metrics.QueueDrops.WithLabelValues(q.name).Inc()
			if q.onDrop != nil {
				q.onDrop(old)
			}
		default:
		}
	}
}

// renew replaces the channel, carrying buffered entries over in order.
func (q *queue[T]) renew() {
	next := make(chan T, cap(q.ch))
	for {
		select {
		case v := <-q.ch:
			next <- v
		default:
			q.ch = next
			return
		}
	}
}

// drain empties the channel.
func (q *queue[T]) drain(fn func(T)) {
	for {
		select {
		case v := <-q.ch:
			fn(v)
		default:
			metrics.QueueDepth.WithLabelValues(q.name).Set(0)
			return
		}
	}
}
