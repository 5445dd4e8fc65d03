package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FramesWritten counts frames written to the measuring board, by command.
	FramesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cabmeter_frames_written_total",
			Help: "Total number of frames written to the measuring board.",
		},
		[]string{"command", "status"}, // status: success/failed
	)

	// FramesReceived counts inbound frames by sample type.
	FramesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cabmeter_frames_received_total",
			Help: "Total number of frames received from the measuring board.",
		},
		[]string{"type"},
	)

	// ParseErrors counts dropped inbound frames.
	ParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cabmeter_parse_errors_total",
			Help: "Inbound frames dropped because they could not be decoded.",
		},
		[]string{"reason"}, // malformed/truncated/unknown
	)

	// QueueDrops counts entries evicted from a full dispatcher queue.
	QueueDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cabmeter_queue_drops_total",
			Help: "Entries dropped from a full dispatcher queue.",
		},
		[]string{"queue"}, // task/message
	)

	// QueueDepth reports the number of buffered entries per queue.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cabmeter_queue_depth",
			Help: "Number of entries waiting in a dispatcher queue.",
		},
		[]string{"queue"},
	)

	// WorkerRestarts counts queue workers restarted after they died.
	WorkerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cabmeter_worker_restarts_total",
			Help: "Dispatcher workers recreated after an unexpected exit.",
		},
		[]string{"queue"},
	)

	// LedgerOps counts remote ledger operations.
	LedgerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cabmeter_ledger_operations_total",
			Help: "Remote ledger operations issued by the reconciliation engine.",
		},
		[]string{"op", "status"}, // op: create/patch/recover/...
	)

	// LedgerLatency observes remote ledger round trips.
	LedgerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cabmeter_ledger_latency_seconds",
			Help:    "Latency of remote ledger operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// LockEpisodes counts lock protocol transitions.
	LockEpisodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cabmeter_lock_transitions_total",
			Help: "Overspeed and abnormal pulse lock protocol transitions.",
		},
		[]string{"action"}, // lock/unlock
	)

	// LedgerConnected is 1 while the ledger transport is connected.
	LedgerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cabmeter_ledger_connected",
			Help: "The connectivity status to the remote ledger (1=Connected, 0=Disconnected).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		FramesWritten,
		FramesReceived,
		ParseErrors,
		QueueDrops,
		QueueDepth,
		WorkerRestarts,
		LedgerOps,
		LedgerLatency,
		LockEpisodes,
		LedgerConnected,
	)
}

// Status returns the status label for err.
func Status(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
