package relay

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/iot-relay/internal/infrastructure/logging"
)

const (
	defaultSinkQueue = 1024

	// sinkTimeout bounds one HandleTelemetry call on the wrapped sink.
	sinkTimeout = 10 * time.Second
)

// QueuedSink runs a slow TelemetrySink on its own goroutine behind a
// bounded queue, so a blocking backend such as a QoS 1 MQTT publish does
// not hold up the sender's receive loop. Messages are handed to the wrapped
// sink in arrival order. When the queue is full the message is dropped,
// counted and ErrSinkQueueFull is returned.
type QueuedSink struct {
	name    string
	next    TelemetrySink
	logger  *logging.Logger
	metrics *Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan Telemetry
	done   chan struct{}
}

// NewQueuedSink starts a worker feeding next from a queue of size entries
// (default 1024). name labels logs and metrics. Call Close to stop it.
func NewQueuedSink(name string, next TelemetrySink, size int, logger *logging.Logger, metrics *Metrics) *QueuedSink {
	if size <= 0 {
		size = defaultSinkQueue
	}
	if logger == nil {
		logger = logging.Discard()
	}

	q := &QueuedSink{
		name:    name,
		next:    next,
		logger:  logger.With("sink", name),
		metrics: metrics,
		queue:   make(chan Telemetry, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// HandleTelemetry implements TelemetrySink. It never blocks.
func (q *QueuedSink) HandleTelemetry(_ context.Context, t Telemetry) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrSinkClosed
	}
	select {
	case q.queue <- t:
		return nil
	default:
		q.metrics.recordSinkDropped(q.name)
		return ErrSinkQueueFull
	}
}

// Close stops accepting telemetry and waits until everything already
// queued has been handed to the wrapped sink. Later calls are no-ops.
func (q *QueuedSink) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()

	<-q.done
}

func (q *QueuedSink) run() {
	defer close(q.done)

	for t := range q.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := q.next.HandleTelemetry(ctx, t); err != nil {
			q.logger.Warn("telemetry sink failed", "device_id", t.DeviceID, "error", err)
		}
		cancel()
	}
}
