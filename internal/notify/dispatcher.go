// Package notify hands committed-state events to an external sink. The
// dispatcher is fire-and-forget: enqueue never blocks a caller that has
// already committed, and sink failures are logged, never propagated.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/printhaus/editions/internal/logging"
	"github.com/printhaus/editions/internal/metrics"
	"github.com/printhaus/editions/internal/port"
)

// Event types produced by the core.
const (
	EventPurchaseCompleted   = "purchase.completed"
	EventFulfillmentOrder    = "fulfillment.order"
	EventArtifactPublished   = "artifact.published"
	EventArtifactUnpublished = "artifact.unpublished"
)

// Sink delivers one event to the outside world.
type Sink interface {
	Deliver(ctx context.Context, e port.Event) error
}

// LogSink is the default sink: it records the event and does nothing
// else. Production wiring swaps in the mail/webhook sink.
type LogSink struct{}

func (LogSink) Deliver(ctx context.Context, e port.Event) error {
	logging.Info().Str("recipient", e.Recipient).Str("type", e.Type).Interface("payload", e.Payload).Msg("event dispatched")
	return nil
}

// Dispatcher fans events out to a sink through a buffered queue drained
// by a worker pool.
type Dispatcher struct {
	sink    Sink
	queue   chan port.Event
	wg      sync.WaitGroup
	timeout time.Duration
	closed  sync.Once
}

// NewDispatcher starts workers draining a queue of the given size.
func NewDispatcher(sink Sink, queueSize, workers int) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1024
	}
	if workers < 1 {
		workers = 1
	}

	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan port.Event, queueSize),
		timeout: 5 * time.Second,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	return d
}

// Enqueue submits an event without blocking. A full queue drops the event
// and logs it; the committed write it follows is already durable.
func (d *Dispatcher) Enqueue(e port.Event) {
	select {
	case d.queue <- e:
	default:
		metrics.EventsDispatched.WithLabelValues("dropped").Inc()
		logging.Warn().Str("type", e.Type).Str("recipient", e.Recipient).Msg("event queue full, dropping event")
	}
}

// Close stops intake and waits for the workers to drain the queue.
func (d *Dispatcher) Close() {
	d.closed.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(id int) {
	for e := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Deliver(ctx, e); err != nil {
			metrics.EventsDispatched.WithLabelValues("error").Inc()
			logging.Error().Err(err).Int("worker", id).Str("type", e.Type).Msg("event delivery failed")
		} else {
			metrics.EventsDispatched.WithLabelValues("ok").Inc()
		}
		cancel()
	}
}
