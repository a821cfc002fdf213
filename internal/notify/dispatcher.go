package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/seatswap/seatswap/internal/security"
)

// Sink receives events from the dispatcher, one at a time.
type Sink interface {
	Deliver(ctx context.Context, e Event)
}

// Dispatcher is a buffered, single-worker Emitter that fans events out to
// its sinks in emission order.
type Dispatcher struct {
	logger *slog.Logger
	sinks  []Sink
	events chan Event

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ Emitter = (*Dispatcher)(nil)

func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		logger: logger,
		sinks:  sinks,
		events: make(chan Event, 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit enqueues the event without blocking. Events are dropped when the
// buffer is full.
func (d *Dispatcher) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case d.events <- e:
		eventsEmitted.WithLabelValues(e.Type).Inc()
	default:
		eventsDropped.Inc()
		d.logger.Warn("event dropped, dispatch buffer full", "type", e.Type, "orderId", e.OrderID)
	}
}

// Close stops the worker after draining already-enqueued events.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case e := <-d.events:
			d.deliver(e)
		case <-d.stop:
			for {
				select {
				case e := <-d.events:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range d.sinks {
		s.Deliver(ctx, e)
	}
}

// WebhookSink POSTs each event as JSON to a configured URL. The URL is
// validated against private and link-local address ranges before any request
// is made.
type WebhookSink struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

var _ Sink = (*WebhookSink)(nil)

func NewWebhookSink(url string, logger *slog.Logger) (*WebhookSink, error) {
	if err := security.ValidateEndpointURL(url); err != nil {
		return nil, err
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}, nil
}

func (w *WebhookSink) Deliver(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		webhookDeliveries.WithLabelValues("error").Inc()
		w.logger.Warn("webhook delivery failed", "type", e.Type, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		webhookDeliveries.WithLabelValues("rejected").Inc()
		w.logger.Warn("webhook delivery rejected", "type", e.Type, "status", resp.StatusCode)
		return
	}
	webhookDeliveries.WithLabelValues("ok").Inc()
}
