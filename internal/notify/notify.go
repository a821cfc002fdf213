// Package notify fans order lifecycle events out to interested sinks.
//
// Emission is fire and forget. A slow or failing sink never blocks or fails
// the operation that produced the event; events are dropped with a log line
// when the buffer is full.
package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event types published by the order lifecycle.
const (
	EventOrderCreated    = "order.created"
	EventPaymentApproved = "payment.approved"
	EventPaymentRejected = "payment.rejected"
	EventPaymentCanceled = "payment.canceled"
	EventOrderApproved   = "order.approved"
	EventOrderDisputed   = "order.disputed"
	EventOrderExpired    = "order.expired"
	EventOrderReady      = "order.ready_to_payout"
	EventOrderPaidOut    = "order.paid_out"
	EventBatchCreated    = "payout.batch_created"
)

// Event is one lifecycle notification.
type Event struct {
	Type     string    `json:"type"`
	OrderID  string    `json:"orderId,omitempty"`
	TicketID string    `json:"ticketId,omitempty"`
	BuyerID  string    `json:"buyerId,omitempty"`
	SellerID string    `json:"sellerId,omitempty"`
	BatchID  string    `json:"batchId,omitempty"`
	Status   string    `json:"status,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Emitter publishes lifecycle events. Implementations must not block.
type Emitter interface {
	Emit(e Event)
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

var (
	eventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seatswap",
		Name:      "notify_events_total",
		Help:      "Lifecycle events emitted by type.",
	}, []string{"type"})

	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "seatswap",
		Name:      "notify_events_dropped_total",
		Help:      "Lifecycle events dropped because the dispatch buffer was full.",
	})

	webhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seatswap",
		Name:      "notify_webhook_deliveries_total",
		Help:      "Webhook delivery attempts by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(eventsEmitted, eventsDropped, webhookDeliveries)
}
