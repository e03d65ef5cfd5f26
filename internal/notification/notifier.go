// Package notification delivers order lifecycle alerts to external channels
// (Telegram, generic webhooks). Delivery is fire-and-forget from the engine's
// point of view; a failed send is logged and dropped.
package notification

import (
	"context"
	"log"
)

// EventKind tags an order lifecycle alert.
type EventKind string

const (
	EventOrderExecuted  EventKind = "ORDER_EXECUTED"
	EventOrderCompleted EventKind = "ORDER_COMPLETED"
	EventOrderCancelled EventKind = "ORDER_CANCELLED"
	EventOrderRejected  EventKind = "ORDER_REJECTED"
	EventEngineHalted   EventKind = "ENGINE_HALTED"
)

// Event is one alert about an order or the engine itself.
type Event struct {
	Kind    EventKind `json:"event"`
	OrderID string    `json:"order_id,omitempty"`
	Symbol  string    `json:"symbol,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	Send(ctx context.Context, ev Event) error
}

// LogNotifier logs events instead of delivering them. Used when no external
// channel is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Send(_ context.Context, ev Event) error {
	log.Printf("[notify] [%s] %s %s: %s", ev.Kind, ev.OrderID, ev.Symbol, ev.Detail)
	return nil
}
