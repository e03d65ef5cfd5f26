package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// ── Port Interfaces ──
// These decouple the engine from the broker SDK and the durable store so
// tests can substitute fakes.

// OrderParams are the broker-facing parameters of one execution.
type OrderParams struct {
	Variety         string
	Exchange        string
	TradingSymbol   string
	TransactionType string
	Quantity        int64
	Product         string
	OrderType       string
	Validity        string
	Price           decimal.Decimal
	TriggerPrice    decimal.Decimal
}

// OrderPlacer places one order with the external execution endpoint.
// Returns the broker's order reference.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, p OrderParams) (string, error)
}

// TokenResolver performs a live instrument-token lookup against the broker,
// used only when both the cache and the durable store miss.
type TokenResolver interface {
	LookupToken(ctx context.Context, tradingSymbol string) (uint32, error)
}

// OrderStore is the synchronous face of the durable store: the guarded
// modify/cancel updates and the read-through paths used by the intake
// pipeline. Asynchronous writes go through the Job queue instead.
type OrderStore interface {
	// InstrumentToken returns the cached token for a symbol.
	// ok is false on a miss (not an error).
	InstrumentToken(ctx context.Context, tradingSymbol string) (token uint32, ok bool, err error)

	// ModifyPending updates a pending order's mutable fields.
	// Returns false when the order is absent or no longer PENDING.
	ModifyPending(ctx context.Context, order *Order) (bool, error)

	// CancelPending flips a pending order to CANCELLED.
	// Returns false when the order is absent or no longer PENDING.
	CancelPending(ctx context.Context, orderID string) (bool, error)

	// ActiveOrders loads every non-terminal order for cache warm-up.
	ActiveOrders(ctx context.Context) ([]Order, error)

	// Instruments loads the symbol→token table for cache warm-up.
	Instruments(ctx context.Context) ([]Instrument, error)
}

// JobApplier applies one durable write job. Implemented by the SQLite store;
// each call owns its own short-lived transaction scope.
type JobApplier interface {
	Apply(ctx context.Context, job Job) error
}

// PricePublisher mirrors the latest traded price of an instrument into a
// shared key-value view for external readers. Implementations must not block
// the tick path on failure.
type PricePublisher interface {
	PublishPrice(ctx context.Context, token uint32, price decimal.Decimal)
}
