package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order types accepted by the engine. These mirror the broker's vocabulary.
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderTypeSL     = "SL"
	OrderTypeSLM    = "SL-M"
)

// Transaction operations.
const (
	OperationBuy  = "BUY"
	OperationSell = "SELL"
)

// Order lifecycle statuses. COMPLETED, CANCELLED and REJECTED are terminal:
// once reached the order is immutable and evicted from the live cache.
const (
	StatusPending           = "PENDING"
	StatusPartiallyExecuted = "PARTIALLY_EXECUTED"
	StatusCompleted         = "COMPLETED"
	StatusCancelled         = "CANCELLED"
	StatusRejected          = "REJECTED"
)

// TerminalStatus reports whether a status ends the order lifecycle.
func TerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Order is a pending conditional order held by the engine. The intake
// pipeline creates orders, tick workers mutate ExecutionsDone/Status,
// and the durable store mirrors them asynchronously.
type Order struct {
	OrderID         string          `json:"order_id"`
	TradingSymbol   string          `json:"trading_symbol"`
	InstrumentToken uint32          `json:"instrument_token"`
	Quantity        int64           `json:"quantity"`
	OrderType       string          `json:"order_type"`    // MARKET, LIMIT, SL, SL-M
	LimitPrice      decimal.Decimal `json:"limit_price"`   // required for LIMIT/SL
	TriggerPrice    decimal.Decimal `json:"trigger_price"` // required for SL/SL-M
	Variety         string          `json:"variety"`       // regular, amo, co
	Product         string          `json:"product"`       // CNC, MIS, NRML
	Validity        string          `json:"validity"`      // DAY, IOC
	Operation       string          `json:"operation"`     // BUY, SELL
	ExecutionLimit  int             `json:"execution_limit"`
	ExecutionsDone  int             `json:"executions_done"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Terminal reports whether the order has reached a terminal status.
func (o *Order) Terminal() bool { return TerminalStatus(o.Status) }

// Validate checks the structural invariants of a new order.
func (o *Order) Validate() error {
	if o.OrderID == "" {
		return fmt.Errorf("order: missing order_id")
	}
	if o.TradingSymbol == "" {
		return fmt.Errorf("order %s: missing trading_symbol", o.OrderID)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order %s: quantity must be positive", o.OrderID)
	}
	if o.ExecutionLimit <= 0 {
		return fmt.Errorf("order %s: execution_limit must be positive", o.OrderID)
	}
	switch o.Operation {
	case OperationBuy, OperationSell:
	default:
		return fmt.Errorf("order %s: invalid operation %q", o.OrderID, o.Operation)
	}
	switch o.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if o.LimitPrice.Sign() <= 0 {
			return fmt.Errorf("order %s: LIMIT order requires limit_price", o.OrderID)
		}
	case OrderTypeSL:
		if o.LimitPrice.Sign() <= 0 {
			return fmt.Errorf("order %s: SL order requires limit_price", o.OrderID)
		}
		if o.TriggerPrice.Sign() <= 0 {
			return fmt.Errorf("order %s: SL order requires trigger_price", o.OrderID)
		}
	case OrderTypeSLM:
		if o.TriggerPrice.Sign() <= 0 {
			return fmt.Errorf("order %s: SL-M order requires trigger_price", o.OrderID)
		}
	default:
		return fmt.Errorf("order %s: invalid order_type %q", o.OrderID, o.OrderType)
	}
	return nil
}

// OrderUpdate is a broker push-notification about one of our placed orders.
type OrderUpdate struct {
	OrderID           string    `json:"order_id"`
	Status            string    `json:"status"`
	ExchangeOrderID   string    `json:"exchange_order_id"`
	ExchangeTimestamp time.Time `json:"exchange_timestamp"`
	StatusMessage     string    `json:"status_message"`
}

// Terminal reports whether the broker-reported status ends the order.
// The broker says COMPLETE where the engine says COMPLETED.
func (u *OrderUpdate) Terminal() bool {
	return u.Status == "COMPLETE" || TerminalStatus(u.Status)
}

// EngineStatus maps the broker's status vocabulary onto the engine's.
func (u *OrderUpdate) EngineStatus() string {
	if u.Status == "COMPLETE" {
		return StatusCompleted
	}
	return u.Status
}
