// Package broker adapts the Kite Connect REST client onto the engine's
// OrderPlacer and TokenResolver ports.
package broker

import (
	"context"
	"fmt"

	"order-enginev1/internal/model"
	"order-enginev1/pkg/kiteconnect"
)

// Kite wraps the REST client for order placement and instrument resolution.
type Kite struct {
	client   *kiteconnect.Client
	exchange string
}

// NewKite creates the adapter. exchange qualifies LTP lookups ("NSE:SYMBOL").
func NewKite(client *kiteconnect.Client, exchange string) *Kite {
	if exchange == "" {
		exchange = "NSE"
	}
	return &Kite{client: client, exchange: exchange}
}

// PlaceOrder submits one execution and returns the broker order reference.
func (k *Kite) PlaceOrder(ctx context.Context, p model.OrderParams) (string, error) {
	variety := p.Variety
	if variety == "" {
		variety = "regular"
	}
	exchange := p.Exchange
	if exchange == "" {
		exchange = k.exchange
	}
	return k.client.PlaceOrder(ctx, variety, kiteconnect.OrderParams{
		Exchange:        exchange,
		TradingSymbol:   p.TradingSymbol,
		TransactionType: p.TransactionType,
		Quantity:        p.Quantity,
		Product:         p.Product,
		OrderType:       p.OrderType,
		Validity:        p.Validity,
		Price:           p.Price,
		TriggerPrice:    p.TriggerPrice,
	})
}

// LookupToken resolves a trading symbol to its instrument token with a live
// LTP quote request.
func (k *Kite) LookupToken(ctx context.Context, tradingSymbol string) (uint32, error) {
	key := k.exchange + ":" + tradingSymbol
	quotes, err := k.client.LTP(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("ltp lookup %s: %w", key, err)
	}
	quote, ok := quotes[key]
	if !ok || quote.InstrumentToken == 0 {
		return 0, fmt.Errorf("no instrument found for %s", key)
	}
	return quote.InstrumentToken, nil
}

var (
	_ model.OrderPlacer   = (*Kite)(nil)
	_ model.TokenResolver = (*Kite)(nil)
)
