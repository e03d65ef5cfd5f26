package engine

import (
	"github.com/shopspring/decimal"

	"order-enginev1/internal/model"
)

// Eligible evaluates an order's trigger condition against a price.
//
//	MARKET:     always eligible.
//	LIMIT:      BUY at or below the limit, SELL at or above it.
//	SL / SL-M:  BUY at or above the trigger, SELL at or below it.
func Eligible(o *model.Order, price decimal.Decimal) bool {
	switch o.OrderType {
	case model.OrderTypeMarket:
		return true
	case model.OrderTypeLimit:
		if o.Operation == model.OperationBuy {
			return price.LessThanOrEqual(o.LimitPrice)
		}
		return price.GreaterThanOrEqual(o.LimitPrice)
	case model.OrderTypeSL, model.OrderTypeSLM:
		if o.Operation == model.OperationBuy {
			return price.GreaterThanOrEqual(o.TriggerPrice)
		}
		return price.LessThanOrEqual(o.TriggerPrice)
	}
	return false
}
