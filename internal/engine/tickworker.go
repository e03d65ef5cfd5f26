package engine

import (
	"context"
	"fmt"
	"time"

	"order-enginev1/internal/model"
	"order-enginev1/internal/notification"
)

// tickWorker drains the tick queue. Multiple workers run concurrently; the
// per-order lock in evaluate keeps two workers from racing on one order.
func (e *Engine) tickWorker(ctx context.Context, id int) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-e.tickQueue:
			if !ok {
				return
			}
			e.processTick(ctx, tick)
		}
	}
}

func (e *Engine) processTick(ctx context.Context, tick model.Tick) {
	e.met.TicksTotal.Inc()
	if e.deps.Health != nil {
		e.deps.Health.SetLastTickTime(tick.ReceivedAt)
	}

	e.ticks.Put(tick.InstrumentToken, tick)
	e.prices.Set(tick.InstrumentToken, tick.LastPrice)
	if e.deps.Prices != nil {
		e.deps.Prices.PublishPrice(ctx, tick.InstrumentToken, tick.LastPrice)
	}

	for _, orderID := range e.index.IDs(tick.InstrumentToken) {
		e.evaluate(ctx, orderID, tick)
	}
}

// evaluate checks one order against one tick and executes it when the trigger
// condition holds. The order's lock is held across the eligibility check, the
// broker call, and the counter increment so concurrent ticks for the same
// instrument cannot place the same execution twice.
func (e *Engine) evaluate(ctx context.Context, orderID string, tick model.Tick) {
	unlock := e.locks.lock(orderID)
	defer unlock()

	ord, ok := e.orders.Get(orderID)
	if !ok {
		// Stale index entry left behind by cancellation or LRU eviction.
		e.index.Remove(tick.InstrumentToken, orderID)
		return
	}
	if ord.ExecutionsDone >= ord.ExecutionLimit {
		e.retireOrder(ord.OrderID, ord.InstrumentToken, model.StatusCompleted, true)
		return
	}
	if !Eligible(&ord, tick.LastPrice) {
		return
	}

	start := time.Now()
	ref, err := e.deps.Placer.PlaceOrder(ctx, e.brokerParams(&ord))
	e.met.ExecutionDur.Observe(time.Since(start).Seconds())
	if err != nil {
		e.met.ExecutionErrors.Inc()
		e.log.Error("order placement failed",
			"order_id", ord.OrderID,
			"symbol", ord.TradingSymbol,
			"price", tick.LastPrice.String(),
			"error", err,
		)
		return
	}
	e.met.ExecutionsTotal.Inc()

	executedAt := tick.LastTradedTime
	if executedAt.IsZero() {
		executedAt = time.Now()
	}
	ord.ExecutionsDone++
	ord.UpdatedAt = time.Now()
	e.enqueueJob(model.Job{
		Kind:       model.JobRecordExecution,
		OrderID:    ord.OrderID,
		Price:      tick.LastPrice,
		ExecutedAt: executedAt,
		EnqueuedAt: time.Now(),
	})
	e.log.Info("order executed",
		"order_id", ord.OrderID,
		"symbol", ord.TradingSymbol,
		"broker_ref", ref,
		"price", tick.LastPrice.String(),
		"executions_done", ord.ExecutionsDone,
		"execution_limit", ord.ExecutionLimit,
	)
	e.notify(notification.Event{
		Kind:    notification.EventOrderExecuted,
		OrderID: ord.OrderID,
		Symbol:  ord.TradingSymbol,
		Detail:  fmt.Sprintf("execution %d/%d at %s (ref %s)", ord.ExecutionsDone, ord.ExecutionLimit, tick.LastPrice.String(), ref),
	})

	if ord.ExecutionsDone >= ord.ExecutionLimit {
		// The record_execution job flips the durable status to COMPLETED.
		e.retireOrder(ord.OrderID, ord.InstrumentToken, model.StatusCompleted, false)
		return
	}
	ord.Status = model.StatusPartiallyExecuted
	e.orders.Put(ord.OrderID, ord)
}

// brokerParams maps a cached order onto broker order-placement parameters.
func (e *Engine) brokerParams(o *model.Order) model.OrderParams {
	return model.OrderParams{
		Variety:         o.Variety,
		Exchange:        e.cfg.Exchange,
		TradingSymbol:   o.TradingSymbol,
		TransactionType: o.Operation,
		Quantity:        o.Quantity,
		Product:         o.Product,
		OrderType:       o.OrderType,
		Validity:        o.Validity,
		Price:           o.LimitPrice,
		TriggerPrice:    o.TriggerPrice,
	}
}
