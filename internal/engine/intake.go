package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-enginev1/internal/model"
	"order-enginev1/internal/notification"
)

// ErrUnknownSymbol is returned when no instrument token can be resolved for
// a trading symbol, not even by a live broker lookup.
var ErrUnknownSymbol = errors.New("engine: unknown trading symbol")

// ErrDuplicateOrder is returned when an order ID is already live.
var ErrDuplicateOrder = errors.New("engine: duplicate order id")

// AddOrder admits a new conditional order: validates it, resolves its
// instrument token, caches it, queues the durable insert and the index
// addition, and subscribes the feed to the instrument. On error nothing is
// admitted.
func (e *Engine) AddOrder(ctx context.Context, ord model.Order) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	if err := ord.Validate(); err != nil {
		return err
	}
	if _, exists := e.orders.Get(ord.OrderID); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, ord.OrderID)
	}

	token, err := e.resolveToken(ctx, ord.TradingSymbol)
	if err != nil {
		return err
	}

	now := time.Now()
	ord.InstrumentToken = token
	ord.Status = model.StatusPending
	ord.ExecutionsDone = 0
	ord.CreatedAt = now
	ord.UpdatedAt = now

	e.orders.Put(ord.OrderID, ord)

	select {
	case e.indexCh <- indexRequest{token: token, orderID: ord.OrderID}:
	case <-ctx.Done():
		e.orders.Remove(ord.OrderID)
		return ctx.Err()
	}

	// Queued only after the index hand-off: a cancelled admission must not
	// leave a durable PENDING row that warm-up would resurrect.
	e.enqueueJob(model.Job{Kind: model.JobInsertOrder, Order: ord, EnqueuedAt: now})

	e.deps.Feed.EnsureSubscribed(token)
	e.met.OrdersAdmitted.Inc()
	e.log.Info("order admitted",
		"order_id", ord.OrderID,
		"symbol", ord.TradingSymbol,
		"type", ord.OrderType,
		"operation", ord.Operation,
		"execution_limit", ord.ExecutionLimit,
	)
	return nil
}

// ModifyOrder replaces the mutable fields of a pending order. The durable
// store is the authority: the update applies only while the row is still
// PENDING. Returns false (no error) when the order is absent or past PENDING.
func (e *Engine) ModifyOrder(ctx context.Context, orderID string, details model.Order) (bool, error) {
	if !e.running.Load() {
		return false, ErrNotRunning
	}
	details.OrderID = orderID
	if err := details.Validate(); err != nil {
		return false, err
	}

	cur, cached := e.orders.Get(orderID)

	updated := details
	updated.Status = model.StatusPending
	updated.UpdatedAt = time.Now()
	if cached {
		updated.InstrumentToken = cur.InstrumentToken
		updated.ExecutionsDone = cur.ExecutionsDone
		updated.CreatedAt = cur.CreatedAt
	}

	symbolChanged := !cached || details.TradingSymbol != cur.TradingSymbol
	if symbolChanged {
		token, err := e.resolveToken(ctx, details.TradingSymbol)
		if err != nil {
			return false, err
		}
		updated.InstrumentToken = token
	}

	ok, err := e.deps.Store.ModifyPending(ctx, &updated)
	if err != nil {
		return false, fmt.Errorf("modify order %s: %w", orderID, err)
	}
	if !ok {
		e.log.Warn("modify rejected, order not pending", "order_id", orderID)
		return false, nil
	}

	unlock := e.locks.lock(orderID)
	e.orders.Put(orderID, updated)
	unlock()

	if cached && updated.InstrumentToken != cur.InstrumentToken {
		e.index.Remove(cur.InstrumentToken, orderID)
	}
	e.index.Add(updated.InstrumentToken, orderID)
	e.deps.Feed.EnsureSubscribed(updated.InstrumentToken)

	e.log.Info("order modified", "order_id", orderID, "symbol", updated.TradingSymbol)
	return true, nil
}

// CancelOrder cancels a pending order. Like ModifyOrder, the durable PENDING
// guard decides; an order that has started executing cannot be cancelled.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if !e.running.Load() {
		return false, ErrNotRunning
	}

	ok, err := e.deps.Store.CancelPending(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if !ok {
		e.log.Warn("cancel rejected, order not pending", "order_id", orderID)
		return false, nil
	}

	if ord, cached := e.orders.Get(orderID); cached {
		e.orders.Remove(orderID)
		e.index.Remove(ord.InstrumentToken, orderID)
	}
	e.met.OrdersCompleted.WithLabelValues(model.StatusCancelled).Inc()
	e.log.Info("order cancelled", "order_id", orderID)
	e.notify(notification.Event{Kind: notification.EventOrderCancelled, OrderID: orderID})
	return true, nil
}

// resolveToken maps a trading symbol to its instrument token. Read-through:
// memory cache, then the durable instruments table, then a live broker
// lookup. Live hits are written back to both.
func (e *Engine) resolveToken(ctx context.Context, symbol string) (uint32, error) {
	if token, ok := e.instruments.Get(symbol); ok {
		return token, nil
	}

	token, ok, err := e.deps.Store.InstrumentToken(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("instrument lookup %s: %w", symbol, err)
	}
	if ok {
		e.instruments.Put(symbol, token)
		return token, nil
	}

	token, err = e.deps.Resolver.LookupToken(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnknownSymbol, symbol, err)
	}
	e.instruments.Put(symbol, token)
	e.enqueueJob(model.Job{
		Kind:       model.JobUpsertInstrument,
		Instrument: model.Instrument{TradingSymbol: symbol, Exchange: e.cfg.Exchange, InstrumentToken: token},
		EnqueuedAt: time.Now(),
	})
	return token, nil
}
