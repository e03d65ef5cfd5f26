// Package feed adapts the broker's callback-style streaming client into the
// engine's channel world: tick batches are handed off to the tick queue
// without blocking, and lifecycle/order events are published as typed events
// on a single channel consumed by the engine.
package feed

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"order-enginev1/internal/model"
	"order-enginev1/pkg/kiteconnect"
)

// EventKind discriminates feed events.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventClosed
	EventError
	EventReconnect
	EventNoReconnect
	EventOrderUpdate
)

// Event is one feed lifecycle or order-update notification.
type Event struct {
	Kind    EventKind
	Code    int
	Reason  string
	Attempt int
	Update  model.OrderUpdate
}

// Ticker is the subset of the streaming client the adapter drives.
type Ticker interface {
	Connect() error
	Close()
	Subscribe(tokens []uint32) error
	SetMode(mode string, tokens []uint32) error
}

// Adapter owns the connection-ready signal, the tracked subscription set,
// and the translation of broker callbacks into queue messages.
type Adapter struct {
	ticker    Ticker
	tickQueue chan<- model.Tick
	events    chan Event

	mu      sync.Mutex
	tracked map[uint32]struct{}

	ready     atomic.Bool
	readyOnce sync.Once
	readyCh   chan struct{}

	// OnTickDrop, if set, is called once per tick dropped on a full queue.
	OnTickDrop func()
}

// New creates an adapter pushing ticks into tickQueue.
func New(ticker Ticker, tickQueue chan<- model.Tick) *Adapter {
	return &Adapter{
		ticker:    ticker,
		tickQueue: tickQueue,
		events:    make(chan Event, 256),
		tracked:   make(map[uint32]struct{}),
		readyCh:   make(chan struct{}),
	}
}

// Bind wires a concrete ticker's callbacks to this adapter.
func (a *Adapter) Bind(t *kiteconnect.Ticker) {
	t.OnTicks = a.HandleTicks
	t.OnConnect = a.HandleConnect
	t.OnClose = a.HandleClose
	t.OnError = a.HandleError
	t.OnReconnect = a.HandleReconnect
	t.OnNoReconnect = a.HandleNoReconnect
	t.OnOrderUpdate = a.HandleOrderUpdate
}

// Connect starts the underlying streaming connection (non-blocking handshake).
func (a *Adapter) Connect() error { return a.ticker.Connect() }

// Close shuts the feed down permanently.
func (a *Adapter) Close() { a.ticker.Close() }

// Events returns the lifecycle/order event channel.
func (a *Adapter) Events() <-chan Event { return a.events }

// Ready reports the current connection-ready state.
func (a *Adapter) Ready() bool { return a.ready.Load() }

// WaitReady blocks until the first successful connect or the timeout.
func (a *Adapter) WaitReady(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-a.readyCh:
		return true
	case <-timer.C:
		return false
	}
}

// EnsureSubscribed tracks token and subscribes it immediately when the
// connection is up. Tracked tokens are resubscribed on every (re)connect.
func (a *Adapter) EnsureSubscribed(token uint32) {
	a.mu.Lock()
	_, known := a.tracked[token]
	a.tracked[token] = struct{}{}
	a.mu.Unlock()

	if known || !a.ready.Load() {
		return
	}
	if err := a.subscribe([]uint32{token}); err != nil {
		slog.Warn("feed subscribe failed", "token", token, "error", err)
	}
}

func (a *Adapter) subscribe(tokens []uint32) error {
	if err := a.ticker.Subscribe(tokens); err != nil {
		return err
	}
	return a.ticker.SetMode(kiteconnect.ModeFull, tokens)
}

// HandleConnect resubscribes every tracked token and raises the ready signal.
func (a *Adapter) HandleConnect() {
	a.mu.Lock()
	tokens := make([]uint32, 0, len(a.tracked))
	for tok := range a.tracked {
		tokens = append(tokens, tok)
	}
	a.mu.Unlock()

	if len(tokens) > 0 {
		if err := a.subscribe(tokens); err != nil {
			slog.Error("feed resubscribe failed", "tokens", len(tokens), "error", err)
		} else {
			slog.Info("feed resubscribed", "tokens", len(tokens))
		}
	}

	a.ready.Store(true)
	a.readyOnce.Do(func() { close(a.readyCh) })
	a.emit(Event{Kind: EventConnected})
}

// HandleTicks enqueues each tick of a batch individually. Pure hand-off:
// no cache or database work happens here, and a full queue drops the tick.
func (a *Adapter) HandleTicks(ticks []kiteconnect.Tick) {
	now := time.Now()
	for _, kt := range ticks {
		tick := model.Tick{
			InstrumentToken: kt.InstrumentToken,
			LastPrice:       kt.LastPrice,
			LastTradedTime:  kt.LastTradedTime,
			ReceivedAt:      now,
		}
		select {
		case a.tickQueue <- tick:
		default:
			if a.OnTickDrop != nil {
				a.OnTickDrop()
			}
		}
	}
}

// HandleClose clears the ready signal.
func (a *Adapter) HandleClose(code int, reason string) {
	a.ready.Store(false)
	a.emit(Event{Kind: EventClosed, Code: code, Reason: reason})
}

// HandleError forwards transient feed errors. They never crash the adapter.
func (a *Adapter) HandleError(code int, reason string) {
	a.emit(Event{Kind: EventError, Code: code, Reason: reason})
}

// HandleReconnect reports a reconnection attempt.
func (a *Adapter) HandleReconnect(attempt int) {
	a.emit(Event{Kind: EventReconnect, Attempt: attempt})
}

// HandleNoReconnect reports reconnection exhaustion. The engine reacts by
// shutting down.
func (a *Adapter) HandleNoReconnect() {
	a.emitGuaranteed(Event{Kind: EventNoReconnect})
}

// HandleOrderUpdate forwards a broker order-status push.
func (a *Adapter) HandleOrderUpdate(u kiteconnect.OrderUpdate) {
	update := model.OrderUpdate{
		OrderID:         u.OrderID,
		Status:          u.Status,
		ExchangeOrderID: u.ExchangeOrderID,
		StatusMessage:   u.StatusMessage,
	}
	if u.ExchangeTimestamp != "" {
		if ts, err := time.Parse("2006-01-02 15:04:05", u.ExchangeTimestamp); err == nil {
			update.ExchangeTimestamp = ts
		}
	}
	a.emitGuaranteed(Event{Kind: EventOrderUpdate, Update: update})
}

// emit publishes advisory lifecycle events. A full channel drops the event;
// the consumer only ever acts on the latest state anyway.
func (a *Adapter) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		slog.Warn("feed event channel full, dropping event", "kind", ev.Kind)
	}
}

// emitGuaranteed publishes events the engine must not miss: reconnection
// exhaustion and broker order updates. It waits for channel space, bounded
// so a consumer that has already exited cannot strand the ticker goroutine.
func (a *Adapter) emitGuaranteed(ev Event) {
	select {
	case a.events <- ev:
		return
	default:
	}
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	select {
	case a.events <- ev:
	case <-timer.C:
		slog.Error("feed event channel stalled, giving up on event", "kind", ev.Kind)
	}
}
