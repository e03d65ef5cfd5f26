package feed

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-enginev1/internal/model"
	"order-enginev1/pkg/kiteconnect"
)

type fakeTicker struct {
	subscribed [][]uint32
	modes      []string
	closed     bool
}

func (f *fakeTicker) Connect() error { return nil }
func (f *fakeTicker) Close()         { f.closed = true }
func (f *fakeTicker) Subscribe(tokens []uint32) error {
	f.subscribed = append(f.subscribed, tokens)
	return nil
}
func (f *fakeTicker) SetMode(mode string, tokens []uint32) error {
	f.modes = append(f.modes, mode)
	return nil
}

func TestAdapter_TickHandOff(t *testing.T) {
	tickCh := make(chan model.Tick, 2)
	a := New(&fakeTicker{}, tickCh)

	a.HandleTicks([]kiteconnect.Tick{
		{InstrumentToken: 1, LastPrice: decimal.NewFromInt(100)},
		{InstrumentToken: 2, LastPrice: decimal.NewFromInt(200)},
	})

	require.Len(t, tickCh, 2)
	tick := <-tickCh
	assert.Equal(t, uint32(1), tick.InstrumentToken)
	assert.False(t, tick.ReceivedAt.IsZero())
}

func TestAdapter_FullQueueDropsTick(t *testing.T) {
	tickCh := make(chan model.Tick, 1)
	a := New(&fakeTicker{}, tickCh)

	drops := 0
	a.OnTickDrop = func() { drops++ }

	a.HandleTicks([]kiteconnect.Tick{
		{InstrumentToken: 1},
		{InstrumentToken: 2},
		{InstrumentToken: 3},
	})

	assert.Equal(t, 1, len(tickCh), "queue holds only its capacity")
	assert.Equal(t, 2, drops)
}

func TestAdapter_ConnectResubscribesTracked(t *testing.T) {
	ticker := &fakeTicker{}
	a := New(ticker, make(chan model.Tick, 1))

	// Tracked before the connection is up: no subscribe call yet.
	a.EnsureSubscribed(256265)
	a.EnsureSubscribed(408065)
	require.Empty(t, ticker.subscribed)

	a.HandleConnect()

	require.Len(t, ticker.subscribed, 1)
	assert.ElementsMatch(t, []uint32{256265, 408065}, ticker.subscribed[0])
	assert.True(t, a.Ready())

	ev := <-a.Events()
	assert.Equal(t, EventConnected, ev.Kind)
}

func TestAdapter_EnsureSubscribedWhileReady(t *testing.T) {
	ticker := &fakeTicker{}
	a := New(ticker, make(chan model.Tick, 1))

	a.HandleConnect()
	<-a.Events()

	a.EnsureSubscribed(738561)
	require.Len(t, ticker.subscribed, 1)
	assert.Equal(t, []uint32{738561}, ticker.subscribed[0])

	// Already-tracked tokens are not re-sent.
	a.EnsureSubscribed(738561)
	assert.Len(t, ticker.subscribed, 1)
}

func TestAdapter_WaitReady(t *testing.T) {
	a := New(&fakeTicker{}, make(chan model.Tick, 1))

	assert.False(t, a.WaitReady(10*time.Millisecond))

	go a.HandleConnect()
	assert.True(t, a.WaitReady(time.Second))
}

func TestAdapter_CloseClearsReady(t *testing.T) {
	a := New(&fakeTicker{}, make(chan model.Tick, 1))

	a.HandleConnect()
	<-a.Events()
	require.True(t, a.Ready())

	a.HandleClose(1006, "going away")
	assert.False(t, a.Ready())

	ev := <-a.Events()
	assert.Equal(t, EventClosed, ev.Kind)
	assert.Equal(t, 1006, ev.Code)
}

func TestAdapter_NoReconnectSurvivesFullChannel(t *testing.T) {
	a := New(&fakeTicker{}, make(chan model.Tick, 1))

	// Saturate the event channel with advisory errors. Further advisory
	// events drop, but the exhaustion signal must still come through.
	for i := 0; i < cap(a.events)+10; i++ {
		a.HandleError(1001, "flood")
	}
	require.Len(t, a.events, cap(a.events))

	done := make(chan struct{})
	go func() {
		a.HandleNoReconnect()
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-a.Events():
			if ev.Kind == EventNoReconnect {
				<-done
				return
			}
		case <-deadline:
			t.Fatal("reconnection-exhaustion event was lost on a full channel")
		}
	}
}

func TestAdapter_OrderUpdateSurvivesFullChannel(t *testing.T) {
	a := New(&fakeTicker{}, make(chan model.Tick, 1))

	for i := 0; i < cap(a.events)+10; i++ {
		a.HandleError(1001, "flood")
	}

	go a.HandleOrderUpdate(kiteconnect.OrderUpdate{OrderID: "ord-full", Status: "COMPLETE"})

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-a.Events():
			if ev.Kind == EventOrderUpdate {
				assert.Equal(t, "ord-full", ev.Update.OrderID)
				return
			}
		case <-deadline:
			t.Fatal("order update was lost on a full channel")
		}
	}
}

func TestAdapter_OrderUpdateEvent(t *testing.T) {
	a := New(&fakeTicker{}, make(chan model.Tick, 1))

	a.HandleOrderUpdate(kiteconnect.OrderUpdate{
		OrderID:           "151220000000000",
		Status:            "COMPLETE",
		ExchangeOrderID:   "X1",
		ExchangeTimestamp: "2026-08-21 10:15:00",
	})

	ev := <-a.Events()
	require.Equal(t, EventOrderUpdate, ev.Kind)
	assert.Equal(t, "151220000000000", ev.Update.OrderID)
	assert.True(t, ev.Update.Terminal())
	assert.Equal(t, 2026, ev.Update.ExchangeTimestamp.Year())
}
