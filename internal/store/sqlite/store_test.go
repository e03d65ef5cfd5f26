package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"order-enginev1/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testOrder(id string) model.Order {
	return model.Order{
		OrderID:         id,
		TradingSymbol:   "SBIN",
		InstrumentToken: 779521,
		Quantity:        10,
		OrderType:       model.OrderTypeLimit,
		LimitPrice:      decimal.NewFromInt(500),
		Variety:         "regular",
		Product:         "CNC",
		Validity:        "DAY",
		Operation:       model.OperationBuy,
		ExecutionLimit:  2,
		Status:          model.StatusPending,
	}
}

func TestStore_InsertAndLoadActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Apply(ctx, model.Job{Kind: model.JobInsertOrder, Order: testOrder("1")}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	orders, err := s.ActiveOrders(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 active order, got %d", len(orders))
	}
	got := orders[0]
	if got.Status != model.StatusPending || got.InstrumentToken != 779521 {
		t.Fatalf("unexpected order: %+v", got)
	}
	if !got.LimitPrice.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("limit price round-trip failed: %s", got.LimitPrice)
	}
}

func TestStore_RecordExecutionTransitionsStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Apply(ctx, model.Job{Kind: model.JobInsertOrder, Order: testOrder("7")}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	exec := model.Job{
		Kind:       model.JobRecordExecution,
		OrderID:    "7",
		Price:      decimal.NewFromFloat(499.5),
		ExecutedAt: time.Now(),
	}

	// First of two executions: PARTIALLY_EXECUTED.
	if err := s.Apply(ctx, exec); err != nil {
		t.Fatalf("first execution: %v", err)
	}
	orders, _ := s.ActiveOrders(ctx)
	if len(orders) != 1 || orders[0].Status != model.StatusPartiallyExecuted {
		t.Fatalf("expected PARTIALLY_EXECUTED, got %+v", orders)
	}
	if orders[0].ExecutionsDone != 1 {
		t.Fatalf("expected executions_done=1, got %d", orders[0].ExecutionsDone)
	}

	// Second execution reaches the limit: COMPLETED, no longer active.
	if err := s.Apply(ctx, exec); err != nil {
		t.Fatalf("second execution: %v", err)
	}
	orders, _ = s.ActiveOrders(ctx)
	if len(orders) != 0 {
		t.Fatalf("completed order should not be active, got %+v", orders)
	}
}

func TestStore_CancelPendingGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Apply(ctx, model.Job{Kind: model.JobInsertOrder, Order: testOrder("9")})

	ok, err := s.CancelPending(ctx, "9")
	if err != nil || !ok {
		t.Fatalf("cancel of pending order should succeed, ok=%v err=%v", ok, err)
	}

	// Second cancel is a no-op: the order is no longer PENDING.
	ok, err = s.CancelPending(ctx, "9")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ok {
		t.Fatal("cancel of non-pending order must report false")
	}
}

func TestStore_ModifyPendingGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Apply(ctx, model.Job{Kind: model.JobInsertOrder, Order: testOrder("11")})
	s.Apply(ctx, model.Job{Kind: model.JobRecordExecution, OrderID: "11", Price: decimal.NewFromInt(500)})

	// Order is PARTIALLY_EXECUTED now: modification must be rejected.
	mod := testOrder("11")
	mod.Quantity = 99
	ok, err := s.ModifyPending(ctx, &mod)
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if ok {
		t.Fatal("modify of non-pending order must report false")
	}

	orders, _ := s.ActiveOrders(ctx)
	if len(orders) != 1 || orders[0].Quantity != 10 {
		t.Fatalf("row must be unchanged, got %+v", orders)
	}
}

func TestStore_InstrumentReadThrough(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.InstrumentToken(ctx, "INFY"); err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}

	job := model.Job{Kind: model.JobUpsertInstrument, Instrument: model.Instrument{
		TradingSymbol: "INFY", Exchange: "NSE", InstrumentToken: 408065,
	}}
	if err := s.Apply(ctx, job); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	token, ok, err := s.InstrumentToken(ctx, "INFY")
	if err != nil || !ok || token != 408065 {
		t.Fatalf("expected hit 408065, got token=%d ok=%v err=%v", token, ok, err)
	}

	insts, err := s.Instruments(ctx)
	if err != nil || len(insts) != 1 {
		t.Fatalf("expected 1 instrument, got %v err=%v", insts, err)
	}
}

func TestStore_UnknownJobKind(t *testing.T) {
	s := newTestStore(t)
	if err := s.Apply(context.Background(), model.Job{Kind: "bogus"}); err == nil {
		t.Fatal("unknown job kind must error")
	}
}
