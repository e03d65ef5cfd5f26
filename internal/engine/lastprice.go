package engine

import (
	"sync"

	"github.com/shopspring/decimal"
)

// priceView is the in-memory last-traded-price table, updated on every tick.
// A configured PricePublisher mirrors it into Redis for external readers.
type priceView struct {
	mu sync.RWMutex
	m  map[uint32]decimal.Decimal
}

func newPriceView() *priceView {
	return &priceView{m: make(map[uint32]decimal.Decimal)}
}

func (v *priceView) Set(token uint32, price decimal.Decimal) {
	v.mu.Lock()
	v.m[token] = price
	v.mu.Unlock()
}

func (v *priceView) Get(token uint32) (decimal.Decimal, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	price, ok := v.m[token]
	return price, ok
}
