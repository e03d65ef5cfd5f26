package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single price update for one instrument. Ticks are ephemeral:
// they live only in the tick cache with a short TTL.
type Tick struct {
	InstrumentToken uint32          `json:"instrument_token"`
	LastPrice       decimal.Decimal `json:"last_price"`
	LastTradedTime  time.Time       `json:"last_traded_time"`
	ReceivedAt      time.Time       `json:"received_at"`
}
