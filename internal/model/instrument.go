package model

// Instrument maps a human-readable trading symbol to the broker's stable
// numeric instrument token.
type Instrument struct {
	TradingSymbol   string `json:"trading_symbol"`
	Exchange        string `json:"exchange"`
	InstrumentToken uint32 `json:"instrument_token"`
}
