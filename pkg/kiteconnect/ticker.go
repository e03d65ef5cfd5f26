package kiteconnect

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	tickerRootURI     = "wss://ws.kite.trade"
	heartbeatInterval = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 5 * time.Second
)

// Subscription modes.
const (
	ModeLTP   = "ltp"
	ModeQuote = "quote"
	ModeFull  = "full"
)

// Tick is one parsed binary packet from the streaming feed.
type Tick struct {
	InstrumentToken uint32
	LastPrice       decimal.Decimal
	LastTradedTime  time.Time
}

// OrderUpdate is a postback pushed over the ticker's text channel when one
// of the session's orders changes state.
type OrderUpdate struct {
	OrderID           string `json:"order_id"`
	ExchangeOrderID   string `json:"exchange_order_id"`
	Status            string `json:"status"`
	StatusMessage     string `json:"status_message"`
	ExchangeTimestamp string `json:"exchange_timestamp"`
}

// TickerConfig configures the streaming client.
type TickerConfig struct {
	APIKey      string
	AccessToken string
	RootURI     string // default: wss://ws.kite.trade

	MaxReconnectAttempts int           // default: 5
	ReconnectDelay       time.Duration // base delay, doubled per attempt; default: 2s
}

// Ticker streams market data over the Kite websocket. Callbacks mirror the
// official client: set them before Connect. The ticker reconnects with
// exponential backoff on read failures and fires OnNoReconnect once the
// attempts are exhausted.
type Ticker struct {
	cfg TickerConfig

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[uint32]string // token → mode, replayed on reconnect
	closed     bool

	OnTicks       func(ticks []Tick)
	OnConnect     func()
	OnClose       func(code int, reason string)
	OnError       func(code int, reason string)
	OnReconnect   func(attempt int)
	OnNoReconnect func()
	OnOrderUpdate func(update OrderUpdate)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTicker creates a streaming client.
func NewTicker(cfg TickerConfig) *Ticker {
	if cfg.RootURI == "" {
		cfg.RootURI = tickerRootURI
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Ticker{
		cfg:        cfg,
		subscribed: make(map[uint32]string),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Connect dials the websocket, starts the read and heartbeat loops, and
// replays any prior subscriptions. Non-blocking beyond the handshake.
func (t *Ticker) Connect() error {
	uri := fmt.Sprintf("%s?api_key=%s&access_token=%s",
		t.cfg.RootURI, url.QueryEscape(t.cfg.APIKey), url.QueryEscape(t.cfg.AccessToken))

	conn, _, err := websocket.DefaultDialer.Dial(uri, nil)
	if err != nil {
		return fmt.Errorf("ticker dial: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	go t.heartbeatLoop(conn)

	if t.OnConnect != nil {
		t.OnConnect()
	}
	if err := t.resubscribe(); err != nil {
		log.Printf("[ticker] resubscribe: %v", err)
	}
	return nil
}

// Close shuts the connection down permanently. No reconnect follows.
func (t *Ticker) Close() {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		conn.Close()
	}
}

// Subscribe subscribes tokens in LTP mode and records them for resubscribe.
func (t *Ticker) Subscribe(tokens []uint32) error {
	t.mu.Lock()
	for _, tok := range tokens {
		if _, ok := t.subscribed[tok]; !ok {
			t.subscribed[tok] = ModeLTP
		}
	}
	t.mu.Unlock()
	return t.writeJSON(map[string]any{"a": "subscribe", "v": tokens})
}

// SetMode switches the streaming mode for tokens.
func (t *Ticker) SetMode(mode string, tokens []uint32) error {
	t.mu.Lock()
	for _, tok := range tokens {
		t.subscribed[tok] = mode
	}
	t.mu.Unlock()
	return t.writeJSON(map[string]any{"a": "mode", "v": []any{mode, tokens}})
}

func (t *Ticker) resubscribe() error {
	t.mu.Lock()
	byMode := make(map[string][]uint32)
	for tok, mode := range t.subscribed {
		byMode[mode] = append(byMode[mode], tok)
	}
	t.mu.Unlock()

	for mode, tokens := range byMode {
		if err := t.writeJSON(map[string]any{"a": "subscribe", "v": tokens}); err != nil {
			return err
		}
		if err := t.writeJSON(map[string]any{"a": "mode", "v": []any{mode, tokens}}); err != nil {
			return err
		}
	}
	return nil
}

func (t *Ticker) writeJSON(v any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ticker: not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (t *Ticker) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		mt, message, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if t.OnClose != nil {
				t.OnClose(websocket.CloseAbnormalClosure, err.Error())
			}
			if !closed {
				go t.reconnect()
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch mt {
		case websocket.BinaryMessage:
			// Single-byte frames are server heartbeats.
			if len(message) < 2 {
				continue
			}
			ticks := parseBinary(message)
			if len(ticks) > 0 && t.OnTicks != nil {
				t.OnTicks(ticks)
			}
		case websocket.TextMessage:
			t.handleTextMessage(message)
		}
	}
}

func (t *Ticker) handleTextMessage(message []byte) {
	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Printf("[ticker] bad text frame: %v", err)
		return
	}
	switch frame.Type {
	case "order":
		var update OrderUpdate
		if err := json.Unmarshal(frame.Data, &update); err != nil {
			log.Printf("[ticker] bad order update: %v", err)
			return
		}
		if t.OnOrderUpdate != nil {
			t.OnOrderUpdate(update)
		}
	case "error":
		var msg string
		json.Unmarshal(frame.Data, &msg)
		if t.OnError != nil {
			t.OnError(0, msg)
		}
	}
}

func (t *Ticker) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (t *Ticker) reconnect() {
	delay := t.cfg.ReconnectDelay
	for attempt := 1; attempt <= t.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-t.ctx.Done():
			return
		case <-time.After(delay):
		}

		if t.OnReconnect != nil {
			t.OnReconnect(attempt)
		}
		if err := t.Connect(); err == nil {
			return
		} else {
			log.Printf("[ticker] reconnect attempt %d failed: %v", attempt, err)
		}
		delay *= 2
	}
	if t.OnNoReconnect != nil {
		t.OnNoReconnect()
	}
}

// parseBinary decodes the Kite binary tick format: a big-endian int16 packet
// count, then per packet an int16 length and the packet body. The first 8
// bytes of every packet are the instrument token and the LTP in paise; full
// mode packets carry the last traded timestamp at offset 44.
func parseBinary(b []byte) []Tick {
	if len(b) < 2 {
		return nil
	}
	count := int(binary.BigEndian.Uint16(b[0:2]))
	ticks := make([]Tick, 0, count)

	offset := 2
	for i := 0; i < count; i++ {
		if offset+2 > len(b) {
			break
		}
		packetLen := int(binary.BigEndian.Uint16(b[offset : offset+2]))
		offset += 2
		if offset+packetLen > len(b) || packetLen < 8 {
			break
		}
		packet := b[offset : offset+packetLen]
		offset += packetLen

		tick := Tick{
			InstrumentToken: binary.BigEndian.Uint32(packet[0:4]),
			LastPrice:       paiseToRupees(int32(binary.BigEndian.Uint32(packet[4:8]))),
		}
		if packetLen >= 48 {
			if ts := int64(binary.BigEndian.Uint32(packet[44:48])); ts > 0 {
				tick.LastTradedTime = time.Unix(ts, 0)
			}
		}
		ticks = append(ticks, tick)
	}
	return ticks
}

func paiseToRupees(paise int32) decimal.Decimal {
	return decimal.New(int64(paise), -2)
}
