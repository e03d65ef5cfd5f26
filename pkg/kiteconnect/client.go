// Package kiteconnect is a minimal Go port of the Zerodha Kite Connect v3
// surface this engine needs: order placement, LTP quotes for instrument-token
// resolution, and the streaming ticker (see ticker.go). It mirrors the
// official client's routes, headers and error envelope.
//
// Usage example:
//
//	kc := kiteconnect.New(kiteconnect.Config{APIKey: "key", AccessToken: "token"})
//	orderID, err := kc.PlaceOrder(ctx, "regular", kiteconnect.OrderParams{
//	    Exchange: "NSE", TradingSymbol: "SBIN", TransactionType: "BUY",
//	    Quantity: 1, Product: "CNC", OrderType: "MARKET", Validity: "DAY",
//	})
package kiteconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultRoot    = "https://api.kite.trade"
	defaultTimeout = 7 * time.Second
	kiteVersion    = "3"
)

var routes = map[string]string{
	"order.place": "/orders/%s", // variety
	"quote.ltp":   "/quote/ltp",
}

// Config configures the REST client.
type Config struct {
	APIKey      string
	AccessToken string
	RootURL     string        // default: https://api.kite.trade
	Timeout     time.Duration // default: 7s
	Debug       bool
}

// Client is the Kite Connect REST client.
type Client struct {
	apiKey      string
	accessToken string
	rootURL     string
	debug       bool
	httpClient  *http.Client

	// SessionExpiryHook is invoked on a 403 TokenException so the caller
	// can react to an invalidated session.
	SessionExpiryHook func()
}

// New creates a REST client.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		rootURL:     strings.TrimRight(cfg.RootURL, "/"),
		debug:       cfg.Debug,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// OrderParams are the fields of a place-order request.
type OrderParams struct {
	Exchange        string
	TradingSymbol   string
	TransactionType string // BUY, SELL
	Quantity        int64
	Product         string // CNC, MIS, NRML
	OrderType       string // MARKET, LIMIT, SL, SL-M
	Validity        string // DAY, IOC
	Price           decimal.Decimal
	TriggerPrice    decimal.Decimal
}

// Quote is one instrument's LTP snapshot.
type Quote struct {
	InstrumentToken uint32          `json:"instrument_token"`
	LastPrice       decimal.Decimal `json:"last_price"`
}

// APIError is the Kite error envelope.
type APIError struct {
	Code      int
	ErrorType string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kite %s (%d): %s", e.ErrorType, e.Code, e.Message)
}

// PlaceOrder places an order and returns the broker order reference.
func (c *Client) PlaceOrder(ctx context.Context, variety string, p OrderParams) (string, error) {
	form := url.Values{}
	form.Set("exchange", p.Exchange)
	form.Set("tradingsymbol", p.TradingSymbol)
	form.Set("transaction_type", p.TransactionType)
	form.Set("quantity", strconv.FormatInt(p.Quantity, 10))
	form.Set("product", p.Product)
	form.Set("order_type", p.OrderType)
	form.Set("validity", p.Validity)
	if p.Price.Sign() > 0 {
		form.Set("price", p.Price.String())
	}
	if p.TriggerPrice.Sign() > 0 {
		form.Set("trigger_price", p.TriggerPrice.String())
	}

	uri := fmt.Sprintf(routes["order.place"], url.PathEscape(variety))
	var out struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, uri, form, &out); err != nil {
		return "", err
	}
	return out.Data.OrderID, nil
}

// LTP fetches last traded prices for instruments given as "EXCHANGE:SYMBOL".
func (c *Client) LTP(ctx context.Context, instruments ...string) (map[string]Quote, error) {
	q := url.Values{}
	for _, inst := range instruments {
		q.Add("i", inst)
	}
	var out struct {
		Data map[string]Quote `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, routes["quote.ltp"]+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, method, uri string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.rootURL+uri, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Kite-Version", kiteVersion)
	req.Header.Set("Authorization", "token "+c.apiKey+":"+c.accessToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if c.debug {
		log.Printf("[kite] %s %s", method, uri)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kite request %s %s: %w", method, uri, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kite read response: %w", err)
	}

	var envelope struct {
		Status    string `json:"status"`
		Message   string `json:"message"`
		ErrorType string `json:"error_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("kite parse response (%d): %w", resp.StatusCode, err)
	}
	if envelope.Status == "error" || resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusForbidden && envelope.ErrorType == "TokenException" && c.SessionExpiryHook != nil {
			c.SessionExpiryHook()
		}
		return &APIError{Code: resp.StatusCode, ErrorType: envelope.ErrorType, Message: envelope.Message}
	}
	return json.Unmarshal(raw, out)
}
