package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-enginev1/internal/model"
	"order-enginev1/pkg/kiteconnect"
)

func newTestKite(t *testing.T, handler http.HandlerFunc) *Kite {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	client := kiteconnect.New(kiteconnect.Config{
		APIKey:      "key",
		AccessToken: "token",
		RootURL:     ts.URL,
	})
	return NewKite(client, "NSE")
}

func TestPlaceOrderMapsParams(t *testing.T) {
	var gotPath, gotSymbol, gotPrice string
	k := newTestKite(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotSymbol = r.PostForm.Get("tradingsymbol")
		gotPrice = r.PostForm.Get("price")
		w.Write([]byte(`{"status":"success","data":{"order_id":"230821000001"}}`))
	})

	ref, err := k.PlaceOrder(context.Background(), model.OrderParams{
		TradingSymbol:   "SBIN",
		TransactionType: "BUY",
		Quantity:        5,
		Product:         "MIS",
		OrderType:       "LIMIT",
		Validity:        "DAY",
		Price:           decimal.RequireFromString("620.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, "230821000001", ref)
	assert.Equal(t, "/orders/regular", gotPath, "empty variety defaults to regular")
	assert.Equal(t, "SBIN", gotSymbol)
	// decimal renders without trailing zeros; numerically identical on the wire.
	assert.Equal(t, "620.5", gotPrice)
}

func TestLookupToken(t *testing.T) {
	k := newTestKite(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "NSE:SBIN", r.URL.Query().Get("i"))
		w.Write([]byte(`{"status":"success","data":{"NSE:SBIN":{"instrument_token":779521,"last_price":621.1}}}`))
	})

	token, err := k.LookupToken(context.Background(), "SBIN")
	require.NoError(t, err)
	assert.Equal(t, uint32(779521), token)
}

func TestLookupTokenUnknownSymbol(t *testing.T) {
	k := newTestKite(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{}}`))
	})

	_, err := k.LookupToken(context.Background(), "NOSUCH")
	require.Error(t, err)
}
