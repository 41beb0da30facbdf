package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbot/internal/model"
)

// testClient creates a client pointed at a test server
func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(&Config{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		APISecret: "test-secret",
	})
	require.NoError(t, err)
	return client
}

// klineRow renders one kline JSON array opening at openTime
func klineRow(openTime int64, close string) string {
	return fmt.Sprintf(`[%d,"3601.01","3605.00","3600.55",%q,"12.5",%d,"45062.3",321,"6.2","22340.1","0"]`,
		openTime, close, openTime+59_999)
}

// Test_NewClient tests construction and config validation
func Test_NewClient(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *Config
		expectError bool
		description string
	}{
		{
			name:        "Nil config uses defaults",
			cfg:         nil,
			expectError: false,
			description: "Should fall back to production defaults",
		},
		{
			name:        "Partial config is defaulted",
			cfg:         &Config{APIKey: "k", APISecret: "s"},
			expectError: false,
			description: "Missing connection fields should be filled in",
		},
		{
			name:        "Invalid symbol",
			cfg:         &Config{Symbol: "eth"},
			expectError: true,
			description: "Lowercase or short symbols are rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidConfig, tt.description)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ETHUSDT", client.Symbol(), tt.description)
			assert.Equal(t, "ETH", client.BaseAsset())
			assert.Equal(t, "USDT", client.QuoteAsset())
		})
	}
}

// Test_Klines tests kline fetching, decoding and validation
func Test_Klines(t *testing.T) {
	base := int64(1_700_000_000_000)

	t.Run("Decodes a single page", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v3/klines", r.URL.Path)
			assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
			assert.Equal(t, "1m", r.URL.Query().Get("interval"))
			fmt.Fprintf(w, "[%s,%s]", klineRow(base, "3604.99"), klineRow(base+60_000, "3610.00"))
		}))
		defer server.Close()

		s, err := testClient(t, server.URL).Klines(context.Background(), "1m", base, base+120_000)
		require.NoError(t, err)
		require.Equal(t, 2, s.Len())
		assert.Equal(t, "1m", s.Timeframe)
		assert.True(t, s.Candles[0].Close.Equal(decimal.RequireFromString("3604.99")))
		assert.Equal(t, base+59_999, s.Candles[0].CloseTime)
	})

	t.Run("Paginates past the row cap", func(t *testing.T) {
		var starts []int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
			starts = append(starts, start)

			// first page is full, second is short
			count := klinePageLimit
			if len(starts) > 1 {
				count = 5
			}
			w.Write([]byte("["))
			for i := 0; i < count; i++ {
				if i > 0 {
					w.Write([]byte(","))
				}
				w.Write([]byte(klineRow(start+int64(i)*60_000, "3600.00")))
			}
			w.Write([]byte("]"))
		}))
		defer server.Close()

		s, err := testClient(t, server.URL).Klines(context.Background(), "1m", base, 0)
		require.NoError(t, err)

		assert.Equal(t, klinePageLimit+5, s.Len(), "Both pages should land in the series")
		require.Len(t, starts, 2, "The short page ends pagination")
		assert.Equal(t, base+int64(klinePageLimit)*60_000, starts[1],
			"Second page should start one interval after the last returned bar")
	})

	t.Run("Rejects malformed rows", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[[1,"not-enough-elements"]]`)
		}))
		defer server.Close()

		_, err := testClient(t, server.URL).Klines(context.Background(), "1m", base, 0)
		assert.ErrorContains(t, err, "expected 12")
	})

	t.Run("Unsupported timeframe fails before any request", func(t *testing.T) {
		_, err := testClient(t, "http://127.0.0.1:0").Klines(context.Background(), "3d", base, 0)
		assert.Error(t, err)
	})
}

// Test_APIError tests that venue rejections surface as typed errors
func Test_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer server.Close()

	_, err := testClient(t, server.URL).AvgPrice(context.Background())
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok, "Venue rejections should be *APIError")
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, int64(-1121), apiErr.Code)
	assert.Equal(t, "Invalid symbol.", apiErr.Message)
}

// Test_AccountBalance tests balance extraction and the locked-funds switch
func Test_AccountBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"), "Signed requests carry the API key")
		assert.NotEmpty(t, r.URL.Query().Get("signature"), "Signed requests carry a signature")
		fmt.Fprint(w, `{"balances":[
			{"asset":"ETH","free":"1.5","locked":"0.5"},
			{"asset":"USDT","free":"200.0","locked":"0"}
		]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	free, err := client.AccountBalance(context.Background(), "ETH", false)
	require.NoError(t, err)
	assert.True(t, free.Equal(decimal.RequireFromString("1.5")))

	total, err := client.AccountBalance(context.Background(), "ETH", true)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(2)), "Locked funds should count when requested")

	missing, err := client.AccountBalance(context.Background(), "BTC", true)
	require.NoError(t, err)
	assert.True(t, missing.IsZero(), "A missing asset row reports zero, not an error")
}

// Test_MarketOrder tests parameter mapping for both sides
func Test_MarketOrder(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"orderId":42,"status":"FILLED","fills":[
			{"price":"3600.00","qty":"0.02"},
			{"price":"3601.00","qty":"0.01"}
		]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	t.Run("Buy spends quote asset", func(t *testing.T) {
		fills, err := client.MarketOrder(context.Background(), model.SideBuy, decimal.RequireFromString("199.999999"))
		require.NoError(t, err)

		assert.Equal(t, "BUY", gotQuery["side"][0])
		assert.Equal(t, "MARKET", gotQuery["type"][0])
		assert.Equal(t, "199.9999", gotQuery["quoteOrderQty"][0], "Quantity must round down to lot size")
		assert.NotContains(t, gotQuery, "quantity")
		require.Len(t, fills, 2)

		qty, wap := model.WeightedAvgPrice(fills)
		assert.True(t, qty.Equal(decimal.RequireFromString("0.03")))
		assert.True(t, wap.GreaterThan(decimal.NewFromInt(3600)))
	})

	t.Run("Sell disposes base asset", func(t *testing.T) {
		_, err := client.MarketOrder(context.Background(), model.SideSell, decimal.RequireFromString("0.03"))
		require.NoError(t, err)

		assert.Equal(t, "SELL", gotQuery["side"][0])
		assert.Equal(t, "0.03", gotQuery["quantity"][0])
		assert.NotContains(t, gotQuery, "quoteOrderQty")
	})

	t.Run("Rejects a non-positive quantity", func(t *testing.T) {
		_, err := client.MarketOrder(context.Background(), model.SideBuy, decimal.Zero)
		assert.ErrorContains(t, err, "not positive")
	})

	t.Run("Rejects an invalid side", func(t *testing.T) {
		_, err := client.MarketOrder(context.Background(), model.Side("HOLD"), decimal.NewFromInt(1))
		assert.ErrorContains(t, err, "invalid order side")
	})
}

// Test_PlaceStopOrder tests stop parameter derivation
func Test_PlaceStopOrder(t *testing.T) {
	t.Run("Places a stop for the full balance", func(t *testing.T) {
		var orderQuery map[string][]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/v3/account":
				fmt.Fprint(w, `{"balances":[{"asset":"ETH","free":"0.55559","locked":"0"}]}`)
			case "/api/v3/order":
				orderQuery = r.URL.Query()
				fmt.Fprint(w, `{"orderId":77,"status":"NEW"}`)
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}))
		defer server.Close()

		orderID, err := testClient(t, server.URL).PlaceStopOrder(context.Background(), decimal.RequireFromString("3240.567"))
		require.NoError(t, err)

		assert.Equal(t, int64(77), orderID)
		assert.Equal(t, "STOP_LOSS_LIMIT", orderQuery["type"][0])
		assert.Equal(t, "SELL", orderQuery["side"][0])
		assert.Equal(t, "0.5555", orderQuery["quantity"][0], "Quantity rounds down to lot size")
		assert.Equal(t, "3240.57", orderQuery["stopPrice"][0], "Stop trigger rounds to tick size")
		assert.Equal(t, "3078.54", orderQuery["price"][0], "Limit sits 5% under the trigger")
		assert.Equal(t, "GTC", orderQuery["timeInForce"][0])
	})

	t.Run("Fails without holdings", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"balances":[{"asset":"ETH","free":"0.0000","locked":"0"}]}`)
		}))
		defer server.Close()

		_, err := testClient(t, server.URL).PlaceStopOrder(context.Background(), decimal.NewFromInt(3000))
		assert.ErrorIs(t, err, ErrNoHoldings)
	})
}

// Test_OpenOrders tests listing and type filtering
func Test_OpenOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"orderId":1,"symbol":"ETHUSDT","side":"SELL","price":"3000.00","origQty":"0.5","executedQty":"0","status":"NEW","timeInForce":"GTC","type":"STOP_LOSS_LIMIT","time":1700000000000},
			{"orderId":2,"symbol":"ETHUSDT","side":"SELL","price":"3900.00","origQty":"0.5","executedQty":"0","status":"NEW","timeInForce":"GTC","type":"LIMIT","time":1700000000001}
		]`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	all, err := client.OpenOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	stopType := model.OrderTypeStopLossLimit
	stops, err := client.OpenOrders(context.Background(), &stopType)
	require.NoError(t, err)
	require.Len(t, stops, 1, "Filter should keep only matching order types")
	assert.Equal(t, int64(1), stops[0].OrderID)
	assert.True(t, stops[0].OrigQty.Equal(decimal.RequireFromString("0.5")))
}

// Test_CancelOrdersByType tests the cancellation sweep
func Test_CancelOrdersByType(t *testing.T) {
	var cancelled []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/openOrders":
			fmt.Fprint(w, `[
				{"orderId":1,"symbol":"ETHUSDT","side":"SELL","price":"3000.00","origQty":"0.5","executedQty":"0","status":"NEW","timeInForce":"GTC","type":"STOP_LOSS_LIMIT","time":1700000000000},
				{"orderId":2,"symbol":"ETHUSDT","side":"SELL","price":"3100.00","origQty":"0.5","executedQty":"0","status":"NEW","timeInForce":"GTC","type":"STOP_LOSS_LIMIT","time":1700000000001}
			]`)
		case r.Method == http.MethodDelete:
			cancelled = append(cancelled, r.URL.Query().Get("orderId"))
			fmt.Fprintf(w, `{"orderId":%s,"status":"CANCELED","price":"3000.00","origQty":"0.5","side":"SELL","type":"STOP_LOSS_LIMIT"}`,
				r.URL.Query().Get("orderId"))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	count, err := testClient(t, server.URL).CancelOrdersByType(context.Background(), model.OrderTypeStopLossLimit)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"1", "2"}, cancelled)
}

// Test_CancelAndReplaceWithSell tests the atomic unwind path
func Test_CancelAndReplaceWithSell(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/order/cancelReplace", r.URL.Path)
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"newOrderResponse":{"orderId":99,"status":"FILLED","fills":[{"price":"3500.00","qty":"0.5"}]}}`)
	}))
	defer server.Close()

	fills, err := testClient(t, server.URL).CancelAndReplaceWithSell(
		context.Background(), 77, decimal.RequireFromString("0.5"))
	require.NoError(t, err)

	assert.Equal(t, "77", gotQuery["cancelOrderId"][0])
	assert.Equal(t, "STOP_ON_FAILURE", gotQuery["cancelReplaceMode"][0],
		"The sell must not fire if the old order survives")
	assert.Equal(t, "SELL", gotQuery["side"][0])
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Qty.Equal(decimal.RequireFromString("0.5")))
}

// Test_AvgPrice tests average price retrieval
func Test_AvgPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/avgPrice", r.URL.Path)
		fmt.Fprint(w, `{"mins":5,"price":"3604.12"}`)
	}))
	defer server.Close()

	price, err := testClient(t, server.URL).AvgPrice(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("3604.12")))
}
