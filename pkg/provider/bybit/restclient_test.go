package bybit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"alertengine/pkg/market"
	"alertengine/pkg/provider"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewRESTClient(srv.URL, "linear", "bybit", 5*time.Second, zap.NewNop())
}

// go test -v --run TestFetchCandles
func TestFetchCandles(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/kline" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("interval"); got != "D" {
			t.Errorf("expected interval D, got %s", got)
		}
		// newest first, as bybit returns them
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"linear","symbol":"BTCUSDT","list":[
			["1767312000000","150","155","149","152","10","1500"],
			["1767225600000","95","151","94","150","12","1700"],
			["bad","1","1","1","1","1","1"]
		]}}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	candles, err := client.FetchCandles(ctx, "BTCUSDT", market.Interval1Day, market.TimeRange{})
	if err != nil {
		t.Fatalf("FetchCandles returned error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[0].Time.Before(candles[1].Time) {
		t.Errorf("expected ascending order: %+v", candles)
	}
	if candles[0].Close != 150 || candles[0].Time.Location() != time.UTC {
		t.Errorf("unexpected first candle: %+v", candles[0])
	}
}

// go test -v --run TestFetchCandlesRateLimited
func TestFetchCandlesRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.FetchCandles(context.Background(), "BTCUSDT", market.Interval1Min, market.TimeRange{})
	hint, ok := provider.RetryAfterHint(err)
	if !ok {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if hint != 7*time.Second {
		t.Errorf("expected 7s hint, got %v", hint)
	}
	if provider.IsPermanent(err) {
		t.Error("rate limit must not be permanent")
	}
}

// go test -v --run TestFetchCandlesRetCodes
func TestFetchCandlesRetCodes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		permanent bool
		limited   bool
	}{
		{"unknown symbol", `{"retCode":10001,"retMsg":"Not supported symbols"}`, true, false},
		{"too many visits", `{"retCode":10006,"retMsg":"Too many visits!"}`, false, true},
		{"server busy", `{"retCode":10016,"retMsg":"Server error"}`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := client.FetchCandles(context.Background(), "NOPE", market.Interval1Hour, market.TimeRange{})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := provider.IsPermanent(err); got != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v (%v)", got, tt.permanent, err)
			}
			if _, got := provider.RetryAfterHint(err); got != tt.limited {
				t.Errorf("rate limited = %v, want %v", got, tt.limited)
			}
			if tt.permanent && !errors.Is(err, market.ErrInvalidInstrument) {
				t.Errorf("expected ErrInvalidInstrument, got %v", err)
			}
		})
	}
}

// go test -v --run TestServerErrorIsTransient
func TestServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.FetchCandles(context.Background(), "BTCUSDT", market.Interval1Hour, market.TimeRange{})
	if err == nil || provider.IsPermanent(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

// go test -v --run TestListInstruments
func TestListInstruments(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"retCode":0,"result":{"category":"linear","nextPageCursor":"p2","list":[
				{"symbol":"BTCUSDT","baseCoin":"BTC","quoteCoin":"USDT","status":"Trading"}]}}`))
			return
		}
		w.Write([]byte(`{"retCode":0,"result":{"category":"linear","nextPageCursor":"","list":[
			{"symbol":"ETHUSDT","baseCoin":"ETH","quoteCoin":"USDT","status":"Settling"}]}}`))
	})

	got, err := client.ListInstruments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || len(got) != 2 {
		t.Fatalf("expected 2 pages / 2 instruments, got %d / %d", calls, len(got))
	}
	if got[0].Ticker != "BTCUSDT" || !got[0].Active || got[0].Name != "BTC/USDT" {
		t.Errorf("unexpected first instrument: %+v", got[0])
	}
	if got[1].Active {
		t.Errorf("settling instrument should be inactive: %+v", got[1])
	}
}

// go test -v --run TestParseKlineTopic
func TestParseKlineTopic(t *testing.T) {
	topic := KlineTopic("BTCUSDT", market.Interval1Hour)
	if topic != "kline.60.BTCUSDT" {
		t.Fatalf("unexpected topic %s", topic)
	}
	sym, iv, ok := ParseKlineTopic(topic)
	if !ok || sym != "BTCUSDT" || iv != market.Interval1Hour {
		t.Errorf("ParseKlineTopic = %s %s %v", sym, iv, ok)
	}
	if _, _, ok := ParseKlineTopic("orderbook.50.BTCUSDT"); ok {
		t.Error("expected non-kline topic to be rejected")
	}
}

// go test -v --run TestToCandle
func TestToCandle(t *testing.T) {
	c, err := ToCandle("BTCUSDT", WSKline{
		Start: 1767225600000, Interval: "1", Open: "1", High: "2", Low: "0.5", Close: "1.5", Volume: "3",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Interval != market.Interval1Min || c.High != 2 || c.Validate() != nil {
		t.Errorf("unexpected candle %+v", c)
	}
	if _, err := ToCandle("BTCUSDT", WSKline{Interval: "1", Open: "x"}); err == nil {
		t.Error("expected parse error")
	}
}
