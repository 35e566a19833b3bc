package sqldb_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"alertengine/config"
	"alertengine/pkg/market"
	"alertengine/pkg/storage/sqldb"
)

func openTestClient(t *testing.T) *sqldb.Client {
	t.Helper()
	client, err := sqldb.Open(config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	}, "dev")
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func dailyBars(instrument string, start time.Time, closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.NewCandle(instrument, market.Interval1Day, start.Add(time.Duration(i)*24*time.Hour), c, c+1, c-1, c, 10)
	}
	return out
}

// go test -v --run TestUpsertIdempotent
func TestUpsertIdempotent(t *testing.T) {
	client := openTestClient(t)
	store := sqldb.NewCandleStore(client, "bybit")
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := dailyBars("BTCUSDT", start, 100, 101, 102)

	first, err := store.Upsert(ctx, bars)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if !first.Advanced || !first.Latest.Equal(start.Add(48*time.Hour)) {
		t.Errorf("unexpected first result: %+v", first)
	}

	second, err := store.Upsert(ctx, bars)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if second.Advanced {
		t.Errorf("re-ingest must not advance latest: %+v", second)
	}

	got, err := store.Query(ctx, "BTCUSDT", market.Interval1Day, market.TimeRange{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows after double ingest, got %d", len(got))
	}
}

// go test -v --run TestUpsertReplacesValues
func TestUpsertReplacesValues(t *testing.T) {
	client := openTestClient(t)
	store := sqldb.NewCandleStore(client, "bybit")
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.Upsert(ctx, dailyBars("ETHUSDT", start, 50)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := store.Upsert(ctx, dailyBars("ETHUSDT", start, 55)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := store.Query(ctx, "ETHUSDT", market.Interval1Day, market.TimeRange{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 1 || got[0].Close != 55 {
		t.Fatalf("expected replaced close 55, got %+v", got)
	}
	if got[0].Time.Location() != time.UTC {
		t.Errorf("expected UTC time, got %v", got[0].Time.Location())
	}
}

// go test -v --run TestQueryRangeAndOrder
func TestQueryRangeAndOrder(t *testing.T) {
	client := openTestClient(t)
	store := sqldb.NewCandleStore(client, "bybit")
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := dailyBars("BTCUSDT", start, 1, 2, 3, 4, 5)
	// write out of order
	if _, err := store.Upsert(ctx, []market.Candle{bars[4], bars[0], bars[2], bars[1], bars[3]}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := store.Query(ctx, "BTCUSDT", market.Interval1Day, market.TimeRange{
		From: start.Add(24 * time.Hour),
		To:   start.Add(72 * time.Hour),
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	for i, want := range []float64{2, 3, 4} {
		if got[i].Close != want {
			t.Errorf("candle %d: expected close %v, got %v", i, want, got[i].Close)
		}
	}

	tail, err := store.Tail(ctx, "BTCUSDT", market.Interval1Day, 2)
	if err != nil {
		t.Fatalf("tail failed: %v", err)
	}
	if len(tail) != 2 || tail[0].Close != 4 || tail[1].Close != 5 {
		t.Errorf("unexpected tail: %+v", tail)
	}

	latest, err := store.Latest(ctx, "BTCUSDT", market.Interval1Day)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if !latest.Equal(start.Add(96 * time.Hour)) {
		t.Errorf("unexpected latest %v", latest)
	}

	none, err := store.Latest(ctx, "BTCUSDT", market.Interval1Hour)
	if err != nil || !none.IsZero() {
		t.Errorf("expected zero latest for empty series, got %v, %v", none, err)
	}
}

// go test -v --run TestUpsertCreatesInstrument
func TestUpsertCreatesInstrument(t *testing.T) {
	client := openTestClient(t)
	store := sqldb.NewCandleStore(client, "bybit")
	ctx := context.Background()

	if _, err := store.Instrument(ctx, "SOLUSDT"); !errors.Is(err, market.ErrInvalidInstrument) {
		t.Fatalf("expected ErrInvalidInstrument, got %v", err)
	}

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.Upsert(ctx, dailyBars("SOLUSDT", start, 20)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	in, err := store.Instrument(ctx, "SOLUSDT")
	if err != nil {
		t.Fatalf("instrument not created: %v", err)
	}
	if in.Venue != "bybit" || !in.Active {
		t.Errorf("unexpected instrument %+v", in)
	}

	// catalog data overwrites the lazily created row
	if _, err := store.UpsertInstruments(ctx, []market.Instrument{
		{Ticker: "SOLUSDT", Name: "SOL/USDT perpetual", Venue: "bybit", Active: false},
		{Ticker: "XRPUSDT", Name: "XRP/USDT perpetual", Venue: "bybit", Active: true},
	}); err != nil {
		t.Fatalf("upsert instruments failed: %v", err)
	}
	all, err := store.Instruments(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 || all[0].Ticker != "SOLUSDT" || all[0].Active || all[0].Name != "SOL/USDT perpetual" {
		t.Errorf("unexpected instruments %+v", all)
	}
}

// go test -v --run TestDeleteBefore
func TestDeleteBefore(t *testing.T) {
	client := openTestClient(t)
	store := sqldb.NewCandleStore(client, "bybit")
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.Upsert(ctx, dailyBars("BTCUSDT", start, 1, 2, 3)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	n, err := store.DeleteBefore(ctx, start.Add(36*time.Hour))
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
}

// go test -v --run TestUpsertRejectsMixedSeries
func TestUpsertRejectsMixedSeries(t *testing.T) {
	client := openTestClient(t)
	store := sqldb.NewCandleStore(client, "bybit")

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mixed := append(dailyBars("BTCUSDT", start, 1), dailyBars("ETHUSDT", start, 1)...)
	if _, err := store.Upsert(context.Background(), mixed); err == nil {
		t.Fatal("expected error for mixed series")
	}
}

// go test -v --run TestUpsertKeepsLastRevisionInBatch
func TestUpsertKeepsLastRevisionInBatch(t *testing.T) {
	client := openTestClient(t)
	store := sqldb.NewCandleStore(client, "bybit")
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day5 := start.Add(5 * 24 * time.Hour)

	for trial := 0; trial < 10; trial++ {
		closes := make([]float64, 38)
		for i := range closes {
			closes[i] = float64(trial*100 + i + 1)
		}
		batch := dailyBars("BTCUSDT", start, closes...)
		batch = append(batch,
			market.NewCandle("BTCUSDT", market.Interval1Day, day5, 100, 101, 99, 100, 1),
			market.NewCandle("BTCUSDT", market.Interval1Day, day5, 150, 151, 149, 150, 1),
			market.NewCandle("BTCUSDT", market.Interval1Day, day5, 200, 201, 199, 200, 1),
		)

		res, err := store.Upsert(ctx, batch)
		if err != nil {
			t.Fatalf("trial %d: upsert failed: %v", trial, err)
		}
		if res.Written != 38 {
			t.Errorf("trial %d: expected 38 rows written, got %d", trial, res.Written)
		}
		got, err := store.Query(ctx, "BTCUSDT", market.Interval1Day, market.TimeRange{From: day5, To: day5})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(got) != 1 || got[0].Close != 200 {
			t.Fatalf("trial %d: expected the last revision (200), got %+v", trial, got)
		}
	}
}
