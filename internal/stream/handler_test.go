package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"alertengine/pkg/market"

	"go.uber.org/zap"
)

type recordingSink struct {
	mu    sync.Mutex
	calls int
	got   []market.Candle
}

func (s *recordingSink) Apply(ctx context.Context, instrument string, interval market.Interval, candles []market.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.got = append(s.got, candles...)
	return nil
}

const klinePush = `{
	"topic": "kline.D.BTCUSDT",
	"type": "snapshot",
	"ts": 1714608000000,
	"data": [{
		"start": 1714521600000,
		"end": 1714607999999,
		"interval": "D",
		"open": "95",
		"close": "150",
		"high": "151",
		"low": "94",
		"volume": "12.5",
		"turnover": "1500",
		"confirm": false,
		"timestamp": 1714600000000
	}]
}`

// go test -v --run TestHandlerAppliesFormingBar
func TestHandlerAppliesFormingBar(t *testing.T) {
	sink := &recordingSink{}
	h := MakeMessageHandler(context.Background(), zap.NewNop(), sink, nil)
	h([]byte(klinePush))

	if sink.calls != 1 || len(sink.got) != 1 {
		t.Fatalf("expected one candle applied, got %d calls / %d candles", sink.calls, len(sink.got))
	}
	c := sink.got[0]
	if c.Instrument != "BTCUSDT" || c.Interval != market.Interval1Day || c.Close != 150 {
		t.Errorf("unexpected candle %+v", c)
	}
	if want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC); !c.Time.Equal(want) {
		t.Errorf("expected start %v, got %v", want, c.Time)
	}
}

// go test -v --run TestHandlerIgnoresOtherMessages
func TestHandlerIgnoresOtherMessages(t *testing.T) {
	sink := &recordingSink{}
	h := MakeMessageHandler(context.Background(), zap.NewNop(), sink, nil)

	h([]byte(`{"success":true,"op":"subscribe"}`))
	h([]byte(`{"op":"pong"}`))
	h([]byte(`not json`))
	h([]byte(`{"topic":"kline.7.BTCUSDT","data":[]}`))
	h([]byte(`{"topic":"kline.D.BTCUSDT","data":[{"start":1714521600000,"interval":"D","open":"x","close":"1","high":"1","low":"1","volume":"1"}]}`))

	if sink.calls != 0 {
		t.Errorf("expected no applies, got %d", sink.calls)
	}
}

// go test -v --run TestHandlerFilter
func TestHandlerFilter(t *testing.T) {
	sink := &recordingSink{}
	accept := func(instrument string, interval market.Interval) bool { return instrument != "BTCUSDT" }
	h := MakeMessageHandler(context.Background(), zap.NewNop(), sink, accept)
	h([]byte(klinePush))

	if sink.calls != 0 {
		t.Errorf("filtered pair should not be applied")
	}
}
