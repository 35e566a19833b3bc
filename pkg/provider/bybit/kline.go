package bybit

import (
	"fmt"
	"strconv"
	"time"

	"alertengine/pkg/market"
)

// ParseKlineList converts Bybit REST kline rows to candles in ascending time order.
// Rows that cannot be parsed are skipped and counted; OHLC validation is left to the caller.
func ParseKlineList(instrument string, interval market.Interval, raw [][]string) ([]market.Candle, int) {
	out := make([]market.Candle, 0, len(raw))
	skipped := 0

	for _, row := range raw {
		if len(row) < 6 {
			skipped++
			continue
		}
		start, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			skipped++
			continue
		}
		vals, err := parseFloats(row[1:6])
		if err != nil {
			skipped++
			continue
		}
		out = append(out, market.NewCandle(instrument, interval, time.UnixMilli(start),
			vals[0], vals[1], vals[2], vals[3], vals[4]))
	}

	market.SortCandles(out)
	return out, skipped
}

// ToCandle converts a WebSocket kline push into a candle.
func ToCandle(instrument string, k WSKline) (market.Candle, error) {
	interval, err := market.IntervalFromAPI(k.Interval)
	if err != nil {
		return market.Candle{}, err
	}
	vals, err := parseFloats([]string{k.Open, k.High, k.Low, k.Close, k.Volume})
	if err != nil {
		return market.Candle{}, fmt.Errorf("kline %s@%d: %w", instrument, k.Start, err)
	}
	return market.NewCandle(instrument, interval, time.UnixMilli(k.Start),
		vals[0], vals[1], vals[2], vals[3], vals[4]), nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
