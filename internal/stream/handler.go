// Package stream applies live kline pushes to the ingestion pipeline.
package stream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"alertengine/internal/scheduler"
	"alertengine/pkg/market"
	"alertengine/pkg/provider/bybit"

	"go.uber.org/zap"
)

const applyTimeout = 5 * time.Second

// Sink receives the candles parsed from one push.
type Sink interface {
	Apply(ctx context.Context, instrument string, interval market.Interval, candles []market.Candle) error
}

// Filter reports whether pushes for the pair are still wanted.
type Filter func(instrument string, interval market.Interval) bool

// MakeMessageHandler returns a function that handles incoming WebSocket messages
// by parsing kline data and passing it to sink. Forming bars are applied too, so an
// alert sees the current price before the bar closes.
func MakeMessageHandler(ctx context.Context, logger *zap.Logger, sink Sink, accept Filter) func(msg []byte) {
	return func(msg []byte) {
		// Extract topic string for early filtering
		var meta struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(msg, &meta); err != nil {
			logger.Warn("failed to extract topic", zap.Error(err))
			return
		}
		if !isKlineTopic(meta.Topic) {
			return // subscription acks and pongs
		}
		instrument, interval, ok := bybit.ParseKlineTopic(meta.Topic)
		if !ok {
			logger.Warn("unrecognised kline topic", zap.String("topic", meta.Topic))
			return
		}
		if accept != nil && !accept(instrument, interval) {
			return
		}

		var parsed bybit.KlineMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			logger.Warn("failed to parse kline payload", zap.Error(err))
			return
		}

		candles := make([]market.Candle, 0, len(parsed.Data))
		for _, d := range parsed.Data {
			c, err := bybit.ToCandle(instrument, d)
			if err != nil {
				logger.Warn("failed to convert kline", zap.String("topic", parsed.Topic), zap.Error(err))
				continue
			}
			if c.Interval != interval {
				continue
			}
			candles = append(candles, c)
		}
		if len(candles) == 0 {
			return
		}

		applyCtx, cancel := context.WithTimeout(ctx, applyTimeout)
		defer cancel()
		if err := sink.Apply(applyCtx, instrument, interval, candles); err != nil {
			logger.Warn("failed to apply streamed klines",
				zap.String("instrument", instrument),
				zap.String("interval", string(interval)),
				zap.Error(err))
		}
	}
}

// Topics returns the kline topics for every pair the scheduler watches.
func Topics(s *scheduler.Scheduler) func() []string {
	return func() []string {
		states := s.States()
		topics := make([]string, 0, len(states))
		for _, st := range states {
			topics = append(topics, bybit.KlineTopic(st.Instrument, st.Interval))
		}
		return topics
	}
}

// isKlineTopic returns true if the topic string indicates a kline stream.
func isKlineTopic(topic string) bool {
	return strings.HasPrefix(topic, "kline.")
}
