package sqldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alertengine/pkg/market"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 500

var errMixedSeries = errors.New("upsert batch spans more than one series")

// UpsertResult describes the effect of one Upsert call.
type UpsertResult struct {
	Written  int
	Latest   time.Time // latest bar time in the batch
	Previous time.Time // stored latest bar time before the batch
	Advanced bool      // the stored latest bar time moved forward
}

// CandleStore persists candles keyed by (instrument, interval, start).
type CandleStore struct {
	db    *gorm.DB
	venue string
	now   func() time.Time
}

// NewCandleStore uses venue for instruments created lazily on first ingest.
func NewCandleStore(c *Client, venue string) *CandleStore {
	return &CandleStore{db: c.DB, venue: venue, now: time.Now}
}

// Upsert writes one series' candles in a single transaction. Re-ingesting a bar
// replaces its values, so repeated calls leave one row per natural key.
func (s *CandleStore) Upsert(ctx context.Context, candles []market.Candle) (UpsertResult, error) {
	var res UpsertResult
	if len(candles) == 0 {
		return res, nil
	}

	instrument, interval := candles[0].Instrument, candles[0].Interval
	for _, c := range candles {
		if c.Instrument != instrument || c.Interval != interval {
			return res, errMixedSeries
		}
	}
	// one row per key per statement; postgres rejects a second update of the same row
	candles = market.Dedupe(candles)

	now := s.now().UTC()
	records := make([]CandleRecord, 0, len(candles))
	for _, c := range candles {
		records = append(records, toCandleRecord(c, now))
	}
	res.Latest = market.Latest(candles)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prev, err := latest(tx, instrument, interval)
		if err != nil {
			return err
		}
		res.Previous = prev

		if err := ensureInstrument(tx, instrument, s.venue); err != nil {
			return err
		}

		result := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "instrument"},
				{Name: "bar_interval"},
				{Name: "start"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "recorded_at"}),
		}).CreateInBatches(&records, upsertBatchSize)
		if result.Error != nil {
			return fmt.Errorf("upsert candles %s/%s: %w", instrument, interval, result.Error)
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}

	res.Written = len(records)
	res.Advanced = res.Latest.After(res.Previous)
	return res, nil
}

// Query returns the stored candles of a series inside r, ascending by time.
func (s *CandleStore) Query(ctx context.Context, instrument string, interval market.Interval, r market.TimeRange) ([]market.Candle, error) {
	q := s.db.WithContext(ctx).
		Where("instrument = ? AND bar_interval = ?", instrument, string(interval))
	if !r.From.IsZero() {
		q = q.Where("start >= ?", r.From.UTC())
	}
	if !r.To.IsZero() {
		q = q.Where("start <= ?", r.To.UTC())
	}

	var records []CandleRecord
	if err := q.Order("start asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query candles %s/%s: %w", instrument, interval, err)
	}
	return toCandles(records), nil
}

// Tail returns the last n stored candles of a series, ascending by time.
func (s *CandleStore) Tail(ctx context.Context, instrument string, interval market.Interval, n int) ([]market.Candle, error) {
	var records []CandleRecord
	err := s.db.WithContext(ctx).
		Where("instrument = ? AND bar_interval = ?", instrument, string(interval)).
		Order("start desc").
		Limit(n).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("tail candles %s/%s: %w", instrument, interval, err)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return toCandles(records), nil
}

// Latest returns the newest stored bar time of a series, or the zero time if none.
func (s *CandleStore) Latest(ctx context.Context, instrument string, interval market.Interval) (time.Time, error) {
	return latest(s.db.WithContext(ctx), instrument, interval)
}

// DeleteBefore removes candles whose bar opened before the cutoff.
func (s *CandleStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("start < ?", before.UTC()).
		Delete(&CandleRecord{})
	return tx.RowsAffected, tx.Error
}

func latest(db *gorm.DB, instrument string, interval market.Interval) (time.Time, error) {
	var rec CandleRecord
	err := db.
		Where("instrument = ? AND bar_interval = ?", instrument, string(interval)).
		Order("start desc").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("latest candle %s/%s: %w", instrument, interval, err)
	}
	return rec.Start.UTC(), nil
}

func toCandles(records []CandleRecord) []market.Candle {
	out := make([]market.Candle, len(records))
	for i, r := range records {
		out[i] = r.candle()
	}
	return out
}
