package sqldb

import (
	"context"
	"errors"
	"fmt"

	"alertengine/pkg/market"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func ensureInstrument(tx *gorm.DB, ticker, venue string) error {
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&InstrumentRecord{
		Ticker: ticker,
		Name:   ticker,
		Venue:  venue,
		Active: true,
	}).Error
	if err != nil {
		return fmt.Errorf("ensure instrument %s: %w", ticker, err)
	}
	return nil
}

// UpsertInstruments writes catalog reference data. Existing rows get the new name,
// venue and active flag; nothing is ever deleted.
func (s *CandleStore) UpsertInstruments(ctx context.Context, instruments []market.Instrument) (int, error) {
	if len(instruments) == 0 {
		return 0, nil
	}
	records := make([]InstrumentRecord, 0, len(instruments))
	for _, in := range instruments {
		records = append(records, InstrumentRecord{
			Ticker: in.Ticker,
			Name:   in.Name,
			Venue:  in.Venue,
			Active: in.Active,
		})
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "venue", "active", "updated_at"}),
	}).CreateInBatches(&records, upsertBatchSize).Error
	if err != nil {
		return 0, fmt.Errorf("upsert instruments: %w", err)
	}
	return len(records), nil
}

// Instrument looks up one ticker. Unknown tickers wrap market.ErrInvalidInstrument.
func (s *CandleStore) Instrument(ctx context.Context, ticker string) (market.Instrument, error) {
	var rec InstrumentRecord
	err := s.db.WithContext(ctx).Where("ticker = ?", ticker).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return market.Instrument{}, fmt.Errorf("%w: %s", market.ErrInvalidInstrument, ticker)
	}
	if err != nil {
		return market.Instrument{}, fmt.Errorf("get instrument %s: %w", ticker, err)
	}
	return rec.instrument(), nil
}

// Instruments lists every known instrument ordered by ticker.
func (s *CandleStore) Instruments(ctx context.Context) ([]market.Instrument, error) {
	var records []InstrumentRecord
	if err := s.db.WithContext(ctx).Order("ticker asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	out := make([]market.Instrument, len(records))
	for i, r := range records {
		out[i] = r.instrument()
	}
	return out, nil
}

func (r InstrumentRecord) instrument() market.Instrument {
	return market.Instrument{Ticker: r.Ticker, Name: r.Name, Venue: r.Venue, Active: r.Active}
}
