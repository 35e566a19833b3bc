// Package catalog keeps the instrument reference data: loaded from the provider, persisted,
// and indexed in memory for venue lookups.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"alertengine/pkg/market"
	"alertengine/pkg/provider"

	"go.uber.org/zap"
)

// Store persists instrument reference data.
type Store interface {
	UpsertInstruments(ctx context.Context, instruments []market.Instrument) (int, error)
	Instruments(ctx context.Context) ([]market.Instrument, error)
}

type Catalog struct {
	lister       provider.InstrumentLister
	store        Store
	defaultVenue string
	timeout      time.Duration
	logger       *zap.Logger

	mu          sync.RWMutex
	instruments map[string]market.Instrument
}

func New(lister provider.InstrumentLister, store Store, defaultVenue string, timeout time.Duration, logger *zap.Logger) *Catalog {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Catalog{
		lister:       lister,
		store:        store,
		defaultVenue: defaultVenue,
		timeout:      timeout,
		logger:       logger,
		instruments:  make(map[string]market.Instrument),
	}
}

// Restore indexes the instruments already persisted.
func (c *Catalog) Restore(ctx context.Context) (int, error) {
	stored, err := c.store.Instruments(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read instruments: %w", err)
	}
	c.index(stored)
	return len(stored), nil
}

// Refresh loads the provider's instrument list, persists it and updates the index.
// The request is bounded by the catalog timeout.
func (c *Catalog) Refresh(ctx context.Context) (int, error) {
	if c.lister == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	listed, err := c.lister.ListInstruments(ctx)
	if err != nil {
		c.logger.Error("failed to load instruments", zap.Error(err))
		return 0, err
	}
	for i := range listed {
		if listed[i].Venue == "" {
			listed[i].Venue = c.defaultVenue
		}
	}
	n, err := c.store.UpsertInstruments(ctx, listed)
	if err != nil {
		return 0, fmt.Errorf("failed to persist instruments: %w", err)
	}
	c.index(listed)
	c.logger.Info("loaded instruments", zap.Int("count", n))
	return n, nil
}

func (c *Catalog) index(instruments []market.Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, in := range instruments {
		c.instruments[in.Ticker] = in
	}
}

// Venue returns the session venue of ticker, or the default venue when unknown.
func (c *Catalog) Venue(ticker string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if in, ok := c.instruments[ticker]; ok && in.Venue != "" {
		return in.Venue
	}
	return c.defaultVenue
}

// Get returns the indexed instrument for ticker.
func (c *Catalog) Get(ticker string) (market.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	in, ok := c.instruments[ticker]
	return in, ok
}

// Tickers returns the indexed tickers in order.
func (c *Catalog) Tickers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.instruments))
	for t := range c.instruments {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
