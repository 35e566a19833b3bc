package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"alertengine/pkg/market"
	"alertengine/pkg/provider"

	"go.uber.org/zap"
)

const maxKlinesLimit = 1000

// RESTClient is the bybit V5 REST adapter. It implements provider.Provider and
// provider.InstrumentLister.
type RESTClient struct {
	baseURL    string
	category   string
	venue      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewRESTClient(baseURL, category, venue string, timeout time.Duration, logger *zap.Logger) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		category:   category,
		venue:      venue,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *RESTClient) Name() string { return "bybit" }

// ListInstruments pages through instruments-info for the configured category.
func (c *RESTClient) ListInstruments(ctx context.Context) ([]market.Instrument, error) {
	var out []market.Instrument
	cursor := ""

	for {
		params := url.Values{}
		params.Set("category", c.category)
		params.Set("limit", "1000")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var result InstrumentListResponse
		if err := c.get(ctx, "/v5/market/instruments-info", params, &result); err != nil {
			return nil, err
		}

		for _, s := range result.List {
			out = append(out, market.Instrument{
				Ticker: s.Symbol,
				Name:   s.BaseCoin + "/" + s.QuoteCoin,
				Venue:  c.venue,
				Active: s.Status == "" || s.Status == "Trading",
			})
		}

		if result.NextPageCursor == "" || len(result.List) == 0 {
			return out, nil
		}
		cursor = result.NextPageCursor
	}
}

// FetchCandles pulls klines for r, walking backwards from r.To in pages of 1000.
func (c *RESTClient) FetchCandles(ctx context.Context, instrument string, interval market.Interval,
	r market.TimeRange) ([]market.Candle, error) {
	if !interval.IsValid() {
		return nil, &provider.PermanentError{Err: fmt.Errorf("%w: %q", market.ErrInvalidInterval, interval)}
	}

	end := r.To
	if end.IsZero() {
		end = time.Now().UTC()
	}

	var all []market.Candle
	for {
		params := url.Values{}
		params.Set("category", c.category)
		params.Set("symbol", instrument)
		params.Set("interval", interval.Meta().APIValue)
		params.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
		params.Set("limit", strconv.Itoa(maxKlinesLimit))
		if !r.From.IsZero() {
			params.Set("start", strconv.FormatInt(r.From.UnixMilli(), 10))
		}

		var result KlinesResponse
		if err := c.get(ctx, "/v5/market/kline", params, &result); err != nil {
			return nil, err
		}

		page, skipped := ParseKlineList(instrument, interval, result.List)
		if skipped > 0 {
			c.logger.Warn("skipped unparsable kline rows",
				zap.String("instrument", instrument), zap.Int("skipped", skipped))
		}
		all = append(page, all...)

		if len(result.List) < maxKlinesLimit || len(page) == 0 || r.From.IsZero() {
			break
		}
		earliest := page[0].Time
		if !earliest.After(r.From) {
			break
		}
		end = earliest.Add(-time.Millisecond)
	}

	return all, nil
}

// get performs one GET and decodes the V5 envelope into out, classifying failures.
func (c *RESTClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &provider.PermanentError{Err: fmt.Errorf("creating request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyStatus(resp, body)
	}

	var raw Response
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := classifyRetCode(raw, resp.Header); err != nil {
		return err
	}
	if err := json.Unmarshal(raw.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func classifyStatus(resp *http.Response, body []byte) error {
	err := fmt.Errorf("bybit http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		return &provider.RateLimitError{RetryAfter: retryAfter(resp.Header, time.Now()), Err: err}
	case resp.StatusCode >= 500:
		return err
	default:
		return &provider.PermanentError{Err: err}
	}
}

func classifyRetCode(raw Response, h http.Header) error {
	switch raw.RetCode {
	case retOK:
		return nil
	case retTooManyVisit, retIPRateLimit:
		return &provider.RateLimitError{
			RetryAfter: retryAfter(h, time.Now()),
			Err:        fmt.Errorf("bybit %d: %s", raw.RetCode, raw.RetMsg),
		}
	case retParamsError, retSymbolBanned:
		return &provider.PermanentError{
			Err: fmt.Errorf("%w: bybit %d: %s", market.ErrInvalidInstrument, raw.RetCode, raw.RetMsg),
		}
	default:
		return fmt.Errorf("bybit %d: %s", raw.RetCode, raw.RetMsg)
	}
}

// retryAfter reads the standard Retry-After header (seconds) or bybit's
// X-Bapi-Limit-Reset-Timestamp (epoch ms). Zero means no hint.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil && t.After(now) {
			return t.Sub(now)
		}
	}
	if v := h.Get("X-Bapi-Limit-Reset-Timestamp"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.UnixMilli(ms).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}

var _ provider.Provider = (*RESTClient)(nil)
var _ provider.InstrumentLister = (*RESTClient)(nil)
