package bybit

import "encoding/json"

// Response represents a generic response from Bybit's V5 REST API.
// This structure covers the standard response envelope used across all endpoints.
type Response struct {
	RetCode    int                    `json:"retCode"` // 0 means success; non-zero indicates an error code
	RetMsg     string                 `json:"retMsg"`  // Human-readable message describing the result or error
	Result     json.RawMessage        `json:"result"`  // Delay decoding; payload varies per endpoint
	RetExtInfo map[string]interface{} `json:"retExtInfo"`
	Time       int64                  `json:"time"` // Server timestamp (ms)
}

// Bybit V5 return codes the client classifies.
const (
	retOK           = 0
	retParamsError  = 10001 // includes unknown symbol / bad interval
	retTooManyVisit = 10006
	retIPRateLimit  = 10018
	retSymbolBanned = 10029
)

type InstrumentListResponse struct {
	Category       string `json:"category"`
	NextPageCursor string `json:"nextPageCursor"`
	List           []struct {
		Symbol    string `json:"symbol"`    // e.g., "BTCUSDT"
		BaseCoin  string `json:"baseCoin"`  // e.g., "BTC"
		QuoteCoin string `json:"quoteCoin"` // e.g., "USDT"
		Status    string `json:"status"`    // "Trading", "Settling", ...
	} `json:"list"`
}

// KlinesResponse carries rows of [start, open, high, low, close, volume, turnover], newest first.
type KlinesResponse struct {
	Category string     `json:"category"`
	Symbol   string     `json:"symbol"`
	List     [][]string `json:"list"`
}

// KlineMessage is a WebSocket push on a "kline.{interval}.{symbol}" topic.
type KlineMessage struct {
	Topic string    `json:"topic"`
	Data  []WSKline `json:"data"`
	Ts    int64     `json:"ts"`
	Type  string    `json:"type"` // "snapshot" or "delta"
}

// WSKline is one bar inside a KlineMessage. Prices arrive as decimal strings.
type WSKline struct {
	Start     int64  `json:"start"`    // bar open (ms)
	End       int64  `json:"end"`      // bar close (ms)
	Interval  string `json:"interval"` // API interval value, e.g. "1", "D"
	Open      string `json:"open"`
	Close     string `json:"close"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Volume    string `json:"volume"`
	Turnover  string `json:"turnover"`
	Confirm   bool   `json:"confirm"`   // true when the bar is closed
	Timestamp int64  `json:"timestamp"` // event time (ms)
}
