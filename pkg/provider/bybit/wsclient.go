package bybit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"alertengine/pkg/market"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const pingInterval = 20 * time.Second

var errNoConn = errors.New("websocket not connected")

// WSClient handles the WebSocket connection to Bybit and routes messages to a handler.
// Topics are re-read from the topics func on every (re)connect.
type WSClient struct {
	url     string
	topics  func() []string
	handler func([]byte)
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSClient creates a WebSocket client for url.
func NewWSClient(url string, topics func() []string, logger *zap.Logger) *WSClient {
	return &WSClient{url: url, topics: topics, logger: logger}
}

// KlineTopic builds the subscription topic for instrument/interval, e.g. "kline.1.BTCUSDT".
func KlineTopic(instrument string, interval market.Interval) string {
	return fmt.Sprintf("kline.%s.%s", interval.Meta().APIValue, instrument)
}

// ParseKlineTopic splits "kline.1.BTCUSDT" into its instrument and interval.
func ParseKlineTopic(topic string) (string, market.Interval, bool) {
	parts := strings.Split(topic, ".")
	if len(parts) != 3 || parts[0] != "kline" {
		return "", "", false
	}
	iv, err := market.IntervalFromAPI(parts[1])
	if err != nil {
		return "", "", false
	}
	return parts[2], iv, true
}

// SetMessageHandler sets the function to handle incoming messages.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

// Connect dials the server and subscribes to the current topics. It does not start the listener.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.logger.Error("failed to connect to websocket", zap.String("url", c.url), zap.Error(err))
		return err
	}
	if err := c.subscribe(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("websocket connected", zap.String("url", c.url))
	return nil
}

func (c *WSClient) subscribe(conn *websocket.Conn) error {
	args := c.topics()
	if len(args) == 0 {
		return nil
	}
	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		return fmt.Errorf("websocket subscribe failed: %w", err)
	}
	return nil
}

// Listen reads messages until ctx is cancelled, reconnecting with a fixed delay on read errors.
func (c *WSClient) Listen(ctx context.Context) {
	go c.keepAlive(ctx)
	go func() {
		<-ctx.Done()
		c.close()
	}()

	for {
		conn := c.current()
		if conn == nil {
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("websocket read error", zap.Error(err))
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// reconnect retries Connect every 3s until it succeeds or ctx ends.
func (c *WSClient) reconnect(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(3 * time.Second):
		}
		if err := c.Connect(ctx); err != nil {
			c.logger.Warn("retrying websocket reconnect", zap.Error(err))
			continue
		}
		c.logger.Info("websocket reconnected")
		return true
	}
}

// Resubscribe sends a subscribe for the current topics on the live connection.
func (c *WSClient) Resubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errNoConn
	}
	return c.subscribe(c.conn)
}

func (c *WSClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != nil {
				if err := c.conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					c.logger.Debug("websocket ping failed", zap.Error(err))
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *WSClient) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
