package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"SignalEngine/internal/domain/models"
	drepo "SignalEngine/internal/domain/repository"
	"SignalEngine/pkg/logger"

	"github.com/gorilla/websocket"
)

// Config configures the Finnhub trade stream.
type Config struct {
	APIKey         string
	WebSocketURL   string
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// Client implements a MarketStream backed by the Finnhub WebSocket.
type Client struct {
	cfg    Config
	log    *logger.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// New creates a new Finnhub MarketStream.
func New(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	return &Client{cfg: cfg, log: log, dialer: websocket.DefaultDialer}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := c.cfg.WebSocketURL
	if c.cfg.APIKey != "" {
		u = fmt.Sprintf("%s?token=%s", u, c.cfg.APIKey)
	}
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("finnhub connected", logger.String("url", c.cfg.WebSocketURL))
	return nil
}

// Subscribe subscribes to configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return fmt.Errorf("finnhub not connected")
	}
	for _, s := range c.cfg.Symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.log.Info("finnhub subscribed", logger.Strings("symbols", c.cfg.Symbols))
	return nil
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// decode returns the trades carried by a frame; non-trade frames yield nil.
func decode(b []byte) []*models.Trade {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		return nil
	}
	out := make([]*models.Trade, 0, len(m.Data))
	for _, d := range m.Data {
		out = append(out, &models.Trade{Symbol: d.S, Timestamp: d.T, Price: d.P, Volume: d.V})
	}
	return out
}

// Read streams trades and errors until ctx is done or the connection fails.
func (c *Client) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, 1024)
	errs := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
				c.mu.Unlock()
			}
		}
	}()

	go func() {
		defer close(trades)
		defer close(errs)
		for {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				errs <- fmt.Errorf("finnhub conn nil")
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("finnhub read: %w", err)
				return
			}
			for _, t := range decode(b) {
				select {
				case trades <- t:
				default:
					c.log.Warn("finnhub trade dropped", logger.String("symbol", t.Symbol))
				}
			}
		}
	}()

	return trades, errs
}

// Reconnect closes and reconnects after the configured delay.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.ReconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

var _ drepo.MarketStream = (*Client)(nil)
