package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"PegWatch/internal/domain/models"
	drepo "PegWatch/internal/domain/repository"
	applogger "PegWatch/pkg/logger"
)

const (
	SourceName = "finnhub"
	DefaultURL = "wss://ws.finnhub.io"
)

// Config describes the trade stream. Symbols maps feed symbols such as
// "BINANCE:USDCUSDT" to registry symbols.
type Config struct {
	APIKey         string            `yaml:"api_key"`
	URL            string            `yaml:"url" default:"wss://ws.finnhub.io"`
	Symbols        map[string]string `yaml:"symbols"`
	ReconnectDelay time.Duration     `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration     `yaml:"ping_interval" default:"20s"`
}

// Client implements a MarketStream backed by Finnhub WebSocket.
type Client struct {
	cfg     Config
	symbols map[string]string
	log     *applogger.Logger

	mu        sync.RWMutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// New creates a new Finnhub MarketStream.
func New(cfg Config, l *applogger.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if l == nil {
		l = applogger.NewNop()
	}
	symbols := make(map[string]string, len(cfg.Symbols))
	for feed, asset := range cfg.Symbols {
		symbols[strings.ToUpper(feed)] = strings.ToUpper(asset)
	}
	return &Client{cfg: cfg, symbols: symbols, log: l}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	if c.cfg.APIKey != "" {
		q := u.Query()
		q.Set("token", c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("finnhub connected", applogger.String("url", c.cfg.URL))
	return nil
}

// Subscribe subscribes to every configured feed symbol.
func (c *Client) Subscribe(ctx context.Context) error {
	if !c.IsConnected() {
		return fmt.Errorf("finnhub not connected")
	}
	feeds := make([]string, 0, len(c.symbols))
	for feed := range c.symbols {
		feeds = append(feeds, feed)
	}
	sort.Strings(feeds)

	for _, s := range feeds {
		if err := c.writeJSON(map[string]string{"type": "subscribe", "symbol": s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.log.Info("finnhub subscribed", applogger.Strings("symbols", feeds))
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

// Read streams observations until ctx is done or the connection fails; the
// first failure is sent on the error channel. Both channels are closed on exit.
func (c *Client) Read(ctx context.Context) (<-chan *models.PriceObservation, <-chan error) {
	out := make(chan *models.PriceObservation, 1024)
	errs := make(chan error, 1)

	pingCtx, stopPing := context.WithCancel(ctx)
	go c.pingLoop(pingCtx)

	go func() {
		defer stopPing()
		defer close(out)
		defer close(errs)
		for {
			if ctx.Err() != nil {
				return
			}
			conn := c.current()
			if conn == nil {
				errs <- fmt.Errorf("finnhub conn nil")
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			var m fhMessage
			if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
				continue
			}
			for _, d := range m.Data {
				obs, ok := c.toObservation(d)
				if !ok {
					continue
				}
				select {
				case out <- obs:
				case <-ctx.Done():
					return
				default:
					c.log.Debug("finnhub observation dropped", applogger.String("symbol", obs.Symbol))
				}
			}
		}
	}()

	return out, errs
}

// toObservation maps a trade onto its registry symbol. The exchange prefix of
// the feed symbol becomes part of the source so venues stay distinct.
func (c *Client) toObservation(d fhTrade) (*models.PriceObservation, bool) {
	feed := strings.ToUpper(d.S)
	symbol, ok := c.symbols[feed]
	if !ok {
		return nil, false
	}
	source := SourceName
	if exchange, _, found := strings.Cut(feed, ":"); found {
		source += ":" + strings.ToLower(exchange)
	}
	return &models.PriceObservation{
		Symbol:    symbol,
		Price:     d.P,
		Source:    source,
		Timestamp: time.UnixMilli(d.T).UTC(),
	}, true
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeControl(websocket.PingMessage); err != nil {
				c.log.Debug("finnhub ping failed", applogger.Error(err))
			}
		}
	}
}

// Reconnect closes, waits the reconnect delay and dials again.
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
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) writeJSON(v interface{}) error {
	conn := c.current()
	if conn == nil {
		return fmt.Errorf("finnhub not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) writeControl(kind int) error {
	conn := c.current()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(kind, nil)
}

var _ drepo.MarketStream = (*Client)(nil)
