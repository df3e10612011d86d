package coingecko

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"PegWatch/internal/domain/models"
	domrepo "PegWatch/internal/domain/repository"
	"PegWatch/internal/service/ratelimit"
	xhttp "PegWatch/pkg/http"
	applogger "PegWatch/pkg/logger"
)

const (
	SourceName     = "coingecko"
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	apiKeyHeader   = "x-cg-pro-api-key"
)

type Config struct {
	BaseURL     string        `yaml:"base_url" default:"https://api.coingecko.com/api/v3"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout" default:"10s"`
	RPS         float64       `yaml:"rps" default:"0.5"`
	Burst       int           `yaml:"burst" default:"3"`
	MaxFailures uint32        `yaml:"max_failures" default:"3"`
	OpenTimeout time.Duration `yaml:"open_timeout" default:"60s"`
}

type Option func(*Client)

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client is a PriceSource over the CoinGecko simple/price endpoint. Symbols are
// resolved to CoinGecko ids and quote currencies through the asset registry.
type Client struct {
	cfg      Config
	http     *xhttp.Client
	registry domrepo.AssetRegistry
	limiter  *ratelimit.Limiter
	breaker  *gobreaker.CircuitBreaker
	tracer   trace.Tracer
	logger   *applogger.Logger
	now      func() time.Time
}

func New(registry domrepo.AssetRegistry, cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}

	c := &Client{
		cfg:      cfg,
		http:     xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		registry: registry,
		limiter:  ratelimit.New(cfg.RPS, cfg.Burst),
		tracer:   noop.NewTracerProvider().Tracer(""),
		logger:   applogger.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	maxFailures := cfg.MaxFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    SourceName,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				applogger.String("source", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()),
			)
		},
	})
	return c
}

func (c *Client) Name() string { return SourceName }

// IsAvailable is false while the circuit breaker is open.
func (c *Client) IsAvailable() bool {
	return c.breaker.State() != gobreaker.StateOpen
}

type quote struct {
	symbol string
	id     string
	vs     string
}

// FetchPrices returns one observation per symbol the API priced. Symbols
// without a CoinGecko id are skipped. The chain is ignored: prices are
// aggregated across venues.
func (c *Client) FetchPrices(ctx context.Context, symbols []string, chain string) ([]models.PriceObservation, error) {
	ctx, span := c.tracer.Start(ctx, "coingecko.fetch_prices", trace.WithAttributes(
		attribute.StringSlice("symbols", symbols),
		attribute.String("chain", chain),
	))
	defer span.End()

	quotes := c.resolve(symbols)
	if len(quotes) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.request(ctx, quotes)
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("coingecko unavailable: %w", err)
		}
		return nil, err
	}
	raw := res.(map[string]map[string]decimal.Decimal)

	now := c.now()
	out := make([]models.PriceObservation, 0, len(quotes))
	for _, q := range quotes {
		data, ok := raw[q.id]
		if !ok {
			continue
		}
		price, ok := data[q.vs]
		if !ok || !price.IsPositive() {
			continue
		}
		obs := models.PriceObservation{
			Symbol:    q.symbol,
			Price:     price.InexactFloat64(),
			Source:    SourceName,
			Timestamp: now,
		}
		if vol, ok := data[q.vs+"_24h_vol"]; ok {
			v := vol.InexactFloat64()
			obs.Volume24h = &v
		}
		out = append(out, obs)
	}
	span.SetAttributes(attribute.Int("observations", len(out)))
	return out, nil
}

func (c *Client) request(ctx context.Context, quotes []quote) (map[string]map[string]decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx, SourceName); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	ids := make([]string, 0, len(quotes))
	vsSet := make(map[string]struct{})
	for _, q := range quotes {
		ids = append(ids, q.id)
		vsSet[q.vs] = struct{}{}
	}
	vs := make([]string, 0, len(vsSet))
	for v := range vsSet {
		vs = append(vs, v)
	}
	sort.Strings(vs)

	headers := map[string]string{"Accept": "application/json"}
	if c.cfg.APIKey != "" {
		headers[apiKeyHeader] = c.cfg.APIKey
	}

	var raw map[string]map[string]decimal.Decimal
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     strings.TrimRight(c.cfg.BaseURL, "/") + "/simple/price",
		Headers: headers,
		QueryParams: map[string][]string{
			"ids":              {strings.Join(ids, ",")},
			"vs_currencies":    {strings.Join(vs, ",")},
			"include_24hr_vol": {"true"},
		},
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("coingecko simple/price: %w", err)
	}
	return raw, nil
}

func (c *Client) resolve(symbols []string) []quote {
	out := make([]quote, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		asset, ok := c.registry.Lookup(s)
		if !ok || asset.CoingeckoID == "" {
			continue
		}
		if _, dup := seen[asset.Symbol]; dup {
			continue
		}
		seen[asset.Symbol] = struct{}{}
		vs := strings.ToLower(asset.PegCurrency)
		if vs == "" {
			vs = "usd"
		}
		out = append(out, quote{symbol: asset.Symbol, id: asset.CoingeckoID, vs: vs})
	}
	return out
}
