package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	applogger "PegWatch/pkg/logger"
	"PegWatch/pkg/util"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Log         applogger.Config `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Tracing     TracingConfig    `yaml:"tracing"`
	Cache       CacheConfig      `yaml:"cache"`
	Redis       RedisConfig      `yaml:"redis"`
	Risk        RiskConfig       `yaml:"risk"`
	Monitor     MonitorConfig    `yaml:"monitor"`
	Registry    RegistryConfig   `yaml:"registry"`
	Sources     SourcesConfig    `yaml:"sources"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	CORS            bool          `yaml:"cors" default:"true"`
	RateLimit       struct {
		RPS   float64 `yaml:"rps" default:"20"`
		Burst int     `yaml:"burst" default:"40"`
	} `yaml:"rate_limit"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint" default:"localhost:4317"`
	Insecure    bool    `yaml:"insecure" default:"true"`
	ServiceName string  `yaml:"service_name" default:"pegwatch"`
	SampleRatio float64 `yaml:"sample_ratio" default:"1" validate:"gte=0,lte=1"`
}

type CacheConfig struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	DefaultTTL      time.Duration `yaml:"default_ttl" default:"5m" validate:"gt=0"`
	Backend         string        `yaml:"backend" default:"memory" validate:"oneof=memory redis layered"`
	MemoryMaxSize   int           `yaml:"memory_max_size" default:"10000" validate:"gte=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1m"`
}

type RedisConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"pegwatch"`
}

// RiskConfig mirrors risk.Thresholds plus the volatility scale.
type RiskConfig struct {
	DepegWarning    float64 `yaml:"depeg_warning" default:"0.5" validate:"gt=0"`
	DepegCritical   float64 `yaml:"depeg_critical" default:"2" validate:"gt=0"`
	RiskHigh        float64 `yaml:"risk_high" default:"70" validate:"gt=0,lte=100"`
	RiskMedium      float64 `yaml:"risk_medium" default:"40" validate:"gt=0,lte=100"`
	MaxDeviation    float64 `yaml:"max_deviation" default:"5" validate:"gt=0"`
	VolatilityScale float64 `yaml:"volatility_scale" default:"50" validate:"gt=0"`
}

type WatchItem struct {
	Symbol string `yaml:"symbol" validate:"required"`
	Chain  string `yaml:"chain"`
}

type MonitorConfig struct {
	ReportTTL           time.Duration `yaml:"report_ttl" default:"30s"`
	ScoreTTL            time.Duration `yaml:"score_ttl" default:"24h"`
	RiskChangeThreshold int           `yaml:"risk_change_threshold" default:"10" validate:"gte=1,lte=100"`
	DefaultChain        string        `yaml:"default_chain" default:"ethereum"`
	Interval            time.Duration `yaml:"interval" default:"60s"`
	Watchlist           []WatchItem   `yaml:"watchlist" validate:"dive"`
}

type RegistryConfig struct {
	Path string `yaml:"path"`
}

type SourcesConfig struct {
	Timeout    time.Duration          `yaml:"timeout" default:"10s"`
	CoinGecko  CoinGeckoSourceConfig  `yaml:"coingecko"`
	ClickHouse ClickHouseSourceConfig `yaml:"clickhouse"`
	Stream     StreamSourceConfig     `yaml:"stream"`
	Finnhub    FinnhubConfig          `yaml:"finnhub"`
}

type CoinGeckoSourceConfig struct {
	Enabled     bool          `yaml:"enabled" default:"true"`
	BaseURL     string        `yaml:"base_url" default:"https://api.coingecko.com/api/v3" validate:"omitempty,url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout" default:"10s"`
	RPS         float64       `yaml:"rps" default:"0.5"`
	Burst       int           `yaml:"burst" default:"3"`
	MaxFailures uint32        `yaml:"max_failures" default:"3"`
	OpenTimeout time.Duration `yaml:"open_timeout" default:"60s"`
}

type ClickHouseSourceConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Table    string        `yaml:"table" default:"price_ticks"`
	Lookback time.Duration `yaml:"lookback" default:"5m"`
}

// StreamSourceConfig controls the push path (Finnhub, Kafka observations)
// and where accepted observations are archived.
type StreamSourceConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxAge       time.Duration `yaml:"max_age" default:"2m"`
	MaxRPS       int           `yaml:"max_rps" default:"20"`
	MaxKeys      int           `yaml:"throttle_max_keys" default:"10000" validate:"gte=1"`
	BufferSize   int           `yaml:"buffer_size" default:"1000"`
	Archive      string        `yaml:"archive" default:"none" validate:"oneof=none clickhouse kafka"`
	ArchiveChain string        `yaml:"archive_chain" default:"ethereum"`
	BatchSize    int           `yaml:"batch_size" default:"500"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
}

type FinnhubConfig struct {
	Enabled        bool              `yaml:"enabled"`
	APIKey         string            `yaml:"api_key"`
	URL            string            `yaml:"url" default:"wss://ws.finnhub.io"`
	Symbols        map[string]string `yaml:"symbols"`
	ReconnectDelay time.Duration     `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration     `yaml:"ping_interval" default:"20s"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	RequiredAcks int      `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
	Topics       struct {
		Events       string `yaml:"events" default:"pegwatch.events"`
		Observations string `yaml:"observations" default:"pegwatch.observations"`
		Logs         string `yaml:"logs" default:"pegwatch.logs"`
	} `yaml:"topics"`
	Producer struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		Enabled    bool          `yaml:"enabled"`
		GroupID    string        `yaml:"group_id" default:"pegwatch"`
		Workers    int           `yaml:"workers" default:"4"`
		BufferSize int           `yaml:"buffer_size" default:"256"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
	} `yaml:"consumer"`
	LogCollection struct {
		Enabled        bool          `yaml:"enabled"`
		Interval       time.Duration `yaml:"interval" default:"30s"`
		CountThreshold int           `yaml:"count_threshold" default:"100"`
	} `yaml:"log_collection"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"default"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	InitSchema       bool          `yaml:"init_schema" default:"true"`
}

var validate = validator.New()

// Default returns a Config holding only tag defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

// Load applies defaults, then the YAML file at path (skipped when path is
// empty), then validates.
func Load(path string) (*Config, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv is Load with environment overrides applied before validation.
// A .env file in the working directory is loaded first when present.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	c, err := load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("PEGWATCH_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("HTTP_PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, _ := strings.Cut(v, ":")
		c.Redis.Host = host
		c.Redis.Port = util.ParseIntDefault(port, c.Redis.Port)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	if v := getenv("COINGECKO_API_KEY"); v != "" {
		c.Sources.CoinGecko.APIKey = v
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Sources.Finnhub.APIKey = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("WATCHLIST"); v != "" {
		c.Monitor.Watchlist = ParseWatchlist(v)
	}
}

// ParseWatchlist parses "SYM[:chain],..." entries.
func ParseWatchlist(s string) []WatchItem {
	var out []WatchItem
	for _, entry := range strings.Split(s, ",") {
		symbol, chain := util.SplitPair(entry)
		if symbol == "" {
			continue
		}
		out = append(out, WatchItem{Symbol: symbol, Chain: chain})
	}
	return out
}

// Validate checks tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Risk.DepegWarning >= c.Risk.DepegCritical {
		return fmt.Errorf("risk.depeg_warning (%v) must be below risk.depeg_critical (%v)", c.Risk.DepegWarning, c.Risk.DepegCritical)
	}
	if c.Risk.RiskMedium >= c.Risk.RiskHigh {
		return fmt.Errorf("risk.risk_medium (%v) must be below risk.risk_high (%v)", c.Risk.RiskMedium, c.Risk.RiskHigh)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Kafka.Consumer.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("kafka.consumer requires kafka.enabled")
	}
	if c.Kafka.Consumer.Enabled && !c.Sources.Stream.Enabled {
		return fmt.Errorf("kafka.consumer feeds the stream source; enable sources.stream")
	}
	if c.Sources.Stream.Archive == "kafka" && !c.Kafka.Enabled {
		return fmt.Errorf("sources.stream.archive=kafka requires kafka.enabled")
	}
	if f := c.Sources.Finnhub; f.Enabled {
		if !c.Sources.Stream.Enabled {
			return fmt.Errorf("sources.finnhub feeds the stream source; enable sources.stream")
		}
		if f.APIKey == "" {
			return fmt.Errorf("sources.finnhub.api_key is required")
		}
		if len(f.Symbols) == 0 {
			return fmt.Errorf("sources.finnhub.symbols cannot be empty")
		}
	}
	if !c.Sources.CoinGecko.Enabled && !c.Sources.ClickHouse.Enabled && !c.Sources.Stream.Enabled {
		return fmt.Errorf("at least one price source must be enabled")
	}
	return nil
}

// NeedsClickHouse reports whether any component uses the ClickHouse connection.
func (c *Config) NeedsClickHouse() bool {
	return c.Sources.ClickHouse.Enabled || c.Sources.Stream.Archive == "clickhouse"
}

// NeedsRedis reports whether the cache uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.Cache.Enabled && c.Cache.Backend != "memory"
}
