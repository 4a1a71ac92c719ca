package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"SignalEngine/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool `yaml:"enabled" default:"true"`
	} `yaml:"metrics"`
	Engine    EngineConfig    `yaml:"engine"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Redis     struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"signalengine"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		MarketTopic  string   `yaml:"market_topic" default:"market.windows"`
		EventsTopic  string   `yaml:"events_topic" default:"signalengine.events"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"signalengine"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled       bool          `yaml:"enabled"`
		Host          string        `yaml:"host" default:"localhost"`
		Port          int           `yaml:"port" default:"9000"`
		Database      string        `yaml:"database" default:"signalengine"`
		User          string        `yaml:"user" default:"default"`
		Password      string        `yaml:"password"`
		DialTimeout   time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout   time.Duration `yaml:"read_timeout" default:"10s"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"2s"`
		FlushSize     int           `yaml:"flush_size" default:"500"`
	} `yaml:"clickhouse"`
	Finnhub struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		Symbols        []string      `yaml:"symbols"`
		Timeframe      string        `yaml:"timeframe" default:"1m"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
	} `yaml:"finnhub"`
	Strategies []StrategyConfig `yaml:"strategies" validate:"dive"`
}

// EngineConfig groups generator, scoring, processor and cache settings.
type EngineConfig struct {
	Generator GeneratorConfig `yaml:"generator"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Processor ProcessorConfig `yaml:"processor"`
	Cache     CacheConfig     `yaml:"cache"`
	Pipeline  struct {
		MaxUpdatesPerSecond int `yaml:"max_updates_per_second" default:"20"`
	} `yaml:"pipeline"`
}

type GeneratorConfig struct {
	MinConfidence         float64       `yaml:"min_confidence" default:"60" validate:"gte=0,lte=100"`
	MaxSignalsPerInterval int           `yaml:"max_signals_per_interval" default:"10" validate:"gte=1"`
	SignalInterval        time.Duration `yaml:"signal_interval" default:"1m"`
	Cooldown              time.Duration `yaml:"cooldown" default:"0s"`
	ConflictResolution    string        `yaml:"conflict_resolution" default:"highest_confidence" validate:"oneof=highest_confidence consensus conservative coexist"`
	HistoryMaxSize        int           `yaml:"history_max_size" default:"1000" validate:"gte=1"`
	HistoryRetentionDays  int           `yaml:"history_retention_days" default:"30" validate:"gte=1"`
	GenerationTimeout     time.Duration `yaml:"generation_timeout" default:"5s"`
	StopATRMultiple       float64       `yaml:"stop_atr_multiple" default:"2" validate:"gt=0"`
	TargetATRMultiple     float64       `yaml:"target_atr_multiple" default:"3" validate:"gt=0"`
	MinRiskReward         float64       `yaml:"min_risk_reward" default:"1.2" validate:"gte=0"`
	MaxStopPct            float64       `yaml:"max_stop_pct" default:"10" validate:"gt=0"`
	MaxDrawdown           float64       `yaml:"max_drawdown" default:"0.25" validate:"gt=0,lte=1"`
	RiskPerTrade          float64       `yaml:"risk_per_trade" default:"0.01" validate:"gt=0,lte=1"`
	PricePrecision        int32         `yaml:"price_precision" default:"8" validate:"gte=0,lte=12"`
}

type ScoringConfig struct {
	Normalization string  `yaml:"normalization" default:"sigmoid" validate:"oneof=sigmoid linear percentile"`
	Weights       Weights `yaml:"weights"`
	Adjustments   struct {
		ConflictPenalty float64       `yaml:"conflict_penalty" default:"0.8" validate:"gt=0,lte=1"`
		ConsensusBonus  float64       `yaml:"consensus_bonus" default:"1.1" validate:"gte=1"`
		DecayHalfLife   time.Duration `yaml:"decay_half_life" default:"1h"`
		ConflictWindow  time.Duration `yaml:"conflict_window" default:"1h"`
	} `yaml:"adjustments"`
}

type Weights struct {
	ConditionConfidence float64 `yaml:"condition_confidence" default:"0.25" validate:"gte=0"`
	IndicatorAlignment  float64 `yaml:"indicator_alignment" default:"0.20" validate:"gte=0"`
	MarketConditions    float64 `yaml:"market_conditions" default:"0.15" validate:"gte=0"`
	HistoricalAccuracy  float64 `yaml:"historical_accuracy" default:"0.15" validate:"gte=0"`
	TimeframeImportance float64 `yaml:"timeframe_importance" default:"0.10" validate:"gte=0"`
	VolumeConfirmation  float64 `yaml:"volume_confirmation" default:"0.10" validate:"gte=0"`
	Volatility          float64 `yaml:"volatility" default:"0.05" validate:"gte=0"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.ConditionConfidence + w.IndicatorAlignment + w.MarketConditions +
		w.HistoricalAccuracy + w.TimeframeImportance + w.VolumeConfirmation + w.Volatility
}

type ProcessorConfig struct {
	BatchSize                int           `yaml:"batch_size" default:"10" validate:"gte=1"`
	MaxConcurrent            int           `yaml:"max_concurrent" default:"5" validate:"gte=1"`
	BackpressureThreshold    int           `yaml:"backpressure_threshold" default:"1000" validate:"gte=1"`
	SignificanceThresholdPct float64       `yaml:"significance_threshold_pct" default:"0.5" validate:"gte=0"`
	FilteringEnabled         bool          `yaml:"filtering_enabled" default:"true"`
	MaxRetries               int           `yaml:"max_retries" default:"3" validate:"gte=0"`
	DrainInterval            time.Duration `yaml:"drain_interval" default:"100ms"`
	HealthCheckInterval      time.Duration `yaml:"health_check_interval" default:"30s"`
	MetricsInterval          time.Duration `yaml:"metrics_interval" default:"10s"`
	HealthFloor              int           `yaml:"health_floor" default:"50" validate:"gte=0,lte=100"`
	MaxHeapMB                int           `yaml:"max_heap_mb" default:"1024" validate:"gte=1"`
	LatencyTarget            time.Duration `yaml:"latency_target" default:"2s"`
	ErrorRateThreshold       float64       `yaml:"error_rate_threshold" default:"0.1" validate:"gte=0,lte=1"`
	StatsWindow              int           `yaml:"stats_window" default:"10000" validate:"gte=1"`
}

type CacheConfig struct {
	TTLSeconds      int           `yaml:"ttl_seconds" default:"60" validate:"gte=0"`
	MaxSize         int           `yaml:"max_size" default:"10000" validate:"gte=1"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1m"`
	RedisEnabled    bool          `yaml:"redis_enabled"`
}

type EvaluatorConfig struct {
	Type     string        `yaml:"type" default:"local" validate:"oneof=local http"`
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout" default:"3s"`
	Attempts int           `yaml:"attempts" default:"2" validate:"gte=1"`
}

type StrategyConfig struct {
	ID         string            `yaml:"id" validate:"required"`
	Name       string            `yaml:"name"`
	Symbols    []string          `yaml:"symbols" validate:"required,min=1"`
	Timeframe  string            `yaml:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 1h 4h 1d"`
	Enabled    bool              `yaml:"enabled" default:"true"`
	Priority   int               `yaml:"priority" default:"5" validate:"gte=1,lte=10"`
	Conditions []ConditionConfig `yaml:"conditions" validate:"required,min=1,dive"`
}

type ConditionConfig struct {
	ID         string  `yaml:"id" validate:"required"`
	Name       string  `yaml:"name"`
	Expression string  `yaml:"expression" validate:"required"`
	Direction  string  `yaml:"direction" validate:"omitempty,oneof=BUY SELL"`
	Weight     float64 `yaml:"weight" default:"1"`
}

// UnmarshalYAML applies defaults before decoding so explicit zero values survive.
func (s *StrategyConfig) UnmarshalYAML(value *yaml.Node) error {
	if err := defaults.Set(s); err != nil {
		return err
	}
	type plain StrategyConfig
	return value.Decode((*plain)(s))
}

func (c *ConditionConfig) UnmarshalYAML(value *yaml.Node) error {
	if err := defaults.Set(c); err != nil {
		return err
	}
	type plain ConditionConfig
	return value.Decode((*plain)(c))
}

var validate = validator.New()

// Default returns a configuration populated with documented defaults.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SIGNAL_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Finnhub.Symbols = util.SplitCSV(v)
	}
	if v := os.Getenv("EVALUATOR_URL"); v != "" {
		c.Evaluator.URL = v
		c.Evaluator.Type = "http"
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Engine.Scoring.Weights.Sum() <= 0 {
		return fmt.Errorf("engine.scoring.weights must not all be zero")
	}
	if c.Evaluator.Type == "http" && c.Evaluator.URL == "" {
		return fmt.Errorf("evaluator.url is required when evaluator.type is http")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Finnhub.Enabled {
		if c.Finnhub.APIKey == "" {
			return fmt.Errorf("finnhub.api_key is required")
		}
		if len(c.Finnhub.Symbols) == 0 {
			return fmt.Errorf("finnhub.symbols cannot be empty")
		}
	}
	if c.Engine.Cache.RedisEnabled && !c.Redis.Enabled {
		return fmt.Errorf("engine.cache.redis_enabled requires redis.enabled")
	}
	seen := make(map[string]struct{}, len(c.Strategies))
	for _, s := range c.Strategies {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate strategy id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
