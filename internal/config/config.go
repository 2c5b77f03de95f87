package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Market   MarketConfig   `mapstructure:"market"`
	Arena    ArenaConfig    `mapstructure:"arena"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// HTTPConfig contains HTTP server settings
type HTTPConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the snapshot mirror
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS settings for the external event sink
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// LLMConfig contains language model gateway settings
type LLMConfig struct {
	Endpoint  string `mapstructure:"endpoint"` // chat-completions compatible
	APIKey    string `mapstructure:"api_key"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// MarketConfig contains upstream market data settings
type MarketConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	RequestsPerSecond int    `mapstructure:"requests_per_second"`
	RefreshSeconds    int    `mapstructure:"refresh_seconds"`
	TimeoutMs         int    `mapstructure:"timeout_ms"`
}

// ArenaConfig contains session defaults used when the caller omits them
type ArenaConfig struct {
	Pair               string  `mapstructure:"pair"`
	ReferencePair      string  `mapstructure:"reference_pair"`
	AgentCount         int     `mapstructure:"agent_count"`
	StartingCapital    float64 `mapstructure:"starting_capital"`
	DecisionIntervalMs int     `mapstructure:"decision_interval_ms"`
	MaxDurationHours   float64 `mapstructure:"max_duration_hours"`
	ModelID            string  `mapstructure:"model_id"`
	Leverage           float64 `mapstructure:"leverage"`
	SessionBudgetUSD   float64 `mapstructure:"session_budget_usd"`
	PerAgentBudgetUSD  float64 `mapstructure:"per_agent_budget_usd"`
	UseMasterAgent     bool    `mapstructure:"use_master_agent"`
}

// Load reads configuration from file and environment.
// Environment variables use the XRPARENA_ prefix with _ separators,
// e.g. XRPARENA_DATABASE_URL overrides database.url.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("arena")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("XRPARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults + env carry the day
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "xrparena")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	v.SetDefault("http.port", 8090)
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "arena.events")

	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.timeout_ms", 30000)

	v.SetDefault("market.base_url", "https://api.kraken.com")
	v.SetDefault("market.requests_per_second", 1)
	v.SetDefault("market.refresh_seconds", 30)
	v.SetDefault("market.timeout_ms", 10000)

	v.SetDefault("arena.pair", "XRP/EUR")
	v.SetDefault("arena.reference_pair", "BTC/EUR")
	v.SetDefault("arena.agent_count", 4)
	v.SetDefault("arena.starting_capital", 1000)
	v.SetDefault("arena.decision_interval_ms", 60000)
	v.SetDefault("arena.max_duration_hours", 8)
	v.SetDefault("arena.leverage", 10)
	v.SetDefault("arena.session_budget_usd", 5)
	v.SetDefault("arena.per_agent_budget_usd", 1)
}

// Validate checks configuration constraints
func (c *Config) Validate() error {
	if c.Arena.AgentCount < 2 || c.Arena.AgentCount > 8 {
		return fmt.Errorf("arena.agent_count must be between 2 and 8, got %d", c.Arena.AgentCount)
	}
	if c.Arena.StartingCapital <= 0 {
		return fmt.Errorf("arena.starting_capital must be positive, got %f", c.Arena.StartingCapital)
	}
	if c.Arena.DecisionIntervalMs < 1000 {
		return fmt.Errorf("arena.decision_interval_ms must be at least 1000, got %d", c.Arena.DecisionIntervalMs)
	}
	if c.Arena.MaxDurationHours <= 0 {
		return fmt.Errorf("arena.max_duration_hours must be positive, got %f", c.Arena.MaxDurationHours)
	}
	interval := time.Duration(c.Arena.DecisionIntervalMs) * time.Millisecond
	duration := time.Duration(c.Arena.MaxDurationHours * float64(time.Hour))
	if duration <= interval {
		return fmt.Errorf("arena.max_duration_hours must exceed the decision interval")
	}
	if c.Market.RefreshSeconds <= 0 {
		return fmt.Errorf("market.refresh_seconds must be positive, got %d", c.Market.RefreshSeconds)
	}
	return nil
}
