package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	DexScreener DexScreenerConfig `mapstructure:"dexscreener"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Curated     CuratedConfig     `mapstructure:"curated"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	TrendingLimit    int           `mapstructure:"trending_limit"`
	VoterIdentity    string        `mapstructure:"voter_identity"` // ip or client
	MaxMessageLength int           `mapstructure:"max_message_length"`
	StreamBuffer     int           `mapstructure:"stream_buffer"`
	CORSOrigins      []string      `mapstructure:"cors_origins"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For is
	// honoured. Empty means the peer address is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// StorageConfig selects and configures the ledger backend
type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // sqlite or postgres; empty picks postgres when a DSN is set
	DBPath      string `mapstructure:"db_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// DexScreenerConfig holds DexScreener API configuration
type DexScreenerConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// LLMConfig holds the chat completion endpoint configuration.
// The LLM is used only when APIKey is set.
type LLMConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether an API key is configured.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// AnalysisConfig bounds token analysis
type AnalysisConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// CuratedConfig holds the curated token list configuration
type CuratedConfig struct {
	DBPath   string   `mapstructure:"db_path"`
	Fallback []string `mapstructure:"fallback"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file, a .env file, and
// environment variables. Env vars use the VERDICTX_ prefix with dots
// replaced by underscores, e.g. VERDICTX_SERVER_ADDR.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VERDICTX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
		if cfg.Storage.PostgresDSN != "" {
			cfg.Storage.Driver = "postgres"
		}
	}

	return &cfg, nil
}

// bindLegacyEnv accepts the variable names the hosted deployment exports.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("storage.postgres_dsn", "VERDICTX_STORAGE_POSTGRES_DSN", "DATABASE_URL")
	_ = v.BindEnv("llm.api_key", "VERDICTX_LLM_API_KEY", "AI_INTEGRATIONS_OPENAI_API_KEY")
	_ = v.BindEnv("llm.base_url", "VERDICTX_LLM_BASE_URL", "AI_INTEGRATIONS_OPENAI_BASE_URL")
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.trending_limit", 10)
	v.SetDefault("server.voter_identity", "ip")
	v.SetDefault("server.max_message_length", 500)
	v.SetDefault("server.stream_buffer", 16)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})

	// Storage defaults
	v.SetDefault("storage.driver", "")
	v.SetDefault("storage.db_path", "./data/verdictx.db")
	v.SetDefault("storage.postgres_dsn", "")

	// DexScreener defaults
	v.SetDefault("dexscreener.base_url", "https://api.dexscreener.com")
	v.SetDefault("dexscreener.timeout", "5s")
	v.SetDefault("dexscreener.max_retries", 3)

	// LLM defaults
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.timeout", "10s")

	v.SetDefault("analysis.timeout", "10s")

	// Curated list defaults
	v.SetDefault("curated.db_path", "")
	v.SetDefault("curated.fallback", []string{
		"EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm",
		"7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr",
		"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
	})

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.read_timeout and server.write_timeout must be positive")
	}
	if c.Server.TrendingLimit < 1 || c.Server.TrendingLimit > 100 {
		return fmt.Errorf("server.trending_limit must be between 1 and 100")
	}
	if c.Server.VoterIdentity != "ip" && c.Server.VoterIdentity != "client" {
		return fmt.Errorf("server.voter_identity must be one of: ip, client")
	}
	if c.Server.MaxMessageLength < 1 {
		return fmt.Errorf("server.max_message_length must be at least 1")
	}
	if c.Server.StreamBuffer < 1 {
		return fmt.Errorf("server.stream_buffer must be at least 1")
	}
	for _, p := range c.Server.TrustedProxies {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			return fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", p)
		}
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}

	// Validate DexScreener config
	if c.DexScreener.BaseURL == "" {
		return fmt.Errorf("dexscreener.base_url is required")
	}
	if c.DexScreener.Timeout <= 0 {
		return fmt.Errorf("dexscreener.timeout must be positive")
	}
	if c.DexScreener.MaxRetries < 1 || c.DexScreener.MaxRetries > 10 {
		return fmt.Errorf("dexscreener.max_retries must be between 1 and 10")
	}

	// Validate LLM config
	if c.LLM.Enabled() {
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required when llm.api_key is set")
		}
		if c.LLM.Timeout <= 0 {
			return fmt.Errorf("llm.timeout must be positive")
		}
	}

	if c.Analysis.Timeout <= 0 {
		return fmt.Errorf("analysis.timeout must be positive")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
	}

	// Validate Metrics config
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
