package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string   `mapstructure:"DB_SCHEMA"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`

	OpenAIAPIKey   string  `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL  string  `mapstructure:"OPENAI_BASE_URL"`
	LLMModel       string  `mapstructure:"LLM_MODEL"`
	EmbeddingModel string  `mapstructure:"EMBEDDING_MODEL"`
	LLMTemperature float64 `mapstructure:"LLM_TEMPERATURE"`
	LLMMaxTokens   int     `mapstructure:"LLM_MAX_TOKENS"`

	QueryTimeout     time.Duration `mapstructure:"QUERY_TIMEOUT"`
	SearchTimeout    time.Duration `mapstructure:"SEARCH_TIMEOUT"`
	LLMTimeout       time.Duration `mapstructure:"LLM_TIMEOUT"`
	LLMRetryPause    time.Duration `mapstructure:"LLM_RETRY_PAUSE"`
	ContextMaxTokens int           `mapstructure:"CONTEXT_MAX_TOKENS"`
	SearchTopK       int           `mapstructure:"SEARCH_TOP_K"`
	SearchMinScore   float64       `mapstructure:"SEARCH_MIN_SCORE"`

	WSRateLimit       int           `mapstructure:"WS_RATE_LIMIT"`
	WSMaxMessageBytes int64         `mapstructure:"WS_MAX_MESSAGE_BYTES"`
	WSIdleTimeout     time.Duration `mapstructure:"WS_IDLE_TIMEOUT"`
	WSTokenDelay      time.Duration `mapstructure:"WS_TOKEN_DELAY"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA", "CORS_ORIGINS",
	"JWT_SECRET", "JWT_ISSUER", "JWT_AUDIENCE",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "LLM_MODEL", "EMBEDDING_MODEL", "LLM_TEMPERATURE", "LLM_MAX_TOKENS",
	"QUERY_TIMEOUT", "SEARCH_TIMEOUT", "LLM_TIMEOUT", "LLM_RETRY_PAUSE",
	"CONTEXT_MAX_TOKENS", "SEARCH_TOP_K", "SEARCH_MIN_SCORE",
	"WS_RATE_LIMIT", "WS_MAX_MESSAGE_BYTES", "WS_IDLE_TIMEOUT", "WS_TOKEN_DELAY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "smart_health")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("EMBEDDING_MODEL", "text-embedding-3-small")
	v.SetDefault("LLM_TEMPERATURE", 0.3)
	v.SetDefault("LLM_MAX_TOKENS", 2000)
	v.SetDefault("QUERY_TIMEOUT", "45s")
	v.SetDefault("SEARCH_TIMEOUT", "10s")
	v.SetDefault("LLM_TIMEOUT", "30s")
	v.SetDefault("LLM_RETRY_PAUSE", "500ms")
	v.SetDefault("CONTEXT_MAX_TOKENS", 4000)
	v.SetDefault("SEARCH_TOP_K", 15)
	v.SetDefault("SEARCH_MIN_SCORE", 0.3)
	v.SetDefault("WS_RATE_LIMIT", 20)
	v.SetDefault("WS_MAX_MESSAGE_BYTES", 10*1024*1024)
	v.SetDefault("WS_IDLE_TIMEOUT", "300s")
	v.SetDefault("WS_TOKEN_DELAY", "50ms")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: error details are returned to clients. Set ENV=production to suppress them.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to serve traffic with.
// Credentials may be omitted in development so the server can start against
// a local database without a model provider.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
		}
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when ENV=%q", c.Env)
		}
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
	}

	for name, d := range map[string]time.Duration{
		"QUERY_TIMEOUT":  c.QueryTimeout,
		"SEARCH_TIMEOUT": c.SearchTimeout,
		"LLM_TIMEOUT":    c.LLMTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.QueryTimeout <= c.SearchTimeout {
		return fmt.Errorf("QUERY_TIMEOUT (%s) must be greater than SEARCH_TIMEOUT (%s)", c.QueryTimeout, c.SearchTimeout)
	}
	if c.ContextMaxTokens <= 0 {
		return fmt.Errorf("CONTEXT_MAX_TOKENS must be positive, got %d", c.ContextMaxTokens)
	}
	if c.WSRateLimit <= 0 {
		return fmt.Errorf("WS_RATE_LIMIT must be positive, got %d", c.WSRateLimit)
	}
	return nil
}
