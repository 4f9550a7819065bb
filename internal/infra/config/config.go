package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Feature names accepted under the features key.
var featureNames = []string{"reuse", "reuse_detail", "repair", "community", "reuse_score"}

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP     HTTPConfig               `yaml:"http"`
	LLM      LLMConfig                `yaml:"llm"`
	Features map[string]FeatureConfig `yaml:"features"`
	Cache    CacheConfig              `yaml:"cache"`
	Accounts AccountsConfig           `yaml:"accounts"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address       string          `yaml:"address"`
	ReadTimeout   time.Duration   `yaml:"readTimeout"`
	WriteTimeout  time.Duration   `yaml:"writeTimeout"`
	StaticDir     string          `yaml:"staticDir"`
	CORSOrigins   []string        `yaml:"corsOrigins"`
	MaxImageBytes int             `yaml:"maxImageBytes"`
	RateLimit     RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// LLMConfig contains Gemini settings.
type LLMConfig struct {
	APIKey         string        `yaml:"apiKey"`
	BaseURL        string        `yaml:"baseUrl"`
	Model          string        `yaml:"model"`
	MaxRetries     int           `yaml:"maxRetries"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	MaxRetryDelay  time.Duration `yaml:"maxRetryDelay"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// Deadline bounds a whole generation including retries and follow-ups.
	Deadline time.Duration `yaml:"deadline"`
}

// FeatureConfig tunes one generation feature. Unset values keep defaults.
type FeatureConfig struct {
	Fallback        string   `yaml:"fallback"`
	Temperature     *float32 `yaml:"temperature"`
	MaxOutputTokens int32    `yaml:"maxOutputTokens"`
}

// CacheConfig controls the model result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Valkey  ValkeyConfig  `yaml:"valkey"`
}

// ValkeyConfig contains connection information for cache storage. An
// empty address selects the in-process cache.
type ValkeyConfig struct {
	Addr string `yaml:"addr"`
}

// AccountsConfig selects the demo account store.
type AccountsConfig struct {
	Backend        string         `yaml:"backend"`
	File           string         `yaml:"file"`
	AcceptAnyLogin bool           `yaml:"acceptAnyLogin"`
	Postgres       PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// Load reads configuration from a YAML file, an optional .env file and
// environment variables, in that order of precedence (lowest first).
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg.fillFeatureDefaults()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// loadDotEnv never overrides variables that are already set.
func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTP.Address = ":" + v
	}
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.HTTP.StaticDir = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("HTTP_MAX_IMAGE_BYTES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.MaxImageBytes = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}

	if v := os.Getenv("GOOGLE_GENERATIVE_AI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	} else if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxRetries = parsed
		}
	}
	if v := os.Getenv("LLM_DEADLINE"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Deadline = parsed
		}
	}
	for _, name := range featureNames {
		key := "FEATURE_" + strings.ToUpper(name) + "_FALLBACK"
		if v := os.Getenv(key); v != "" {
			fc := cfg.Features[name]
			fc.Fallback = v
			cfg.Features[name] = fc
		}
	}

	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = parsed
		}
	}
	if v := os.Getenv("CACHE_VALKEY_ADDR"); v != "" {
		cfg.Cache.Valkey.Addr = v
	}

	if v := os.Getenv("ACCOUNTS_BACKEND"); v != "" {
		cfg.Accounts.Backend = v
	}
	if v := os.Getenv("ACCOUNTS_FILE"); v != "" {
		cfg.Accounts.File = v
	}
	if v := os.Getenv("ACCOUNTS_ACCEPT_ANY_LOGIN"); v != "" {
		cfg.Accounts.AcceptAnyLogin = parseBool(v)
	}
	if v := os.Getenv("ACCOUNTS_POSTGRES_DSN"); v != "" {
		cfg.Accounts.Postgres.DSN = v
	}
	if v := os.Getenv("ACCOUNTS_POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Accounts.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("ACCOUNTS_POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Accounts.Postgres.MinConns = int32(parsed)
		}
	}
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func float32Ptr(v float32) *float32 { return &v }

func defaultFeatures() map[string]FeatureConfig {
	return map[string]FeatureConfig{
		"reuse":        {Fallback: "always", Temperature: float32Ptr(0.2), MaxOutputTokens: 1200},
		"reuse_detail": {Fallback: "never", Temperature: float32Ptr(0.1), MaxOutputTokens: 1400},
		"repair":       {Fallback: "never", Temperature: float32Ptr(0), MaxOutputTokens: 1200},
		"community":    {Fallback: "rateLimit", Temperature: float32Ptr(0.7), MaxOutputTokens: 2048},
		"reuse_score":  {Fallback: "never", Temperature: float32Ptr(0), MaxOutputTokens: 256},
	}
}

// fillFeatureDefaults completes partially configured features, since YAML
// replaces map entries wholesale.
func (c *Config) fillFeatureDefaults() {
	if c.Features == nil {
		c.Features = map[string]FeatureConfig{}
	}
	for name, def := range defaultFeatures() {
		fc, ok := c.Features[name]
		if !ok {
			c.Features[name] = def
			continue
		}
		if fc.Fallback == "" {
			fc.Fallback = def.Fallback
		}
		if fc.Temperature == nil {
			fc.Temperature = def.Temperature
		}
		if fc.MaxOutputTokens == 0 {
			fc.MaxOutputTokens = def.MaxOutputTokens
		}
		c.Features[name] = fc
	}
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:       ":8080",
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  45 * time.Second,
			StaticDir:     "public",
			CORSOrigins:   []string{"*"},
			MaxImageBytes: 8_000_000,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
		},
		LLM: LLMConfig{
			BaseURL:        "https://generativelanguage.googleapis.com",
			Model:          "gemini-2.5-flash",
			MaxRetries:     2,
			RetryBaseDelay: 5 * time.Second,
			MaxRetryDelay:  30 * time.Second,
			RequestTimeout: 20 * time.Second,
			Deadline:       20 * time.Second,
		},
		Features: defaultFeatures(),
		Cache: CacheConfig{
			Enabled: true,
			TTL:     6 * time.Hour,
		},
		Accounts: AccountsConfig{
			Backend:        "file",
			File:           "data/users.json",
			AcceptAnyLogin: true,
			Postgres: PostgresConfig{
				MaxConns: 4,
				MinConns: 0,
			},
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.MaxImageBytes <= 0 {
		return errors.New("http.maxImageBytes must be positive")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm.model cannot be empty")
	}
	if c.LLM.MaxRetries < 0 || c.LLM.MaxRetries > 5 {
		return errors.New("llm.maxRetries must be between 0 and 5")
	}
	if c.LLM.Deadline < 0 {
		return errors.New("llm.deadline cannot be negative")
	}
	for name, fc := range c.Features {
		if !knownFeature(name) {
			return fmt.Errorf("features.%s is not a known feature", name)
		}
		switch fc.Fallback {
		case "always", "never", "rateLimit":
		default:
			return fmt.Errorf("features.%s.fallback must be always, never or rateLimit", name)
		}
		if fc.Temperature != nil && (*fc.Temperature < 0 || *fc.Temperature > 2) {
			return fmt.Errorf("features.%s.temperature must be between 0 and 2", name)
		}
		if fc.MaxOutputTokens < 0 {
			return fmt.Errorf("features.%s.maxOutputTokens cannot be negative", name)
		}
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl cannot be negative")
	}
	switch c.Accounts.Backend {
	case "file":
		if strings.TrimSpace(c.Accounts.File) == "" {
			return errors.New("accounts.file cannot be empty for the file backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Accounts.Postgres.DSN) == "" {
			return errors.New("accounts.postgres.dsn cannot be empty for the postgres backend")
		}
	default:
		return errors.New("accounts.backend must be file or postgres")
	}
	return nil
}

func knownFeature(name string) bool {
	for _, known := range featureNames {
		if name == known {
			return true
		}
	}
	return false
}
