package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Address)
	require.Equal(t, 8_000_000, cfg.HTTP.MaxImageBytes)
	require.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	require.Equal(t, 2, cfg.LLM.MaxRetries)
	require.Equal(t, 20*time.Second, cfg.LLM.Deadline)
	require.Empty(t, cfg.LLM.APIKey)
	require.Equal(t, "always", cfg.Features["reuse"].Fallback)
	require.Equal(t, "rateLimit", cfg.Features["community"].Fallback)
	require.Zero(t, *cfg.Features["repair"].Temperature)
	require.Equal(t, "file", cfg.Accounts.Backend)
}

func TestLoadFromFileMergesFeatures(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  address: ":9090"
llm:
  model: models/gemini-2.0-flash
features:
  repair:
    fallback: always
  community:
    temperature: 0.9
cache:
  ttl: 1h
`), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTP.Address)
	require.Equal(t, "models/gemini-2.0-flash", cfg.LLM.Model)
	require.Equal(t, "always", cfg.Features["repair"].Fallback)
	require.EqualValues(t, 1200, cfg.Features["repair"].MaxOutputTokens)
	require.InDelta(t, 0.9, *cfg.Features["community"].Temperature, 1e-6)
	require.Equal(t, "rateLimit", cfg.Features["community"].Fallback)
	require.Equal(t, "never", cfg.Features["reuse_detail"].Fallback)
	require.Equal(t, time.Hour, cfg.Cache.TTL)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("GOOGLE_API_KEY", "fallback-key")
	t.Setenv("PORT", "3000")
	t.Setenv("GEMINI_MODEL", "gemini-pro")
	t.Setenv("FEATURE_REUSE_FALLBACK", "never")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "fallback-key", cfg.LLM.APIKey)
	require.Equal(t, ":3000", cfg.HTTP.Address)
	require.Equal(t, "gemini-pro", cfg.LLM.Model)
	require.Equal(t, "never", cfg.Features["reuse"].Fallback)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)

	t.Setenv("GOOGLE_GENERATIVE_AI_API_KEY", "primary-key")
	t.Setenv("HTTP_ADDRESS", "127.0.0.1:4000")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, "primary-key", cfg.LLM.APIKey)
	require.Equal(t, "127.0.0.1:4000", cfg.HTTP.Address)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	isolate(t)
	require.NoError(t, os.Unsetenv("GEMINI_BASE_URL"))
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_MODEL=from-dotenv\nGEMINI_BASE_URL=http://dotenv.local\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("GEMINI_MODEL", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.LLM.Model)
	require.Equal(t, "http://dotenv.local", cfg.LLM.BaseURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty address":     func(c *Config) { c.HTTP.Address = "" },
		"bad fallback":      func(c *Config) { c.Features["repair"] = FeatureConfig{Fallback: "sometimes"} },
		"unknown feature":   func(c *Config) { c.Features["poetry"] = FeatureConfig{Fallback: "never"} },
		"too many retries":  func(c *Config) { c.LLM.MaxRetries = 9 },
		"postgres sans dsn": func(c *Config) { c.Accounts.Backend = "postgres" },
		"unknown backend":   func(c *Config) { c.Accounts.Backend = "sqlite" },
		"zero burst":        func(c *Config) { c.HTTP.RateLimit.Burst = 0 },
	}
	for name, mutate := range cases {
		cfg := defaultConfig()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
	require.NoError(t, defaultConfig().Validate())
}

// isolate runs Load away from any real config or .env file.
func isolate(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, key := range []string{
		"CONFIG_PATH", "ENV_FILE", "PORT", "HTTP_ADDRESS", "GOOGLE_GENERATIVE_AI_API_KEY", "GOOGLE_API_KEY",
		"GEMINI_MODEL", "GEMINI_BASE_URL", "FEATURE_REUSE_FALLBACK", "CORS_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}
