package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/yanqian/ecoloop/internal/domain/pipeline"
	"github.com/yanqian/ecoloop/internal/infra/config"
	"github.com/yanqian/ecoloop/internal/infra/llm/gemini"
)

// PipelineConfig maps the loaded configuration onto pipeline settings.
func PipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	features := pipeline.DefaultFeatures()
	for name, fc := range cfg.Features {
		kind := pipeline.FeatureKind(name)
		if !kind.Valid() {
			return pipeline.Config{}, fmt.Errorf("unknown feature %q", name)
		}
		current := features[kind]
		if fc.Fallback != "" {
			mode, err := fallbackMode(fc.Fallback)
			if err != nil {
				return pipeline.Config{}, fmt.Errorf("feature %s: %w", name, err)
			}
			current.Fallback = mode
		}
		if fc.Temperature != nil {
			current.Temperature = *fc.Temperature
		}
		if fc.MaxOutputTokens > 0 {
			current.MaxOutputTokens = fc.MaxOutputTokens
		}
		features[kind] = current
	}

	out := pipeline.Config{Features: features, Deadline: cfg.LLM.Deadline}
	if cfg.Cache.Enabled {
		out.CacheTTL = cfg.Cache.TTL
	}
	return out, nil
}

func fallbackMode(v string) (pipeline.FallbackMode, error) {
	switch mode := pipeline.FallbackMode(v); mode {
	case pipeline.FallbackAlways, pipeline.FallbackNever, pipeline.FallbackOnRateLimit:
		return mode, nil
	}
	return "", fmt.Errorf("unknown fallback mode %q", v)
}

// GeminiClient builds the generative API client from configuration.
func GeminiClient(cfg *config.Config, logger *slog.Logger) *gemini.Client {
	return gemini.NewClient(gemini.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		MaxRetries:     cfg.LLM.MaxRetries,
		RetryBaseDelay: cfg.LLM.RetryBaseDelay,
		MaxRetryDelay:  cfg.LLM.MaxRetryDelay,
		RequestTimeout: cfg.LLM.RequestTimeout,
	}, logger)
}
