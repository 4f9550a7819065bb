package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/ecoloop/internal/domain/pipeline"
	"github.com/yanqian/ecoloop/internal/infra/config"
)

func TestPipelineConfigOverrides(t *testing.T) {
	temp := float32(0.5)
	cfg := &config.Config{
		LLM: config.LLMConfig{Deadline: 15 * time.Second},
		Features: map[string]config.FeatureConfig{
			"repair":    {Fallback: "always", Temperature: &temp},
			"community": {MaxOutputTokens: 999},
		},
		Cache: config.CacheConfig{Enabled: true, TTL: time.Hour},
	}

	out, err := PipelineConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, out.Deadline)
	require.Equal(t, time.Hour, out.CacheTTL)

	repair := out.Features[pipeline.FeatureRepair]
	require.Equal(t, pipeline.FallbackAlways, repair.Fallback)
	require.Equal(t, float32(0.5), repair.Temperature)
	require.Equal(t, int32(1200), repair.MaxOutputTokens)

	community := out.Features[pipeline.FeatureCommunity]
	require.Equal(t, pipeline.FallbackOnRateLimit, community.Fallback)
	require.Equal(t, int32(999), community.MaxOutputTokens)

	require.Equal(t, pipeline.DefaultFeatures()[pipeline.FeatureReuse], out.Features[pipeline.FeatureReuse])
}

func TestPipelineConfigCacheDisabled(t *testing.T) {
	out, err := PipelineConfig(&config.Config{Cache: config.CacheConfig{Enabled: false, TTL: time.Hour}})
	require.NoError(t, err)
	require.Zero(t, out.CacheTTL)
}

func TestPipelineConfigRejectsUnknown(t *testing.T) {
	_, err := PipelineConfig(&config.Config{Features: map[string]config.FeatureConfig{"weather": {}}})
	require.Error(t, err)

	_, err = PipelineConfig(&config.Config{Features: map[string]config.FeatureConfig{"repair": {Fallback: "sometimes"}}})
	require.Error(t, err)
}
