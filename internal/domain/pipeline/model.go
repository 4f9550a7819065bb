package pipeline

import (
	"time"

	"github.com/yanqian/ecoloop/pkg/metrics"
)

// FeatureKind selects the prompt, schema and fallback policy of a request.
type FeatureKind string

const (
	FeatureReuse       FeatureKind = "reuse"
	FeatureReuseDetail FeatureKind = "reuse_detail"
	FeatureRepair      FeatureKind = "repair"
	FeatureCommunity   FeatureKind = "community"
	// FeatureReuseScore is the focused follow-up used when a reuse reply
	// lacks a score. It is never routed to directly.
	FeatureReuseScore FeatureKind = "reuse_score"
)

// Valid reports whether k is a known feature.
func (k FeatureKind) Valid() bool {
	switch k {
	case FeatureReuse, FeatureReuseDetail, FeatureRepair, FeatureCommunity, FeatureReuseScore:
		return true
	}
	return false
}

// FallbackMode is the per-feature decision on fabricating output.
type FallbackMode string

const (
	// FallbackAlways substitutes heuristic output for any failure.
	FallbackAlways FallbackMode = "always"
	// FallbackNever surfaces every failure to the caller.
	FallbackNever FallbackMode = "never"
	// FallbackOnRateLimit substitutes heuristic output only when the
	// upstream answered 429 after retries.
	FallbackOnRateLimit FallbackMode = "rateLimit"
)

// Provenance tells callers where a result came from.
type Provenance string

const (
	ProvenanceModel     Provenance = "model"
	ProvenanceHeuristic Provenance = "heuristic"
)

// Image is an inline image attached to a reuse request.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is one incoming generation call.
type Request struct {
	Kind    FeatureKind
	Subject string
	// Idea is only used by FeatureReuseDetail.
	Idea  string
	Image *Image
	// Context carries a partial result for FeatureReuseScore.
	Context map[string]any
}

// PromptSpec is the ready-to-send instruction plus generation settings.
type PromptSpec struct {
	Kind            FeatureKind
	Instruction     string
	Schema          Schema
	Temperature     float32
	MaxOutputTokens int32
	Image           *Image
}

// ModelReply is what the Model Client hands back.
type ModelReply struct {
	RawText    string
	Succeeded  bool
	HTTPStatus int
	RetryCount int
	Usage      metrics.TokenUsage
	Duration   time.Duration
}

// Result is a normalized feature payload keyed by field name.
type Result map[string]any

// Diagnostics notes what the normalizer had to repair.
type Diagnostics struct {
	Clamped []string `json:"clamped,omitempty"`
	Missing []string `json:"missing,omitempty"`
	Dropped int      `json:"dropped,omitempty"`
}

// Touched reports whether any repair happened.
func (d Diagnostics) Touched() bool {
	return len(d.Clamped) > 0 || len(d.Missing) > 0 || d.Dropped > 0
}

func (d Diagnostics) missing(field string) bool {
	for _, m := range d.Missing {
		if m == field {
			return true
		}
	}
	return false
}

// Response is the orchestrated outcome of Generate.
type Response struct {
	Kind        FeatureKind
	Result      Result
	Provenance  Provenance
	Retries     int
	Cached      bool
	Usage       metrics.TokenUsage
	Diagnostics Diagnostics
}

// FeatureConfig tunes a single feature.
type FeatureConfig struct {
	Fallback        FallbackMode
	Temperature     float32
	MaxOutputTokens int32
}

// Config wires runtime settings for the pipeline service.
type Config struct {
	Features map[FeatureKind]FeatureConfig
	Deadline time.Duration
	CacheTTL time.Duration
}

// DefaultFeatures mirrors the behavior each endpoint shipped with.
func DefaultFeatures() map[FeatureKind]FeatureConfig {
	return map[FeatureKind]FeatureConfig{
		FeatureReuse:       {Fallback: FallbackAlways, Temperature: 0.2, MaxOutputTokens: 1200},
		FeatureReuseDetail: {Fallback: FallbackNever, Temperature: 0.1, MaxOutputTokens: 1400},
		FeatureRepair:      {Fallback: FallbackNever, Temperature: 0.0, MaxOutputTokens: 1200},
		FeatureCommunity:   {Fallback: FallbackOnRateLimit, Temperature: 0.7, MaxOutputTokens: 2048},
		FeatureReuseScore:  {Fallback: FallbackNever, Temperature: 0.0, MaxOutputTokens: 256},
	}
}

func (c Config) feature(kind FeatureKind) FeatureConfig {
	if fc, ok := c.Features[kind]; ok {
		return fc
	}
	return DefaultFeatures()[kind]
}
