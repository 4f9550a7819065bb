package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/yanqian/ecoloop/pkg/errors"
	"github.com/yanqian/ecoloop/pkg/metrics"
)

// Service runs a request through prompt, model, normalizer and fallback.
type Service interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// ModelClient calls the generative API for a prompt.
type ModelClient interface {
	Configured() bool
	Generate(ctx context.Context, spec PromptSpec) (ModelReply, error)
}

// ResultCache stores model-derived results between identical requests.
type ResultCache interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Set(ctx context.Context, key string, result Result, ttl time.Duration) error
}

type service struct {
	cfg    Config
	client ModelClient
	cache  ResultCache
	group  singleflight.Group
	logger *slog.Logger
}

// NewService wires up the generation pipeline. cache may be nil.
func NewService(cfg Config, client ModelClient, cache ResultCache, logger *slog.Logger) Service {
	return &service{
		cfg:    cfg,
		client: client,
		cache:  cache,
		logger: logger.With("component", "pipeline.service"),
	}
}

func (s *service) Generate(ctx context.Context, req Request) (Response, error) {
	if !req.Kind.Valid() {
		return Response{}, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("unknown feature %q", req.Kind), nil)
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Idea = strings.TrimSpace(req.Idea)
	fc := s.cfg.feature(req.Kind)

	if !s.client.Configured() {
		if fc.Fallback == FallbackAlways {
			s.logger.Warn("generative api key missing, serving heuristic result", "feature", req.Kind)
			return s.fallback(req, "no_credential"), nil
		}
		return Response{}, apperrors.Wrap(apperrors.CodeModelUnavailable,
			"this feature requires the generative API and no API key is configured", ErrMissingCredential)
	}

	key, cacheable := s.cacheKey(req)
	if cacheable {
		if resp, ok := s.lookup(ctx, key, req.Kind); ok {
			return resp, nil
		}
		return s.generateShared(ctx, key, req, fc)
	}

	resp, err := s.generate(ctx, req, fc)
	if err != nil {
		return s.applyPolicy(req, fc, err)
	}
	return resp, nil
}

// generateShared collapses identical in-flight requests into one upstream
// call. The call runs detached from any single caller so one client leaving
// does not fail the others; each caller still stops waiting when its own
// context ends.
func (s *service) generateShared(ctx context.Context, key string, req Request, fc FeatureConfig) (Response, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (_ any, err error) {
		// DoChan re-panics on its own goroutine, out of reach of HTTP recovery.
		defer func() {
			if r := recover(); r != nil {
				err = &StageError{Stage: StageModel, Err: fmt.Errorf("generation panicked: %v", r)}
			}
		}()
		resp, err := s.generate(detached, req, fc)
		if err == nil {
			s.store(detached, key, resp)
		}
		return resp, err
	})

	select {
	case <-ctx.Done():
		return s.applyPolicy(req, fc, &StageError{
			Stage: StageModel,
			Err:   fmt.Errorf("%w: %w", ErrNetwork, ctx.Err()),
		})
	case res := <-ch:
		if res.Err != nil {
			return s.applyPolicy(req, fc, res.Err)
		}
		if res.Shared {
			s.logger.Debug("pipeline call shared with concurrent request", "feature", req.Kind)
		}
		return res.Val.(Response), nil
	}
}

func (s *service) generate(ctx context.Context, req Request, fc FeatureConfig) (Response, error) {
	if s.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Deadline)
		defer cancel()
	}

	result, diag, reply, err := s.call(ctx, req, fc)
	if err != nil {
		return Response{}, err
	}
	usage := reply.Usage

	if req.Kind == FeatureReuse {
		usage = usage.Add(s.completeReuse(ctx, req, result, diag))
	}

	for _, field := range diag.Clamped {
		metrics.ClampedFields.WithLabelValues(string(req.Kind), field).Inc()
	}
	if diag.Touched() {
		s.logger.Debug("model reply repaired", "feature", req.Kind, "clamped", diag.Clamped, "missing", diag.Missing, "dropped", diag.Dropped)
	}
	if schema, ok := SchemaFor(req.Kind); ok {
		if err := schema.Validate(result); err != nil {
			s.logger.Warn("normalized result failed schema check", "feature", req.Kind, "error", err)
		}
	}

	return Response{
		Kind:        req.Kind,
		Result:      result,
		Provenance:  ProvenanceModel,
		Retries:     reply.RetryCount,
		Usage:       usage,
		Diagnostics: diag,
	}, nil
}

// call sends one prompt and normalizes the reply. Failures come back as
// *StageError.
func (s *service) call(ctx context.Context, req Request, fc FeatureConfig) (Result, Diagnostics, ModelReply, error) {
	feature := string(req.Kind)
	spec, err := BuildPrompt(req, fc)
	if err != nil {
		return nil, Diagnostics{}, ModelReply{}, &StageError{Stage: StageValidate, Err: err}
	}

	reply, err := s.client.Generate(ctx, spec)
	metrics.ModelLatency.WithLabelValues(feature).Observe(reply.Duration.Seconds())
	metrics.ObserveUsage(feature, reply.Usage)
	if err == nil && !reply.Succeeded {
		err = fmt.Errorf("%w: status %d", ErrUpstream, reply.HTTPStatus)
	}
	if err != nil {
		metrics.ModelCalls.WithLabelValues(feature, "error").Inc()
		return nil, Diagnostics{}, reply, &StageError{
			Stage:      StageModel,
			Retries:    reply.RetryCount,
			HTTPStatus: reply.HTTPStatus,
			Excerpt:    Excerpt(reply.RawText),
			Err:        err,
		}
	}

	result, diag, err := Normalize(reply.RawText, spec.Schema)
	if err != nil {
		metrics.ModelCalls.WithLabelValues(feature, "parse_error").Inc()
		return nil, diag, reply, &StageError{
			Stage:      StageNormalize,
			Retries:    reply.RetryCount,
			HTTPStatus: reply.HTTPStatus,
			Excerpt:    Excerpt(reply.RawText),
			Err:        err,
		}
	}
	metrics.ModelCalls.WithLabelValues(feature, "ok").Inc()
	return result, diag, reply, nil
}

// completeReuse fills reuse fields the model left out. A missing score is
// asked for once more with a focused prompt, then taken from the keyword
// profile.
func (s *service) completeReuse(ctx context.Context, req Request, result Result, diag Diagnostics) metrics.TokenUsage {
	var usage metrics.TokenUsage
	item := req.Subject
	if label, _ := result["identifiedItem"].(string); strings.TrimSpace(label) == "" {
		if item != "" {
			result["identifiedItem"] = item
		} else {
			delete(result, "identifiedItem")
		}
	} else if item == "" {
		item = label
	}

	if !diag.missing("reuseScore") {
		return usage
	}
	partial := make(map[string]any, len(result))
	for k, v := range result {
		if k != "reuseScore" {
			partial[k] = v
		}
	}
	scoreReq := Request{Kind: FeatureReuseScore, Subject: item, Context: partial}
	scored, scoreDiag, reply, err := s.call(ctx, scoreReq, s.cfg.feature(FeatureReuseScore))
	usage = reply.Usage
	if err == nil && !scoreDiag.missing("reuseScore") {
		result["reuseScore"] = scored["reuseScore"]
		return usage
	}
	if err != nil {
		s.logger.Warn("reuse score follow-up failed", "error", err)
	}
	result["reuseScore"] = DetectProfile(item).BaseScore
	return usage
}

// applyPolicy applies the feature's fallback policy to a failed run.
func (s *service) applyPolicy(req Request, fc FeatureConfig, err error) (Response, error) {
	var stageErr *StageError
	errors.As(err, &stageErr)
	attrs := []any{"feature", req.Kind, "error", err}
	if stageErr != nil {
		attrs = append(attrs, "stage", stageErr.Stage, "retries", stageErr.Retries, "status", stageErr.HTTPStatus)
	}
	s.logger.Warn("generation failed", attrs...)

	switch fc.Fallback {
	case FallbackAlways:
		return s.fallback(req, failureReason(err)), nil
	case FallbackOnRateLimit:
		if stageErr.RateLimited() {
			return s.fallback(req, "rate_limited"), nil
		}
	}
	return Response{}, surface(req.Kind, err)
}

func (s *service) fallback(req Request, reason string) Response {
	metrics.Fallbacks.WithLabelValues(string(req.Kind), reason).Inc()
	return Response{
		Kind:       req.Kind,
		Result:     Fallback(req),
		Provenance: ProvenanceHeuristic,
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrNetwork):
		return "network_error"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	}
	return "internal_error"
}

// surface maps a pipeline failure onto an application error. Community
// failures other than rate limiting are reported as internal errors.
func surface(kind FeatureKind, err error) error {
	if kind == FeatureCommunity {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to generate community opportunities", err)
	}
	switch {
	case errors.Is(err, ErrMissingCredential):
		return apperrors.Wrap(apperrors.CodeModelUnavailable, "generative API credential not configured", err)
	case errors.Is(err, ErrParse):
		return apperrors.Wrap(apperrors.CodeParse, "model reply could not be parsed", err)
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrUpstream):
		return apperrors.Wrap(apperrors.CodeUpstream, "generative API request failed", err)
	}
	return apperrors.Wrap(apperrors.CodeInternal, "generation failed", err)
}

// cacheKey identifies text-only requests. Image requests are not cached.
func (s *service) cacheKey(req Request) (string, bool) {
	if s.cache == nil || s.cfg.CacheTTL <= 0 || req.Image != nil || req.Kind == FeatureReuseScore {
		return "", false
	}
	sum := sha256.Sum256([]byte(strings.ToLower(req.Subject) + "\x00" + strings.ToLower(req.Idea)))
	return string(req.Kind) + ":" + hex.EncodeToString(sum[:]), true
}

func (s *service) lookup(ctx context.Context, key string, kind FeatureKind) (Response, bool) {
	result, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("result cache lookup failed", "feature", kind, "error", err)
		return Response{}, false
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues(string(kind), "miss").Inc()
		return Response{}, false
	}
	metrics.CacheLookups.WithLabelValues(string(kind), "hit").Inc()
	return Response{Kind: kind, Result: result, Provenance: ProvenanceModel, Cached: true}, true
}

func (s *service) store(ctx context.Context, key string, resp Response) {
	if err := s.cache.Set(ctx, key, resp.Result, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("result cache write failed", "feature", resp.Kind, "error", err)
	}
}
