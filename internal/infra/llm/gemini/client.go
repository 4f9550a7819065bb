package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"google.golang.org/genai"

	"github.com/yanqian/ecoloop/internal/domain/pipeline"
	"github.com/yanqian/ecoloop/pkg/metrics"
	"github.com/yanqian/ecoloop/pkg/util"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com"
	defaultModel      = "gemini-2.5-flash"
	defaultRetryDelay = 5 * time.Second
	defaultMaxDelay   = 30 * time.Second
	defaultTimeout    = 60 * time.Second
)

// Config controls the generateContent client.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
	RequestTimeout time.Duration
}

// Client calls the Gemini generateContent REST endpoint.
type Client struct {
	cfg    Config
	http   *resty.Client
	logger *slog.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

type generateRequest struct {
	Contents         []*genai.Content        `json:"contents"`
	GenerationConfig *genai.GenerationConfig `json:"generationConfig,omitempty"`
}

// NewClient constructs a Gemini client. A client without an API key is
// valid; it reports Configured() == false.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Model = strings.TrimPrefix(strings.TrimSpace(cfg.Model), "models/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = defaultMaxDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With("component", "gemini.client"),
		wait:   util.Sleep,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// Model returns the resolved model name without the "models/" prefix.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Generate sends spec and retries 429/503 replies with backoff. Transport
// failures are returned immediately as pipeline.ErrNetwork.
func (c *Client) Generate(ctx context.Context, spec pipeline.PromptSpec) (pipeline.ModelReply, error) {
	var reply pipeline.ModelReply
	if !c.Configured() {
		return reply, pipeline.ErrMissingCredential
	}

	start := time.Now()
	body := buildRequest(spec)
	feature := string(spec.Kind)
	endpoint := "/v1beta/models/" + url.PathEscape(c.cfg.Model) + ":generateContent"

	for attempt := 1; ; attempt++ {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("key", c.cfg.APIKey).
			SetBody(body).
			Post(endpoint)
		reply.Duration = time.Since(start)
		if err != nil {
			return reply, fmt.Errorf("%w: %w", pipeline.ErrNetwork, err)
		}

		status := resp.StatusCode()
		payload := resp.Body()
		reply.HTTPStatus = status
		if resp.IsSuccess() {
			text, usage := extractReply(payload)
			reply.RawText = text
			reply.Usage = usage
			reply.Succeeded = true
			return reply, nil
		}

		reply.RawText = string(payload)
		if !retryable(status) || attempt > c.cfg.MaxRetries {
			c.logger.Warn("gemini request failed", "feature", feature, "status", status, "retries", reply.RetryCount)
			return reply, fmt.Errorf("%w: status %d", pipeline.ErrUpstream, status)
		}

		delay := c.retryDelay(payload, attempt)
		metrics.ModelRetries.WithLabelValues(feature, strconv.Itoa(status)).Inc()
		c.logger.Info("gemini busy, backing off", "feature", feature, "status", status, "attempt", attempt, "delay", delay.String())
		if err := c.wait(ctx, delay); err != nil {
			reply.Duration = time.Since(start)
			return reply, fmt.Errorf("%w: %w", pipeline.ErrNetwork, err)
		}
		reply.RetryCount++
	}
}

func buildRequest(spec pipeline.PromptSpec) generateRequest {
	parts := []*genai.Part{genai.NewPartFromText(spec.Instruction)}
	if spec.Image != nil && len(spec.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(spec.Image.Data, spec.Image.MIMEType))
	}
	cfg := &genai.GenerationConfig{
		Temperature:      genai.Ptr(spec.Temperature),
		ResponseMIMEType: "application/json",
	}
	if spec.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = spec.MaxOutputTokens
	}
	return generateRequest{
		Contents:         []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		GenerationConfig: cfg,
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

type errorEnvelope struct {
	Error struct {
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		} `json:"details"`
	} `json:"error"`
}

// retryDelay honors a RetryInfo hint (whole seconds plus one) and otherwise
// waits base × attempt. Either way the delay is capped by MaxRetryDelay.
func (c *Client) retryDelay(payload []byte, attempt int) time.Duration {
	delay := c.cfg.RetryBaseDelay * time.Duration(attempt)
	var env errorEnvelope
	if err := json.Unmarshal(payload, &env); err == nil {
		for _, d := range env.Error.Details {
			if !strings.Contains(d.Type, "RetryInfo") || d.RetryDelay == "" {
				continue
			}
			if seconds, ok := leadingInt(d.RetryDelay); ok {
				delay = time.Duration(seconds+1) * time.Second
			}
			break
		}
	}
	if delay > c.cfg.MaxRetryDelay {
		delay = c.cfg.MaxRetryDelay
	}
	return delay
}

func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	return n, err == nil
}

// extractReply pulls the model text out of the reply body. It understands
// generateContent candidates, legacy output/result strings and falls back
// to the whole payload.
func extractReply(payload []byte) (string, metrics.TokenUsage) {
	var usage metrics.TokenUsage
	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(payload, &resp); err == nil {
		if meta := resp.UsageMetadata; meta != nil {
			usage = metrics.TokenUsage{
				PromptTokens:     int(meta.PromptTokenCount),
				CompletionTokens: int(meta.CandidatesTokenCount),
				TotalTokens:      int(meta.TotalTokenCount),
			}
		}
		if text := candidateText(&resp); text != "" {
			return text, usage
		}
	}

	var loose map[string]any
	if err := json.Unmarshal(payload, &loose); err == nil {
		for _, key := range []string{"output", "result"} {
			if s, ok := loose[key].(string); ok && s != "" {
				return s, usage
			}
		}
		if cands, ok := loose["candidates"].([]any); ok && len(cands) > 0 {
			if first, ok := cands[0].(map[string]any); ok {
				if s, ok := first["output"].(string); ok && s != "" {
					return s, usage
				}
			}
		}
	}
	return string(payload), usage
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}
