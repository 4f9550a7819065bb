package http

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/ecoloop/internal/domain/pipeline"
	"github.com/yanqian/ecoloop/internal/infra/config"
	apperrors "github.com/yanqian/ecoloop/pkg/errors"
	"github.com/yanqian/ecoloop/pkg/metrics"
)

const reuseItemKey = "reuse.item"

var dataURLPattern = regexp.MustCompile(`(?s)^data:([^;,]+);base64,(.+)$`)

// Handler wires the generation endpoints to the pipeline service.
type Handler struct {
	svc           pipeline.Service
	maxImageBytes int
	modelReady    bool
	logger        *slog.Logger
}

// NewHandler constructs the feature HTTP handler.
func NewHandler(svc pipeline.Service, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		svc:           svc,
		maxImageBytes: cfg.HTTP.MaxImageBytes,
		modelReady:    cfg.LLM.APIKey != "",
		logger:        logger.With("component", "http.handler"),
	}
}

type reuseRequest struct {
	Item  string `json:"item"`
	Image string `json:"image"`
}

type reuseDetailRequest struct {
	Item string `json:"item"`
	Idea string `json:"idea"`
}

type repairRequest struct {
	Description string `json:"description"`
}

type communityRequest struct {
	Location string `json:"location"`
}

// Reuse returns reuse ideas, a score and impact estimates for an item or photo.
func (h *Handler) Reuse(c *gin.Context) {
	var req reuseRequest
	if !bindJSON(c, &req) {
		return
	}
	item := strings.TrimSpace(req.Item)
	c.Set(reuseItemKey, item)

	image, httpErr := h.decodeImage(req.Image)
	if httpErr != nil {
		abortWithError(c, httpErr)
		return
	}
	if item == "" && image == nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeInvalidInput, "item or image is required", nil))
		return
	}

	h.generate(c, pipeline.Request{Kind: pipeline.FeatureReuse, Subject: item, Image: image})
}

// ReuseDetail expands one reuse idea into a tutorial.
func (h *Handler) ReuseDetail(c *gin.Context) {
	var req reuseDetailRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Item) == "" || strings.TrimSpace(req.Idea) == "" {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeInvalidInput, "item and idea are required", nil))
		return
	}
	h.generate(c, pipeline.Request{Kind: pipeline.FeatureReuseDetail, Subject: req.Item, Idea: req.Idea})
}

// Repair diagnoses a problem description and returns repair guidance.
func (h *Handler) Repair(c *gin.Context) {
	var req repairRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeInvalidInput, "description is required", nil))
		return
	}
	h.generate(c, pipeline.Request{Kind: pipeline.FeatureRepair, Subject: req.Description})
}

// Community lists volunteering opportunities near a location.
func (h *Handler) Community(c *gin.Context) {
	var req communityRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Location) == "" {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeInvalidInput, "location is required", nil))
		return
	}
	h.generate(c, pipeline.Request{Kind: pipeline.FeatureCommunity, Subject: req.Location})
}

// Health reports liveness and whether a model credential is loaded.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": h.modelReady})
}

func (h *Handler) generate(c *gin.Context, req pipeline.Request) {
	resp, err := h.svc.Generate(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	if resp.Cached {
		c.Header("X-Cache", "hit")
	}
	c.JSON(http.StatusOK, renderResult(resp.Result, resp.Provenance))
}

// decodeImage parses an optional base64 data URL.
func (h *Handler) decodeImage(raw string) (*pipeline.Image, *HTTPError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if h.maxImageBytes > 0 && len(raw) > h.maxImageBytes {
		return nil, NewHTTPError(http.StatusRequestEntityTooLarge, apperrors.CodePayloadTooLarge, "image is too large", nil)
	}
	m := dataURLPattern.FindStringSubmatch(raw)
	if m == nil || !strings.HasPrefix(strings.ToLower(m[1]), "image/") {
		return nil, NewHTTPError(http.StatusBadRequest, apperrors.CodeInvalidInput, "image must be a base64 image data URL", nil)
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return nil, NewHTTPError(http.StatusBadRequest, apperrors.CodeInvalidInput, "image is not valid base64", err)
	}
	return &pipeline.Image{MIMEType: m[1], Data: data}, nil
}

// reuseRecovery serves heuristic reuse data instead of a 500 when the
// handler panics.
func reuseRecovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			item := c.GetString(reuseItemKey)
			logger.Error("reuse handler panicked, serving heuristic result", "item", item, "panic", recovered)
			metrics.Fallbacks.WithLabelValues(string(pipeline.FeatureReuse), "panic").Inc()
			result := pipeline.Fallback(pipeline.Request{Kind: pipeline.FeatureReuse, Subject: item})
			c.AbortWithStatusJSON(http.StatusOK, renderResult(result, pipeline.ProvenanceHeuristic))
		}()
		c.Next()
	}
}

func renderResult(result pipeline.Result, provenance pipeline.Provenance) gin.H {
	body := make(gin.H, len(result)+1)
	for k, v := range result {
		body[k] = v
	}
	body["provenance"] = provenance
	return body
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if isBodyTooLarge(err) {
			abortWithError(c, NewHTTPError(http.StatusRequestEntityTooLarge, apperrors.CodePayloadTooLarge, "request body is too large", err))
			return false
		}
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeInvalidInput, errMessage(err), err))
		return false
	}
	return true
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	if strings.Contains(err.Error(), "EOF") {
		return "request body must be a JSON object"
	}
	return "invalid request body: " + err.Error()
}
