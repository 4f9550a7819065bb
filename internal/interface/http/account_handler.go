package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/ecoloop/internal/domain/account"
)

// AccountHandler exposes the demo register, login and points endpoints.
type AccountHandler struct {
	svc    account.Service
	logger *slog.Logger
}

// NewAccountHandler constructs the account HTTP handler.
func NewAccountHandler(svc account.Service, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logger.With("component", "http.account")}
}

// Register creates a new account.
func (h *AccountHandler) Register(c *gin.Context) {
	var req account.Credentials
	if !bindJSON(c, &req) {
		return
	}
	view, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusCreated, view)
}

// Login checks credentials and returns the account view.
func (h *AccountHandler) Login(c *gin.Context) {
	var req account.Credentials
	if !bindJSON(c, &req) {
		return
	}
	view, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusOK, view)
}

// AddPoints awards reuse or repair points.
func (h *AccountHandler) AddPoints(c *gin.Context) {
	var req account.PointsRequest
	if !bindJSON(c, &req) {
		return
	}
	view, err := h.svc.AddPoints(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	h.logger.Info("points awarded", "username", view.Username, "type", req.Type)
	c.JSON(http.StatusOK, view)
}
