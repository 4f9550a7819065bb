package http

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yanqian/ecoloop/internal/infra/config"
	apperrors "github.com/yanqian/ecoloop/pkg/errors"
)

const bodySlack = 1 << 20

// NewRouter wires up the HTTP handlers and returns a configured server.
func NewRouter(cfg *config.Config, handler *Handler, accounts *AccountHandler, logger *slog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	logger = logger.With("component", "http.router")

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(
		requestIDMiddleware(),
		recoveryMiddleware(logger),
		requestLogger(logger),
		corsMiddleware(cfg.HTTP.CORSOrigins),
		errorHandlingMiddleware(logger),
	)

	router.GET("/healthz", handler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api",
		rateLimitMiddleware(cfg.HTTP.RateLimit, logger),
		bodyLimitMiddleware(int64(cfg.HTTP.MaxImageBytes)+bodySlack),
	)
	{
		api.POST("/reuse", reuseRecovery(logger), handler.Reuse)
		api.POST("/reuse/detail", handler.ReuseDetail)
		api.POST("/repair", handler.Repair)
		api.POST("/community", handler.Community)
		api.POST("/auth/register", accounts.Register)
		api.POST("/auth/login", accounts.Login)
		api.POST("/points", accounts.AddPoints)
	}

	router.NoMethod(func(c *gin.Context) {
		abortWithError(c, NewHTTPError(http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil))
	})
	router.NoRoute(staticHandler(cfg.HTTP.StaticDir))

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        router,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

// staticHandler serves the front end from dir, with index.html for "/".
func staticHandler(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if dir == "" || strings.HasPrefix(c.Request.URL.Path, "/api/") ||
			(method != http.MethodGet && method != http.MethodHead) {
			abortWithError(c, NewHTTPError(http.StatusNotFound, apperrors.CodeNotFound, "not found", nil))
			return
		}
		name := path.Clean("/" + c.Request.URL.Path)
		if name == "/" {
			name = "/index.html"
		}
		file := filepath.Join(dir, filepath.FromSlash(name))
		info, err := os.Stat(file)
		if err == nil && info.IsDir() {
			file = filepath.Join(file, "index.html")
			info, err = os.Stat(file)
		}
		if err != nil || info.IsDir() {
			abortWithError(c, NewHTTPError(http.StatusNotFound, apperrors.CodeNotFound, "not found", nil))
			return
		}
		c.File(file)
	}
}
