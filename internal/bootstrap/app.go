package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yanqian/ecoloop/internal/infra/config"
)

const shutdownGrace = 10 * time.Second

// App encapsulates the HTTP server lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	server *http.Server
}

// NewApp is used by Wire to build the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server) *App {
	return &App{cfg: cfg, logger: logger.With("component", "bootstrap"), server: server}
}

// Run serves HTTP until ctx is cancelled or the listener fails, then drains
// in-flight requests.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("http server starting",
		"address", a.server.Addr,
		"model", a.cfg.LLM.Model,
		"model_configured", a.cfg.LLM.APIKey != "",
		"accounts", a.cfg.Accounts.Backend,
	)
	if a.cfg.LLM.APIKey == "" {
		a.logger.Warn("no generative api key configured, judgement features will answer 503")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.logger.Info("shutdown signal received")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
