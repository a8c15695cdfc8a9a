package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ndg/pr-dashboard/src/internal/aggregate"
	"github.com/ndg/pr-dashboard/src/internal/api"
	"github.com/ndg/pr-dashboard/src/internal/config"
	"github.com/ndg/pr-dashboard/src/internal/provider"
	"github.com/ndg/pr-dashboard/src/internal/provider/bitbucket"
	"github.com/ndg/pr-dashboard/src/internal/provider/gitlab"
	"github.com/ndg/pr-dashboard/src/internal/service"
)

const bitbucketBaseURL = "https://api.bitbucket.org"

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	cfg, err := config.NewConfig()
	if err != nil {
		sugar.Fatalf("failed to load config: %v", err)
	}

	if !cfg.GitLab.Enabled() {
		sugar.Warn("gitlab adapter not configured; it will contribute no items")
	}
	if !cfg.Bitbucket.Enabled() {
		sugar.Warn("bitbucket adapter not configured; it will contribute no items")
	}

	providers := []provider.Provider{
		gitlab.New(cfg.GitLab.Token, cfg.GitLab.BaseURL, cfg.GitLab.Groups(), cfg.HTTPTimeout, logger),
		bitbucket.New(cfg.Bitbucket.Username, cfg.Bitbucket.AppPassword, bitbucketBaseURL,
			cfg.Bitbucket.WorkspaceList(), cfg.HTTPTimeout, logger),
	}

	agg := aggregate.New(providers, logger)
	svc := service.NewService(agg, cfg.CacheTTL, cfg.ClosedCacheTTL, cfg.MyUsername, cfg.MyEmail, logger)
	h := api.NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(api.RequestIDMiddleware, api.LoggerMiddleware(logger), api.Recoverer(logger))
	api.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	sugar.Infof("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		sugar.Fatalf("server forced to shutdown: %v", err)
	}
	sugar.Info("server stopped")
}
