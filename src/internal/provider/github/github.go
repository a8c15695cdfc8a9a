// Package github is a placeholder adapter. The dashboard currently aggregates
// GitLab and Bitbucket only; this satisfies the provider contract so GitHub
// can be wired in later without touching the unified schema.
package github

import (
	"context"

	"go.uber.org/zap"

	"github.com/ndg/pr-dashboard/src/internal/model"
	"github.com/ndg/pr-dashboard/src/internal/provider"
)

// Adapter is a stub. It is never registered with the aggregator.
type Adapter struct {
	log *zap.Logger
}

// New builds the stub adapter.
func New(log *zap.Logger) *Adapter {
	return &Adapter{log: log}
}

// Platform implements provider.Provider.
func (a *Adapter) Platform() model.Platform { return model.PlatformGitHub }

// ListOpen reports the adapter as disabled.
func (a *Adapter) ListOpen(_ context.Context) provider.Result {
	return provider.Result{OK: true, Reason: "github provider not enabled"}
}

// ListRecentlyClosed reports the adapter as disabled.
func (a *Adapter) ListRecentlyClosed(_ context.Context) provider.Result {
	return provider.Result{OK: true, Reason: "github provider not enabled"}
}
