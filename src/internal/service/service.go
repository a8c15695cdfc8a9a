// Package service is the single read boundary the presentation layer calls.
package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ndg/pr-dashboard/src/internal/aggregate"
	"github.com/ndg/pr-dashboard/src/internal/cache"
	"github.com/ndg/pr-dashboard/src/internal/model"
)

// DashboardResponse is the full payload of one dashboard read. It is always
// well-formed: on total failure Items and RecentlyClosed are empty and Error
// is set, and the consumer falls back to its placeholder content.
type DashboardResponse struct {
	Items          []model.ReviewItem `json:"prs"`
	RecentlyClosed []model.ReviewItem `json:"recentlyClosed"`
	Counts         model.Counts       `json:"counts"`
	MyUsername     string             `json:"myUsername,omitempty"`
	MyEmail        string             `json:"myEmail,omitempty"`
	FetchedAt      string             `json:"fetchedAt"`
	Error          string             `json:"error,omitempty"`
}

// Service orchestrates the two cache slots in front of the aggregator. The
// slots tick independently: a primary refresh does not force a recently-closed
// refresh unless that slot's own TTL has also elapsed.
type Service struct {
	agg        *aggregate.Aggregator
	primary    *cache.Slot[aggregate.OpenResult]
	closed     *cache.Slot[[]model.ReviewItem]
	myUsername string
	myEmail    string
	log        *zap.Logger
	now        func() time.Time
}

// NewService builds the read interface with its own cache slots.
func NewService(agg *aggregate.Aggregator, cacheTTL, closedTTL time.Duration, myUsername, myEmail string, log *zap.Logger) *Service {
	return &Service{
		agg:        agg,
		primary:    cache.NewSlot[aggregate.OpenResult](cacheTTL),
		closed:     cache.NewSlot[[]model.ReviewItem](closedTTL),
		myUsername: myUsername,
		myEmail:    myEmail,
		log:        log,
		now:        time.Now,
	}
}

// Dashboard returns the aggregated view, served from cache when fresh. A bust
// forces both slots to refresh synchronously. No failure escapes: the response
// shape is always valid.
func (s *Service) Dashboard(ctx context.Context, bust bool) (resp DashboardResponse) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("dashboard read panicked", zap.Any("panic", r))
			resp = DashboardResponse{
				Items:          []model.ReviewItem{},
				RecentlyClosed: []model.ReviewItem{},
				FetchedAt:      s.now().UTC().Format(time.RFC3339),
				Error:          "failed to fetch review items",
			}
		}
	}()

	resp = DashboardResponse{
		Items:          []model.ReviewItem{},
		RecentlyClosed: []model.ReviewItem{},
		MyUsername:     s.myUsername,
		MyEmail:        s.myEmail,
		FetchedAt:      s.now().UTC().Format(time.RFC3339),
	}

	open, err := s.primary.GetOrRefresh(ctx, bust, func(ctx context.Context) (aggregate.OpenResult, error) {
		return s.agg.Aggregate(ctx), nil
	})
	if err != nil {
		s.log.Error("aggregation failed", zap.Error(err))
		resp.Error = "failed to fetch review items"
		return resp
	}

	closed, err := s.closed.GetOrRefresh(ctx, bust, func(ctx context.Context) ([]model.ReviewItem, error) {
		items, errs := s.agg.RecentlyClosed(ctx)
		if len(errs) > 0 {
			s.log.Warn("recently-closed aggregation degraded",
				zap.Strings("errors", errs))
		}
		return items, nil
	})
	if err != nil {
		s.log.Error("recently-closed aggregation failed", zap.Error(err))
		closed = []model.ReviewItem{}
	}

	resp.Items = open.Items
	resp.RecentlyClosed = closed
	resp.Counts = open.Counts

	// Zero items with every provider errored is the total-failure case the
	// consumer swaps demo content in for.
	if len(open.Items) == 0 && len(open.Errors) > 0 {
		resp.Error = strings.Join(open.Errors, "; ")
	}
	return resp
}
