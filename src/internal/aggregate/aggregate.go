// Package aggregate merges provider listings into the dashboard's canonical
// view.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ndg/pr-dashboard/src/internal/blocklist"
	"github.com/ndg/pr-dashboard/src/internal/model"
	"github.com/ndg/pr-dashboard/src/internal/provider"
)

// The recently-closed listing keeps this many items across all sources.
const maxRecentlyClosed = 10

// OpenResult is one full aggregation pass over open items.
type OpenResult struct {
	Items  []model.ReviewItem
	Counts model.Counts
	// Errors holds one entry per provider whose listing failed outright.
	Errors []string
}

// Aggregator fans out to all registered providers and merges their output.
type Aggregator struct {
	providers []provider.Provider
	log       *zap.Logger
	now       func() time.Time
}

// New builds an aggregator over the given providers.
func New(providers []provider.Provider, log *zap.Logger) *Aggregator {
	return &Aggregator{providers: providers, log: log, now: time.Now}
}

// Aggregate lists open items from every provider concurrently, drops
// block-listed repos, computes age, and sorts oldest-first by age. A provider
// that fails or panics contributes nothing; the pass always completes.
func (a *Aggregator) Aggregate(ctx context.Context) OpenResult {
	results := a.fanOut(func(p provider.Provider) provider.Result {
		return p.ListOpen(ctx)
	})

	var out OpenResult
	for i, p := range a.providers {
		res := results[i]
		if !res.OK {
			a.log.Warn("provider listing failed",
				zap.String("platform", string(p.Platform())),
				zap.String("reason", res.Reason))
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", p.Platform(), res.Reason))
			continue
		}
		kept := dropBlocked(res.Items)
		switch p.Platform() {
		case model.PlatformGitLab:
			out.Counts.GitLab = len(kept)
		case model.PlatformBitbucket:
			out.Counts.Bitbucket = len(kept)
		}
		out.Items = append(out.Items, kept...)
	}

	now := a.now()
	for i := range out.Items {
		age := ageDays(now, out.Items[i].CreatedAt)
		out.Items[i].AgeDays = &age
	}
	sort.SliceStable(out.Items, func(i, j int) bool {
		return *out.Items[i].AgeDays > *out.Items[j].AgeDays
	})

	out.Counts.Total = len(out.Items)
	if out.Items == nil {
		out.Items = []model.ReviewItem{}
	}
	return out
}

// RecentlyClosed merges the providers' recently-closed listings, most recently
// updated first, truncated to the combined cap.
func (a *Aggregator) RecentlyClosed(ctx context.Context) ([]model.ReviewItem, []string) {
	results := a.fanOut(func(p provider.Provider) provider.Result {
		return p.ListRecentlyClosed(ctx)
	})

	var items []model.ReviewItem
	var errs []string
	for i, p := range a.providers {
		res := results[i]
		if !res.OK {
			a.log.Warn("provider closed listing failed",
				zap.String("platform", string(p.Platform())),
				zap.String("reason", res.Reason))
			errs = append(errs, fmt.Sprintf("%s: %s", p.Platform(), res.Reason))
			continue
		}
		items = append(items, dropBlocked(res.Items)...)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return parseTime(items[i].UpdatedAt).After(parseTime(items[j].UpdatedAt))
	})
	if len(items) > maxRecentlyClosed {
		items = items[:maxRecentlyClosed]
	}
	if items == nil {
		items = []model.ReviewItem{}
	}
	return items, errs
}

// fanOut invokes list on every provider concurrently and joins. A panicking
// provider is converted into a failed result so siblings are never lost.
func (a *Aggregator) fanOut(list func(provider.Provider) provider.Result) []provider.Result {
	results := make([]provider.Result, len(a.providers))
	done := make(chan struct{})
	for i, p := range a.providers {
		i, p := i, p
		go func() {
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("provider panicked",
						zap.String("platform", string(p.Platform())),
						zap.Any("panic", r))
					results[i] = provider.Failed(fmt.Sprintf("panic: %v", r))
				}
				done <- struct{}{}
			}()
			results[i] = list(p)
		}()
	}
	for range a.providers {
		<-done
	}
	return results
}

func dropBlocked(items []model.ReviewItem) []model.ReviewItem {
	kept := items[:0:0]
	for _, it := range items {
		if blocklist.IsBlocked(it.Repo) {
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

// ageDays is whole days since creation, clamped to zero. Unparseable
// timestamps age as zero rather than poisoning the sort.
func ageDays(now time.Time, createdAt string) int {
	created := parseTime(createdAt)
	if created.IsZero() {
		return 0
	}
	d := int(now.Sub(created).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
