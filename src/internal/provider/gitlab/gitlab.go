// Package gitlab adapts GitLab group merge requests into unified review items.
package gitlab

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ndg/pr-dashboard/src/internal/model"
	"github.com/ndg/pr-dashboard/src/internal/provider"
)

const (
	listPageSize = 100
	// Upper bound on concurrent per-MR enrichment calls.
	enrichConcurrency = 10
)

// Adapter fetches merge requests for a set of GitLab groups.
type Adapter struct {
	client  *provider.Client
	baseURL string
	token   string
	groups  []string
	log     *zap.Logger
	now     func() time.Time
}

// New builds a GitLab adapter. An empty token or group list yields an adapter
// that reports itself as not configured.
func New(token, baseURL string, groups []string, timeout time.Duration, log *zap.Logger) *Adapter {
	headers := map[string]string{}
	if token != "" {
		headers["PRIVATE-TOKEN"] = token
	}
	return &Adapter{
		client:  provider.NewClient(timeout, headers),
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		groups:  groups,
		log:     log,
		now:     time.Now,
	}
}

type mergeRequest struct {
	IID          int    `json:"iid"`
	ProjectID    int    `json:"project_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	State        string `json:"state"`
	WebURL       string `json:"web_url"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	Author       *struct {
		Username  string `json:"username"`
		AvatarURL string `json:"avatar_url"`
	} `json:"author"`
	Reviewers []struct {
		Username  string `json:"username"`
		AvatarURL string `json:"avatar_url"`
	} `json:"reviewers"`
	References *struct {
		Full string `json:"full"`
	} `json:"references"`
}

type approvalState struct {
	Approved bool `json:"approved"`
}

type reviewerState struct {
	State string `json:"state"`
	User  struct {
		Username  string `json:"username"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user"`
}

// Platform implements provider.Provider.
func (a *Adapter) Platform() model.Platform { return model.PlatformGitLab }

func (a *Adapter) configured() bool {
	return a.token != "" && len(a.groups) > 0
}

// ListOpen returns all open merge requests across the configured groups, with
// unified status derived from approvals and per-reviewer state. One group's
// failure does not suppress the others.
func (a *Adapter) ListOpen(ctx context.Context) provider.Result {
	if !a.configured() {
		return provider.NotConfigured()
	}

	var items []model.ReviewItem
	failed := 0
	for _, group := range a.groups {
		mrs, err := a.listGroupMRs(ctx, group, "opened", "")
		if err != nil {
			a.log.Warn("gitlab group listing failed",
				zap.String("group", group), zap.Error(err))
			failed++
			continue
		}
		items = append(items, a.enrichAll(ctx, mrs)...)
	}

	if failed == len(a.groups) {
		return provider.Failed("all gitlab groups failed")
	}
	return provider.Succeeded(items)
}

// ListRecentlyClosed returns merged and declined merge requests updated within
// the recent window, capped per group to the most recently updated.
func (a *Adapter) ListRecentlyClosed(ctx context.Context) provider.Result {
	if !a.configured() {
		return provider.NotConfigured()
	}

	updatedAfter := a.now().Add(-provider.RecentWindow).UTC().Format(time.RFC3339)

	var items []model.ReviewItem
	failed := 0
	for _, group := range a.groups {
		var closed []model.ReviewItem
		groupFailed := true
		for state, status := range map[string]model.Status{
			"merged": model.StatusMerged,
			"closed": model.StatusDeclined,
		} {
			mrs, err := a.listGroupMRs(ctx, group, state, updatedAfter)
			if err != nil {
				a.log.Warn("gitlab closed listing failed",
					zap.String("group", group), zap.String("state", state), zap.Error(err))
				continue
			}
			groupFailed = false
			for _, mr := range mrs {
				item, ok := a.buildItem(mr)
				if !ok {
					continue
				}
				item.Status = status
				closed = append(closed, item)
			}
		}
		if groupFailed {
			failed++
			continue
		}
		sort.SliceStable(closed, func(i, j int) bool {
			return closed[i].UpdatedAt > closed[j].UpdatedAt
		})
		if len(closed) > provider.MaxRecentSources {
			closed = closed[:provider.MaxRecentSources]
		}
		items = append(items, closed...)
	}

	if failed == len(a.groups) {
		return provider.Failed("all gitlab groups failed")
	}
	return provider.Succeeded(items)
}

// listGroupMRs pages through a group's merge-request listing. GitLab signals
// the next page via the X-Next-Page header.
func (a *Adapter) listGroupMRs(ctx context.Context, group, state, updatedAfter string) ([]mergeRequest, error) {
	var all []mergeRequest
	page := "1"
	for page != "" {
		q := url.Values{}
		q.Set("state", state)
		q.Set("per_page", fmt.Sprint(listPageSize))
		q.Set("page", page)
		if updatedAfter != "" {
			q.Set("updated_after", updatedAfter)
			q.Set("order_by", "updated_at")
			q.Set("sort", "desc")
		}
		u := fmt.Sprintf("%s/api/v4/groups/%s/merge_requests?%s",
			a.baseURL, url.PathEscape(group), q.Encode())

		var mrs []mergeRequest
		next, err := a.client.GetJSONHeader(ctx, u, "X-Next-Page", &mrs)
		if err != nil {
			return nil, err
		}
		all = append(all, mrs...)
		page = next
	}
	return all, nil
}

// enrichAll resolves approval and reviewer state for every MR concurrently.
// Both sub-calls for an MR are joined before its item is emitted; a failed
// sub-call degrades that one item to its best-available signal.
func (a *Adapter) enrichAll(ctx context.Context, mrs []mergeRequest) []model.ReviewItem {
	items := make([]model.ReviewItem, 0, len(mrs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for _, mr := range mrs {
		mr := mr
		g.Go(func() error {
			item, ok := a.buildItem(mr)
			if !ok {
				return nil
			}
			a.enrich(ctx, mr, &item)
			mu.Lock()
			items = append(items, item)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func (a *Adapter) enrich(ctx context.Context, mr mergeRequest, item *model.ReviewItem) {
	var (
		approval  approvalState
		reviewers []reviewerState
		wg        sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		u := fmt.Sprintf("%s/api/v4/projects/%d/merge_requests/%d/approvals",
			a.baseURL, mr.ProjectID, mr.IID)
		if err := a.client.GetJSON(ctx, u, &approval); err != nil {
			// Missing approval data just means not approved.
			a.log.Debug("gitlab approvals fetch failed",
				zap.String("id", item.ID), zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		u := fmt.Sprintf("%s/api/v4/projects/%d/merge_requests/%d/reviewers",
			a.baseURL, mr.ProjectID, mr.IID)
		if err := a.client.GetJSON(ctx, u, &reviewers); err != nil {
			a.log.Debug("gitlab reviewers fetch failed",
				zap.String("id", item.ID), zap.Error(err))
		}
	}()
	wg.Wait()

	states := make([]model.ReviewerStatus, 0, len(reviewers))
	details := make([]model.ReviewerDetail, 0, len(reviewers))
	for _, r := range reviewers {
		s := normalizeReviewerState(r.State)
		states = append(states, s)
		details = append(details, model.ReviewerDetail{
			Name:   r.User.Username,
			Avatar: r.User.AvatarURL,
			Status: s,
		})
	}
	item.Status = model.DeriveStatus(approval.Approved, states)
	if len(details) > 0 {
		item.ReviewerDetails = details
	}
}

// buildItem maps one listing record to the unified schema. Records missing
// identity fields are skipped rather than propagated half-formed.
func (a *Adapter) buildItem(mr mergeRequest) (model.ReviewItem, bool) {
	if mr.IID == 0 || mr.ProjectID == 0 || mr.CreatedAt == "" {
		a.log.Warn("skipping malformed gitlab merge request",
			zap.Int("iid", mr.IID), zap.Int("project_id", mr.ProjectID))
		return model.ReviewItem{}, false
	}

	author := "unknown"
	avatar := ""
	if mr.Author != nil {
		if mr.Author.Username != "" {
			author = mr.Author.Username
		}
		avatar = mr.Author.AvatarURL
	}

	repo := fmt.Sprintf("project/%d", mr.ProjectID)
	if mr.References != nil && mr.References.Full != "" {
		repo = mr.References.Full
		// references.full carries the MR marker, e.g. "group/repo!42".
		if i := strings.Index(repo, "!"); i >= 0 {
			repo = repo[:i]
		}
	}

	reviewers := make([]string, 0, len(mr.Reviewers))
	for _, r := range mr.Reviewers {
		reviewers = append(reviewers, r.Username)
	}

	return model.ReviewItem{
		ID:           fmt.Sprintf("gitlab-%d-%d", mr.ProjectID, mr.IID),
		Title:        mr.Title,
		Description:  mr.Description,
		Author:       author,
		AuthorAvatar: avatar,
		URL:          mr.WebURL,
		Platform:     model.PlatformGitLab,
		Repo:         repo,
		Status:       model.StatusOpen,
		Reviewers:    reviewers,
		CreatedAt:    mr.CreatedAt,
		UpdatedAt:    mr.UpdatedAt,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
	}, true
}

func normalizeReviewerState(state string) model.ReviewerStatus {
	switch state {
	case "approved":
		return model.ReviewerApproved
	case "requested_changes":
		return model.ReviewerChangesRequested
	case "reviewed":
		return model.ReviewerCommented
	default: // "unreviewed", "unapproved", future states
		return model.ReviewerPending
	}
}
