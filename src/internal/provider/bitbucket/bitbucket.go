// Package bitbucket adapts Bitbucket Cloud pull requests into unified review
// items.
package bitbucket

import (
	"context"
	"encoding/base64"
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
	repoPageSize = 100
	prPageSize   = 50
	// Repos within a workspace are queried in batches of this many concurrent
	// requests to keep the outstanding connection count bounded.
	repoBatchSize = 5
)

// The provider has used both spellings for the same reviewer state over its
// API lifetime; they are synonyms.
var changesRequestedStates = map[string]bool{
	"changes_requested": true,
	"changes-requested": true,
}

// Adapter fetches pull requests for a set of Bitbucket workspaces.
type Adapter struct {
	client     *provider.Client
	baseURL    string
	workspaces []string
	configured bool
	log        *zap.Logger
	now        func() time.Time
}

// New builds a Bitbucket adapter authenticated with an app password.
func New(username, appPassword, baseURL string, workspaces []string, timeout time.Duration, log *zap.Logger) *Adapter {
	headers := map[string]string{}
	configured := username != "" && appPassword != "" && len(workspaces) > 0
	if configured {
		auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + appPassword))
		headers["Authorization"] = "Basic " + auth
	}
	return &Adapter{
		client:     provider.NewClient(timeout, headers),
		baseURL:    strings.TrimRight(baseURL, "/"),
		workspaces: workspaces,
		configured: configured,
		log:        log,
		now:        time.Now,
	}
}

type repoPage struct {
	Values []repository `json:"values"`
	Next   string       `json:"next"`
}

type repository struct {
	Slug      string `json:"slug"`
	UpdatedOn string `json:"updated_on"`
}

type prPage struct {
	Values []pullRequest `json:"values"`
	Next   string        `json:"next"`
}

type pullRequest struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	CreatedOn   string `json:"created_on"`
	UpdatedOn   string `json:"updated_on"`
	Author      *struct {
		DisplayName string `json:"display_name"`
		Nickname    string `json:"nickname"`
		Links       links  `json:"links"`
	} `json:"author"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
	Source       endpoint      `json:"source"`
	Destination  endpoint      `json:"destination"`
	Participants []participant `json:"participants"`
}

type endpoint struct {
	Branch struct {
		Name string `json:"name"`
	} `json:"branch"`
}

type links struct {
	Avatar struct {
		Href string `json:"href"`
	} `json:"avatar"`
}

type participant struct {
	Role     string `json:"role"`
	Approved bool   `json:"approved"`
	State    string `json:"state"`
	User     *struct {
		DisplayName string `json:"display_name"`
		Links       links  `json:"links"`
	} `json:"user"`
}

// Platform implements provider.Provider.
func (a *Adapter) Platform() model.Platform { return model.PlatformBitbucket }

// ListOpen returns all open pull requests across the configured workspaces.
// Repos are listed in concurrent batches; each repo's failure is isolated.
func (a *Adapter) ListOpen(ctx context.Context) provider.Result {
	if !a.configured {
		return provider.NotConfigured()
	}

	var items []model.ReviewItem
	failed := 0
	for _, ws := range a.workspaces {
		repos, err := a.listRepos(ctx, ws, "")
		if err != nil {
			a.log.Warn("bitbucket repo listing failed",
				zap.String("workspace", ws), zap.Error(err))
			failed++
			continue
		}
		items = append(items, a.listWorkspacePRs(ctx, ws, repos, []string{"OPEN"}, time.Time{})...)
	}

	if failed == len(a.workspaces) {
		return provider.Failed("all bitbucket workspaces failed")
	}
	return provider.Succeeded(items)
}

// ListRecentlyClosed returns merged and declined pull requests updated within
// the recent window, consulting only the most recently updated repos.
func (a *Adapter) ListRecentlyClosed(ctx context.Context) provider.Result {
	if !a.configured {
		return provider.NotConfigured()
	}

	cutoff := a.now().Add(-provider.RecentWindow)

	var items []model.ReviewItem
	failed := 0
	for _, ws := range a.workspaces {
		repos, err := a.listRepos(ctx, ws, "-updated_on")
		if err != nil {
			a.log.Warn("bitbucket repo listing failed",
				zap.String("workspace", ws), zap.Error(err))
			failed++
			continue
		}
		if len(repos) > provider.MaxRecentSources {
			repos = repos[:provider.MaxRecentSources]
		}
		closed := a.listWorkspacePRs(ctx, ws, repos, []string{"MERGED", "DECLINED"}, cutoff)
		sort.SliceStable(closed, func(i, j int) bool {
			return closed[i].UpdatedAt > closed[j].UpdatedAt
		})
		items = append(items, closed...)
	}

	if failed == len(a.workspaces) {
		return provider.Failed("all bitbucket workspaces failed")
	}
	return provider.Succeeded(items)
}

// listRepos pages through a workspace's repositories.
func (a *Adapter) listRepos(ctx context.Context, workspace, sortBy string) ([]repository, error) {
	q := url.Values{}
	q.Set("pagelen", fmt.Sprint(repoPageSize))
	if sortBy != "" {
		q.Set("sort", sortBy)
	}
	next := fmt.Sprintf("%s/2.0/repositories/%s?%s", a.baseURL, url.PathEscape(workspace), q.Encode())

	var repos []repository
	for next != "" {
		var page repoPage
		if err := a.client.GetJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		repos = append(repos, page.Values...)
		next = page.Next
	}
	return repos, nil
}

// listWorkspacePRs lists PRs of the given state for each repo, batched so at
// most repoBatchSize requests are in flight. A failing repo contributes zero
// items and does not abort its batch.
func (a *Adapter) listWorkspacePRs(ctx context.Context, workspace string, repos []repository, states []string, updatedAfter time.Time) []model.ReviewItem {
	var (
		items []model.ReviewItem
		mu    sync.Mutex
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(repoBatchSize)
	for _, repo := range repos {
		repo := repo
		g.Go(func() error {
			prs, err := a.listRepoPRs(ctx, workspace, repo.Slug, states)
			if err != nil {
				a.log.Warn("bitbucket pull request listing failed",
					zap.String("workspace", workspace),
					zap.String("repo", repo.Slug), zap.Error(err))
				return nil
			}
			var built []model.ReviewItem
			for _, pr := range prs {
				item, ok := a.buildItem(workspace, repo.Slug, pr)
				if !ok {
					continue
				}
				if !updatedAfter.IsZero() {
					updated, err := time.Parse(time.RFC3339, item.UpdatedAt)
					if err != nil || updated.Before(updatedAfter) {
						continue
					}
				}
				built = append(built, item)
			}
			mu.Lock()
			items = append(items, built...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func (a *Adapter) listRepoPRs(ctx context.Context, workspace, slug string, states []string) ([]pullRequest, error) {
	q := url.Values{}
	q.Set("pagelen", fmt.Sprint(prPageSize))
	for _, s := range states {
		q.Add("state", s)
	}
	u := fmt.Sprintf("%s/2.0/repositories/%s/%s/pullrequests?%s",
		a.baseURL, url.PathEscape(workspace), url.PathEscape(slug), q.Encode())

	var page prPage
	if err := a.client.GetJSON(ctx, u, &page); err != nil {
		return nil, err
	}
	return page.Values, nil
}

// buildItem maps one pull request to the unified schema, reconciling the mixed
// participants array into an overall status plus per-reviewer details.
func (a *Adapter) buildItem(workspace, slug string, pr pullRequest) (model.ReviewItem, bool) {
	if pr.ID == 0 || pr.CreatedOn == "" {
		a.log.Warn("skipping malformed bitbucket pull request",
			zap.String("repo", slug), zap.Int("id", pr.ID))
		return model.ReviewItem{}, false
	}

	author := "unknown"
	avatar := ""
	if pr.Author != nil {
		switch {
		case pr.Author.DisplayName != "":
			author = pr.Author.DisplayName
		case pr.Author.Nickname != "":
			author = pr.Author.Nickname
		}
		avatar = pr.Author.Links.Avatar.Href
	}

	anyApproved := false
	var states []model.ReviewerStatus
	var reviewers []string
	var details []model.ReviewerDetail
	for _, p := range pr.Participants {
		if p.Approved {
			anyApproved = true
		}
		if p.Role != "REVIEWER" {
			continue
		}
		s := participantStatus(p)
		states = append(states, s)
		name := ""
		av := ""
		if p.User != nil {
			name = p.User.DisplayName
			av = p.User.Links.Avatar.Href
		}
		reviewers = append(reviewers, name)
		details = append(details, model.ReviewerDetail{Name: name, Avatar: av, Status: s})
	}

	status := model.DeriveStatus(anyApproved, states)
	switch pr.State {
	case "MERGED":
		status = model.StatusMerged
	case "DECLINED":
		status = model.StatusDeclined
	}

	if reviewers == nil {
		reviewers = []string{}
	}

	return model.ReviewItem{
		ID:              fmt.Sprintf("bitbucket-%s-%d", slug, pr.ID),
		Title:           pr.Title,
		Description:     pr.Description,
		Author:          author,
		AuthorAvatar:    avatar,
		URL:             pr.Links.HTML.Href,
		Platform:        model.PlatformBitbucket,
		Repo:            workspace + "/" + slug,
		Status:          status,
		Reviewers:       reviewers,
		ReviewerDetails: details,
		CreatedAt:       pr.CreatedOn,
		UpdatedAt:       pr.UpdatedOn,
		SourceBranch:    pr.Source.Branch.Name,
		TargetBranch:    pr.Destination.Branch.Name,
	}, true
}

func participantStatus(p participant) model.ReviewerStatus {
	switch {
	case changesRequestedStates[p.State]:
		return model.ReviewerChangesRequested
	case p.Approved || p.State == "approved":
		return model.ReviewerApproved
	case p.State == "commented":
		return model.ReviewerCommented
	default:
		return model.ReviewerPending
	}
}
