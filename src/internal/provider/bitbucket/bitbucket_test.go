package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ndg/pr-dashboard/src/internal/model"
)

type fakeBitbucket struct {
	repos     []map[string]any
	prsBySlug map[string][]map[string]any
	failSlugs map[string]bool
}

func (f *fakeBitbucket) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Basic "))

		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/2.0/repositories/"), "/")
		switch len(parts) {
		case 1: // repo listing
			_ = json.NewEncoder(w).Encode(map[string]any{"values": f.repos})
		case 3: // PR listing
			slug := parts[1]
			if f.failSlugs[slug] {
				http.Error(w, "upstream error", http.StatusInternalServerError)
				return
			}
			prs := f.prsBySlug[slug]
			states := r.URL.Query()["state"]
			var filtered []map[string]any
			for _, pr := range prs {
				for _, s := range states {
					if pr["state"] == s {
						filtered = append(filtered, pr)
						break
					}
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"values": filtered})
		default:
			http.NotFound(w, r)
		}
	})
}

func prPayload(id int, state string, updatedOn time.Time, participants []map[string]any) map[string]any {
	return map[string]any{
		"id":         id,
		"title":      fmt.Sprintf("pr %d", id),
		"state":      state,
		"created_on": "2026-08-20T10:00:00+00:00",
		"updated_on": updatedOn.UTC().Format(time.RFC3339),
		"author": map[string]any{
			"display_name": "Alice Author",
			"links":        map[string]any{"avatar": map[string]any{"href": "https://a/alice.png"}},
		},
		"links": map[string]any{"html": map[string]any{"href": fmt.Sprintf("https://bitbucket.org/pr/%d", id)}},
		"source": map[string]any{"branch": map[string]any{"name": "feature"}},
		"destination": map[string]any{"branch": map[string]any{"name": "main"}},
		"participants": participants,
	}
}

func reviewer(name, state string, approved bool) map[string]any {
	return map[string]any{
		"role":     "REVIEWER",
		"approved": approved,
		"state":    state,
		"user": map[string]any{
			"display_name": name,
			"links":        map[string]any{"avatar": map[string]any{"href": "https://a/" + name + ".png"}},
		},
	}
}

func newTestAdapter(t *testing.T, fake *fakeBitbucket) *Adapter {
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return New("user", "app-password", srv.URL, []string{"ndg"}, 5*time.Second, zap.NewNop())
}

func TestListOpenReconcilesParticipants(t *testing.T) {
	now := time.Now()
	fake := &fakeBitbucket{
		repos: []map[string]any{{"slug": "service"}},
		prsBySlug: map[string][]map[string]any{
			"service": {
				prPayload(1, "OPEN", now, []map[string]any{reviewer("Bob", "", false)}),
				prPayload(2, "OPEN", now, []map[string]any{reviewer("Bob", "approved", true)}),
				// Approval present but a reviewer asked for changes: changes win.
				prPayload(3, "OPEN", now, []map[string]any{
					reviewer("Bob", "approved", true),
					reviewer("Carol", "changes_requested", false),
				}),
			},
		},
	}
	a := newTestAdapter(t, fake)

	res := a.ListOpen(context.Background())
	require.True(t, res.OK)
	require.Len(t, res.Items, 3)

	byID := map[string]model.ReviewItem{}
	for _, it := range res.Items {
		byID[it.ID] = it
	}
	assert.Equal(t, model.StatusOpen, byID["bitbucket-service-1"].Status)
	assert.Equal(t, model.StatusApproved, byID["bitbucket-service-2"].Status)
	assert.Equal(t, model.StatusChangesRequested, byID["bitbucket-service-3"].Status)

	item := byID["bitbucket-service-3"]
	assert.Equal(t, "ndg/service", item.Repo)
	assert.Equal(t, "Alice Author", item.Author)
	assert.Equal(t, []string{"Bob", "Carol"}, item.Reviewers)
}

func TestListOpenBothChangesRequestedSpellings(t *testing.T) {
	now := time.Now()
	for _, spelling := range []string{"changes_requested", "changes-requested"} {
		fake := &fakeBitbucket{
			repos: []map[string]any{{"slug": "service"}},
			prsBySlug: map[string][]map[string]any{
				"service": {
					prPayload(1, "OPEN", now, []map[string]any{reviewer("Bob", spelling, false)}),
				},
			},
		}
		a := newTestAdapter(t, fake)

		res := a.ListOpen(context.Background())
		require.True(t, res.OK, spelling)
		require.Len(t, res.Items, 1, spelling)
		assert.Equal(t, model.StatusChangesRequested, res.Items[0].Status, spelling)
	}
}

func TestListOpenNonReviewerParticipantApprovalCounts(t *testing.T) {
	// Approval can come from any participant, not only reviewer-role ones.
	now := time.Now()
	fake := &fakeBitbucket{
		repos: []map[string]any{{"slug": "service"}},
		prsBySlug: map[string][]map[string]any{
			"service": {
				prPayload(1, "OPEN", now, []map[string]any{
					{"role": "PARTICIPANT", "approved": true, "state": "approved"},
				}),
			},
		},
	}
	a := newTestAdapter(t, fake)

	res := a.ListOpen(context.Background())
	require.Len(t, res.Items, 1)
	assert.Equal(t, model.StatusApproved, res.Items[0].Status)
	assert.Empty(t, res.Items[0].Reviewers)
}

func TestListOpenRepoFailureIsolated(t *testing.T) {
	now := time.Now()
	fake := &fakeBitbucket{
		repos: []map[string]any{{"slug": "broken"}, {"slug": "service"}},
		prsBySlug: map[string][]map[string]any{
			"service": {prPayload(1, "OPEN", now, nil)},
		},
		failSlugs: map[string]bool{"broken": true},
	}
	a := newTestAdapter(t, fake)

	res := a.ListOpen(context.Background())
	require.True(t, res.OK)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "bitbucket-service-1", res.Items[0].ID)
}

func TestListOpenNotConfigured(t *testing.T) {
	a := New("", "", "https://api.bitbucket.org", nil, time.Second, zap.NewNop())
	res := a.ListOpen(context.Background())

	assert.True(t, res.OK)
	assert.Equal(t, "not configured", res.Reason)
	assert.Empty(t, res.Items)
}

func TestListRecentlyClosedWindowAndStates(t *testing.T) {
	now := time.Now()
	fake := &fakeBitbucket{
		repos: []map[string]any{{"slug": "service"}},
		prsBySlug: map[string][]map[string]any{
			"service": {
				prPayload(1, "MERGED", now.Add(-2*time.Hour), nil),
				prPayload(2, "DECLINED", now.Add(-3*time.Hour), nil),
				// Outside the 48h window: excluded.
				prPayload(3, "MERGED", now.Add(-72*time.Hour), nil),
			},
		},
	}
	a := newTestAdapter(t, fake)

	res := a.ListRecentlyClosed(context.Background())
	require.True(t, res.OK)
	require.Len(t, res.Items, 2)

	byID := map[string]model.Status{}
	for _, it := range res.Items {
		byID[it.ID] = it.Status
	}
	assert.Equal(t, model.StatusMerged, byID["bitbucket-service-1"])
	assert.Equal(t, model.StatusDeclined, byID["bitbucket-service-2"])
}

func TestListRecentlyClosedCapsConsultedRepos(t *testing.T) {
	now := time.Now()
	var repos []map[string]any
	prs := map[string][]map[string]any{}
	for i := 0; i < 15; i++ {
		slug := fmt.Sprintf("repo-%02d", i)
		repos = append(repos, map[string]any{"slug": slug})
		prs[slug] = []map[string]any{prPayload(i+1, "MERGED", now.Add(-time.Hour), nil)}
	}
	fake := &fakeBitbucket{repos: repos, prsBySlug: prs}
	a := newTestAdapter(t, fake)

	res := a.ListRecentlyClosed(context.Background())
	require.True(t, res.OK)
	// Only the first 10 repos of the (update-sorted) listing are consulted.
	assert.Len(t, res.Items, 10)
}

func TestListOpenSkipsMalformedRecords(t *testing.T) {
	now := time.Now()
	fake := &fakeBitbucket{
		repos: []map[string]any{{"slug": "service"}},
		prsBySlug: map[string][]map[string]any{
			"service": {
				{"state": "OPEN", "title": "no id"},
				prPayload(1, "OPEN", now, nil),
			},
		},
	}
	a := newTestAdapter(t, fake)

	res := a.ListOpen(context.Background())
	require.True(t, res.OK)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "bitbucket-service-1", res.Items[0].ID)
}
