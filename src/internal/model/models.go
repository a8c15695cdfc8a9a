package model

// Platform identifies the code-hosting service an item came from.
type Platform string

const (
	PlatformGitLab    Platform = "gitlab"
	PlatformBitbucket Platform = "bitbucket"
	// PlatformGitHub is reserved; no adapter is wired for it yet.
	PlatformGitHub Platform = "github"
)

// Status is the unified review state of an item.
type Status string

const (
	StatusOpen             Status = "open"
	StatusApproved         Status = "approved"
	StatusChangesRequested Status = "changes_requested"
	StatusMerged           Status = "merged"
	StatusDeclined         Status = "declined"
)

// ReviewerStatus is the normalized per-reviewer judgment on an item.
type ReviewerStatus string

const (
	ReviewerPending          ReviewerStatus = "pending"
	ReviewerApproved         ReviewerStatus = "approved"
	ReviewerChangesRequested ReviewerStatus = "changes_requested"
	ReviewerCommented        ReviewerStatus = "commented"
)

// ReviewerDetail describes one assigned reviewer of an item.
type ReviewerDetail struct {
	Name   string         `json:"name"`
	Avatar string         `json:"avatar,omitempty"`
	Status ReviewerStatus `json:"status"`
}

// ReviewItem is the canonical normalized record for a merge/pull request,
// regardless of which platform it came from.
type ReviewItem struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Author          string           `json:"author"`
	AuthorAvatar    string           `json:"authorAvatar,omitempty"`
	URL             string           `json:"url"`
	Platform        Platform         `json:"platform"`
	Repo            string           `json:"repo"`
	Status          Status           `json:"status"`
	Reviewers       []string         `json:"reviewers"`
	ReviewerDetails []ReviewerDetail `json:"reviewerDetails,omitempty"`
	CreatedAt       string           `json:"createdAt"`
	UpdatedAt       string           `json:"updatedAt"`
	// ReviewRequestedAt overrides CreatedAt for "hours in review"; empty means
	// fall back to CreatedAt.
	ReviewRequestedAt string `json:"reviewRequestedAt,omitempty"`
	// AgeDays is set by the Aggregator on every pass, never by adapters.
	AgeDays      *int     `json:"ageDays,omitempty"`
	SourceBranch string   `json:"sourceBranch"`
	TargetBranch string   `json:"targetBranch"`
	CIStatus     string   `json:"ciStatus,omitempty"`
	Labels       []string `json:"labels,omitempty"`
}

// Counts holds per-platform totals for the aggregated open-item listing.
type Counts struct {
	Total     int `json:"total"`
	GitLab    int `json:"gitlab"`
	Bitbucket int `json:"bitbucket"`
}

// DeriveStatus reduces a platform approval flag and a set of normalized
// reviewer states to one unified status. Any reviewer requesting changes wins
// over everything else; the approval flag wins over plain open.
func DeriveStatus(approved bool, reviewers []ReviewerStatus) Status {
	status := StatusOpen
	if approved {
		status = StatusApproved
	}
	for _, r := range reviewers {
		switch r {
		case ReviewerChangesRequested:
			return StatusChangesRequested
		case ReviewerApproved:
			if status == StatusOpen {
				status = StatusApproved
			}
		}
	}
	return status
}
