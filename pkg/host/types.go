package host

import (
	"time"
)

// PullRequest is the host API read-model of a pull request.
// Field names match the REST API JSON.
//
//nolint:govet // Logical grouping preferred over memory optimization
type PullRequest struct {
	Number    int    `json:"number"`
	State     string `json:"state"` // open, closed
	Title     string `json:"title"`
	Merged    bool   `json:"merged"`
	Mergeable *bool  `json:"mergeable"` // nil while the host is still computing
	Commits   int    `json:"commits"`
	Head      Ref    `json:"head"`
	Base      Ref    `json:"base"`
}

// Ref identifies one side of a pull request.
type Ref struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// CheckRun is a single check run attached to a commit.
//
//nolint:govet // fieldalignment: API response struct, field order matches API
type CheckRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, neutral, cancelled, skipped, timed_out, action_required, stale
}

// checkRunsResponse is the paginated check-runs listing.
type checkRunsResponse struct {
	TotalCount int        `json:"total_count"`
	CheckRuns  []CheckRun `json:"check_runs"`
}

// CombinedStatus is the aggregated commit status for a ref.
type CombinedStatus struct {
	State    string         `json:"state"` // success, failure, pending
	Statuses []CommitStatus `json:"statuses"`
}

// CommitStatus is one context within a combined status.
type CommitStatus struct {
	Context     string `json:"context"`
	State       string `json:"state"`
	Description string `json:"description"`
}

// Review is a single pull request review submission.
//
//nolint:govet // fieldalignment: API response struct, field order matches API
type Review struct {
	ID          int64      `json:"id"`
	User        Account    `json:"user"`
	State       string     `json:"state"` // APPROVED, CHANGES_REQUESTED, COMMENTED, DISMISSED
	SubmittedAt *time.Time `json:"submitted_at"`
}

// Account identifies a reviewer.
type Account struct {
	Login string `json:"login"`
}

// BranchProtection is the policy attached to a target branch. The lookup is
// best-effort; a 403/404 leaves the caller with no protection record.
type BranchProtection struct {
	RequiredPullRequestReviews *RequiredReviews `json:"required_pull_request_reviews"`
	RequiredLinearHistory      *EnabledFlag     `json:"required_linear_history"`
	AllowRebase                *EnabledFlag     `json:"allow_rebase_merge"`
}

// RequiredReviews holds the approving-review requirement.
type RequiredReviews struct {
	RequiredApprovingReviewCount int `json:"required_approving_review_count"`
}

// EnabledFlag is the host API's {"enabled": bool} wrapper.
type EnabledFlag struct {
	Enabled bool `json:"enabled"`
}

// MergeOptions control a merge operation.
type MergeOptions struct {
	Strategy      string // merge, squash, or rebase (default: squash)
	ExpectedSHA   string // Optional expected head SHA; merge fails if the head moved
	CommitTitle   string // Optional merge commit title
	CommitMessage string // Optional merge commit message
}

// MergeResponse is the host's answer to a merge request.
type MergeResponse struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// CheckRunSummary is the normalized per-check record carried on a
// PullRequestStatus.
type CheckRunSummary struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// ReviewApproval is the normalized latest-review record for one reviewer.
type ReviewApproval struct {
	Reviewer    string    `json:"reviewer"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PullRequestStatus is the aggregated read-model of a PR at one point in
// time. It is produced fresh on every orchestration attempt and never cached
// across calls.
//
//nolint:govet // Logical grouping preferred over memory optimization
type PullRequestStatus struct {
	PRNumber             int               `json:"pr_number"`
	HeadSHA              string            `json:"head_sha"`
	CIStatus             string            `json:"ci_status"`
	CheckRuns            []CheckRunSummary `json:"check_runs"`
	ApprovedReviews      int               `json:"approved_reviews"`
	Approvals            []ReviewApproval  `json:"approvals"`
	RequiredApprovals    int               `json:"required_approvals"`
	ProtectionKnown      bool              `json:"protection_known"`
	RequireLinearHistory bool              `json:"require_linear_history"`
	AllowRebase          *bool             `json:"allow_rebase,omitempty"`
	HasConflicts         bool              `json:"has_conflicts"`
	MergeableKnown       bool              `json:"mergeable_known"`
	QualityScore         float64           `json:"quality_score"`
	QualityKnown         bool              `json:"quality_known"`
	CommitCount          int               `json:"commit_count"`
}
