package host

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// CI status values produced by deriveCIStatus.
const (
	CIStatusQueued  = "queued"
	CIStatusRunning = "running"
	CIStatusSuccess = "success"
	CIStatusFailed  = "failed"
	CIStatusSkipped = "skipped"
	CIStatusPending = "pending"
	CIStatusUnknown = "unknown"
)

// failureConclusions are check-run conclusions treated as CI failure.
//
//nolint:gochecknoglobals // Fixed classification set
var failureConclusions = map[string]bool{
	"failure":         true,
	"timed_out":       true,
	"action_required": true,
	"cancelled":       true,
	"stale":           true,
}

// deriveCIStatus reduces check runs, falling back to the combined commit
// status when no check runs exist.
//
// Precedence: any queued run makes the whole status queued; any in-progress
// run makes it running. With only terminal runs: all success -> success, any
// failure-set conclusion -> failed, all skipped -> skipped, anything else ->
// pending. Without check runs the combined status string is passed through
// as-is, defaulting to unknown when neither source exists.
func deriveCIStatus(checkRuns []CheckRun, combined string) string {
	if len(checkRuns) == 0 {
		if combined == "" {
			return CIStatusUnknown
		}
		return combined
	}

	allSuccess := true
	allSkipped := true
	anyFailed := false

	for i := range checkRuns {
		run := &checkRuns[i]
		switch run.Status {
		case "queued":
			return CIStatusQueued
		case "in_progress":
			// Keep scanning: a queued run later in the list still wins.
			allSuccess = false
			allSkipped = false
		default:
			if run.Conclusion != "success" {
				allSuccess = false
			}
			if run.Conclusion != "skipped" {
				allSkipped = false
			}
			if failureConclusions[run.Conclusion] {
				anyFailed = true
			}
		}
	}

	for i := range checkRuns {
		if checkRuns[i].Status == "in_progress" {
			return CIStatusRunning
		}
	}

	switch {
	case allSuccess:
		return CIStatusSuccess
	case anyFailed:
		return CIStatusFailed
	case allSkipped:
		return CIStatusSkipped
	default:
		return CIStatusPending
	}
}

// dedupReviews keeps only the most recent review per reviewer identity,
// ordered by submission timestamp with unset timestamps treated as epoch 0.
// Results are sorted by reviewer login for deterministic output.
func dedupReviews(reviews []Review) []ReviewApproval {
	latest := make(map[string]ReviewApproval)

	for i := range reviews {
		review := &reviews[i]
		if review.User.Login == "" {
			continue
		}

		submittedAt := time.Unix(0, 0).UTC()
		if review.SubmittedAt != nil {
			submittedAt = review.SubmittedAt.UTC()
		}

		current, seen := latest[review.User.Login]
		if !seen || submittedAt.After(current.SubmittedAt) {
			latest[review.User.Login] = ReviewApproval{
				Reviewer:    review.User.Login,
				State:       review.State,
				SubmittedAt: submittedAt,
			}
		}
	}

	approvals := make([]ReviewApproval, 0, len(latest))
	for _, approval := range latest {
		approvals = append(approvals, approval)
	}
	sort.Slice(approvals, func(i, j int) bool {
		return approvals[i].Reviewer < approvals[j].Reviewer
	})
	return approvals
}

// countApproved counts retained latest reviews in the approved state.
func countApproved(approvals []ReviewApproval) int {
	count := 0
	for i := range approvals {
		if strings.EqualFold(approvals[i].State, "approved") {
			count++
		}
	}
	return count
}

// qualityContextSuffix marks the commit status context that carries an
// externally computed quality score, e.g. "review/quality" with a
// description like "Quality score: 87%".
const qualityContextSuffix = "quality"

// parseQualityScore extracts a quality score from the combined status
// contexts. Returns (0, false) when no quality context is present.
func parseQualityScore(statuses []CommitStatus) (float64, bool) {
	for i := range statuses {
		status := &statuses[i]
		if !strings.HasSuffix(strings.ToLower(status.Context), qualityContextSuffix) {
			continue
		}
		if score, ok := extractPercent(status.Description); ok {
			return score, true
		}
	}
	return 0, false
}

// extractPercent pulls the first number out of a free-form description.
func extractPercent(description string) (float64, bool) {
	start := -1
	for i, r := range description {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if r == '.' && start >= 0 {
			continue
		}
		if start >= 0 {
			score, err := strconv.ParseFloat(description[start:i], 64)
			if err != nil {
				return 0, false
			}
			return score, true
		}
	}
	if start >= 0 {
		score, err := strconv.ParseFloat(description[start:], 64)
		if err != nil {
			return 0, false
		}
		return score, true
	}
	return 0, false
}
