package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func terminal(conclusion string) CheckRun {
	return CheckRun{Status: "completed", Conclusion: conclusion}
}

func TestDeriveCIStatus(t *testing.T) {
	tests := []struct {
		name      string
		checkRuns []CheckRun
		combined  string
		want      string
	}{
		{
			name:      "queued run wins over everything",
			checkRuns: []CheckRun{terminal("failure"), {Status: "queued"}, {Status: "in_progress"}},
			want:      CIStatusQueued,
		},
		{
			name:      "in progress without queued",
			checkRuns: []CheckRun{terminal("success"), {Status: "in_progress"}},
			want:      CIStatusRunning,
		},
		{
			name:      "all success",
			checkRuns: []CheckRun{terminal("success"), terminal("success")},
			want:      CIStatusSuccess,
		},
		{
			name:      "any failure conclusion fails",
			checkRuns: []CheckRun{terminal("success"), terminal("timed_out")},
			want:      CIStatusFailed,
		},
		{
			name:      "cancelled counts as failure",
			checkRuns: []CheckRun{terminal("cancelled")},
			want:      CIStatusFailed,
		},
		{
			name:      "stale counts as failure",
			checkRuns: []CheckRun{terminal("success"), terminal("stale")},
			want:      CIStatusFailed,
		},
		{
			name:      "all skipped",
			checkRuns: []CheckRun{terminal("skipped"), terminal("skipped")},
			want:      CIStatusSkipped,
		},
		{
			name:      "mixed success and skipped is pending",
			checkRuns: []CheckRun{terminal("success"), terminal("skipped")},
			want:      CIStatusPending,
		},
		{
			name:      "neutral conclusion is pending",
			checkRuns: []CheckRun{terminal("neutral")},
			want:      CIStatusPending,
		},
		{
			name:     "no check runs falls back to combined success",
			combined: "success",
			want:     "success",
		},
		{
			name:     "no check runs falls back to combined failure",
			combined: "failure",
			want:     "failure",
		},
		{
			name:     "unrecognized combined state passes through",
			combined: "error",
			want:     "error",
		},
		{
			name: "no sources at all",
			want: CIStatusUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveCIStatus(tt.checkRuns, tt.combined))
		})
	}
}

func TestDedupReviewsKeepsLatestPerReviewer(t *testing.T) {
	earlier := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	later := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	reviews := []Review{
		{User: Account{Login: "alice"}, State: "APPROVED", SubmittedAt: &earlier},
		{User: Account{Login: "alice"}, State: "CHANGES_REQUESTED", SubmittedAt: &later},
		{User: Account{Login: "bob"}, State: "CHANGES_REQUESTED", SubmittedAt: &earlier},
		{User: Account{Login: "bob"}, State: "APPROVED", SubmittedAt: &later},
	}

	approvals := dedupReviews(reviews)

	assert.Len(t, approvals, 2)
	assert.Equal(t, "alice", approvals[0].Reviewer)
	assert.Equal(t, "CHANGES_REQUESTED", approvals[0].State)
	assert.Equal(t, "bob", approvals[1].Reviewer)
	assert.Equal(t, "APPROVED", approvals[1].State)
	assert.Equal(t, 1, countApproved(approvals))
}

func TestDedupReviewsUnsetTimestampIsEpoch(t *testing.T) {
	stamped := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	reviews := []Review{
		{User: Account{Login: "carol"}, State: "APPROVED", SubmittedAt: &stamped},
		// No timestamp: treated as epoch 0, so it never displaces the
		// stamped review.
		{User: Account{Login: "carol"}, State: "DISMISSED"},
	}

	approvals := dedupReviews(reviews)

	assert.Len(t, approvals, 1)
	assert.Equal(t, "APPROVED", approvals[0].State)
}

func TestDedupReviewsIgnoresAnonymous(t *testing.T) {
	reviews := []Review{
		{State: "APPROVED"},
		{User: Account{Login: "dave"}, State: "APPROVED"},
	}

	approvals := dedupReviews(reviews)

	assert.Len(t, approvals, 1)
	assert.Equal(t, "dave", approvals[0].Reviewer)
}

func TestCountApprovedIsCaseInsensitive(t *testing.T) {
	approvals := []ReviewApproval{
		{Reviewer: "a", State: "APPROVED"},
		{Reviewer: "b", State: "approved"},
		{Reviewer: "c", State: "COMMENTED"},
	}
	assert.Equal(t, 2, countApproved(approvals))
}

func TestParseQualityScore(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []CommitStatus
		wantScore float64
		wantOK    bool
	}{
		{
			name: "quality context with percent",
			statuses: []CommitStatus{
				{Context: "ci/build", State: "success"},
				{Context: "review/quality", Description: "Quality score: 87%"},
			},
			wantScore: 87,
			wantOK:    true,
		},
		{
			name: "fractional score",
			statuses: []CommitStatus{
				{Context: "quality", Description: "92.5"},
			},
			wantScore: 92.5,
			wantOK:    true,
		},
		{
			name: "no quality context",
			statuses: []CommitStatus{
				{Context: "ci/build", Description: "ok"},
			},
			wantOK: false,
		},
		{
			name:   "empty statuses",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, ok := parseQualityScore(tt.statuses)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantScore, score)
			}
		})
	}
}
