// Package decision implements the merge decision engine: a pure rule
// evaluator that maps a snapshot of merge-readiness signals to a
// merge/no-merge verdict and a merge strategy.
package decision

import (
	"fmt"
	"strings"
)

// Strategy is the merge technique applied when merging a pull request.
type Strategy string

const (
	// StrategyMerge creates a merge commit.
	StrategyMerge Strategy = "merge"
	// StrategySquash squashes the branch into a single commit.
	StrategySquash Strategy = "squash"
	// StrategyRebase rebases the branch onto the target.
	StrategyRebase Strategy = "rebase"
	// StrategyNone means no strategy was selected (merge is blocked).
	StrategyNone Strategy = ""
)

// Valid reports whether s names a known merge strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyMerge, StrategySquash, StrategyRebase:
		return true
	default:
		return false
	}
}

// MergeConditions is an immutable snapshot of merge-readiness signals for a
// single pull request. Construct a fresh value per evaluation; never mutate
// one after construction.
//
//nolint:govet // Logical grouping preferred over memory optimization
type MergeConditions struct {
	CIStatus             string   // Aggregated CI status; "success"/"passed" (case-insensitive) pass
	QualityScore         float64  // Measured quality score, percent
	QualityThreshold     float64  // Minimum acceptable quality score, percent
	RequiresHumanReview  bool     // Whether at least one approving review is required
	ApprovedReviews      int      // Count of current approving reviews (latest per reviewer)
	HasConflicts         bool     // Whether the PR has merge conflicts
	PreferredStrategy    Strategy // Explicit strategy override; wins outright when set
	CommitCount          int      // Number of commits on the branch
	RequireLinearHistory bool     // Whether the target branch requires linear history
	AllowRebase          *bool    // Whether rebase merging is permitted (nil = true)
}

// RebaseAllowed returns AllowRebase, defaulting to true when unset.
func (c *MergeConditions) RebaseAllowed() bool {
	if c.AllowRebase == nil {
		return true
	}
	return *c.AllowRebase
}

// MergeResult is the verdict for one evaluation.
//
// Invariant: CanMerge == true iff Strategy != StrategyNone iff len(Blockers) == 0.
type MergeResult struct {
	CanMerge bool     `json:"can_merge"`
	Strategy Strategy `json:"strategy,omitempty"`
	Blockers []string `json:"blockers"`
}

// Config controls strategy selection. Every option has a stated default and
// effect; use DefaultConfig as the starting point.
type Config struct {
	// DefaultStrategy is used when no other rule selects a strategy.
	// Default: squash.
	DefaultStrategy Strategy
	// PreferSquashForMultipleCommits selects squash for PRs with more than
	// one commit. Default: true.
	PreferSquashForMultipleCommits bool
	// PreferRebaseForLinearHistory selects rebase when the target branch
	// requires linear history and rebase is allowed. Default: true.
	PreferRebaseForLinearHistory bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultStrategy:                StrategySquash,
		PreferSquashForMultipleCommits: true,
		PreferRebaseForLinearHistory:   true,
	}
}

// Engine evaluates merge conditions. It is stateless and safe for
// concurrent use.
type Engine struct {
	config Config
}

// NewEngine creates an engine with the given configuration. A nil config
// uses DefaultConfig.
func NewEngine(cfg *Config) *Engine {
	config := DefaultConfig()
	if cfg != nil {
		config = *cfg
		if config.DefaultStrategy == StrategyNone {
			config.DefaultStrategy = StrategySquash
		}
	}
	return &Engine{config: config}
}

// Evaluate maps conditions to a merge verdict. It is pure and deterministic:
// identical input yields identical output, including blocker ordering. All
// rules are evaluated; the result reports every violated rule, not just the
// first.
func (e *Engine) Evaluate(conditions MergeConditions) MergeResult {
	blockers := make([]string, 0, 4)

	if !ciPassing(conditions.CIStatus) {
		blockers = append(blockers, "CI checks must succeed")
	}

	if conditions.QualityScore < conditions.QualityThreshold {
		blockers = append(blockers, fmt.Sprintf(
			"Quality score %v%% is below the required threshold of %v%%.",
			conditions.QualityScore, conditions.QualityThreshold))
	}

	if conditions.RequiresHumanReview && conditions.ApprovedReviews <= 0 {
		blockers = append(blockers, "At least one approving review is required")
	}

	if conditions.HasConflicts {
		blockers = append(blockers, "Merge conflicts must be resolved")
	}

	if len(blockers) > 0 {
		return MergeResult{CanMerge: false, Strategy: StrategyNone, Blockers: blockers}
	}

	return MergeResult{
		CanMerge: true,
		Strategy: e.selectStrategy(&conditions),
		Blockers: blockers,
	}
}

// selectStrategy picks a strategy for an unblocked merge, in priority order.
func (e *Engine) selectStrategy(conditions *MergeConditions) Strategy {
	// 1. An explicit preference wins outright.
	if conditions.PreferredStrategy != StrategyNone {
		return conditions.PreferredStrategy
	}

	// 2. Linear-history branches merge by rebase when permitted.
	if conditions.RequireLinearHistory && conditions.RebaseAllowed() && e.config.PreferRebaseForLinearHistory {
		return StrategyRebase
	}

	// 3. Multi-commit PRs squash to keep target history clean.
	if conditions.CommitCount > 1 && e.config.PreferSquashForMultipleCommits {
		return StrategySquash
	}

	// 4. Configured default.
	return e.config.DefaultStrategy
}

// ciPassing normalizes the CI status string; "passed" is a synonym for
// "success" and comparison is case-insensitive.
func ciPassing(status string) bool {
	normalized := strings.ToLower(strings.TrimSpace(status))
	return normalized == "success" || normalized == "passed"
}
