package pipeline

import (
	"time"
)

// Phase is a named state in the deployment state machine.
type Phase string

const (
	PhaseQueued            Phase = "queued"
	PhaseDeployingStaging  Phase = "deploying_staging"
	PhaseSmokeTesting      Phase = "smoke_testing"
	PhasePromoting         Phase = "promoting"
	PhaseCompleted         Phase = "completed"
	PhaseFailed            Phase = "failed"
	PhaseRollbackInitiated Phase = "rollback_initiated"
	PhaseRollbackSucceeded Phase = "rollback_succeeded"
	PhaseRollbackFailed    Phase = "rollback_failed"
)

// ValidTransitions is the transition table for deployment phases. Forward
// progression is queued -> deploying_staging -> smoke_testing -> promoting
// -> completed; failed is reachable from any non-terminal forward phase;
// the rollback branch hangs off failed and completed only.
//
//nolint:gochecknoglobals // Fixed state machine definition
var ValidTransitions = map[Phase][]Phase{
	PhaseQueued:            {PhaseDeployingStaging, PhaseFailed},
	PhaseDeployingStaging:  {PhaseSmokeTesting, PhaseFailed},
	PhaseSmokeTesting:      {PhasePromoting, PhaseFailed},
	PhasePromoting:         {PhaseCompleted, PhaseFailed},
	PhaseCompleted:         {PhaseRollbackInitiated},
	PhaseFailed:            {PhaseRollbackInitiated},
	PhaseRollbackInitiated: {PhaseRollbackSucceeded, PhaseRollbackFailed},
	PhaseRollbackSucceeded: {},
	PhaseRollbackFailed:    {},
}

// Valid reports whether p names a known phase.
func (p Phase) Valid() bool {
	_, ok := ValidTransitions[p]
	return ok
}

// Terminal reports whether no further transition is possible from p.
func (p Phase) Terminal() bool {
	return len(ValidTransitions[p]) == 0
}

// CanTransition reports whether from -> to is a legal phase transition.
func CanTransition(from, to Phase) bool {
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SmokeTestResult is the recorded outcome of a smoke-test run.
type SmokeTestResult struct {
	Passed  bool   `json:"passed"`
	Summary string `json:"summary,omitempty"`
}

// DeploymentStatus is the durable, keyed record of a deployment. The
// DeploymentID is assigned at creation and never reassigned; the pipeline
// is its only writer.
//
//nolint:govet // Logical grouping preferred over memory optimization
type DeploymentStatus struct {
	DeploymentID    string           `json:"deployment_id"`
	PRNumber        int              `json:"pr_number"`
	Phase           Phase            `json:"phase"`
	Environment     string           `json:"environment"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Error           string           `json:"error,omitempty"`
	SmokeTestResult *SmokeTestResult `json:"smoke_test_result,omitempty"`
}

// StatusPatch is an upsert-merge write: nil fields leave the stored value
// untouched.
type StatusPatch struct {
	PRNumber        *int             `json:"pr_number,omitempty"`
	Phase           *Phase           `json:"phase,omitempty"`
	Environment     *string          `json:"environment,omitempty"`
	Error           *string          `json:"error,omitempty"`
	SmokeTestResult *SmokeTestResult `json:"smoke_test_result,omitempty"`
}

// DeployTask is the payload dispatched to the deploy queue.
type DeployTask struct {
	DeploymentID      string    `json:"deployment_id"`
	PRNumber          int       `json:"pr_number"`
	TargetEnvironment string    `json:"target_environment"`
	RequestedAt       time.Time `json:"requested_at"`
}

// SmokeTestTask is the payload dispatched to the smoke-test queue.
type SmokeTestTask struct {
	DeploymentID string    `json:"deployment_id"`
	PRNumber     int       `json:"pr_number"`
	RequestedAt  time.Time `json:"requested_at"`
}

// RollbackTask is the payload dispatched to the rollback queue.
type RollbackTask struct {
	DeploymentID string    `json:"deployment_id"`
	PRNumber     int       `json:"pr_number"`
	Reason       string    `json:"reason,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}
