// Package orchestrator composes the decision engine, host API client, and
// deployment pipeline behind a single entry point, and publishes every
// significant step on the event bus.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mergepilot/pkg/bus"
	"mergepilot/pkg/decision"
	"mergepilot/pkg/host"
	"mergepilot/pkg/logx"
	"mergepilot/pkg/metrics"
	"mergepilot/pkg/pipeline"
)

// HostClient is the host API surface the orchestrator needs.
type HostClient interface {
	GetStatus(ctx context.Context, prNumber int) (*host.PullRequestStatus, error)
	Merge(ctx context.Context, prNumber int, opts host.MergeOptions) (*host.MergeResponse, error)
}

// Deployer is the pipeline surface the orchestrator needs.
type Deployer interface {
	TriggerDeployment(ctx context.Context, prNumber int) (string, error)
	OnStatusUpdate(listener func(*pipeline.DeploymentStatus)) func()
}

// Overrides replace individual derived merge conditions. A nil field keeps
// the value derived from the live PR status.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Overrides struct {
	CIStatus             *string
	QualityScore         *float64
	QualityThreshold     *float64
	RequiresHumanReview  *bool
	ApprovedReviews      *int
	HasConflicts         *bool
	PreferredStrategy    *decision.Strategy
	CommitCount          *int
	RequireLinearHistory *bool
	AllowRebase          *bool
}

// Request is one orchestration attempt.
type Request struct {
	PRNumber int
	// TriggerDeployment forces deployment on or off after a successful
	// merge; nil uses the configured AutoDeploy default.
	TriggerDeployment *bool
	Overrides         *Overrides
}

// Config tunes orchestration behavior.
type Config struct {
	// QualityThreshold is the minimum quality score, used both as the
	// threshold and as the assumed score when the host exposes no quality
	// signal. Default: 0 (quality gate effectively off).
	QualityThreshold float64
	// RequireHumanReview applies when branch protection is unknown.
	RequireHumanReview bool
	// AutoDeploy triggers a staging deployment after each successful merge.
	AutoDeploy bool
	// DryRun evaluates and publishes events without merging.
	DryRun bool
	// MonitorDeployment, when set, blocks each orchestration after
	// deployment:triggered until the deployment settles (or the hook
	// returns an error).
	MonitorDeployment func(ctx context.Context, deploymentID string) error
}

// Event payloads published on the bus.
type (
	// EvaluationEvent accompanies merge:evaluated and merge:blocked.
	EvaluationEvent struct {
		PRNumber int                  `json:"pr_number"`
		Result   decision.MergeResult `json:"result"`
	}

	// MergeEvent accompanies merge:completed.
	MergeEvent struct {
		PRNumber int    `json:"pr_number"`
		Strategy string `json:"strategy"`
		SHA      string `json:"sha"`
	}

	// DeploymentEvent accompanies deployment:triggered.
	DeploymentEvent struct {
		PRNumber     int    `json:"pr_number"`
		DeploymentID string `json:"deployment_id"`
	}

	// ErrorEvent accompanies error.
	ErrorEvent struct {
		PRNumber int    `json:"pr_number"`
		Stage    string `json:"stage"`
		Message  string `json:"message"`
	}
)

// Orchestrator runs the gated merge flow. Concurrent calls for different PRs
// proceed in parallel; calls for the same PR are serialized.
type Orchestrator struct {
	config   Config
	engine   *decision.Engine
	client   HostClient
	deployer Deployer
	bus      *bus.Bus
	recorder *metrics.Recorder
	logger   *logx.Logger

	mu           sync.Mutex
	prLocks      map[int]*prLock
	statusDetach func()
}

// prLock is a per-PR mutex with a holder/waiter count so idle entries can be
// dropped from the map.
type prLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an orchestrator. The host client is required; a nil engine
// uses defaults, a nil bus gets a private one, and the deployer and recorder
// are optional.
func New(cfg Config, engine *decision.Engine, client HostClient, deployer Deployer, eventBus *bus.Bus, recorder *metrics.Recorder) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("host client is required")
	}
	if engine == nil {
		engine = decision.NewEngine(nil)
	}
	if eventBus == nil {
		eventBus = bus.New()
	}

	o := &Orchestrator{
		config:   cfg,
		engine:   engine,
		client:   client,
		deployer: deployer,
		bus:      eventBus,
		recorder: recorder,
		logger:   logx.NewLogger("orchestrator"),
		prLocks:  make(map[int]*prLock),
	}

	// Re-publish pipeline status changes so bus subscribers see deployment
	// progress without knowing the pipeline exists.
	if deployer != nil {
		o.statusDetach = deployer.OnStatusUpdate(func(status *pipeline.DeploymentStatus) {
			o.bus.Emit(bus.EventDeploymentStatus, status)
			if o.recorder != nil {
				o.recorder.IncDeploymentPhase(string(status.Phase), status.Environment)
			}
		})
	}
	return o, nil
}

// Bus returns the event bus for external subscribers.
func (o *Orchestrator) Bus() *bus.Bus {
	return o.bus
}

// Orchestrate runs one gated merge attempt: fetch live PR status, evaluate
// the merge rules, merge when allowed, and optionally trigger a deployment.
// The returned MergeResult is meaningful even when err is non-nil only for
// post-evaluation failures (merge or deployment).
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (*decision.MergeResult, error) {
	if req.PRNumber <= 0 {
		return nil, fmt.Errorf("PR number must be a positive integer, got %d", req.PRNumber)
	}

	unlock := o.lockPR(req.PRNumber)
	defer unlock()

	started := time.Now()

	status, err := o.client.GetStatus(ctx, req.PRNumber)
	if err != nil {
		o.emitError(req.PRNumber, "status", err)
		return nil, fmt.Errorf("PR #%d: fetch status: %w", req.PRNumber, err)
	}

	conditions := o.buildConditions(status, req.Overrides)
	result := o.engine.Evaluate(conditions)
	if o.recorder != nil {
		o.recorder.ObserveEvaluation(result.CanMerge, result.Blockers, time.Since(started))
	}
	o.bus.Emit(bus.EventMergeEvaluated, EvaluationEvent{PRNumber: req.PRNumber, Result: result})

	if !result.CanMerge {
		o.logger.Info("PR #%d blocked: %v", req.PRNumber, result.Blockers)
		o.bus.Emit(bus.EventMergeBlocked, EvaluationEvent{PRNumber: req.PRNumber, Result: result})
		return &result, nil
	}

	if o.config.DryRun {
		o.logger.Info("PR #%d mergeable via %s (dry run, not merging)", req.PRNumber, result.Strategy)
		return &result, nil
	}

	response, err := o.client.Merge(ctx, req.PRNumber, host.MergeOptions{
		Strategy:    string(result.Strategy),
		ExpectedSHA: status.HeadSHA,
	})
	if err != nil {
		o.emitError(req.PRNumber, "merge", err)
		return &result, fmt.Errorf("PR #%d: merge: %w", req.PRNumber, err)
	}

	if o.recorder != nil {
		o.recorder.IncMerge(string(result.Strategy))
	}
	o.logger.Info("PR #%d merged via %s (%s)", req.PRNumber, result.Strategy, response.SHA)
	o.bus.Emit(bus.EventMergeCompleted, MergeEvent{
		PRNumber: req.PRNumber,
		Strategy: string(result.Strategy),
		SHA:      response.SHA,
	})

	if !o.shouldDeploy(req) {
		return &result, nil
	}
	if o.deployer == nil {
		o.emitError(req.PRNumber, "deployment", pipeline.ErrDeployQueueNotConfigured)
		return &result, fmt.Errorf("PR #%d: deployment requested but no pipeline configured", req.PRNumber)
	}

	deploymentID, err := o.deployer.TriggerDeployment(ctx, req.PRNumber)
	if err != nil {
		// The merge already happened; the caller gets the verdict plus
		// the deployment failure.
		o.emitError(req.PRNumber, "deployment", err)
		return &result, fmt.Errorf("PR #%d: trigger deployment: %w", req.PRNumber, err)
	}

	o.bus.Emit(bus.EventDeploymentTriggered, DeploymentEvent{
		PRNumber:     req.PRNumber,
		DeploymentID: deploymentID,
	})

	if o.config.MonitorDeployment != nil {
		if err := o.config.MonitorDeployment(ctx, deploymentID); err != nil {
			o.emitError(req.PRNumber, "monitor", err)
			return &result, fmt.Errorf("PR #%d: monitor deployment %s: %w", req.PRNumber, deploymentID, err)
		}
	}
	return &result, nil
}

// Dispose detaches the pipeline bridge and clears all bus subscribers.
func (o *Orchestrator) Dispose() {
	if o.statusDetach != nil {
		o.statusDetach()
		o.statusDetach = nil
	}
	o.bus.Clear()
}

func (o *Orchestrator) shouldDeploy(req Request) bool {
	if req.TriggerDeployment != nil {
		return *req.TriggerDeployment
	}
	return o.config.AutoDeploy
}

func (o *Orchestrator) lockPR(prNumber int) func() {
	o.mu.Lock()
	lock, ok := o.prLocks[prNumber]
	if !ok {
		lock = &prLock{}
		o.prLocks[prNumber] = lock
	}
	lock.refs++
	o.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		o.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(o.prLocks, prNumber)
		}
		o.mu.Unlock()
	}
}

// buildConditions derives merge conditions from the live PR status, filling
// gaps with configured defaults, then applies explicit overrides.
func (o *Orchestrator) buildConditions(status *host.PullRequestStatus, overrides *Overrides) decision.MergeConditions {
	conditions := decision.MergeConditions{
		CIStatus:             status.CIStatus,
		QualityThreshold:     o.config.QualityThreshold,
		ApprovedReviews:      status.ApprovedReviews,
		HasConflicts:         status.HasConflicts,
		CommitCount:          status.CommitCount,
		RequireLinearHistory: status.RequireLinearHistory,
		AllowRebase:          status.AllowRebase,
	}

	// Without a quality signal the gate is decided by configuration alone:
	// assume the threshold is met rather than inventing a failing score.
	if status.QualityKnown {
		conditions.QualityScore = status.QualityScore
	} else {
		conditions.QualityScore = o.config.QualityThreshold
	}

	if status.ProtectionKnown {
		conditions.RequiresHumanReview = status.RequiredApprovals > 0
	} else {
		conditions.RequiresHumanReview = o.config.RequireHumanReview
	}

	if overrides != nil {
		applyOverrides(&conditions, overrides)
	}
	return conditions
}

func applyOverrides(conditions *decision.MergeConditions, overrides *Overrides) {
	if overrides.CIStatus != nil {
		conditions.CIStatus = *overrides.CIStatus
	}
	if overrides.QualityScore != nil {
		conditions.QualityScore = *overrides.QualityScore
	}
	if overrides.QualityThreshold != nil {
		conditions.QualityThreshold = *overrides.QualityThreshold
	}
	if overrides.RequiresHumanReview != nil {
		conditions.RequiresHumanReview = *overrides.RequiresHumanReview
	}
	if overrides.ApprovedReviews != nil {
		conditions.ApprovedReviews = *overrides.ApprovedReviews
	}
	if overrides.HasConflicts != nil {
		conditions.HasConflicts = *overrides.HasConflicts
	}
	if overrides.PreferredStrategy != nil {
		conditions.PreferredStrategy = *overrides.PreferredStrategy
	}
	if overrides.CommitCount != nil {
		conditions.CommitCount = *overrides.CommitCount
	}
	if overrides.RequireLinearHistory != nil {
		conditions.RequireLinearHistory = *overrides.RequireLinearHistory
	}
	if overrides.AllowRebase != nil {
		conditions.AllowRebase = overrides.AllowRebase
	}
}

func (o *Orchestrator) emitError(prNumber int, stage string, err error) {
	o.logger.Error("PR #%d %s failed: %v", prNumber, stage, err)
	o.bus.Emit(bus.EventError, ErrorEvent{
		PRNumber: prNumber,
		Stage:    stage,
		Message:  err.Error(),
	})
}
