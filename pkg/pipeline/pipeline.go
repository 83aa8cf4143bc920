// Package pipeline implements the deployment pipeline: a phase state machine
// backed by a durable status store and task-dispatch queues, driving staging
// deploy -> smoke test -> promotion with a rollback branch, and fanning out
// webhook notifications on phase transitions.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mergepilot/pkg/logx"
)

// StatusStore is the durable, keyed record of deployment statuses. Get
// returns (nil, nil) when no record exists. Upsert merges the patch into the
// stored record (creating it if needed) and returns the updated snapshot.
// Subscribe registers a callback for every change to the given deployment
// and returns an unsubscribe closure.
type StatusStore interface {
	Get(ctx context.Context, deploymentID string) (*DeploymentStatus, error)
	Upsert(ctx context.Context, deploymentID string, patch StatusPatch) (*DeploymentStatus, error)
	Subscribe(deploymentID string, fn func(*DeploymentStatus)) (func(), error)
}

// TaskQueue is an at-least-once dispatch channel consumed by an external
// deployment worker. A non-zero deadline bounds the dispatch itself; the
// queue implementation enforces it, the pipeline never retries a dispatch.
type TaskQueue[T any] interface {
	Enqueue(ctx context.Context, payload T, deadline time.Duration) error
}

// Config tunes the pipeline. Every field has a stated default.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Config struct {
	// Environment labels where staged deployments land. Default: "staging".
	Environment string
	// NotifyOn is the phase allow-list for notifications.
	// Default: completed, failed, rollback_failed.
	NotifyOn []Phase
	// StreamStatus subscribes to store changes for each triggered
	// deployment so external workers' writes reach OnStatusUpdate
	// listeners. Default: false.
	StreamStatus bool
	// Per-queue dispatch deadlines; zero means no deadline.
	DeployDeadline   time.Duration
	SmokeDeadline    time.Duration
	RollbackDeadline time.Duration
}

// DefaultNotifyOn returns the default notification allow-list.
func DefaultNotifyOn() []Phase {
	return []Phase{PhaseCompleted, PhaseFailed, PhaseRollbackFailed}
}

// GenerateDeploymentID returns a fresh unique deployment identifier.
func GenerateDeploymentID() string {
	return uuid.New().String()
}

// Pipeline drives deployments. It is the single writer of deployment status
// records; everyone else reads or subscribes.
type Pipeline struct {
	config        Config
	store         StatusStore
	deployQueue   TaskQueue[DeployTask]
	smokeQueue    TaskQueue[SmokeTestTask]
	rollbackQueue TaskQueue[RollbackTask]
	notifier      *Notifier
	logger        *logx.Logger
	notifyOn      map[Phase]bool

	mu               sync.Mutex
	listeners        map[uint64]func(*DeploymentStatus)
	nextListenerID   uint64
	lastNotified     map[string]Phase
	lastDeploymentID string
	streamCancels    map[string]func()
}

// New creates a pipeline. The store is required; queues and notifier are
// optional and their operations fail with "not configured" errors when
// missing.
func New(cfg Config, store StatusStore, deployQueue TaskQueue[DeployTask], smokeQueue TaskQueue[SmokeTestTask], rollbackQueue TaskQueue[RollbackTask], notifier *Notifier) (*Pipeline, error) {
	if store == nil {
		return nil, NewValidationError("status store is required")
	}
	if cfg.Environment == "" {
		cfg.Environment = "staging"
	}
	if cfg.NotifyOn == nil {
		cfg.NotifyOn = DefaultNotifyOn()
	}

	notifyOn := make(map[Phase]bool, len(cfg.NotifyOn))
	for _, phase := range cfg.NotifyOn {
		notifyOn[phase] = true
	}

	return &Pipeline{
		config:        cfg,
		store:         store,
		deployQueue:   deployQueue,
		smokeQueue:    smokeQueue,
		rollbackQueue: rollbackQueue,
		notifier:      notifier,
		logger:        logx.NewLogger("pipeline"),
		notifyOn:      notifyOn,
		listeners:     make(map[uint64]func(*DeploymentStatus)),
		lastNotified:  make(map[string]Phase),
		streamCancels: make(map[string]func()),
	}, nil
}

// TriggerDeployment validates the PR number, dispatches a deploy task,
// writes the initial queued status record, optionally begins streaming
// store changes, and sends a "requested" notification. Returns the new
// deployment ID.
func (p *Pipeline) TriggerDeployment(ctx context.Context, prNumber int) (string, error) {
	if prNumber <= 0 {
		return "", NewValidationError("PR number must be a positive integer, got %d", prNumber)
	}
	if p.deployQueue == nil {
		return "", ErrDeployQueueNotConfigured
	}

	deploymentID := GenerateDeploymentID()
	now := time.Now().UTC()

	task := DeployTask{
		DeploymentID:      deploymentID,
		PRNumber:          prNumber,
		TargetEnvironment: p.config.Environment,
		RequestedAt:       now,
	}
	if err := p.deployQueue.Enqueue(ctx, task, p.config.DeployDeadline); err != nil {
		return "", &QueueDispatchError{Queue: "deploy", Err: err}
	}

	phase := PhaseQueued
	status, err := p.store.Upsert(ctx, deploymentID, StatusPatch{
		PRNumber:    &prNumber,
		Phase:       &phase,
		Environment: &p.config.Environment,
	})
	if err != nil {
		return "", &StatusStoreError{Op: "upsert", Err: err}
	}

	p.mu.Lock()
	p.lastDeploymentID = deploymentID
	p.mu.Unlock()

	if p.config.StreamStatus {
		cancel, err := p.store.Subscribe(deploymentID, p.handleStoreEvent)
		if err != nil {
			return "", &StatusStoreError{Op: "subscribe", Err: err}
		}
		p.mu.Lock()
		p.streamCancels[deploymentID] = cancel
		p.mu.Unlock()
	}

	p.logger.Info("Deployment %s queued for PR #%d (%s)", deploymentID, prNumber, p.config.Environment)
	p.fanout(status)

	if p.notifier != nil {
		p.notifier.Notify(ctx, NotificationPayload{
			Message:      "Deployment requested",
			Environment:  p.config.Environment,
			PRNumber:     prNumber,
			DeploymentID: deploymentID,
		})
	}

	return deploymentID, nil
}

// CheckDeployStatus reads the current snapshot for a deployment; an empty
// deploymentID means the most recently triggered one. Returns (nil, nil)
// when no record exists yet.
func (p *Pipeline) CheckDeployStatus(ctx context.Context, deploymentID string) (*DeploymentStatus, error) {
	deploymentID, err := p.resolveID(deploymentID)
	if err != nil {
		return nil, err
	}

	status, err := p.store.Get(ctx, deploymentID)
	if err != nil {
		return nil, &StatusStoreError{Op: "get", Err: err}
	}
	return status, nil
}

// RunSmokeTests dispatches a smoke-test task and transitions the deployment
// to smoke_testing. Requires a configured smoke-test queue.
func (p *Pipeline) RunSmokeTests(ctx context.Context, deploymentID string) error {
	if p.smokeQueue == nil {
		return ErrSmokeQueueNotConfigured
	}

	deploymentID, err := p.resolveID(deploymentID)
	if err != nil {
		return err
	}
	status, err := p.store.Get(ctx, deploymentID)
	if err != nil {
		return &StatusStoreError{Op: "get", Err: err}
	}
	if status == nil {
		return ErrDeploymentNotFound
	}
	// Reject the transition before dispatching: an illegal request must
	// leave no queued work behind.
	if !CanTransition(status.Phase, PhaseSmokeTesting) {
		return &InvalidTransitionError{DeploymentID: deploymentID, From: status.Phase, To: PhaseSmokeTesting}
	}

	task := SmokeTestTask{
		DeploymentID: deploymentID,
		PRNumber:     status.PRNumber,
		RequestedAt:  time.Now().UTC(),
	}
	if err := p.smokeQueue.Enqueue(ctx, task, p.config.SmokeDeadline); err != nil {
		return &QueueDispatchError{Queue: "smoke-test", Err: err}
	}

	return p.transition(ctx, status, PhaseSmokeTesting, nil)
}

// RollbackOnFailure dispatches a rollback task, transitions the deployment
// to rollback_initiated, and records the reason as the status error field.
// Requires a configured rollback queue.
func (p *Pipeline) RollbackOnFailure(ctx context.Context, deploymentID, reason string) error {
	if p.rollbackQueue == nil {
		return ErrRollbackQueueNotConfigured
	}

	deploymentID, err := p.resolveID(deploymentID)
	if err != nil {
		return err
	}
	status, err := p.store.Get(ctx, deploymentID)
	if err != nil {
		return &StatusStoreError{Op: "get", Err: err}
	}
	if status == nil {
		return ErrDeploymentNotFound
	}
	if !CanTransition(status.Phase, PhaseRollbackInitiated) {
		return &InvalidTransitionError{DeploymentID: deploymentID, From: status.Phase, To: PhaseRollbackInitiated}
	}

	task := RollbackTask{
		DeploymentID: deploymentID,
		PRNumber:     status.PRNumber,
		Reason:       reason,
		RequestedAt:  time.Now().UTC(),
	}
	if err := p.rollbackQueue.Enqueue(ctx, task, p.config.RollbackDeadline); err != nil {
		return &QueueDispatchError{Queue: "rollback", Err: err}
	}

	var patch StatusPatch
	if reason != "" {
		patch.Error = &reason
	}
	return p.transition(ctx, status, PhaseRollbackInitiated, &patch)
}

// OnStatusUpdate registers a listener for every status change and returns an
// unsubscribe closure.
func (p *Pipeline) OnStatusUpdate(listener func(*DeploymentStatus)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextListenerID++
	id := p.nextListenerID
	p.listeners[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.listeners, id)
		})
	}
}

// Close cancels stream subscriptions and drops all listeners.
func (p *Pipeline) Close() {
	p.mu.Lock()
	cancels := make([]func(), 0, len(p.streamCancels))
	for _, cancel := range p.streamCancels {
		cancels = append(cancels, cancel)
	}
	p.streamCancels = make(map[string]func())
	p.listeners = make(map[uint64]func(*DeploymentStatus))
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (p *Pipeline) resolveID(deploymentID string) (string, error) {
	if deploymentID != "" {
		return deploymentID, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastDeploymentID == "" {
		return "", ErrDeploymentNotFound
	}
	return p.lastDeploymentID, nil
}

// transition enforces the phase table, merges the patch, and publishes the
// updated record.
func (p *Pipeline) transition(ctx context.Context, current *DeploymentStatus, to Phase, patch *StatusPatch) error {
	if !CanTransition(current.Phase, to) {
		return &InvalidTransitionError{DeploymentID: current.DeploymentID, From: current.Phase, To: to}
	}

	merged := StatusPatch{Phase: &to}
	if patch != nil {
		merged.Error = patch.Error
		merged.SmokeTestResult = patch.SmokeTestResult
	}

	updated, err := p.store.Upsert(ctx, current.DeploymentID, merged)
	if err != nil {
		return &StatusStoreError{Op: "upsert", Err: err}
	}

	p.logger.Info("Deployment %s: %s -> %s", current.DeploymentID, current.Phase, to)
	p.fanout(updated)
	return nil
}

// handleStoreEvent receives changes written by external workers through the
// store subscription.
func (p *Pipeline) handleStoreEvent(status *DeploymentStatus) {
	p.fanout(status)
}

// fanout pushes a status change to all listeners and, when the phase is
// newly reached and on the allow-list, dispatches notifications.
func (p *Pipeline) fanout(status *DeploymentStatus) {
	p.mu.Lock()
	listeners := make([]func(*DeploymentStatus), 0, len(p.listeners))
	for _, listener := range p.listeners {
		listeners = append(listeners, listener)
	}
	p.mu.Unlock()

	for _, listener := range listeners {
		listener(status)
	}

	p.maybeNotify(status)
}

// maybeNotify sends a phase notification when (a) notifications are
// configured, (b) the phase differs from the last notified phase for this
// deployment, and (c) the phase is on the allow-list. Redundant status-store
// events therefore never produce duplicate alerts.
func (p *Pipeline) maybeNotify(status *DeploymentStatus) {
	if p.notifier == nil {
		return
	}

	p.mu.Lock()
	if p.lastNotified[status.DeploymentID] == status.Phase {
		p.mu.Unlock()
		return
	}
	if !p.notifyOn[status.Phase] {
		p.mu.Unlock()
		return
	}
	p.lastNotified[status.DeploymentID] = status.Phase
	p.mu.Unlock()

	payload := NotificationPayload{
		Message:      "Deployment " + string(status.Phase),
		Environment:  status.Environment,
		PRNumber:     status.PRNumber,
		DeploymentID: status.DeploymentID,
		Phase:        status.Phase,
	}
	if status.Phase == PhaseFailed || status.Phase == PhaseRollbackFailed {
		payload.Error = status.Error
	}
	p.notifier.Notify(context.Background(), payload)
}
