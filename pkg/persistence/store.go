package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"mergepilot/pkg/logx"
	"mergepilot/pkg/pipeline"
)

// Store is the SQLite-backed deployment status store. Writes are serialized
// through a single mutex on top of SQLite's single-writer connection, so an
// upsert-merge never interleaves with another write. Change subscriptions
// are in-process only.
type Store struct {
	db     *sql.DB
	logger *logx.Logger

	mu     sync.Mutex
	subs   map[string]map[uint64]func(*pipeline.DeploymentStatus)
	nextID uint64
}

// NewStore creates a status store on an initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: logx.NewLogger("persistence"),
		subs:   make(map[string]map[uint64]func(*pipeline.DeploymentStatus)),
	}
}

// Get returns the stored status, or (nil, nil) when no record exists.
func (s *Store) Get(ctx context.Context, deploymentID string) (*pipeline.DeploymentStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT deployment_id, pr_number, phase, environment, error, smoke_test_result, created_at, updated_at
		FROM deployments WHERE deployment_id = ?
	`, deploymentID)

	status, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment %s: %w", deploymentID, err)
	}
	return status, nil
}

// Upsert merges the patch into the stored record, creating it when absent,
// and returns the updated snapshot. Subscribers receive the snapshot after
// the write commits.
func (s *Store) Upsert(ctx context.Context, deploymentID string, patch pipeline.StatusPatch) (*pipeline.DeploymentStatus, error) {
	s.mu.Lock()
	status, err := s.upsertLocked(ctx, deploymentID, patch)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	subs := make([]func(*pipeline.DeploymentStatus), 0, len(s.subs[deploymentID]))
	for _, fn := range s.subs[deploymentID] {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		copied := *status
		fn(&copied)
	}
	return status, nil
}

func (s *Store) upsertLocked(ctx context.Context, deploymentID string, patch pipeline.StatusPatch) (*pipeline.DeploymentStatus, error) {
	existing, err := s.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := existing
	if status == nil {
		status = &pipeline.DeploymentStatus{
			DeploymentID: deploymentID,
			Phase:        pipeline.PhaseQueued,
			CreatedAt:    now,
		}
	}
	if patch.PRNumber != nil {
		status.PRNumber = *patch.PRNumber
	}
	if patch.Phase != nil {
		status.Phase = *patch.Phase
	}
	if patch.Environment != nil {
		status.Environment = *patch.Environment
	}
	if patch.Error != nil {
		status.Error = *patch.Error
	}
	if patch.SmokeTestResult != nil {
		status.SmokeTestResult = patch.SmokeTestResult
	}
	status.UpdatedAt = now

	var smokeJSON sql.NullString
	if status.SmokeTestResult != nil {
		encoded, err := json.Marshal(status.SmokeTestResult)
		if err != nil {
			return nil, fmt.Errorf("failed to encode smoke test result: %w", err)
		}
		smokeJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (deployment_id, pr_number, phase, environment, error, smoke_test_result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deployment_id) DO UPDATE SET
			pr_number = excluded.pr_number,
			phase = excluded.phase,
			environment = excluded.environment,
			error = excluded.error,
			smoke_test_result = excluded.smoke_test_result,
			updated_at = excluded.updated_at
	`, status.DeploymentID, status.PRNumber, string(status.Phase), status.Environment,
		status.Error, smokeJSON, status.CreatedAt, status.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert deployment %s: %w", deploymentID, err)
	}

	s.logger.Debug("Upserted deployment %s (phase %s)", deploymentID, status.Phase)
	return status, nil
}

// Subscribe registers a callback invoked on every change to the given
// deployment. Returns an unsubscribe closure.
func (s *Store) Subscribe(deploymentID string, fn func(*pipeline.DeploymentStatus)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[deploymentID] == nil {
		s.subs[deploymentID] = make(map[uint64]func(*pipeline.DeploymentStatus))
	}
	s.nextID++
	id := s.nextID
	s.subs[deploymentID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[deploymentID], id)
		})
	}, nil
}

// ListByPR returns all deployments for a PR, most recent first.
func (s *Store) ListByPR(ctx context.Context, prNumber int) ([]*pipeline.DeploymentStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT deployment_id, pr_number, phase, environment, error, smoke_test_result, created_at, updated_at
		FROM deployments WHERE pr_number = ? ORDER BY created_at DESC
	`, prNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments for PR %d: %w", prNumber, err)
	}
	defer func() { _ = rows.Close() }()

	var statuses []*pipeline.DeploymentStatus
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment row: %w", err)
		}
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deployment rows: %w", err)
	}
	return statuses, nil
}

// CountByPhase returns the number of deployments currently in each phase.
func (s *Store) CountByPhase(ctx context.Context) (map[pipeline.Phase]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT phase, COUNT(*) FROM deployments GROUP BY phase")
	if err != nil {
		return nil, fmt.Errorf("failed to count deployments by phase: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[pipeline.Phase]int)
	for rows.Next() {
		var phase string
		var count int
		if err := rows.Scan(&phase, &count); err != nil {
			return nil, fmt.Errorf("failed to scan phase count: %w", err)
		}
		counts[pipeline.Phase(phase)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate phase counts: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (*pipeline.DeploymentStatus, error) {
	var status pipeline.DeploymentStatus
	var phase string
	var smokeJSON sql.NullString
	err := row.Scan(&status.DeploymentID, &status.PRNumber, &phase, &status.Environment,
		&status.Error, &smokeJSON, &status.CreatedAt, &status.UpdatedAt)
	if err != nil {
		return nil, err
	}
	status.Phase = pipeline.Phase(phase)

	if smokeJSON.Valid && smokeJSON.String != "" {
		var result pipeline.SmokeTestResult
		if err := json.Unmarshal([]byte(smokeJSON.String), &result); err != nil {
			return nil, fmt.Errorf("failed to decode smoke test result: %w", err)
		}
		status.SmokeTestResult = &result
	}
	return &status, nil
}
