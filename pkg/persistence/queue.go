package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mergepilot/pkg/logx"
)

// ErrQueueEmpty is returned by Dequeue when no pending task exists.
var ErrQueueEmpty = errors.New("queue empty")

// Task is a claimed queue entry. The ID is needed to complete it.
type Task[T any] struct {
	ID         int64
	Payload    T
	EnqueuedAt time.Time
}

// Queue is a durable FIFO task queue on the shared SQLite database. Tasks
// survive restarts; a claimed task stays claimed until completed, so a
// crashed worker leaves it visible for inspection rather than silently
// redelivered.
type Queue[T any] struct {
	db     *sql.DB
	name   string
	logger *logx.Logger
}

// NewQueue creates a named queue on an initialized database.
func NewQueue[T any](db *sql.DB, name string) *Queue[T] {
	return &Queue[T]{
		db:     db,
		name:   name,
		logger: logx.NewLogger("queue:" + name),
	}
}

// Enqueue appends a task. A non-zero deadline is recorded for the consumer
// to enforce.
func (q *Queue[T]) Enqueue(ctx context.Context, payload T, deadline time.Duration) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode task payload: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (queue, payload, deadline_ms, status, enqueued_at)
		VALUES (?, ?, ?, 'pending', ?)
	`, q.name, string(encoded), deadline.Milliseconds(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to enqueue task on %s: %w", q.name, err)
	}

	q.logger.Debug("Enqueued task on %s", q.name)
	return nil
}

// Dequeue claims the oldest pending task. Returns ErrQueueEmpty when there
// is nothing to do.
func (q *Queue[T]) Dequeue(ctx context.Context) (*Task[T], error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin dequeue transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id         int64
		payload    string
		enqueuedAt time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, payload, enqueued_at FROM tasks
		WHERE queue = ? AND status = 'pending'
		ORDER BY id LIMIT 1
	`, q.name).Scan(&id, &payload, &enqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pending task on %s: %w", q.name, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'claimed', claimed_at = ? WHERE id = ?
	`, time.Now().UTC(), id); err != nil {
		return nil, fmt.Errorf("failed to claim task %d on %s: %w", id, q.name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dequeue on %s: %w", q.name, err)
	}

	task := &Task[T]{ID: id, EnqueuedAt: enqueuedAt}
	if err := json.Unmarshal([]byte(payload), &task.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode task %d payload: %w", id, err)
	}
	return task, nil
}

// Complete marks a claimed task done.
func (q *Queue[T]) Complete(ctx context.Context, taskID int64) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'done', completed_at = ? WHERE id = ? AND queue = ?
	`, time.Now().UTC(), taskID, q.name)
	if err != nil {
		return fmt.Errorf("failed to complete task %d on %s: %w", taskID, q.name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check completion of task %d: %w", taskID, err)
	}
	if affected == 0 {
		return fmt.Errorf("task %d not found on queue %s", taskID, q.name)
	}
	return nil
}

// Depth returns the number of pending tasks.
func (q *Queue[T]) Depth(ctx context.Context) (int, error) {
	var depth int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tasks WHERE queue = ? AND status = 'pending'", q.name,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to measure depth of %s: %w", q.name, err)
	}
	return depth, nil
}
