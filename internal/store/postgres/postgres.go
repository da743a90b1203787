// Package postgres implements the Durable Store port (task.Store) on top of
// PostgreSQL via pgx/v5, grounded on the upsert-with-ON-CONFLICT style of
// the teacher's internal/delivery/channels/lark/task_store_postgres.go.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"taskhub/internal/apperrors"
	domaintask "taskhub/internal/domain/task"
	"taskhub/internal/logging"
)

const uniqueViolation = "23505"

// pgxIface is the subset of *pgxpool.Pool this store needs. Narrowing to an
// interface lets tests substitute pgxmock.PgxPoolIface.
type pgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a pgx-backed implementation of task.Store.
type Store struct {
	pool   pgxIface
	logger logging.Logger
}

// New wraps an existing pool (typically *pgxpool.Pool; a pgxmock.PgxPoolIface
// in tests).
func New(pool pgxIface) (*Store, error) {
	if pool == nil {
		return nil, errors.New("postgres: nil pool")
	}
	return &Store{pool: pool, logger: logging.NewComponentLogger("DurableStore")}, nil
}

var _ domaintask.Store = (*Store)(nil)

// EnsureSchema creates the five logical tables (spec.md §6) if absent, with
// child rows cascade-deleting with the task.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			task_type TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_payloads (
			task_id TEXT PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
			data JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_metadata (
			task_id TEXT PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			custom JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS task_statuses (
			task_id TEXT PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
			state TEXT NOT NULL,
			progress JSONB,
			message TEXT,
			metrics JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS task_results (
			task_id TEXT PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
			data JSONB NOT NULL,
			expires_at TIMESTAMPTZ,
			ttl_seconds INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks (owner_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner_type_state ON tasks (owner_id, task_type)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CreateTask persists Task, payload, initial status, and metadata
// atomically in one transaction.
func (s *Store) CreateTask(ctx context.Context, t *domaintask.Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create task: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO tasks (id, owner_id, task_type) VALUES ($1, $2, $3)`,
		t.ID, t.OwnerID, string(t.Type)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.Conflict(t.ID)
		}
		return fmt.Errorf("insert task: %w", err)
	}

	payloadJSON, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO task_payloads (task_id, data) VALUES ($1, $2)`, t.ID, payloadJSON); err != nil {
		return fmt.Errorf("insert payload: %w", err)
	}

	progressJSON, err := json.Marshal(t.Status.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	metricsJSON, err := json.Marshal(t.Status.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO task_statuses (task_id, state, progress, message, metrics) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, string(t.Status.State), progressJSON, t.Status.Message, metricsJSON); err != nil {
		return fmt.Errorf("insert status: %w", err)
	}

	customJSON, err := json.Marshal(t.Metadata.Custom)
	if err != nil {
		return fmt.Errorf("marshal metadata custom: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO task_metadata (task_id, created_at, updated_at, started_at, finished_at, custom)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Metadata.CreatedAt, t.Metadata.UpdatedAt, t.Metadata.StartedAt, t.Metadata.FinishedAt, customJSON); err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create task: %w", err)
	}
	return nil
}

// ownerOf returns the owner_id of taskID, or apperrors.NotFound if absent.
func (s *Store) ownerOf(ctx context.Context, taskID string) (string, error) {
	var owner string
	err := s.pool.QueryRow(ctx, `SELECT owner_id FROM tasks WHERE id = $1`, taskID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.NotFound(taskID)
	}
	if err != nil {
		return "", fmt.Errorf("lookup owner: %w", err)
	}
	return owner, nil
}

// checkOwnership resolves NotFound vs AccessDenied for a (ownerID, taskID)
// read, per spec.md §4.1 "Access control".
func (s *Store) checkOwnership(ctx context.Context, ownerID, taskID string) error {
	owner, err := s.ownerOf(ctx, taskID)
	if err != nil {
		return err
	}
	if owner != ownerID {
		return apperrors.AccessDenied(taskID)
	}
	return nil
}

// GetTask returns the full joined aggregate for ownerID's task.
func (s *Store) GetTask(ctx context.Context, ownerID, taskID string) (*domaintask.Task, error) {
	if err := s.checkOwnership(ctx, ownerID, taskID); err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		SELECT t.id, t.owner_id, t.task_type,
		       p.data,
		       st.state, st.progress, st.message, st.metrics,
		       m.created_at, m.updated_at, m.started_at, m.finished_at, m.custom
		FROM tasks t
		JOIN task_payloads p ON p.task_id = t.id
		JOIN task_statuses st ON st.task_id = t.id
		JOIN task_metadata m ON m.task_id = t.id
		WHERE t.id = $1`, taskID)

	var (
		id, owner, taskType                 string
		payloadRaw, progressRaw, metricsRaw []byte
		customRaw                           []byte
		state, message                      string
		createdAt, updatedAt                time.Time
		startedAt, finishedAt               *time.Time
	)
	if err := row.Scan(&id, &owner, &taskType, &payloadRaw, &state, &progressRaw, &message, &metricsRaw,
		&createdAt, &updatedAt, &startedAt, &finishedAt, &customRaw); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	payload, err := domaintask.DecodePayload(domaintask.Type(taskType), payloadRaw)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var progress domaintask.Progress
	if len(progressRaw) > 0 {
		if err := json.Unmarshal(progressRaw, &progress); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
	}
	var metrics map[string]string
	if len(metricsRaw) > 0 {
		if err := json.Unmarshal(metricsRaw, &metrics); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
	}
	var custom map[string]string
	if len(customRaw) > 0 {
		if err := json.Unmarshal(customRaw, &custom); err != nil {
			return nil, fmt.Errorf("decode custom metadata: %w", err)
		}
	}

	t := &domaintask.Task{
		ID:      id,
		OwnerID: owner,
		Type:    domaintask.Type(taskType),
		Payload: payload,
		Status: domaintask.TaskStatus{
			State:    domaintask.Status(state),
			Progress: progress,
			Message:  message,
			Metrics:  metrics,
		},
		Metadata: domaintask.Metadata{
			CreatedAt:  createdAt,
			UpdatedAt:  updatedAt,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
			Custom:     custom,
		},
	}

	result, err := s.loadResult(ctx, taskID)
	if err != nil {
		return nil, err
	}
	t.Result = result
	return t, nil
}

func (s *Store) loadResult(ctx context.Context, taskID string) (*domaintask.Result, error) {
	var (
		dataRaw    []byte
		expiresAt  *time.Time
		ttlSeconds *int
	)
	err := s.pool.QueryRow(ctx, `SELECT data, expires_at, ttl_seconds FROM task_results WHERE task_id = $1`, taskID).
		Scan(&dataRaw, &expiresAt, &ttlSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan result: %w", err)
	}
	return &domaintask.Result{TaskID: taskID, Data: dataRaw, ExpiresAt: expiresAt, TTLSeconds: ttlSeconds}, nil
}

// GetStatus is a convenience projection over GetTask.
func (s *Store) GetStatus(ctx context.Context, ownerID, taskID string) (*domaintask.TaskStatus, error) {
	t, err := s.GetTask(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	return &t.Status, nil
}

// GetResult is a convenience projection over GetTask.
func (s *Store) GetResult(ctx context.Context, ownerID, taskID string) (*domaintask.Result, error) {
	t, err := s.GetTask(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Result == nil {
		return nil, apperrors.NotFound(taskID)
	}
	return t.Result, nil
}

// ListTasks returns an owner-scoped page ordered by task_id ascending.
func (s *Store) ListTasks(ctx context.Context, ownerID string, filter domaintask.ListFilter) ([]domaintask.View, error) {
	limit := filter.Limit
	if limit <= 0 || limit > domaintask.MaxListLimit {
		limit = domaintask.MaxListLimit
	}

	query := `
		SELECT t.id, t.owner_id, t.task_type, st.state, m.created_at, m.updated_at
		FROM tasks t
		JOIN task_statuses st ON st.task_id = t.id
		JOIN task_metadata m ON m.task_id = t.id
		WHERE t.owner_id = $1`
	args := []any{ownerID}

	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND t.task_type = $%d", len(args))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		query += fmt.Sprintf(" AND st.state = $%d", len(args))
	}

	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY t.id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var views []domaintask.View
	for rows.Next() {
		var v domaintask.View
		var taskType, state string
		if err := rows.Scan(&v.ID, &v.OwnerID, &taskType, &state, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan view: %w", err)
		}
		v.Type = domaintask.Type(taskType)
		v.State = domaintask.Status(state)
		views = append(views, v)
	}
	return views, rows.Err()
}

// UpdateStatus merges the status row (upsert) and any non-nil metadata
// fields. Fails with NotFound if the task is missing.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, status domaintask.TaskStatus, meta *domaintask.Metadata) error {
	if _, err := s.ownerOf(ctx, taskID); err != nil {
		return err
	}

	progressJSON, err := json.Marshal(status.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	metricsJSON, err := json.Marshal(status.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update status: %w", err)
	}
	defer tx.Rollback(ctx)

	// Terminal state is monotonic: once a task is COMPLETED, FAILED or
	// CANCELLED, a late or reordered redelivery must never move it back to
	// a non-terminal state.
	if _, err := tx.Exec(ctx, `
		INSERT INTO task_statuses (task_id, state, progress, message, metrics)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id) DO UPDATE SET
			state = CASE
				WHEN task_statuses.state IN ('COMPLETED', 'FAILED', 'CANCELLED')
				THEN task_statuses.state
				ELSE EXCLUDED.state
			END,
			progress = CASE
				WHEN task_statuses.state IN ('COMPLETED', 'FAILED', 'CANCELLED')
				THEN task_statuses.progress
				ELSE EXCLUDED.progress
			END,
			message = CASE
				WHEN task_statuses.state IN ('COMPLETED', 'FAILED', 'CANCELLED')
				THEN task_statuses.message
				ELSE EXCLUDED.message
			END,
			metrics = CASE
				WHEN task_statuses.state IN ('COMPLETED', 'FAILED', 'CANCELLED')
				THEN task_statuses.metrics
				ELSE EXCLUDED.metrics
			END`,
		taskID, string(status.State), progressJSON, status.Message, metricsJSON); err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}

	now := time.Now().UTC()
	finishedAt := interface{}(nil)
	if status.State.IsTerminal() {
		finishedAt = now
	}
	var startedAt any
	var custom []byte
	if meta != nil {
		if meta.StartedAt != nil {
			startedAt = *meta.StartedAt
		}
		if meta.FinishedAt != nil {
			finishedAt = *meta.FinishedAt
		}
		if meta.Custom != nil {
			custom, err = json.Marshal(meta.Custom)
			if err != nil {
				return fmt.Errorf("marshal custom metadata: %w", err)
			}
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE task_metadata SET
			updated_at = $2,
			started_at = COALESCE($3, started_at),
			finished_at = COALESCE($4, finished_at),
			custom = COALESCE($5, custom)
		WHERE task_id = $1`,
		taskID, now, startedAt, finishedAt, nullIfEmpty(custom)); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update status: %w", err)
	}
	return nil
}

// SetResult upserts the result row; if finishedAt is non-nil it is merged
// into metadata.finished_at.
func (s *Store) SetResult(ctx context.Context, result domaintask.Result, finishedAt *time.Time) error {
	if _, err := s.ownerOf(ctx, result.TaskID); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set result: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO task_results (task_id, data, expires_at, ttl_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id) DO UPDATE SET
			data = EXCLUDED.data,
			expires_at = EXCLUDED.expires_at,
			ttl_seconds = EXCLUDED.ttl_seconds`,
		result.TaskID, []byte(result.Data), result.ExpiresAt, result.TTLSeconds); err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}

	if finishedAt != nil {
		if _, err := tx.Exec(ctx, `UPDATE task_metadata SET finished_at = $2, updated_at = $2 WHERE task_id = $1`,
			result.TaskID, *finishedAt); err != nil {
			return fmt.Errorf("update metadata finished_at: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit set result: %w", err)
	}
	return nil
}

func nullIfEmpty(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
