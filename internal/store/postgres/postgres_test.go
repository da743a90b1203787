package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"taskhub/internal/apperrors"
	domaintask "taskhub/internal/domain/task"
)

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := New(pool)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, pool
}

func sampleTask() *domaintask.Task {
	now := time.Unix(1_700_000_000, 0).UTC()
	digits := 100
	return &domaintask.Task{
		ID:      "task-1",
		OwnerID: "owner-1",
		Type:    domaintask.TypeComputePi,
		Payload: domaintask.Payload{Type: domaintask.TypeComputePi, ComputePi: &domaintask.ComputePiPayload{Digits: digits}},
		Status:  domaintask.TaskStatus{State: domaintask.StatusQueued},
		Metadata: domaintask.Metadata{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func TestCreateTaskInsertsAllRows(t *testing.T) {
	s, pool := newTestStore(t)
	ctx := context.Background()
	task := sampleTask()

	pool.ExpectBegin()
	pool.ExpectExec("INSERT INTO tasks").
		WithArgs(task.ID, task.OwnerID, string(task.Type)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("INSERT INTO task_payloads").
		WithArgs(task.ID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("INSERT INTO task_statuses").
		WithArgs(task.ID, string(task.Status.State), pgxmock.AnyArg(), task.Status.Message, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("INSERT INTO task_metadata").
		WithArgs(task.ID, task.Metadata.CreatedAt, task.Metadata.UpdatedAt, task.Metadata.StartedAt, task.Metadata.FinishedAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateTaskConflictMapsToApperror(t *testing.T) {
	s, pool := newTestStore(t)
	ctx := context.Background()
	task := sampleTask()

	pool.ExpectBegin()
	pool.ExpectExec("INSERT INTO tasks").
		WithArgs(task.ID, task.OwnerID, string(task.Type)).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})
	pool.ExpectRollback()

	err := s.CreateTask(ctx, task)
	if !apperrors.Is(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestGetTaskMissingReturnsNotFound(t *testing.T) {
	s, pool := newTestStore(t)
	ctx := context.Background()

	pool.ExpectQuery("SELECT owner_id FROM tasks").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"owner_id"}))

	_, err := s.GetTask(ctx, "owner-1", "missing")
	if !apperrors.Is(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// TestUpdateStatusUpsertGuardsAgainstTerminalRegression pins down that the
// upsert's CASE expressions (not just application logic) are what keep a
// late RUNNING update from clobbering an already-terminal row: pgxmock
// asserts the literal SQL text sent to Postgres contains the guard.
func TestUpdateStatusUpsertGuardsAgainstTerminalRegression(t *testing.T) {
	s, pool := newTestStore(t)
	ctx := context.Background()
	status := domaintask.TaskStatus{State: domaintask.StatusRunning}

	pool.ExpectQuery("SELECT owner_id FROM tasks").
		WithArgs("task-1").
		WillReturnRows(pgxmock.NewRows([]string{"owner_id"}).AddRow("owner-1"))
	pool.ExpectBegin()
	pool.ExpectExec(`ON CONFLICT \(task_id\) DO UPDATE SET\s+state = CASE`).
		WithArgs("task-1", string(status.State), pgxmock.AnyArg(), status.Message, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("UPDATE task_metadata SET").
		WithArgs("task-1", pgxmock.AnyArg(), nil, nil, nil).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectCommit()

	if err := s.UpdateStatus(ctx, "task-1", status, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetTaskWrongOwnerReturnsAccessDenied(t *testing.T) {
	s, pool := newTestStore(t)
	ctx := context.Background()

	pool.ExpectQuery("SELECT owner_id FROM tasks").
		WithArgs("task-1").
		WillReturnRows(pgxmock.NewRows([]string{"owner_id"}).AddRow("someone-else"))

	_, err := s.GetTask(ctx, "owner-1", "task-1")
	if !apperrors.Is(err, apperrors.KindAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}
