// Package service implements the Task Service port (C8): task submission
// and read-through queries, backed by the Durable Store and the routing
// table (spec.md §4.8).
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskhub/internal/apperrors"
	domainexecution "taskhub/internal/domain/execution"
	domaintask "taskhub/internal/domain/task"
	"taskhub/internal/eventlog"
	"taskhub/internal/idgen"
	"taskhub/internal/logging"
	"taskhub/internal/routing"
)

// Service is the Task Service.
type Service struct {
	store   domaintask.Store
	log     eventlog.Log
	routing *routing.Registry
	logger  logging.Logger
}

// New builds a Service.
func New(store domaintask.Store, log eventlog.Log, routing *routing.Registry) *Service {
	return &Service{store: store, log: log, routing: routing, logger: logging.NewComponentLogger("TaskService")}
}

// CreateTask persists a new task QUEUED for ownerID and enqueues an
// execution request. If enqueue fails, the task's status is updated to
// FAILED with the error message and the failure is re-surfaced.
func (s *Service) CreateTask(ctx context.Context, ownerID string, taskType domaintask.Type, rawPayload json.RawMessage) (*domaintask.Task, error) {
	dest, err := s.routing.Resolve(taskType)
	if err != nil {
		return nil, err
	}

	payload, err := domaintask.DecodePayload(taskType, rawPayload)
	if err != nil {
		return nil, apperrors.InvalidEvent(fmt.Sprintf("decode payload: %v", err))
	}

	now := time.Now().UTC()
	task := &domaintask.Task{
		ID:      idgen.NewTaskID(),
		OwnerID: ownerID,
		Type:    taskType,
		Payload: payload,
		Status:  domaintask.TaskStatus{State: domaintask.StatusQueued},
		Metadata: domaintask.Metadata{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	req := domainexecution.Request{TaskID: task.ID, OwnerID: ownerID, Type: taskType, Payload: rawPayload}
	if _, err := s.log.Append(ctx, dest.Stream, req.Fields(), 0, false); err != nil {
		failMsg := fmt.Sprintf("enqueue failed: %v", err)
		failedStatus := domaintask.TaskStatus{State: domaintask.StatusFailed, Message: failMsg}
		if updateErr := s.store.UpdateStatus(ctx, task.ID, failedStatus, nil); updateErr != nil {
			s.logger.Error("failed to persist FAILED status after enqueue failure for task %s: %v", task.ID, updateErr)
		}
		task.Status = failedStatus
		return task, apperrors.Wrap(apperrors.KindTransient, "enqueue execution request", err)
	}

	return task, nil
}

// GetStatus delegates to the Durable Store.
func (s *Service) GetStatus(ctx context.Context, ownerID, taskID string) (*domaintask.TaskStatus, error) {
	return s.store.GetStatus(ctx, ownerID, taskID)
}

// GetResult delegates to the Durable Store.
func (s *Service) GetResult(ctx context.Context, ownerID, taskID string) (*domaintask.Result, error) {
	return s.store.GetResult(ctx, ownerID, taskID)
}

// ListTasks delegates to the Durable Store.
func (s *Service) ListTasks(ctx context.Context, ownerID string, filter domaintask.ListFilter) ([]domaintask.View, error) {
	return s.store.ListTasks(ctx, ownerID, filter)
}
