// Package queue schedules durable one-shot deletions on asynq. Tasks are
// processed by cmd/worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// ExpireFileTask is scheduled for each upload, to run at its expiry.
	ExpireFileTask = "file:expire"

	maxRetry = 10
)

// ExpirePayload is serialized into the task payload so the worker knows which
// file to delete.
type ExpirePayload struct {
	ShareID string `json:"share_id"`
}

// NewExpireTask builds the task for shareID.
func NewExpireTask(shareID string) (*asynq.Task, error) {
	data, err := json.Marshal(ExpirePayload{ShareID: shareID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ExpireFileTask, data), nil
}

// ParseExpirePayload decodes a task payload.
func ParseExpirePayload(task *asynq.Task) (ExpirePayload, error) {
	var p ExpirePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if p.ShareID == "" {
		return p, errors.New("decode payload: missing share_id")
	}
	return p, nil
}

// TaskID is the dedupe key for a file's expiry task.
func TaskID(shareID string) string {
	return "expire:" + shareID
}

// Scheduler enqueues expiry tasks. It satisfies expiry.Scheduler.
type Scheduler struct {
	client *asynq.Client
}

// NewScheduler wraps an asynq client; the caller closes it.
func NewScheduler(client *asynq.Client) *Scheduler {
	return &Scheduler{client: client}
}

// ScheduleExpiry enqueues deletion of shareID at at. Scheduling the same file
// twice (for instance on every server start) keeps the first task.
func (s *Scheduler) ScheduleExpiry(ctx context.Context, shareID string, at time.Time) error {
	task, err := NewExpireTask(shareID)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(at),
		asynq.TaskID(TaskID(shareID)),
		asynq.MaxRetry(maxRetry),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue expire task: %w", err)
	}
	return nil
}
