package plan

import (
	"errors"
	"fmt"
	"time"

	"flame_academy/internal/domain"
)

var ErrInvalidTransition = errors.New("invalid task status transition")

// Task is one unit of work in a plan. Status only moves along
// pending -> in_progress -> completed|failed, or pending -> skipped.
type Task struct {
	ID           string
	Description  string
	TaskType     domain.TaskType
	AgentID      string
	Topic        string
	Priority     int
	Dependencies []string

	Status      domain.TaskStatus
	Result      *domain.Response
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (t *Task) transition(from, to domain.TaskStatus) error {
	if t.Status != from {
		return fmt.Errorf("%w: task %s is %s, cannot move to %s", ErrInvalidTransition, t.ID, t.Status, to)
	}
	t.Status = to
	return nil
}

func (t *Task) Start() error {
	if err := t.transition(domain.TaskStatusPending, domain.TaskStatusInProgress); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.StartedAt = &now
	return nil
}

func (t *Task) Complete(resp domain.Response) error {
	if err := t.transition(domain.TaskStatusInProgress, domain.TaskStatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.Result = &resp
	t.CompletedAt = &now
	return nil
}

func (t *Task) Fail(msg string) error {
	if err := t.transition(domain.TaskStatusInProgress, domain.TaskStatusFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.Error = msg
	t.CompletedAt = &now
	return nil
}

func (t *Task) Skip() error {
	return t.transition(domain.TaskStatusPending, domain.TaskStatusSkipped)
}
