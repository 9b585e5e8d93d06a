// Package plan models an orchestration plan: a set of learning tasks with
// dependency edges and the readiness rules that drive their execution.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"flame_academy/internal/domain"
)

var (
	ErrDuplicateTask     = errors.New("duplicate task id")
	ErrUnknownDependency = errors.New("dependency is not part of the plan")
	ErrCycleDetected     = errors.New("plan dependencies contain a cycle")
)

// Plan is not safe for concurrent mutation of the task set. Tasks may be
// transitioned concurrently as long as each goroutine owns distinct tasks.
type Plan struct {
	ID        string
	Name      string
	LearnerID string
	Mode      domain.ExecutionMode
	CreatedAt time.Time

	tasks map[string]*Task
	order []string
}

func New(id, name, learnerID string, mode domain.ExecutionMode) *Plan {
	return &Plan{
		ID:        id,
		Name:      name,
		LearnerID: learnerID,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
		tasks:     make(map[string]*Task),
	}
}

func (p *Plan) AddTask(t *Task) error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if _, ok := p.tasks[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	if t.Status == "" {
		t.Status = domain.TaskStatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	p.tasks[t.ID] = t
	p.order = append(p.order, t.ID)
	return nil
}

func (p *Plan) Task(id string) (*Task, bool) {
	t, ok := p.tasks[id]
	return t, ok
}

// Tasks returns tasks in insertion order.
func (p *Plan) Tasks() []*Task {
	out := make([]*Task, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.tasks[id])
	}
	return out
}

func (p *Plan) Len() int {
	return len(p.order)
}

func (p *Plan) Validate() error {
	for _, id := range p.order {
		for _, dep := range p.tasks[id].Dependencies {
			if dep == id {
				return fmt.Errorf("%w: task %s depends on itself", ErrCycleDetected, id)
			}
			if _, ok := p.tasks[dep]; !ok {
				return fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, id, dep)
			}
		}
	}
	if p.hasCycle() {
		return ErrCycleDetected
	}
	return nil
}

func (p *Plan) hasCycle() bool {
	visiting := map[string]bool{}
	visited := map[string]bool{}
	var dfs func(id string) bool
	dfs = func(id string) bool {
		if visiting[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visiting[id] = true
		for _, dep := range p.tasks[id].Dependencies {
			if dfs(dep) {
				return true
			}
		}
		visiting[id] = false
		visited[id] = true
		return false
	}
	for _, id := range p.order {
		if dfs(id) {
			return true
		}
	}
	return false
}

// ReadyTasks returns pending tasks whose dependencies have all completed,
// highest priority first. Equal priorities keep insertion order.
func (p *Plan) ReadyTasks() []*Task {
	var ready []*Task
	for _, id := range p.order {
		t := p.tasks[id]
		if t.Status != domain.TaskStatusPending {
			continue
		}
		if p.dependenciesCompleted(t) {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority > ready[j].Priority
	})
	return ready
}

func (p *Plan) dependenciesCompleted(t *Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := p.tasks[dep]
		if !ok || d.Status != domain.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// IsComplete is true when every task is completed or skipped. Failed tasks
// keep a plan incomplete.
func (p *Plan) IsComplete() bool {
	for _, t := range p.tasks {
		if t.Status != domain.TaskStatusCompleted && t.Status != domain.TaskStatusSkipped {
			return false
		}
	}
	return true
}

func (p *Plan) InProgress() int {
	n := 0
	for _, t := range p.tasks {
		if t.Status == domain.TaskStatusInProgress {
			n++
		}
	}
	return n
}

func (p *Plan) DependencyEdges() int {
	n := 0
	for _, t := range p.tasks {
		n += len(t.Dependencies)
	}
	return n
}

type Progress struct {
	PlanID     string  `json:"plan_id" yaml:"plan_id"`
	Total      int     `json:"total" yaml:"total"`
	Completed  int     `json:"completed" yaml:"completed"`
	Failed     int     `json:"failed" yaml:"failed"`
	Skipped    int     `json:"skipped" yaml:"skipped"`
	Pending    int     `json:"pending" yaml:"pending"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
	IsComplete bool    `json:"is_complete" yaml:"is_complete"`
}

// Progress counts in-progress tasks as pending.
func (p *Plan) Progress() Progress {
	pr := Progress{PlanID: p.ID, Total: len(p.tasks)}
	for _, t := range p.tasks {
		switch t.Status {
		case domain.TaskStatusCompleted:
			pr.Completed++
		case domain.TaskStatusFailed:
			pr.Failed++
		case domain.TaskStatusSkipped:
			pr.Skipped++
		default:
			pr.Pending++
		}
	}
	if pr.Total > 0 {
		pr.Percentage = float64(pr.Completed) / float64(pr.Total) * 100
	}
	pr.IsComplete = p.IsComplete()
	return pr
}
