package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"flame_academy/internal/domain"
	"flame_academy/internal/plan"
	"flame_academy/internal/registry"
	"flame_academy/internal/router"
)

type funcAgent struct {
	desc   domain.AgentDescriptor
	topics []string
	handle func(ctx context.Context, op domain.Operation, req registry.Request) (domain.Response, error)
}

func (a *funcAgent) Descriptor() domain.AgentDescriptor { return a.desc }

func (a *funcAgent) HandlesTopic(topic string) bool {
	lowered := strings.ToLower(topic)
	for _, t := range a.topics {
		if strings.Contains(lowered, t) {
			return true
		}
	}
	return false
}

func (a *funcAgent) Handle(ctx context.Context, op domain.Operation, req registry.Request) (domain.Response, error) {
	if a.handle != nil {
		return a.handle(ctx, op, req)
	}
	return domain.Response{AgentID: a.desc.ID, Type: domain.ResponseTypeLesson, Content: "about " + req.Text}, nil
}

func newFuncAgent(id, subject string, topics ...string) *funcAgent {
	return &funcAgent{
		desc: domain.AgentDescriptor{
			ID: id, Name: id, Subject: subject,
			Capabilities: []domain.Capability{domain.CapabilityTeach},
			MinAge:       4, MaxAge: 12,
		},
		topics: topics,
	}
}

type recordingStore struct {
	mu        sync.Mutex
	saves     []savedPlan
	decisions []domain.DecisionLog
}

type savedPlan struct {
	snap  plan.Snapshot
	state domain.PlanState
}

func (s *recordingStore) SavePlan(_ context.Context, snap plan.Snapshot, state domain.PlanState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, savedPlan{snap: snap, state: state})
	return nil
}

func (s *recordingStore) LogDecision(_ context.Context, entry domain.DecisionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, entry)
	return nil
}

func (s *recordingStore) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.decisions))
	for _, d := range s.decisions {
		out = append(out, d.Action)
	}
	return out
}

// statuses returns, for every active save, the task statuses in order.
func (s *recordingStore) activeStatuses() [][]domain.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]domain.TaskStatus
	for _, sp := range s.saves {
		if sp.state != domain.PlanStateActive {
			continue
		}
		row := make([]domain.TaskStatus, 0, len(sp.snap.Tasks))
		for _, t := range sp.snap.Tasks {
			row = append(row, t.Status)
		}
		out = append(out, row)
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.TaskEvent
}

func (l *eventLog) record(ev domain.TaskEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) transitions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.TaskID+":"+string(ev.To))
	}
	return out
}

type harness struct {
	svc    *Service
	router *router.Router
	store  *recordingStore
}

func newHarness(t *testing.T, cfg Config, agents ...registry.Agent) harness {
	t.Helper()
	reg := registry.New()
	for _, a := range agents {
		require.NoError(t, reg.Register(a))
	}
	logger := zaptest.NewLogger(t)
	r := router.New(reg, router.Config{}, nil, logger)
	store := &recordingStore{}
	return harness{
		svc:    New(r, store, nil, cfg, logger),
		router: r,
		store:  store,
	}
}

// abcPlan builds A, then B and C both depending on A, all assigned to agentID.
func abcPlan(t *testing.T, mode domain.ExecutionMode, agentID string) *plan.Plan {
	t.Helper()
	p := plan.New("plan_abc", "ABC", "learner-1", mode)
	for _, spec := range []struct {
		id   string
		deps []string
	}{
		{"A", nil},
		{"B", []string{"A"}},
		{"C", []string{"A"}},
	} {
		require.NoError(t, p.AddTask(&plan.Task{
			ID:           spec.id,
			Description:  "Learn about " + strings.ToLower(spec.id),
			TaskType:     domain.TaskTypeLesson,
			AgentID:      agentID,
			Topic:        strings.ToLower(spec.id),
			Priority:     1,
			Dependencies: spec.deps,
		}))
	}
	return p
}

type barrier struct {
	mu      sync.Mutex
	want    int
	count   int
	release chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{want: n, release: make(chan struct{})}
}

func (b *barrier) wait(timeout time.Duration) error {
	b.mu.Lock()
	b.count++
	if b.count == b.want {
		close(b.release)
	}
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-b.release:
		return nil
	case <-timer.C:
		return errors.New("barrier timeout")
	}
}

func learner() domain.LearnerContext {
	return domain.LearnerContext{ID: "learner-1", Name: "Jordan", Age: 8, Interests: []string{"space"}}
}
