// Package router matches learning tasks to registered agents and dispatches
// them to the selected agent's handler.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flame_academy/internal/domain"
	"flame_academy/internal/policy"
	"flame_academy/internal/registry"
	"flame_academy/internal/scoring"
)

const (
	FallbackAgentID = "router"

	preferredReasoning = "preferred agent override"
	noAgentsReasoning  = "no agents available"
)

// DecisionSink receives every routing decision after it is recorded in
// memory. The sqlite store satisfies it.
type DecisionSink interface {
	AppendRoutingDecision(ctx context.Context, d domain.RoutingDecision) error
}

type Config struct {
	Weights  scoring.Weights
	Keywords []scoring.SubjectKeywords
	// AlternativeThreshold is the minimum score a runner-up needs to be listed.
	AlternativeThreshold float64
	MaxAlternatives      int
}

func (c Config) withDefaults() Config {
	if c.AlternativeThreshold <= 0 {
		c.AlternativeThreshold = 0.3
	}
	if c.MaxAlternatives <= 0 {
		c.MaxAlternatives = 2
	}
	return c
}

type Router struct {
	registry *registry.Registry
	scorer   *scoring.Engine
	policy   *policy.Engine
	sink     DecisionSink
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	history []domain.RoutingDecision
}

func New(reg *registry.Registry, cfg Config, sink DecisionSink, logger *zap.Logger) *Router {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry: reg,
		scorer:   scoring.New(cfg.Weights, cfg.Keywords),
		policy:   policy.New(),
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
	}
}

func (r *Router) Registry() *registry.Registry {
	return r.registry
}

type scored struct {
	agent  registry.Agent
	result scoring.Result
}

// Route selects an agent for the task. A registered preferred agent wins
// outright. An empty registry yields the NoAgentID sentinel decision.
func (r *Router) Route(ctx context.Context, text string, taskType domain.TaskType, learner domain.LearnerContext, preferred string) domain.RoutingDecision {
	decision := domain.RoutingDecision{
		TaskID:       uuid.NewString(),
		TaskType:     taskType,
		Alternatives: []string{},
		CreatedAt:    time.Now().UTC(),
	}

	if _, ok := r.registry.Get(preferred); preferred != "" && ok {
		decision.SelectedAgentID = preferred
		decision.Confidence = 1.0
		decision.Reasoning = preferredReasoning
		r.record(ctx, decision)
		return decision
	}

	agents := r.registry.Agents()
	if len(agents) == 0 {
		decision.SelectedAgentID = domain.NoAgentID
		decision.Reasoning = noAgentsReasoning
		r.logger.Warn("no agents registered", zap.String("task_id", decision.TaskID))
		r.record(ctx, decision)
		return decision
	}

	ranked := make([]scored, 0, len(agents))
	for _, agent := range agents {
		ranked = append(ranked, scored{
			agent:  agent,
			result: r.scorer.Score(agent, text, taskType, learner),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].result.Score > ranked[j].result.Score
	})

	best := ranked[0]
	decision.SelectedAgentID = best.agent.Descriptor().ID
	decision.Confidence = best.result.Score
	decision.Reasoning = best.result.Reasoning()

	end := 1 + r.cfg.MaxAlternatives
	if end > len(ranked) {
		end = len(ranked)
	}
	for _, alt := range ranked[1:end] {
		if alt.result.Score > r.cfg.AlternativeThreshold {
			decision.Alternatives = append(decision.Alternatives, alt.agent.Descriptor().ID)
		}
	}

	r.record(ctx, decision)
	return decision
}

func (r *Router) record(ctx context.Context, d domain.RoutingDecision) {
	r.mu.Lock()
	r.history = append(r.history, d)
	r.mu.Unlock()

	r.logger.Debug("routing decision",
		zap.String("task_id", d.TaskID),
		zap.String("agent_id", d.SelectedAgentID),
		zap.String("task_type", string(d.TaskType)),
		zap.Float64("confidence", d.Confidence),
	)
	if r.sink == nil {
		return
	}
	if err := r.sink.AppendRoutingDecision(ctx, d); err != nil {
		r.logger.Warn("persist routing decision failed", zap.String("task_id", d.TaskID), zap.Error(err))
	}
}

// Dispatch runs the selected agent's handler for the task type. A decision
// naming no registered agent gets the fallback response. Handler errors are
// returned unchanged.
func (r *Router) Dispatch(ctx context.Context, decision domain.RoutingDecision, text string, taskType domain.TaskType, learner domain.LearnerContext) (domain.Response, error) {
	agent, ok := r.registry.Get(decision.SelectedAgentID)
	if !ok {
		return fallbackResponse(text, learner), nil
	}
	desc := agent.Descriptor()
	op := r.policy.OperationFor(desc, taskType)
	return agent.Handle(ctx, op, registry.Request{
		Text:       text,
		TaskType:   taskType,
		Learner:    learner,
		Difficulty: difficultyLabel(learner),
	})
}

func (r *Router) RouteAndDispatch(ctx context.Context, text string, taskType domain.TaskType, learner domain.LearnerContext, preferred string) (domain.RoutingDecision, domain.Response, error) {
	decision := r.Route(ctx, text, taskType, learner, preferred)
	resp, err := r.Dispatch(ctx, decision, text, taskType, learner)
	return decision, resp, err
}

// BestAgent picks an agent for exploratory work on a topic. The decision is
// recorded like any other.
func (r *Router) BestAgent(ctx context.Context, text string, learner domain.LearnerContext) (registry.Agent, bool) {
	decision := r.Route(ctx, text, domain.TaskTypeExplore, learner, "")
	if decision.Sentinel() {
		return nil, false
	}
	return r.registry.Get(decision.SelectedAgentID)
}

func (r *Router) HasAgent(agentID string) bool {
	_, ok := r.registry.Get(agentID)
	return ok
}

func (r *Router) AvailableAgents() []domain.AgentDescriptor {
	agents := r.registry.Agents()
	out := make([]domain.AgentDescriptor, 0, len(agents))
	for _, agent := range agents {
		out = append(out, agent.Descriptor())
	}
	return out
}

func (r *Router) History() []domain.RoutingDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RoutingDecision(nil), r.history...)
}

func (r *Router) ClearHistory() {
	r.mu.Lock()
	r.history = nil
	r.mu.Unlock()
}

type Stats struct {
	TotalRoutings     int            `json:"total_routings"`
	ByAgent           map[string]int `json:"by_agent"`
	ByTaskType        map[string]int `json:"by_task_type"`
	AverageConfidence float64        `json:"average_confidence"`
	RegisteredAgents  int            `json:"registered_agents"`
}

func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{
		TotalRoutings:    len(r.history),
		ByAgent:          make(map[string]int),
		ByTaskType:       make(map[string]int),
		RegisteredAgents: r.registry.Len(),
	}
	var sum float64
	for _, d := range r.history {
		st.ByAgent[d.SelectedAgentID]++
		st.ByTaskType[string(d.TaskType)]++
		sum += d.Confidence
	}
	if len(r.history) > 0 {
		st.AverageConfidence = sum / float64(len(r.history))
	}
	return st
}

func difficultyLabel(learner domain.LearnerContext) string {
	adj := learner.DifficultyAdjustment()
	switch {
	case adj < 1.0:
		return "easy"
	case adj > 1.0:
		return "hard"
	}
	return "medium"
}

func fallbackResponse(text string, learner domain.LearnerContext) domain.Response {
	name := learner.Name
	if name == "" {
		name = "there"
	}
	return domain.Response{
		AgentID: FallbackAgentID,
		Type:    domain.ResponseTypeFeedback,
		Content: fmt.Sprintf("Hi %s!\n\nI'm looking for the best helper for your question about %s, "+
			"but I don't have a specialized agent available right now.\n\n"+
			"What you can try:\n"+
			"- Ask about math, reading, or science topics\n"+
			"- Try a different way of asking your question\n"+
			"- Check back later when more helpers are available", name, text),
		RequiresInput: true,
		InputPrompt:   "Would you like to try a different topic?",
		CreatedAt:     time.Now().UTC(),
	}
}
