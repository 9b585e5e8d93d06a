package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flame_academy/internal/domain"
	"flame_academy/internal/plan"
	"flame_academy/internal/registry"
	"flame_academy/internal/router"
)

const (
	orchestratorActor = "orchestrator"
	fallbackAgentID   = router.FallbackAgentID
	summaryLimit      = 300
)

var (
	ErrPlanNotFound = errors.New("plan not found")
	ErrPlanExists   = errors.New("plan already exists")
	ErrPlanBusy     = errors.New("plan is already executing")
	ErrInvalidMode  = errors.New("invalid execution mode")
)

type Router interface {
	Route(ctx context.Context, text string, taskType domain.TaskType, learner domain.LearnerContext, preferred string) domain.RoutingDecision
	Dispatch(ctx context.Context, decision domain.RoutingDecision, text string, taskType domain.TaskType, learner domain.LearnerContext) (domain.Response, error)
	BestAgent(ctx context.Context, text string, learner domain.LearnerContext) (registry.Agent, bool)
	HasAgent(agentID string) bool
	Stats() router.Stats
}

type Store interface {
	SavePlan(ctx context.Context, snap plan.Snapshot, state domain.PlanState) error
	LogDecision(ctx context.Context, entry domain.DecisionLog) error
}

type Bus interface {
	Publish(event domain.TaskEvent) error
}

type Config struct {
	// ConcurrentBatches dispatches each parallel or collaborative batch on
	// separate goroutines. Event order within a batch is then unspecified.
	ConcurrentBatches bool
	MaxBatchWorkers   int
	TaskType          domain.TaskType
}

func (c Config) withDefaults() Config {
	if c.MaxBatchWorkers <= 0 {
		c.MaxBatchWorkers = 4
	}
	if !c.TaskType.Valid() {
		c.TaskType = domain.TaskTypeLesson
	}
	return c
}

// Service owns the active and completed plans. All plan state is guarded by
// mu; agent dispatch runs outside the lock.
type Service struct {
	router Router
	store  Store
	bus    Bus
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	active    map[string]*plan.Plan
	completed map[string]*plan.Plan
	doneOrder []string
	running   map[string]bool
	created   int
}

// New builds a service. store and bus may be nil.
func New(r Router, store Store, bus Bus, cfg Config, logger *zap.Logger) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		router:    r,
		store:     store,
		bus:       bus,
		cfg:       cfg,
		logger:    logger,
		active:    make(map[string]*plan.Plan),
		completed: make(map[string]*plan.Plan),
		running:   make(map[string]bool),
	}
}

type CreatePlanInput struct {
	Name     string
	Topics   []string
	Learner  domain.LearnerContext
	Mode     domain.ExecutionMode
	TaskType domain.TaskType
}

// CreatePlan builds one task per topic. Sequential plans chain every task on
// its predecessor; other modes leave tasks independent. Each task is
// pre-assigned the best agent for its topic.
func (s *Service) CreatePlan(ctx context.Context, in CreatePlanInput) (*plan.Plan, error) {
	if in.Mode == "" {
		in.Mode = domain.ExecutionModeSequential
	}
	if !in.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, in.Mode)
	}
	taskType := in.TaskType
	if taskType == "" {
		taskType = s.cfg.TaskType
	}
	if !taskType.Valid() {
		return nil, fmt.Errorf("invalid task type %q", taskType)
	}

	p := plan.New("plan_"+ulid.Make().String(), in.Name, in.Learner.ID, in.Mode)
	previous := ""
	for i, topic := range in.Topics {
		task := &plan.Task{
			ID:          fmt.Sprintf("%s_task_%d", p.ID, i+1),
			Description: "Learn about " + topic,
			TaskType:    taskType,
			AgentID:     s.bestAgentID(ctx, topic, in.Learner),
			Topic:       topic,
			Priority:    len(in.Topics) - i,
		}
		if in.Mode == domain.ExecutionModeSequential && previous != "" {
			task.Dependencies = []string{previous}
		}
		if err := p.AddTask(task); err != nil {
			return nil, err
		}
		previous = task.ID
	}

	s.register(ctx, p, "plan_created", fmt.Sprintf("learning journey covering: %s", strings.Join(in.Topics, ", ")))
	return p, nil
}

type themeTask struct {
	agentID     string
	description string
	taskType    domain.TaskType
	topic       string
}

var themeTasks = map[string][]themeTask{
	"space": {
		{"stem_explorer", "Learn about planets and the solar system", domain.TaskTypeLesson, "space"},
		{"math_wizard", "Count the planets and learn about space distances", domain.TaskTypeLesson, "counting space"},
		{"story_weaver", "Read a story about space adventure", domain.TaskTypeStory, "space story"},
	},
	"animals": {
		{"stem_explorer", "Learn about different animal groups", domain.TaskTypeLesson, "animals"},
		{"math_wizard", "Count legs on different animals", domain.TaskTypePractice, "counting"},
		{"story_weaver", "Read a story about animal friends", domain.TaskTypeStory, "animal story"},
	},
	"nature": {
		{"stem_explorer", "Learn about plants and how they grow", domain.TaskTypeLesson, "plants"},
		{"math_wizard", "Measure plant growth", domain.TaskTypePractice, "measurement"},
		{"story_weaver", "Read a story about the forest", domain.TaskTypeStory, "nature story"},
	},
}

func genericThemeTasks(theme string) []themeTask {
	return []themeTask{
		{"stem_explorer", "Explore the science of " + theme, domain.TaskTypeLesson, theme},
		{"math_wizard", "Math with " + theme, domain.TaskTypePractice, "math"},
		{"story_weaver", "Story about " + theme, domain.TaskTypeStory, theme},
	}
}

// CreateCrossSubjectSession builds a collaborative plan that explores one
// theme through science, math and a story. Agents missing from the registry
// are replaced by the best match for the task topic.
func (s *Service) CreateCrossSubjectSession(ctx context.Context, theme string, learner domain.LearnerContext) (*plan.Plan, error) {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return nil, errors.New("theme is required")
	}
	defs, ok := themeTasks[strings.ToLower(theme)]
	if !ok {
		defs = genericThemeTasks(theme)
	}

	p := plan.New("cross_plan_"+ulid.Make().String(), titleCase(theme)+" Exploration", learner.ID, domain.ExecutionModeCollaborative)
	for i, def := range defs {
		agentID := def.agentID
		if !s.router.HasAgent(agentID) {
			agentID = s.bestAgentID(ctx, def.topic, learner)
		}
		if err := p.AddTask(&plan.Task{
			ID:          fmt.Sprintf("%s_task_%d", p.ID, i+1),
			Description: def.description,
			TaskType:    def.taskType,
			AgentID:     agentID,
			Topic:       def.topic,
			Priority:    len(defs) - i,
		}); err != nil {
			return nil, err
		}
	}

	s.register(ctx, p, "session_created", "cross-subject session on "+theme)
	return p, nil
}

// AddPlan registers an externally built or imported plan as active.
func (s *Service) AddPlan(ctx context.Context, p *plan.Plan) error {
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, p.Mode)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	snap := p.Export()
	s.mu.Lock()
	_, isActive := s.active[p.ID]
	_, isDone := s.completed[p.ID]
	if isActive || isDone {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPlanExists, p.ID)
	}
	s.active[p.ID] = p
	s.mu.Unlock()

	s.savePlan(ctx, p, domain.PlanStateActive)
	s.logDecision(ctx, p.ID, "plan_added", "plan registered from snapshot", snap)
	return nil
}

func (s *Service) register(ctx context.Context, p *plan.Plan, action, reason string) {
	snap := p.Export()
	s.mu.Lock()
	s.active[p.ID] = p
	s.created++
	s.mu.Unlock()

	s.logger.Info("plan created",
		zap.String("plan_id", p.ID),
		zap.String("mode", string(p.Mode)),
		zap.Int("tasks", p.Len()),
	)
	s.savePlan(ctx, p, domain.PlanStateActive)
	s.logDecision(ctx, p.ID, action, reason, snap)
}

func (s *Service) bestAgentID(ctx context.Context, topic string, learner domain.LearnerContext) string {
	agent, ok := s.router.BestAgent(ctx, topic, learner)
	if !ok {
		return fallbackAgentID
	}
	return agent.Descriptor().ID
}

type TaskResult struct {
	TaskID       string              `json:"task_id"`
	Status       domain.TaskStatus   `json:"status"`
	AgentID      string              `json:"agent_id"`
	ResponseType domain.ResponseType `json:"response_type,omitempty"`
	Error        string              `json:"error,omitempty"`
}

type Summary struct {
	PlanID   string               `json:"plan_id"`
	Name     string               `json:"name"`
	Mode     domain.ExecutionMode `json:"mode"`
	State    domain.PlanState     `json:"state"`
	Stalled  bool                 `json:"stalled"`
	Executed int                  `json:"executed"`
	Results  []TaskResult         `json:"results"`
	Progress plan.Progress        `json:"progress"`
}

// Execute runs the plan until it completes or stalls, then moves it to the
// completed set. A stall (incomplete plan with nothing ready) ends the run and
// is reported through Summary.Stalled. Task failures are recorded on the task
// and never returned. Cancelling ctx stops dispatching further tasks, leaves
// the plan active and returns ctx.Err() with the partial summary.
func (s *Service) Execute(ctx context.Context, planID string, learner domain.LearnerContext, onEvent func(domain.TaskEvent)) (Summary, error) {
	p, err := s.acquire(planID)
	if err != nil {
		return Summary{}, err
	}
	defer s.release(planID)

	emit := s.emitter(onEvent)
	s.logDecision(ctx, planID, "plan_execution_started", "execute requested", map[string]any{"mode": p.Mode})

	var results []TaskResult
	stalled := false
	for {
		if err := ctx.Err(); err != nil {
			return s.interrupted(ctx, p, results, err)
		}

		s.mu.Lock()
		if p.IsComplete() {
			s.mu.Unlock()
			break
		}
		ready := p.ReadyTasks()
		inProgress := p.InProgress()
		s.mu.Unlock()

		if len(ready) == 0 {
			stalled = true
			pr := s.progress(p)
			s.logger.Warn("plan stalled",
				zap.String("plan_id", planID),
				zap.Int("pending", pr.Pending),
				zap.Int("failed", pr.Failed),
				zap.Int("in_progress", inProgress),
			)
			break
		}
		if !p.Mode.Batched() {
			ready = ready[:1]
		}

		results = append(results, s.runBatch(ctx, p, ready, learner, emit)...)
		s.savePlan(ctx, p, domain.PlanStateActive)

		if err := ctx.Err(); err != nil {
			return s.interrupted(ctx, p, results, err)
		}
	}

	s.mu.Lock()
	delete(s.active, planID)
	s.completed[planID] = p
	s.doneOrder = append(s.doneOrder, planID)
	s.mu.Unlock()

	summary := s.summarize(p, domain.PlanStateCompleted, stalled, results)
	s.savePlan(ctx, p, domain.PlanStateCompleted)
	action, reason := "plan_completed", "all tasks finished"
	if stalled {
		action, reason = "plan_stalled", "no ready tasks remain"
	}
	s.logDecision(ctx, planID, action, reason, summary.Progress)
	s.logger.Info("plan finished",
		zap.String("plan_id", planID),
		zap.Bool("stalled", stalled),
		zap.Int("completed", summary.Progress.Completed),
		zap.Int("failed", summary.Progress.Failed),
	)
	return summary, nil
}

func (s *Service) interrupted(ctx context.Context, p *plan.Plan, results []TaskResult, cause error) (Summary, error) {
	s.savePlan(ctx, p, domain.PlanStateActive)
	s.logDecision(ctx, p.ID, "plan_execution_cancelled", cause.Error(), s.progress(p))
	return s.summarize(p, domain.PlanStateActive, false, results), cause
}

// ExecuteNextStep runs the highest-priority ready task and leaves the plan
// active. The bool reports whether a task ran; the response is nil when that
// task failed.
func (s *Service) ExecuteNextStep(ctx context.Context, planID string, learner domain.LearnerContext) (*domain.Response, bool) {
	p, err := s.acquire(planID)
	if err != nil {
		return nil, false
	}
	defer s.release(planID)

	s.mu.Lock()
	ready := p.ReadyTasks()
	s.mu.Unlock()
	if len(ready) == 0 {
		return nil, false
	}

	s.runTask(ctx, p, ready[0], learner, s.emitter(nil))
	s.savePlan(ctx, p, domain.PlanStateActive)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ready[0].Result == nil {
		return nil, true
	}
	resp := *ready[0].Result
	return &resp, true
}

func (s *Service) acquire(planID string) (*plan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.active[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if s.running[planID] {
		return nil, fmt.Errorf("%w: %s", ErrPlanBusy, planID)
	}
	s.running[planID] = true
	return p, nil
}

func (s *Service) release(planID string) {
	s.mu.Lock()
	delete(s.running, planID)
	s.mu.Unlock()
}

// emitter serialises event delivery to the callback and the bus.
func (s *Service) emitter(onEvent func(domain.TaskEvent)) func(domain.TaskEvent) {
	var mu sync.Mutex
	return func(ev domain.TaskEvent) {
		mu.Lock()
		defer mu.Unlock()
		if onEvent != nil {
			onEvent(ev)
		}
		if s.bus == nil {
			return
		}
		if err := s.bus.Publish(ev); err != nil {
			s.logger.Debug("publish task event", zap.String("task_id", ev.TaskID), zap.Error(err))
		}
	}
}

func (s *Service) runBatch(ctx context.Context, p *plan.Plan, batch []*plan.Task, learner domain.LearnerContext, emit func(domain.TaskEvent)) []TaskResult {
	results := make([]TaskResult, len(batch))
	if s.cfg.ConcurrentBatches && len(batch) > 1 {
		var g errgroup.Group
		g.SetLimit(s.cfg.MaxBatchWorkers)
		for i, task := range batch {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				results[i] = s.runTask(ctx, p, task, learner, emit)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, task := range batch {
			if ctx.Err() != nil {
				break
			}
			results[i] = s.runTask(ctx, p, task, learner, emit)
		}
	}

	out := results[:0]
	for _, r := range results {
		if r.TaskID != "" {
			out = append(out, r)
		}
	}
	return out
}

// runTask dispatches one task. Once started, a task runs to completion even
// if ctx is cancelled.
func (s *Service) runTask(ctx context.Context, p *plan.Plan, task *plan.Task, learner domain.LearnerContext, emit func(domain.TaskEvent)) TaskResult {
	s.mu.Lock()
	if err := task.Start(); err != nil {
		s.mu.Unlock()
		s.logger.Warn("task not startable", zap.String("plan_id", p.ID), zap.String("task_id", task.ID), zap.Error(err))
		return TaskResult{}
	}
	text := task.Topic
	if text == "" {
		text = task.Description
	}
	taskType, preferred := task.TaskType, task.AgentID
	started := taskEvent(p.ID, task, domain.TaskStatusPending)
	s.mu.Unlock()
	emit(started)

	dispatchCtx := context.WithoutCancel(ctx)
	decision := s.router.Route(dispatchCtx, text, taskType, learner, preferred)
	resp, err := s.router.Dispatch(dispatchCtx, decision, text, taskType, learner)

	s.mu.Lock()
	if decision.Sentinel() {
		task.AgentID = fallbackAgentID
	} else {
		task.AgentID = decision.SelectedAgentID
	}
	result := TaskResult{TaskID: task.ID, AgentID: task.AgentID}
	if err != nil {
		_ = task.Fail(err.Error())
		result.Error = err.Error()
	} else {
		_ = task.Complete(resp)
		result.ResponseType = resp.Type
	}
	result.Status = task.Status
	finished := taskEvent(p.ID, task, domain.TaskStatusInProgress)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("task failed",
			zap.String("plan_id", p.ID),
			zap.String("task_id", task.ID),
			zap.String("agent_id", result.AgentID),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("task completed",
			zap.String("plan_id", p.ID),
			zap.String("task_id", task.ID),
			zap.String("agent_id", result.AgentID),
		)
	}
	emit(finished)
	return result
}

// taskEvent must be called with s.mu held.
func taskEvent(planID string, task *plan.Task, from domain.TaskStatus) domain.TaskEvent {
	ev := domain.TaskEvent{
		PlanID:    planID,
		TaskID:    task.ID,
		AgentID:   task.AgentID,
		From:      from,
		To:        task.Status,
		Error:     task.Error,
		CreatedAt: time.Now().UTC(),
	}
	if task.Result != nil {
		resp := *task.Result
		ev.Response = &resp
	}
	return ev
}

type Status struct {
	State    domain.PlanState `json:"state"`
	Plan     plan.Snapshot    `json:"plan"`
	Progress plan.Progress    `json:"progress"`
}

func (s *Service) PlanStatus(planID string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.active[planID]; ok {
		return Status{State: domain.PlanStateActive, Plan: p.Export(), Progress: p.Progress()}, true
	}
	if p, ok := s.completed[planID]; ok {
		return Status{State: domain.PlanStateCompleted, Plan: p.Export(), Progress: p.Progress()}, true
	}
	return Status{}, false
}

// ActivePlans returns active plans, oldest first.
func (s *Service) ActivePlans() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.active))
	for _, p := range s.active {
		out = append(out, Status{State: domain.PlanStateActive, Plan: p.Export(), Progress: p.Progress()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Plan.CreatedAt.Equal(out[j].Plan.CreatedAt) {
			return out[i].Plan.CreatedAt.Before(out[j].Plan.CreatedAt)
		}
		return out[i].Plan.ID < out[j].Plan.ID
	})
	return out
}

// CompletedPlans returns finished plans in completion order.
func (s *Service) CompletedPlans() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.doneOrder))
	for _, id := range s.doneOrder {
		p := s.completed[id]
		out = append(out, Status{State: domain.PlanStateCompleted, Plan: p.Export(), Progress: p.Progress()})
	}
	return out
}

// CombinedResponse summarises every completed task of a plan for the learner.
func (s *Service) CombinedResponse(planID string, learner domain.LearnerContext) domain.Response {
	s.mu.Lock()
	p, ok := s.completed[planID]
	if !ok {
		p, ok = s.active[planID]
	}
	if !ok {
		s.mu.Unlock()
		return feedback("Plan not found.")
	}
	var done []*plan.Task
	for _, t := range p.Tasks() {
		if t.Status == domain.TaskStatusCompleted && t.Result != nil {
			done = append(done, t)
		}
	}
	if len(done) == 0 {
		s.mu.Unlock()
		return feedback("No completed tasks yet.")
	}

	name := learner.Name
	if name == "" {
		name = "there"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your Learning Journey: %s\n", p.Name)
	fmt.Fprintf(&b, "Hi %s! Here's what we explored together:\n", name)
	for i, t := range done {
		fmt.Fprintf(&b, "\nPart %d: %s\n%s\n", i+1, t.Description, truncate(t.Result.Content, summaryLimit))
	}
	pr := p.Progress()
	s.mu.Unlock()

	fmt.Fprintf(&b, "\nProgress: %.0f%% Complete!\n", pr.Percentage)
	fmt.Fprintf(&b, "You covered %d topics!", pr.Completed)
	return domain.Response{
		AgentID:   orchestratorActor,
		Type:      domain.ResponseTypeSummary,
		Content:   b.String(),
		Metadata:  map[string]any{"plan_progress": pr},
		CreatedAt: time.Now().UTC(),
	}
}

type Stats struct {
	ActivePlans       int          `json:"active_plans"`
	CompletedPlans    int          `json:"completed_plans"`
	TotalPlansCreated int          `json:"total_plans_created"`
	Routing           router.Stats `json:"routing_stats"`
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		ActivePlans:       len(s.active),
		CompletedPlans:    len(s.completed),
		TotalPlansCreated: s.created,
	}
	s.mu.Unlock()
	st.Routing = s.router.Stats()
	return st
}

func (s *Service) progress(p *plan.Plan) plan.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.Progress()
}

func (s *Service) summarize(p *plan.Plan, state domain.PlanState, stalled bool, results []TaskResult) Summary {
	if results == nil {
		results = []TaskResult{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		PlanID:   p.ID,
		Name:     p.Name,
		Mode:     p.Mode,
		State:    state,
		Stalled:  stalled,
		Executed: len(results),
		Results:  results,
		Progress: p.Progress(),
	}
}

// savePlan persists outside the caller's cancellation so an interrupted run
// still records its final state.
func (s *Service) savePlan(ctx context.Context, p *plan.Plan, state domain.PlanState) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	snap := p.Export()
	s.mu.Unlock()
	if err := s.store.SavePlan(context.WithoutCancel(ctx), snap, state); err != nil {
		s.logger.Warn("save plan failed", zap.String("plan_id", p.ID), zap.Error(err))
	}
}

func (s *Service) logDecision(ctx context.Context, planID, action, reason string, payload any) {
	if s.store == nil {
		return
	}
	if err := s.store.LogDecision(context.WithoutCancel(ctx), domain.DecisionLog{
		PlanID:  planID,
		Actor:   orchestratorActor,
		Action:  action,
		Reason:  reason,
		Payload: mustJSON(payload),
	}); err != nil {
		s.logger.Warn("log decision failed", zap.String("plan_id", planID), zap.String("action", action), zap.Error(err))
	}
}

func feedback(content string) domain.Response {
	return domain.Response{
		AgentID:   orchestratorActor,
		Type:      domain.ResponseTypeFeedback,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
