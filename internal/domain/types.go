package domain

import (
	"encoding/json"
	"time"
)

type Capability string

const (
	CapabilityTeach     Capability = "teach"
	CapabilityPractice  Capability = "practice"
	CapabilityAssess    Capability = "assess"
	CapabilityExplain   Capability = "explain"
	CapabilityEncourage Capability = "encourage"
	CapabilityAdapt     Capability = "adapt"
	CapabilityStorytell Capability = "storytell"
	CapabilityGamify    Capability = "gamify"
	CapabilityVisualize Capability = "visualize"
)

func (c Capability) Valid() bool {
	switch c {
	case CapabilityTeach, CapabilityPractice, CapabilityAssess, CapabilityExplain, CapabilityEncourage,
		CapabilityAdapt, CapabilityStorytell, CapabilityGamify, CapabilityVisualize:
		return true
	}
	return false
}

type TaskType string

const (
	TaskTypeLesson   TaskType = "lesson"
	TaskTypePractice TaskType = "practice"
	TaskTypeQuiz     TaskType = "quiz"
	TaskTypeHelp     TaskType = "help"
	TaskTypeExplore  TaskType = "explore"
	TaskTypeStory    TaskType = "story"
	TaskTypeGame     TaskType = "game"
	TaskTypeQuestion TaskType = "question"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeLesson, TaskTypePractice, TaskTypeQuiz, TaskTypeHelp,
		TaskTypeExplore, TaskTypeStory, TaskTypeGame, TaskTypeQuestion:
		return true
	}
	return false
}

// RequiredCapability reports the capability an agent must declare to earn the
// capability bonus for this task type. Types without a mapping return false.
func (t TaskType) RequiredCapability() (Capability, bool) {
	switch t {
	case TaskTypeLesson:
		return CapabilityTeach, true
	case TaskTypePractice:
		return CapabilityPractice, true
	case TaskTypeQuiz:
		return CapabilityAssess, true
	case TaskTypeStory:
		return CapabilityStorytell, true
	case TaskTypeGame:
		return CapabilityGamify, true
	}
	return "", false
}

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusSkipped    TaskStatus = "skipped"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusSkipped
}

type ExecutionMode string

const (
	ExecutionModeSequential    ExecutionMode = "sequential"
	ExecutionModeParallel      ExecutionMode = "parallel"
	ExecutionModeAdaptive      ExecutionMode = "adaptive"
	ExecutionModeCollaborative ExecutionMode = "collaborative"
)

func (m ExecutionMode) Valid() bool {
	switch m {
	case ExecutionModeSequential, ExecutionModeParallel, ExecutionModeAdaptive, ExecutionModeCollaborative:
		return true
	}
	return false
}

// Batched reports whether every ready task runs in the same loop iteration.
func (m ExecutionMode) Batched() bool {
	return m == ExecutionModeParallel || m == ExecutionModeCollaborative
}

type PlanState string

const (
	PlanStateActive    PlanState = "active"
	PlanStateCompleted PlanState = "completed"
)

type ResponseType string

const (
	ResponseTypeLesson        ResponseType = "lesson"
	ResponseTypeQuestion      ResponseType = "question"
	ResponseTypeFeedback      ResponseType = "feedback"
	ResponseTypeEncouragement ResponseType = "encouragement"
	ResponseTypeHint          ResponseType = "hint"
	ResponseTypeExplanation   ResponseType = "explanation"
	ResponseTypeStory         ResponseType = "story"
	ResponseTypeGame          ResponseType = "game"
	ResponseTypeSummary       ResponseType = "summary"
)

// Operation names the agent handler a dispatch invokes.
type Operation string

const (
	OperationLesson   Operation = "lesson"
	OperationPractice Operation = "practice"
	OperationStory    Operation = "story"
	OperationRespond  Operation = "respond"
)

const NoAgentID = "none"

type AgentDescriptor struct {
	ID           string       `json:"id" toml:"id" validate:"required"`
	Name         string       `json:"name" toml:"name" validate:"required"`
	Subject      string       `json:"subject" toml:"subject" validate:"required"`
	Description  string       `json:"description,omitempty" toml:"description"`
	Capabilities []Capability `json:"capabilities" toml:"capabilities" validate:"dive,capability"`
	MinAge       int          `json:"min_age" toml:"min_age" validate:"gte=0"`
	MaxAge       int          `json:"max_age" toml:"max_age" validate:"gtefield=MinAge"`
}

func (d AgentDescriptor) AppropriateForAge(age int) bool {
	return d.MinAge <= age && age <= d.MaxAge
}

func (d AgentDescriptor) HasCapability(c Capability) bool {
	for _, item := range d.Capabilities {
		if item == c {
			return true
		}
	}
	return false
}

type LearnerContext struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Age               int       `json:"age"`
	LearningStyle     string    `json:"learning_style,omitempty"`
	Interests         []string  `json:"interests,omitempty"`
	CurrentTopic      string    `json:"current_topic,omitempty"`
	MasteryLevel      float64   `json:"mastery_level,omitempty"`
	Mood              string    `json:"mood,omitempty"`
	SessionMinutes    int       `json:"session_minutes,omitempty"`
	RecentPerformance []float64 `json:"recent_performance,omitempty"`
}

func (c LearnerContext) AverageRecentPerformance() float64 {
	if len(c.RecentPerformance) == 0 {
		return 0.5
	}
	var sum float64
	for _, v := range c.RecentPerformance {
		sum += v
	}
	return sum / float64(len(c.RecentPerformance))
}

// DifficultyAdjustment scales content difficulty from recent performance:
// below 1.0 is easier, above 1.0 is harder.
func (c LearnerContext) DifficultyAdjustment() float64 {
	avg := c.AverageRecentPerformance()
	switch {
	case avg < 0.4:
		return 0.7
	case avg < 0.6:
		return 0.85
	case avg > 0.9:
		return 1.2
	case avg > 0.8:
		return 1.1
	}
	return 1.0
}

type Response struct {
	AgentID       string         `json:"agent_id" yaml:"agent_id"`
	Type          ResponseType   `json:"response_type" yaml:"response_type"`
	Content       string         `json:"content" yaml:"content"`
	Suggestions   []string       `json:"suggestions,omitempty" yaml:"suggestions,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	RequiresInput bool           `json:"requires_input" yaml:"requires_input"`
	InputPrompt   string         `json:"input_prompt,omitempty" yaml:"input_prompt,omitempty"`
	CreatedAt     time.Time      `json:"created_at" yaml:"created_at"`
}

// Clone returns a copy that shares no slices or maps with r.
func (r Response) Clone() Response {
	out := r
	if r.Suggestions != nil {
		out.Suggestions = append([]string{}, r.Suggestions...)
	}
	if r.Metadata != nil {
		out.Metadata = cloneValue(r.Metadata).(map[string]any)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, val := range x {
			s[i] = cloneValue(val)
		}
		return s
	case []string:
		return append([]string{}, x...)
	}
	return v
}

type RoutingDecision struct {
	ID              int64     `json:"id,omitempty"`
	TaskID          string    `json:"task_id"`
	TaskType        TaskType  `json:"task_type"`
	SelectedAgentID string    `json:"selected_agent_id"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning"`
	Alternatives    []string  `json:"alternatives"`
	CreatedAt       time.Time `json:"created_at"`
}

// Sentinel reports whether no agent was available when the decision was made.
func (d RoutingDecision) Sentinel() bool {
	return d.SelectedAgentID == NoAgentID
}

type TaskEvent struct {
	PlanID    string     `json:"plan_id"`
	TaskID    string     `json:"task_id"`
	AgentID   string     `json:"agent_id"`
	From      TaskStatus `json:"from"`
	To        TaskStatus `json:"to"`
	Error     string     `json:"error,omitempty"`
	Response  *Response  `json:"response,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type DecisionLog struct {
	ID        int64           `json:"id"`
	PlanID    string          `json:"plan_id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
