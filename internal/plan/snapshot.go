package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"flame_academy/internal/domain"
)

var ErrUnknownFormat = errors.New("unknown snapshot format")

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return FormatYAML
	}
	return FormatJSON
}

func (f Format) Ext() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

type TaskSnapshot struct {
	ID           string            `json:"id" yaml:"id"`
	Description  string            `json:"description" yaml:"description"`
	TaskType     domain.TaskType   `json:"task_type" yaml:"task_type"`
	AgentID      string            `json:"agent_id" yaml:"agent_id"`
	Topic        string            `json:"topic,omitempty" yaml:"topic,omitempty"`
	Priority     int               `json:"priority" yaml:"priority"`
	Dependencies []string          `json:"dependencies" yaml:"dependencies"`
	Status       domain.TaskStatus `json:"status" yaml:"status"`
	Result       *domain.Response  `json:"result,omitempty" yaml:"result,omitempty"`
	Error        string            `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at" yaml:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

type Snapshot struct {
	ID        string               `json:"id" yaml:"id"`
	Name      string               `json:"name" yaml:"name"`
	LearnerID string               `json:"learner_id" yaml:"learner_id"`
	Mode      domain.ExecutionMode `json:"mode" yaml:"mode"`
	CreatedAt time.Time            `json:"created_at" yaml:"created_at"`
	Tasks     []TaskSnapshot       `json:"tasks" yaml:"tasks"`
}

// Export copies the plan into a serializable form. Tasks appear in insertion
// order.
func (p *Plan) Export() Snapshot {
	snap := Snapshot{
		ID:        p.ID,
		Name:      p.Name,
		LearnerID: p.LearnerID,
		Mode:      p.Mode,
		CreatedAt: p.CreatedAt,
		Tasks:     make([]TaskSnapshot, 0, len(p.order)),
	}
	for _, t := range p.Tasks() {
		snap.Tasks = append(snap.Tasks, TaskSnapshot{
			ID:           t.ID,
			Description:  t.Description,
			TaskType:     t.TaskType,
			AgentID:      t.AgentID,
			Topic:        t.Topic,
			Priority:     t.Priority,
			Dependencies: append([]string{}, t.Dependencies...),
			Status:       t.Status,
			Result:       cloneResult(t.Result),
			Error:        t.Error,
			CreatedAt:    t.CreatedAt,
			StartedAt:    t.StartedAt,
			CompletedAt:  t.CompletedAt,
		})
	}
	return snap
}

// FromSnapshot rebuilds a plan, preserving statuses as recorded.
func FromSnapshot(snap Snapshot) (*Plan, error) {
	if snap.ID == "" {
		return nil, errors.New("snapshot plan id is required")
	}
	if !snap.Mode.Valid() {
		return nil, fmt.Errorf("snapshot %s: invalid mode %q", snap.ID, snap.Mode)
	}
	p := New(snap.ID, snap.Name, snap.LearnerID, snap.Mode)
	if !snap.CreatedAt.IsZero() {
		p.CreatedAt = snap.CreatedAt
	}
	for _, ts := range snap.Tasks {
		if !ts.Status.Valid() {
			return nil, fmt.Errorf("snapshot %s: task %s has invalid status %q", snap.ID, ts.ID, ts.Status)
		}
		if !ts.TaskType.Valid() {
			return nil, fmt.Errorf("snapshot %s: task %s has invalid type %q", snap.ID, ts.ID, ts.TaskType)
		}
		err := p.AddTask(&Task{
			ID:           ts.ID,
			Description:  ts.Description,
			TaskType:     ts.TaskType,
			AgentID:      ts.AgentID,
			Topic:        ts.Topic,
			Priority:     ts.Priority,
			Dependencies: append([]string{}, ts.Dependencies...),
			Status:       ts.Status,
			Result:       cloneResult(ts.Result),
			Error:        ts.Error,
			CreatedAt:    ts.CreatedAt,
			StartedAt:    ts.StartedAt,
			CompletedAt:  ts.CompletedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", snap.ID, err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", snap.ID, err)
	}
	return p, nil
}

func cloneResult(r *domain.Response) *domain.Response {
	if r == nil {
		return nil
	}
	out := r.Clone()
	return &out
}

func EncodeSnapshot(w io.Writer, snap Snapshot, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func DecodeSnapshot(r io.Reader, format Format) (Snapshot, error) {
	var snap Snapshot
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&snap); err != nil {
			return Snapshot{}, fmt.Errorf("decode json snapshot: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
			return Snapshot{}, fmt.Errorf("decode yaml snapshot: %w", err)
		}
		for i := range snap.Tasks {
			if res := snap.Tasks[i].Result; res != nil && res.Metadata != nil {
				res.Metadata = normalizeNumbers(res.Metadata).(map[string]any)
			}
		}
	default:
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return snap, nil
}

// normalizeNumbers turns the integers yaml.v3 produces for whole numbers back
// into float64, matching what encoding/json yields for the same document.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = normalizeNumbers(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = normalizeNumbers(val)
		}
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	}
	return v
}
