package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flame_academy/internal/domain"
	"flame_academy/internal/plan"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	learner_id TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL,
	state TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plans_state ON plans(state, updated_at);

CREATE TABLE IF NOT EXISTS plan_tasks (
	plan_id TEXT NOT NULL,
	id TEXT NOT NULL,
	position INTEGER NOT NULL,
	description TEXT NOT NULL,
	task_type TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	topic TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	dependencies TEXT NOT NULL,
	status TEXT NOT NULL,
	result TEXT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	started_at INTEGER NULL,
	completed_at INTEGER NULL,
	PRIMARY KEY(plan_id, id),
	FOREIGN KEY(plan_id) REFERENCES plans(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS routing_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	task_type TEXT NOT NULL,
	selected_agent_id TEXT NOT NULL,
	confidence REAL NOT NULL,
	reasoning TEXT NOT NULL,
	alternatives TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_agent ON routing_decisions(selected_agent_id, created_at);

CREATE TABLE IF NOT EXISTS decision_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decision_log_plan ON decision_log(plan_id, created_at);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// PlanRecord is the header row of a stored plan.
type PlanRecord struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	LearnerID string               `json:"learner_id"`
	Mode      domain.ExecutionMode `json:"mode"`
	State     domain.PlanState     `json:"state"`
	TaskCount int                  `json:"task_count"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// SavePlan replaces the stored copy of the plan and its tasks.
func (s *Store) SavePlan(ctx context.Context, snap plan.Snapshot, state domain.PlanState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save plan: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Unix()
	created := snap.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO plans(id, name, learner_id, mode, state, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			learner_id = excluded.learner_id,
			mode = excluded.mode,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		snap.ID, snap.Name, snap.LearnerID, string(snap.Mode), string(state), created.Unix(), now,
	); err != nil {
		return fmt.Errorf("save plan: upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_tasks WHERE plan_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("save plan: clear tasks: %w", err)
	}

	for i, t := range snap.Tasks {
		deps, err := json.Marshal(nonNil(t.Dependencies))
		if err != nil {
			return fmt.Errorf("save plan: encode dependencies: %w", err)
		}
		var result any
		if t.Result != nil {
			raw, err := json.Marshal(t.Result)
			if err != nil {
				return fmt.Errorf("save plan: encode result: %w", err)
			}
			result = string(raw)
		}
		taskCreated := t.CreatedAt
		if taskCreated.IsZero() {
			taskCreated = created
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO plan_tasks(
				plan_id, id, position, description, task_type, agent_id, topic, priority,
				dependencies, status, result, error, created_at, started_at, completed_at
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, t.ID, i, t.Description, string(t.TaskType), t.AgentID, t.Topic, t.Priority,
			string(deps), string(t.Status), result, t.Error, taskCreated.Unix(),
			nullableUnix(t.StartedAt), nullableUnix(t.CompletedAt),
		); err != nil {
			return fmt.Errorf("save plan: insert task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save plan: commit: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID string) (plan.Snapshot, domain.PlanState, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, learner_id, mode, state, created_at FROM plans WHERE id = ?`,
		planID,
	)
	var snap plan.Snapshot
	var mode, state string
	var created int64
	if err := row.Scan(&snap.ID, &snap.Name, &snap.LearnerID, &mode, &state, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return plan.Snapshot{}, "", fmt.Errorf("get plan %s: %w", planID, ErrNotFound)
		}
		return plan.Snapshot{}, "", fmt.Errorf("get plan: %w", err)
	}
	snap.Mode = domain.ExecutionMode(mode)
	snap.CreatedAt = unixToTime(created)

	tasks, err := s.listPlanTasks(ctx, planID)
	if err != nil {
		return plan.Snapshot{}, "", err
	}
	snap.Tasks = tasks
	return snap, domain.PlanState(state), nil
}

func (s *Store) listPlanTasks(ctx context.Context, planID string) ([]plan.TaskSnapshot, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, description, task_type, agent_id, topic, priority, dependencies, status,
			result, error, created_at, started_at, completed_at
		FROM plan_tasks
		WHERE plan_id = ?
		ORDER BY position ASC`,
		planID,
	)
	if err != nil {
		return nil, fmt.Errorf("list plan tasks: %w", err)
	}
	defer rows.Close()

	result := make([]plan.TaskSnapshot, 0)
	for rows.Next() {
		var t plan.TaskSnapshot
		var taskType, status, deps string
		var resp sql.NullString
		var created int64
		var started, completed sql.NullInt64
		if err := rows.Scan(
			&t.ID, &t.Description, &taskType, &t.AgentID, &t.Topic, &t.Priority, &deps, &status,
			&resp, &t.Error, &created, &started, &completed,
		); err != nil {
			return nil, fmt.Errorf("scan plan task: %w", err)
		}
		t.TaskType = domain.TaskType(taskType)
		t.Status = domain.TaskStatus(status)
		if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
			return nil, fmt.Errorf("decode dependencies of %s: %w", t.ID, err)
		}
		if resp.Valid {
			var r domain.Response
			if err := json.Unmarshal([]byte(resp.String), &r); err != nil {
				return nil, fmt.Errorf("decode result of %s: %w", t.ID, err)
			}
			t.Result = &r
		}
		t.CreatedAt = unixToTime(created)
		t.StartedAt = int64ToTimePtr(started)
		t.CompletedAt = int64ToTimePtr(completed)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan tasks: %w", err)
	}
	return result, nil
}

// ListPlans returns plan headers, newest update first. An empty state lists
// every plan.
func (s *Store) ListPlans(ctx context.Context, state domain.PlanState) ([]PlanRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT p.id, p.name, p.learner_id, p.mode, p.state, p.created_at, p.updated_at,
			(SELECT COUNT(1) FROM plan_tasks t WHERE t.plan_id = p.id)
		FROM plans p
		WHERE ? = '' OR p.state = ?
		ORDER BY p.updated_at DESC, p.id ASC`,
		string(state), string(state),
	)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	result := make([]PlanRecord, 0)
	for rows.Next() {
		var r PlanRecord
		var mode, st string
		var created, updated int64
		if err := rows.Scan(&r.ID, &r.Name, &r.LearnerID, &mode, &st, &created, &updated, &r.TaskCount); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		r.Mode = domain.ExecutionMode(mode)
		r.State = domain.PlanState(st)
		r.CreatedAt = unixToTime(created)
		r.UpdatedAt = unixToTime(updated)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return result, nil
}

func (s *Store) AppendRoutingDecision(ctx context.Context, d domain.RoutingDecision) error {
	alts, err := json.Marshal(nonNil(d.Alternatives))
	if err != nil {
		return fmt.Errorf("encode alternatives: %w", err)
	}
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO routing_decisions(task_id, task_type, selected_agent_id, confidence, reasoning, alternatives, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		d.TaskID, string(d.TaskType), d.SelectedAgentID, d.Confidence, d.Reasoning, string(alts), created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append routing decision: %w", err)
	}
	return nil
}

// ListRoutingDecisions returns the newest decisions first.
func (s *Store) ListRoutingDecisions(ctx context.Context, limit int) ([]domain.RoutingDecision, error) {
	if limit <= 0 {
		limit = 300
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, task_id, task_type, selected_agent_id, confidence, reasoning, alternatives, created_at
		FROM routing_decisions
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list routing decisions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.RoutingDecision, 0, limit)
	for rows.Next() {
		var d domain.RoutingDecision
		var taskType, alts string
		var created int64
		if err := rows.Scan(&d.ID, &d.TaskID, &taskType, &d.SelectedAgentID, &d.Confidence, &d.Reasoning, &alts, &created); err != nil {
			return nil, fmt.Errorf("scan routing decision: %w", err)
		}
		d.TaskType = domain.TaskType(taskType)
		if err := json.Unmarshal([]byte(alts), &d.Alternatives); err != nil {
			return nil, fmt.Errorf("decode alternatives: %w", err)
		}
		d.CreatedAt = unixToTime(created)
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routing decisions: %w", err)
	}
	return result, nil
}

func (s *Store) LogDecision(ctx context.Context, entry domain.DecisionLog) error {
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO decision_log(plan_id, actor, action, reason, payload, created_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
		entry.PlanID, entry.Actor, entry.Action, entry.Reason, payload, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

func (s *Store) ListPlanDecisions(ctx context.Context, planID string, limit int) ([]domain.DecisionLog, error) {
	if limit <= 0 {
		limit = 300
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, plan_id, actor, action, reason, payload, created_at
		FROM decision_log
		WHERE plan_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		planID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list plan decisions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DecisionLog, 0, limit)
	for rows.Next() {
		var item domain.DecisionLog
		var payload string
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.PlanID, &item.Actor, &item.Action, &item.Reason, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		item.Payload = []byte(payload)
		item.CreatedAt = unixToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return result, nil
}

func int64ToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 <= 0 {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
