package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"flame_academy/internal/agent"
	"flame_academy/internal/config"
	"flame_academy/internal/domain"
	"flame_academy/internal/fs"
	"flame_academy/internal/orchestrator"
	"flame_academy/internal/plan"
	"flame_academy/internal/registry"
	"flame_academy/internal/router"
	"flame_academy/internal/store/sqlite"
)

type testEnv struct {
	srv   *httptest.Server
	memfs afero.Fs
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "academy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	reg := registry.New()
	for _, a := range agent.Defaults() {
		require.NoError(t, reg.Register(a))
	}
	logger := zaptest.NewLogger(t)
	r := router.New(reg, router.Config{}, store, logger)
	orch := orchestrator.New(r, store, nil, orchestrator.Config{}, logger)

	memfs := afero.NewMemMapFs()
	files, err := fs.NewGateway(memfs, "/exports", store)
	require.NoError(t, err)

	srv := httptest.NewServer(New(config.Default(), r, orch, store, files, logger).Handler())
	t.Cleanup(srv.Close)
	return testEnv{srv: srv, memfs: memfs}
}

func (e testEnv) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

var jordan = domain.LearnerContext{ID: "learner-1", Name: "Jordan", Age: 8}

func TestHealthAndAgents(t *testing.T) {
	env := newTestEnv(t)

	var health map[string]any
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil, &health))
	assert.Equal(t, "ok", health["status"])

	var agents []domain.AgentDescriptor
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/agents", nil, &agents))
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"math_wizard", "story_weaver", "stem_explorer"}, ids)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPost, "/agents", nil, nil))
}

func TestRouteAndDispatch(t *testing.T) {
	env := newTestEnv(t)

	var out routeResponse
	status := env.do(t, http.MethodPost, "/route", map[string]any{
		"text":      "addition practice",
		"task_type": "practice",
		"learner":   jordan,
		"dispatch":  true,
	}, &out)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "math_wizard", out.Decision.SelectedAgentID)
	assert.InDelta(t, 1.0, out.Decision.Confidence, 1e-9)
	require.NotNil(t, out.Response)
	assert.Equal(t, domain.ResponseTypeQuestion, out.Response.Type)
	assert.True(t, out.Response.RequiresInput)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/route", map[string]any{"text": " "}, nil))
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/route", map[string]any{"text": "x", "task_type": "nap"}, nil))

	var history []domain.RoutingDecision
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/routing/history", nil, &history))
	require.Len(t, history, 1)

	var persisted []domain.RoutingDecision
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/routing/history?source=store", nil, &persisted))
	require.Len(t, persisted, 1)
	assert.Equal(t, history[0].TaskID, persisted[0].TaskID)

	var stats router.Stats
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/routing/stats", nil, &stats))
	assert.Equal(t, 1, stats.TotalRoutings)
	assert.Equal(t, 3, stats.RegisteredAgents)
}

func TestPlanLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var created orchestrator.Status
	status := env.do(t, http.MethodPost, "/plans", map[string]any{
		"name":    "Numbers and Tales",
		"topics":  []string{"counting", "fairy tales"},
		"learner": jordan,
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	planID := created.Plan.ID
	assert.Equal(t, domain.PlanStateActive, created.State)
	assert.Equal(t, 2, created.Progress.Total)

	var summary orchestrator.Summary
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/plans/"+planID+"/execute", learnerRequest{Learner: jordan}, &summary))
	assert.True(t, summary.Progress.IsComplete)
	assert.Equal(t, domain.PlanStateCompleted, summary.State)

	var got orchestrator.Status
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/plans/"+planID, nil, &got))
	assert.Equal(t, domain.PlanStateCompleted, got.State)

	var combined domain.Response
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/plans/"+planID+"/summary?name=Jordan", nil, &combined))
	assert.Equal(t, domain.ResponseTypeSummary, combined.Type)
	assert.Contains(t, combined.Content, "Hi Jordan!")
	assert.Contains(t, combined.Content, "You covered 2 topics!")

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/plans/"+planID+"/execute", nil, nil),
		"completed plans are no longer executable")

	var exported map[string]string
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/plans/"+planID+"/export?format=yaml", nil, &exported))
	assert.Equal(t, "plans/"+planID+".yaml", exported["path"])
	ok, err := afero.Exists(env.memfs, "/exports/plans/"+planID+".yaml")
	require.NoError(t, err)
	assert.True(t, ok)

	var snapshots []string
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/plans/snapshots", nil, &snapshots))
	assert.Equal(t, []string{"plans/" + planID + ".yaml"}, snapshots)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/plans/import", map[string]string{"path": exported["path"]}, nil))

	var decisions []domain.DecisionLog
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/plans/"+planID+"/decisions", nil, &decisions))
	var actions []string
	for _, d := range decisions {
		actions = append(actions, d.Action)
	}
	assert.Contains(t, actions, "plan_created")
	assert.Contains(t, actions, "plan_completed")
	assert.Contains(t, actions, "plan_exported")
	assert.Contains(t, actions, "plan_imported")

	var records []sqlite.PlanRecord
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/plans?source=store&state=completed", nil, &records))
	require.Len(t, records, 1)
	assert.Equal(t, planID, records[0].ID)
	assert.Equal(t, 2, records[0].TaskCount)

	var st orchestrator.Stats
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/stats", nil, &st))
	assert.Equal(t, 1, st.CompletedPlans)
	assert.Equal(t, 1, st.TotalPlansCreated)
}

func TestImportAndStep(t *testing.T) {
	env := newTestEnv(t)

	p := plan.New("imported", "Imported", "learner-1", domain.ExecutionModeSequential)
	require.NoError(t, p.AddTask(&plan.Task{ID: "one", Description: "Learn about shapes", TaskType: domain.TaskTypeLesson, AgentID: "math_wizard", Topic: "shapes", Priority: 2}))
	require.NoError(t, p.AddTask(&plan.Task{ID: "two", Description: "Learn about plants", TaskType: domain.TaskTypeLesson, AgentID: "stem_explorer", Topic: "plants", Priority: 1, Dependencies: []string{"one"}}))
	var buf bytes.Buffer
	require.NoError(t, plan.EncodeSnapshot(&buf, p.Export(), plan.FormatYAML))
	require.NoError(t, afero.WriteFile(env.memfs, "/exports/plans/imported.yaml", buf.Bytes(), 0o644))

	var imported orchestrator.Status
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/plans/import", map[string]string{"path": "plans/imported.yaml"}, &imported))
	assert.Equal(t, "imported", imported.Plan.ID)
	assert.Equal(t, domain.PlanStateActive, imported.State)

	var step struct {
		Ran      bool             `json:"ran"`
		Response *domain.Response `json:"response"`
		Progress plan.Progress    `json:"progress"`
	}
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/plans/imported/step", learnerRequest{Learner: jordan}, &step))
	assert.True(t, step.Ran)
	require.NotNil(t, step.Response)
	assert.Equal(t, "math_wizard", step.Response.AgentID)
	assert.Equal(t, 1, step.Progress.Completed)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/plans/import", map[string]string{"path": "../etc/passwd"}, nil))
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/plans/import", map[string]string{"path": ""}, nil))
}

func TestSessionsAndErrors(t *testing.T) {
	env := newTestEnv(t)

	var session orchestrator.Status
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/plans", map[string]any{"theme": "space", "learner": jordan}, &session))
	assert.Equal(t, "Space Exploration", session.Plan.Name)
	assert.Equal(t, domain.ExecutionModeCollaborative, session.Plan.Mode)

	var list map[string][]orchestrator.Status
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/plans", nil, &list))
	assert.Len(t, list["active"], 1)
	assert.Empty(t, list["completed"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/plans", map[string]any{"name": "empty"}, nil))
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/plans", map[string]any{"topics": []string{"x"}, "mode": "random"}, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/plans/missing", nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/plans/missing/step", nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/plans/missing/export", nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/plans/"+session.Plan.ID+"/nope", nil, nil))

	var combined domain.Response
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/plans/missing/summary", nil, &combined))
	assert.Equal(t, "Plan not found.", combined.Content)
}
