package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flame_academy/internal/domain"
	"flame_academy/internal/orchestrator"
	"flame_academy/internal/plan"
	"flame_academy/internal/router"
)

func TestMergePlansOrdersActiveThenNewestCompleted(t *testing.T) {
	status := func(id string, state domain.PlanState) orchestrator.Status {
		return orchestrator.Status{State: state, Plan: plan.Snapshot{ID: id}}
	}
	got := mergePlans(planList{
		Active:    []orchestrator.Status{status("a1", domain.PlanStateActive)},
		Completed: []orchestrator.Status{status("c1", domain.PlanStateCompleted), status("c2", domain.PlanStateCompleted)},
	})
	ids := make([]string, 0, len(got))
	for _, st := range got {
		ids = append(ids, st.Plan.ID)
	}
	assert.Equal(t, []string{"a1", "c2", "c1"}, ids)
}

func TestRenderTasks(t *testing.T) {
	out := renderTasks(plan.Snapshot{Tasks: []plan.TaskSnapshot{
		{ID: "a", Description: "Learn about counting", AgentID: "math_wizard", Status: domain.TaskStatusFailed, Error: "offline [x]"},
		{ID: "b", Description: "Learn about shapes", AgentID: "math_wizard", Status: domain.TaskStatusPending, Dependencies: []string{"a"}},
	}})
	assert.Contains(t, out, "[red]failed")
	assert.Contains(t, out, "after a")
	assert.Contains(t, out, "offline [x[]")
	assert.Equal(t, "No tasks.", renderTasks(plan.Snapshot{}))
}

func TestRenderRoutingStatsSortsAgents(t *testing.T) {
	out := renderRoutingStats(router.Stats{
		TotalRoutings: 3, RegisteredAgents: 2, AverageConfidence: 0.75,
		ByAgent: map[string]int{"story_weaver": 1, "math_wizard": 2},
	})
	assert.Contains(t, out, "routings: 3  agents: 2  avg confidence: 0.75")
	assert.Less(t, strings.Index(out, "math_wizard"), strings.Index(out, "story_weaver"))
}

func TestDecisionPayloadSummary(t *testing.T) {
	assert.Equal(t, "", decisionPayloadSummary(nil))
	assert.Equal(t, "", decisionPayloadSummary([]byte("{}")))
	assert.Equal(t, "format=yaml, path=plans/x.yaml",
		decisionPayloadSummary([]byte(`{"path":"plans/x.yaml","format":"yaml","tasks":[1]}`)))
	assert.Equal(t, "not json", decisionPayloadSummary([]byte("not json")))
}

func TestTrimAndShortID(t *testing.T) {
	assert.Equal(t, "short", trimLine("short", 10))
	assert.Equal(t, "abcdefg...", trimLine("abcdefghijklmnop", 10))
	assert.Equal(t, "plan_1", shortID("plan_1"))
	assert.Equal(t, "…0123456789A", shortID("plan_01HZX0123456789A"))
	assert.Equal(t, []string{"counting", "fairy tales"}, splitTopics(" counting, ,fairy tales ,"))
}

func TestClientLaunchTheme(t *testing.T) {
	var created map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/plans", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(orchestrator.Status{Plan: plan.Snapshot{ID: "cross_plan_1"}})
	})
	mux.HandleFunc("/plans/cross_plan_1/execute", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(orchestrator.Summary{PlanID: "cross_plan_1", Executed: 3})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	summary, err := newClient(srv.URL+"/").launch("theme: space", domain.LearnerContext{Age: 7})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Executed)
	assert.Equal(t, "space", created["theme"])
	assert.NotContains(t, created, "topics")
}

func TestClientReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"plan not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).planDecisions("missing", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan not found")
}
