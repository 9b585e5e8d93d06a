package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"flame_academy/internal/config"
	"flame_academy/internal/domain"
	"flame_academy/internal/orchestrator"
	"flame_academy/internal/plan"
)

func TestNewLogger(t *testing.T) {
	l, err := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = newLogger(config.LoggingConfig{Level: "warn", Format: "console"}, true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = newLogger(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}

func TestBuildRegistry(t *testing.T) {
	reg, err := buildRegistry([]config.AgentConfig{{
		ID: "art_pal", Name: "Art Pal", Subject: "art",
		Capabilities: []domain.Capability{domain.CapabilityTeach},
		MinAge:       3, MaxAge: 9, Topics: []string{"painting"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Len())
	_, ok := reg.Get("art_pal")
	assert.True(t, ok)

	reg, err = buildRegistry([]config.AgentConfig{{ID: "math_wizard", Name: "Number Pal", Subject: "math", MaxAge: 9}})
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len(), "a configured agent replaces the built-in with the same id")
	a, ok := reg.Get("math_wizard")
	require.True(t, ok)
	assert.Equal(t, "Number Pal", a.Descriptor().Name)

	_, err = buildRegistry([]config.AgentConfig{{ID: "bad", Name: "Bad", Subject: "x", MinAge: 9, MaxAge: 3}})
	assert.Error(t, err)
}

func TestPrinters(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer

	printDecision(&buf, domain.RoutingDecision{
		SelectedAgentID: "math_wizard", Confidence: 0.9,
		Reasoning: "Topic match: counting", Alternatives: []string{"stem_explorer"},
	})
	printEvent(&buf, domain.TaskEvent{TaskID: "t1", AgentID: "math_wizard", To: domain.TaskStatusFailed, Error: "boom"})
	printSummary(&buf, orchestrator.Summary{Stalled: true, Progress: plan.Progress{Total: 3, Failed: 1, Pending: 2}})

	out := buf.String()
	assert.Contains(t, out, "Selected: math_wizard (confidence 0.90)")
	assert.Contains(t, out, "alternatives: stem_explorer")
	assert.Contains(t, out, "[✗] t1 math_wizard: boom")
	assert.Contains(t, out, "plan stalled with 2 tasks unreachable")
}

func TestRestoreActivePlans(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := config.Default()
	c.Orchestrator.DBPath = filepath.Join(dir, "academy.db")
	c.Orchestrator.ExportDir = filepath.Join(dir, "exports")
	learner := domain.LearnerContext{ID: "l1", Age: 8}

	first, err := newApp(ctx, c, zaptest.NewLogger(t))
	require.NoError(t, err)
	pending, err := first.orchestrator.CreatePlan(ctx, orchestrator.CreatePlanInput{
		Name: "Later", Topics: []string{"counting", "plants"}, Learner: learner,
	})
	require.NoError(t, err)
	finished, err := first.orchestrator.CreatePlan(ctx, orchestrator.CreatePlanInput{
		Name: "Now", Topics: []string{"shapes"}, Learner: learner,
	})
	require.NoError(t, err)
	_, err = first.orchestrator.Execute(ctx, finished.ID, learner, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := newApp(ctx, c, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer second.Close()

	n, err := second.restoreActivePlans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, ok := second.orchestrator.PlanStatus(pending.ID)
	require.True(t, ok)
	assert.Equal(t, domain.PlanStateActive, st.State)
	assert.Equal(t, 2, st.Progress.Total)
	_, ok = second.orchestrator.PlanStatus(finished.ID)
	assert.False(t, ok, "completed plans stay in the store only")
}
