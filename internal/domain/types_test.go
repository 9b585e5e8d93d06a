package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentDescriptorValidate(t *testing.T) {
	valid := AgentDescriptor{
		ID:           "math",
		Name:         "Math",
		Subject:      "math",
		Capabilities: []Capability{CapabilityTeach},
		MinAge:       4,
		MaxAge:       12,
	}
	require.NoError(t, valid.Validate())

	badAge := valid
	badAge.MinAge, badAge.MaxAge = 10, 5
	assert.Error(t, badAge.Validate())

	badCapability := valid
	badCapability.Capabilities = []Capability{"fly"}
	assert.Error(t, badCapability.Validate())

	missingID := valid
	missingID.ID = ""
	assert.Error(t, missingID.Validate())
}

func TestAppropriateForAgeInclusive(t *testing.T) {
	d := AgentDescriptor{MinAge: 4, MaxAge: 12}
	assert.True(t, d.AppropriateForAge(4))
	assert.True(t, d.AppropriateForAge(12))
	assert.False(t, d.AppropriateForAge(3))
	assert.False(t, d.AppropriateForAge(13))
}

func TestRequiredCapability(t *testing.T) {
	cases := map[TaskType]Capability{
		TaskTypeLesson:   CapabilityTeach,
		TaskTypePractice: CapabilityPractice,
		TaskTypeQuiz:     CapabilityAssess,
		TaskTypeStory:    CapabilityStorytell,
		TaskTypeGame:     CapabilityGamify,
	}
	for taskType, want := range cases {
		got, ok := taskType.RequiredCapability()
		require.True(t, ok, taskType)
		assert.Equal(t, want, got)
	}
	for _, taskType := range []TaskType{TaskTypeHelp, TaskTypeExplore, TaskTypeQuestion} {
		_, ok := taskType.RequiredCapability()
		assert.False(t, ok, taskType)
	}
}

func TestDifficultyAdjustment(t *testing.T) {
	cases := []struct {
		perf []float64
		want float64
	}{
		{nil, 1.0},
		{[]float64{0.1, 0.3}, 0.7},
		{[]float64{0.5}, 0.85},
		{[]float64{0.7}, 1.0},
		{[]float64{0.85}, 1.1},
		{[]float64{0.95, 1.0}, 1.2},
	}
	for _, tc := range cases {
		c := LearnerContext{RecentPerformance: tc.perf}
		assert.InDelta(t, tc.want, c.DifficultyAdjustment(), 1e-9, "perf=%v", tc.perf)
	}
	assert.InDelta(t, 0.5, LearnerContext{}.AverageRecentPerformance(), 1e-9)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusInProgress.Terminal())
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.True(t, TaskStatusSkipped.Terminal())
	assert.True(t, ExecutionModeParallel.Batched())
	assert.True(t, ExecutionModeCollaborative.Batched())
	assert.False(t, ExecutionModeAdaptive.Batched())
	assert.False(t, ExecutionMode("random").Valid())
}
