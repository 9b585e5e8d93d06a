package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flame_academy/internal/domain"
	"flame_academy/internal/registry"
)

func TestBuiltinDescriptors(t *testing.T) {
	agents := Defaults()
	require.Len(t, agents, 3)

	ids := []string{agents[0].Descriptor().ID, agents[1].Descriptor().ID, agents[2].Descriptor().ID}
	assert.Equal(t, []string{"math_wizard", "story_weaver", "stem_explorer"}, ids)

	stem := STEM().Descriptor()
	assert.Equal(t, 5, stem.MinAge)
	assert.False(t, stem.HasCapability(domain.CapabilityStorytell))
	assert.True(t, Storyteller().Descriptor().HasCapability(domain.CapabilityStorytell))
	assert.True(t, Math().Descriptor().HasCapability(domain.CapabilityPractice))

	reg := registry.New()
	for _, a := range agents {
		require.NoError(t, reg.Register(a))
	}
	assert.Equal(t, []string{"stem_explorer"}, reg.BySubject("stem"))
}

func TestHandlesTopic(t *testing.T) {
	math := Math()
	assert.True(t, math.HandlesTopic("Addition facts"))
	assert.True(t, math.HandlesTopic("let's calculate"))
	assert.False(t, math.HandlesTopic("dinosaurs"))

	story := Storyteller()
	assert.True(t, story.HandlesTopic("a fairy tales night"))
	assert.False(t, story.HandlesTopic("volcanoes"))

	stem := STEM()
	assert.True(t, stem.HandlesTopic("science"))
	assert.True(t, stem.HandlesTopic("plant"), "part of an area topic")
	assert.True(t, stem.HandlesTopic("Robots"))
	assert.True(t, stem.HandlesTopic("let's explore the forest"))
	assert.False(t, stem.HandlesTopic("history of rome"))
	assert.False(t, stem.HandlesTopic(""))
}

func TestHandleOperations(t *testing.T) {
	ctx := context.Background()
	req := registry.Request{
		Text:       "counting",
		Learner:    domain.LearnerContext{ID: "l1", Name: "Sam", Age: 7, RecentPerformance: []float64{0.95}},
		Difficulty: "hard",
	}

	lesson, err := Math().Handle(ctx, domain.OperationLesson, req)
	require.NoError(t, err)
	assert.Equal(t, "math_wizard", lesson.AgentID)
	assert.Equal(t, domain.ResponseTypeLesson, lesson.Type)
	assert.Contains(t, lesson.Content, "Sam")
	assert.Equal(t, "l1", lesson.Metadata["learner_id"])
	assert.Equal(t, 1.2, lesson.Metadata["difficulty_adjustment"])

	practice, err := Math().Handle(ctx, domain.OperationPractice, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseTypeQuestion, practice.Type)
	assert.True(t, practice.RequiresInput)
	assert.Contains(t, practice.Content, "hard")

	story, err := Storyteller().Handle(ctx, domain.OperationStory, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseTypeStory, story.Type)

	generic, err := STEM().Handle(ctx, domain.OperationRespond, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseTypeExplanation, generic.Type)
}

func TestHandleRejectsUndeclaredStory(t *testing.T) {
	_, err := Math().Handle(context.Background(), domain.OperationStory, registry.Request{Text: "dragons"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedOperation))
}

func TestHandleHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Math().Handle(ctx, domain.OperationLesson, registry.Request{Text: "counting"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewValidatesSpec(t *testing.T) {
	_, err := New(Spec{Descriptor: domain.AgentDescriptor{ID: "x", Name: "x", Subject: "art", MinAge: 9, MaxAge: 3}})
	assert.Error(t, err)

	a, err := New(Spec{
		Descriptor: domain.AgentDescriptor{ID: "art", Name: "Art Pal", Subject: "art", MinAge: 3, MaxAge: 10},
		Topics:     []string{" Painting ", ""},
	})
	require.NoError(t, err)
	assert.True(t, a.HandlesTopic("finger PAINTING"))
}
