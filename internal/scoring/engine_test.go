package scoring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flame_academy/internal/domain"
)

type fakeAgent struct {
	desc   domain.AgentDescriptor
	topics []string
}

func (a fakeAgent) Descriptor() domain.AgentDescriptor { return a.desc }

func (a fakeAgent) HandlesTopic(topic string) bool {
	lowered := strings.ToLower(topic)
	for _, t := range a.topics {
		if strings.Contains(lowered, t) {
			return true
		}
	}
	return false
}

func mathAgent() fakeAgent {
	return fakeAgent{
		desc: domain.AgentDescriptor{
			ID: "math", Name: "Math", Subject: "math",
			Capabilities: []domain.Capability{domain.CapabilityTeach},
			MinAge:       4, MaxAge: 12,
		},
		topics: []string{"addition", "counting"},
	}
}

func readingAgent() fakeAgent {
	return fakeAgent{
		desc: domain.AgentDescriptor{
			ID: "reading", Name: "Reading", Subject: "reading",
			Capabilities: []domain.Capability{domain.CapabilityStorytell},
			MinAge:       4, MaxAge: 12,
		},
		topics: []string{"story", "poetry"},
	}
}

func TestScoreAdditionPracticePrefersMath(t *testing.T) {
	engine := New(Weights{}, nil)
	learner := domain.LearnerContext{Age: 8, Interests: []string{"addition"}}

	math := engine.Score(mathAgent(), "addition practice", domain.TaskTypePractice, learner)
	reading := engine.Score(readingAgent(), "addition practice", domain.TaskTypePractice, learner)

	// age 0.2 + topic 0.4 + keyword 0.3 + interest 0.1; no practice capability.
	assert.InDelta(t, 1.0, math.Score, 1e-9)
	assert.InDelta(t, 0.2, reading.Score, 1e-9)
	assert.Greater(t, math.Score, 0.5)
	assert.NotContains(t, math.Reasoning(), "capability")
	assert.Equal(t,
		"Age-appropriate (8 years); Topic match: addition practice; Keyword match for math; Matches interest: addition",
		math.Reasoning())
}

func TestScoreClampsToUnitInterval(t *testing.T) {
	engine := New(Weights{}, nil)

	low := engine.Score(readingAgent(), "quantum chromodynamics", domain.TaskTypeHelp, domain.LearnerContext{Age: 40})
	assert.Equal(t, 0.0, low.Score)
	assert.Equal(t, []string{"Age mismatch"}, low.Reasons)

	agent := mathAgent()
	agent.desc.Capabilities = append(agent.desc.Capabilities, domain.CapabilityPractice)
	high := engine.Score(agent, "counting and addition", domain.TaskTypePractice, domain.LearnerContext{
		Age:          6,
		CurrentTopic: "math",
		Interests:    []string{"counting"},
	})
	assert.Equal(t, 1.0, high.Score)
	assert.Contains(t, high.Reasons, "Has practice capability")
	assert.Contains(t, high.Reasons, "Subject match: math")
}

func TestScoreBoundsOverInputGrid(t *testing.T) {
	engine := New(Weights{}, nil)
	agents := []Candidate{mathAgent(), readingAgent()}
	texts := []string{"", "story about numbers", "add a book", "zzz"}
	types := []domain.TaskType{domain.TaskTypeLesson, domain.TaskTypeStory, domain.TaskTypeExplore}
	for _, agent := range agents {
		for _, text := range texts {
			for _, taskType := range types {
				for _, age := range []int{-5, 0, 8, 99} {
					r := engine.Score(agent, text, taskType, domain.LearnerContext{Age: age, CurrentTopic: text})
					require.GreaterOrEqual(t, r.Score, 0.0)
					require.LessOrEqual(t, r.Score, 1.0)
				}
			}
		}
	}
}

func TestKeywordBonusAppliedOnce(t *testing.T) {
	engine := New(Weights{}, nil)
	agent := fakeAgent{desc: domain.AgentDescriptor{ID: "m", Name: "m", Subject: "math", MinAge: 4, MaxAge: 12}}

	r := engine.Score(agent, "add subtract multiply divide", domain.TaskTypeHelp, domain.LearnerContext{Age: 8})
	assert.InDelta(t, 0.5, r.Score, 1e-9)
}

func TestCustomWeightsAndKeywords(t *testing.T) {
	engine := New(Weights{Keyword: 0.05}, []SubjectKeywords{{Subject: "art", Keywords: []string{"paint"}}})
	assert.InDelta(t, 0.4, engine.Weights().Topic, 1e-9)

	agent := fakeAgent{desc: domain.AgentDescriptor{ID: "a", Name: "a", Subject: "Art", MinAge: 4, MaxAge: 12}}
	r := engine.Score(agent, "paint a tree", domain.TaskTypeHelp, domain.LearnerContext{Age: 8})
	assert.InDelta(t, 0.25, r.Score, 1e-9)
	assert.Contains(t, r.Reasons, "Keyword match for art")
}
