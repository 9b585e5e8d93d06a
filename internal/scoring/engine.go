// Package scoring rates how well an agent fits a task. The score is a sum of
// fixed increments, clamped to [0, 1]; it is a heuristic, not a probability.
package scoring

import (
	"fmt"
	"strings"

	"flame_academy/internal/domain"
)

// Candidate is the part of an agent the engine needs.
type Candidate interface {
	Descriptor() domain.AgentDescriptor
	HandlesTopic(topic string) bool
}

type Weights struct {
	AgeMatch    float64 `toml:"age_match"`
	AgeMismatch float64 `toml:"age_mismatch"`
	Topic       float64 `toml:"topic"`
	Subject     float64 `toml:"subject"`
	Keyword     float64 `toml:"keyword"`
	Capability  float64 `toml:"capability"`
	Interest    float64 `toml:"interest"`
}

func DefaultWeights() Weights {
	return Weights{
		AgeMatch:    0.2,
		AgeMismatch: -0.5,
		Topic:       0.4,
		Subject:     0.2,
		Keyword:     0.3,
		Capability:  0.2,
		Interest:    0.1,
	}
}

// withDefaults fills zero weights. A zero AgeMismatch cannot be expressed;
// use a tiny negative value to soften it instead.
func (w Weights) withDefaults() Weights {
	d := DefaultWeights()
	if w.AgeMatch == 0 {
		w.AgeMatch = d.AgeMatch
	}
	if w.AgeMismatch == 0 {
		w.AgeMismatch = d.AgeMismatch
	}
	if w.Topic == 0 {
		w.Topic = d.Topic
	}
	if w.Subject == 0 {
		w.Subject = d.Subject
	}
	if w.Keyword == 0 {
		w.Keyword = d.Keyword
	}
	if w.Capability == 0 {
		w.Capability = d.Capability
	}
	if w.Interest == 0 {
		w.Interest = d.Interest
	}
	return w
}

type SubjectKeywords struct {
	Subject  string
	Keywords []string
}

func DefaultSubjectKeywords() []SubjectKeywords {
	return []SubjectKeywords{
		{Subject: "math", Keywords: []string{"math", "number", "add", "subtract", "multiply", "divide", "count", "calculate"}},
		{Subject: "reading", Keywords: []string{"story", "read", "write", "book", "character", "tale"}},
		{Subject: "stem", Keywords: []string{"science", "experiment", "plant", "animal", "space", "build", "engineer"}},
	}
}

type Result struct {
	Score   float64
	Reasons []string
}

func (r Result) Reasoning() string {
	return strings.Join(r.Reasons, "; ")
}

type Engine struct {
	weights  Weights
	keywords []SubjectKeywords
}

// New builds an engine. A nil keyword table uses DefaultSubjectKeywords.
func New(weights Weights, keywords []SubjectKeywords) *Engine {
	if keywords == nil {
		keywords = DefaultSubjectKeywords()
	}
	return &Engine{
		weights:  weights.withDefaults(),
		keywords: keywords,
	}
}

func (e *Engine) Weights() Weights {
	return e.weights
}

func (e *Engine) Score(agent Candidate, text string, taskType domain.TaskType, learner domain.LearnerContext) Result {
	desc := agent.Descriptor()
	var score float64
	var reasons []string

	if desc.AppropriateForAge(learner.Age) {
		score += e.weights.AgeMatch
		reasons = append(reasons, fmt.Sprintf("Age-appropriate (%d years)", learner.Age))
	} else {
		score += e.weights.AgeMismatch
		reasons = append(reasons, "Age mismatch")
	}

	if agent.HandlesTopic(text) {
		score += e.weights.Topic
		reasons = append(reasons, "Topic match: "+text)
	}

	subject := strings.ToLower(desc.Subject)
	if topic := strings.ToLower(learner.CurrentTopic); topic != "" {
		if strings.Contains(topic, subject) || strings.Contains(subject, topic) {
			score += e.weights.Subject
			reasons = append(reasons, "Subject match: "+desc.Subject)
		}
	}

	lowered := strings.ToLower(text)
	for _, entry := range e.keywords {
		if strings.ToLower(entry.Subject) != subject {
			continue
		}
		for _, kw := range entry.Keywords {
			if strings.Contains(lowered, kw) {
				score += e.weights.Keyword
				reasons = append(reasons, "Keyword match for "+entry.Subject)
				break
			}
		}
		break
	}

	if capability, ok := taskType.RequiredCapability(); ok && desc.HasCapability(capability) {
		score += e.weights.Capability
		reasons = append(reasons, fmt.Sprintf("Has %s capability", capability))
	}

	for _, interest := range learner.Interests {
		if agent.HandlesTopic(interest) {
			score += e.weights.Interest
			reasons = append(reasons, "Matches interest: "+interest)
			break
		}
	}

	return Result{Score: clamp(score), Reasons: reasons}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
