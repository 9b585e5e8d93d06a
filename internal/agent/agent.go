// Package agent provides the built-in educational agents and a declarative
// Spec for defining more of them from configuration.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flame_academy/internal/domain"
	"flame_academy/internal/policy"
	"flame_academy/internal/registry"
)

var ErrUnsupportedOperation = errors.New("operation not supported by agent")

// Spec declares an agent. Match, when set, replaces the default topic
// predicate (any topic or keyword is a substring of the text).
type Spec struct {
	Descriptor  domain.AgentDescriptor
	Topics      []string
	Keywords    []string
	Suggestions []string
	Match       func(text string) bool
}

type Agent struct {
	spec Spec
}

var _ registry.Agent = (*Agent)(nil)

func New(spec Spec) (*Agent, error) {
	if err := spec.Descriptor.Validate(); err != nil {
		return nil, fmt.Errorf("agent %q: %w", spec.Descriptor.ID, err)
	}
	spec.Topics = lowerAll(spec.Topics)
	spec.Keywords = lowerAll(spec.Keywords)
	if len(spec.Suggestions) == 0 {
		spec.Suggestions = []string{"Learn something new", "Practice a little", "Ask a question"}
	}
	return &Agent{spec: spec}, nil
}

func (a *Agent) Descriptor() domain.AgentDescriptor {
	return a.spec.Descriptor
}

func (a *Agent) HandlesTopic(text string) bool {
	if a.spec.Match != nil {
		return a.spec.Match(text)
	}
	lowered := strings.ToLower(text)
	for _, t := range a.spec.Topics {
		if strings.Contains(lowered, t) {
			return true
		}
	}
	for _, kw := range a.spec.Keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func (a *Agent) Handle(ctx context.Context, op domain.Operation, req registry.Request) (domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return domain.Response{}, err
	}
	desc := a.spec.Descriptor
	if ok, reason := policy.Allows(desc, op); !ok {
		return domain.Response{}, fmt.Errorf("%w: %s", ErrUnsupportedOperation, reason)
	}

	name := req.Learner.Name
	if name == "" {
		name = "friend"
	}
	resp := domain.Response{
		AgentID:     desc.ID,
		Suggestions: append([]string(nil), a.spec.Suggestions...),
		Metadata: map[string]any{
			"subject":               desc.Subject,
			"operation":             string(op),
			"topic":                 req.Text,
			"learner_id":            req.Learner.ID,
			"difficulty":            req.Difficulty,
			"difficulty_adjustment": req.Learner.DifficultyAdjustment(),
		},
		CreatedAt: time.Now().UTC(),
	}

	switch op {
	case domain.OperationLesson:
		resp.Type = domain.ResponseTypeLesson
		resp.Content = fmt.Sprintf("Hi %s! Let's learn about %s with %s.\n\n%s",
			name, req.Text, desc.Name, a.lessonBody(req))
	case domain.OperationPractice:
		resp.Type = domain.ResponseTypeQuestion
		resp.Content = fmt.Sprintf("Practice time, %s! Here are some %s %s challenges about %s.",
			name, difficultyOrDefault(req.Difficulty), desc.Subject, req.Text)
		resp.RequiresInput = true
		resp.InputPrompt = "Type your answer when you're ready!"
	case domain.OperationStory:
		resp.Type = domain.ResponseTypeStory
		resp.Content = fmt.Sprintf("Once upon a time, %s set off on an adventure about %s. "+
			"What do you think happens next?", name, req.Text)
		resp.RequiresInput = true
		resp.InputPrompt = "What should happen next in the story?"
	default:
		resp.Type = domain.ResponseTypeExplanation
		resp.Content = fmt.Sprintf("Great question, %s! %s can help you explore %s.", name, desc.Name, req.Text)
	}
	return resp, nil
}

func (a *Agent) lessonBody(req registry.Request) string {
	desc := a.spec.Descriptor
	var related []string
	lowered := strings.ToLower(req.Text)
	for _, t := range a.spec.Topics {
		if t != lowered && (strings.Contains(t, lowered) || strings.Contains(lowered, t)) {
			related = append(related, t)
		}
	}
	body := desc.Description
	if body == "" {
		body = fmt.Sprintf("%s is all about %s.", desc.Name, desc.Subject)
	}
	if len(related) > 0 {
		body += "\nRelated topics: " + strings.Join(related, ", ") + "."
	}
	if req.Learner.LearningStyle != "" {
		body += fmt.Sprintf("\nThis lesson is shaped for a %s learner.", req.Learner.LearningStyle)
	}
	return body
}

func difficultyOrDefault(d string) string {
	if d == "" {
		return "medium"
	}
	return d
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
