// Package registry keeps the set of educational agents the router can pick
// from, indexed by id and by subject.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"flame_academy/internal/domain"
)

var ErrInvalidDescriptor = errors.New("invalid agent descriptor")

// Request is the input handed to an agent handler.
type Request struct {
	Text       string
	TaskType   domain.TaskType
	Learner    domain.LearnerContext
	Difficulty string
}

// Agent is a registered content producer. Descriptor must be stable for the
// lifetime of the registration.
type Agent interface {
	Descriptor() domain.AgentDescriptor
	HandlesTopic(topic string) bool
	Handle(ctx context.Context, op domain.Operation, req Request) (domain.Response, error)
}

type Registry struct {
	mu       sync.RWMutex
	agents   map[string]Agent
	order    []string
	subjects map[string][]string
	// subjectOrder holds subject keys in first-registration order.
	subjectOrder []string
}

func New() *Registry {
	return &Registry{
		agents:   make(map[string]Agent),
		subjects: make(map[string][]string),
	}
}

func (r *Registry) Register(agent Agent) error {
	desc := agent.Descriptor()
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := subjectKey(desc.Subject)
	if prev, ok := r.agents[desc.ID]; ok {
		prevKey := subjectKey(prev.Descriptor().Subject)
		if prevKey == key {
			// Same subject: the index entry stays where it is.
			r.agents[desc.ID] = agent
			return nil
		}
		r.removeFromSubjectLocked(prevKey, desc.ID)
	} else {
		r.order = append(r.order, desc.ID)
	}
	r.agents[desc.ID] = agent

	if _, ok := r.subjects[key]; !ok {
		r.subjectOrder = append(r.subjectOrder, key)
	}
	r.subjects[key] = append(r.subjects[key], desc.ID)
	return nil
}

func (r *Registry) Unregister(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return false
	}
	delete(r.agents, agentID)
	for i, id := range r.order {
		if id == agentID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.removeFromSubjectLocked(subjectKey(agent.Descriptor().Subject), agentID)
	return true
}

// removeFromSubjectLocked keeps the subject key (and its position) even when
// its list empties, so later registrations keep first-registration order.
func (r *Registry) removeFromSubjectLocked(key, agentID string) {
	ids := r.subjects[key]
	for i, id := range ids {
		if id == agentID {
			r.subjects[key] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

func (r *Registry) Get(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	return agent, ok
}

// Agents returns registered agents in registration order.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// BySubject returns candidate agent ids for a subject. An exact
// (case-insensitive) subject wins; otherwise every subject that contains the
// query or is contained by it contributes, in subject registration order.
func (r *Registry) BySubject(subject string) []string {
	key := subjectKey(subject)
	if key == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if ids := r.subjects[key]; len(ids) > 0 {
		return append([]string(nil), ids...)
	}
	var out []string
	for _, subj := range r.subjectOrder {
		if subj == "" {
			continue
		}
		if strings.Contains(subj, key) || strings.Contains(key, subj) {
			out = append(out, r.subjects[subj]...)
		}
	}
	return out
}

func (r *Registry) ForSubject(subject string) (Agent, bool) {
	ids := r.BySubject(subject)
	if len(ids) == 0 {
		return nil, false
	}
	return r.Get(ids[0])
}

func subjectKey(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}
