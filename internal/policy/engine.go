// Package policy decides which agent operation a dispatch invokes, using the
// capabilities an agent declares rather than probing what it implements.
package policy

import (
	"fmt"

	"flame_academy/internal/domain"
)

type Engine struct{}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) OperationFor(desc domain.AgentDescriptor, taskType domain.TaskType) domain.Operation {
	switch taskType {
	case domain.TaskTypeLesson:
		return domain.OperationLesson
	case domain.TaskTypePractice:
		return domain.OperationPractice
	case domain.TaskTypeStory:
		if ok, _ := Allows(desc, domain.OperationStory); ok {
			return domain.OperationStory
		}
	}
	return domain.OperationRespond
}

// Allows reports whether an agent with the descriptor may run op, with a
// reason when it may not.
func Allows(desc domain.AgentDescriptor, op domain.Operation) (bool, string) {
	switch op {
	case domain.OperationLesson, domain.OperationPractice, domain.OperationRespond:
		return true, ""
	case domain.OperationStory:
		if desc.HasCapability(domain.CapabilityStorytell) {
			return true, ""
		}
		return false, fmt.Sprintf("agent %s does not declare %s", desc.ID, domain.CapabilityStorytell)
	}
	return false, fmt.Sprintf("unknown operation %q", op)
}
