package agent

import (
	"strings"

	"flame_academy/internal/domain"
)

func Math() *Agent {
	return mustNew(Spec{
		Descriptor: domain.AgentDescriptor{
			ID:          "math_wizard",
			Name:        "Math Wizard",
			Subject:     "math",
			Description: "Makes numbers, shapes and patterns feel like magic.",
			Capabilities: []domain.Capability{
				domain.CapabilityTeach, domain.CapabilityPractice, domain.CapabilityAssess,
				domain.CapabilityExplain, domain.CapabilityEncourage, domain.CapabilityAdapt,
				domain.CapabilityGamify, domain.CapabilityVisualize,
			},
			MinAge: 4,
			MaxAge: 12,
		},
		Topics: []string{
			"counting", "numbers", "shapes", "patterns", "comparing",
			"addition", "subtraction", "simple multiplication", "time", "money",
			"multiplication", "division", "fractions", "measurement", "geometry",
			"decimals", "percentages", "algebra basics", "word problems", "data",
		},
		Keywords: []string{
			"math", "number", "calculate", "add", "subtract",
			"multiply", "divide", "count", "fraction", "arithmetic",
		},
		Suggestions: []string{"Practice more problems", "Play a math game", "Learn a new topic"},
	})
}

func Storyteller() *Agent {
	return mustNew(Spec{
		Descriptor: domain.AgentDescriptor{
			ID:          "story_weaver",
			Name:        "Story Weaver",
			Subject:     "reading",
			Description: "Spins stories that build reading and writing skills.",
			Capabilities: []domain.Capability{
				domain.CapabilityTeach, domain.CapabilityStorytell, domain.CapabilityExplain,
				domain.CapabilityEncourage, domain.CapabilityGamify,
			},
			MinAge: 4,
			MaxAge: 12,
		},
		Topics: []string{
			"characters", "plot", "setting", "beginning", "middle", "end",
			"vocabulary", "reading", "writing", "poetry", "fairy tales",
			"adventure", "mystery", "friendship", "emotions",
		},
		Keywords: []string{
			"story", "read", "write", "book", "tale",
			"narrative", "character", "fiction", "imagination", "creative",
		},
		Suggestions: []string{"Hear another story", "Write your own story", "Learn new words"},
	})
}

var stemAreas = []struct {
	area   string
	topics []string
}{
	{"science", []string{"plants", "animals", "weather", "space", "earth", "water", "light", "sound", "magnets"}},
	{"technology", []string{"computers", "internet", "robots", "coding basics", "digital tools"}},
	{"engineering", []string{"building", "bridges", "machines", "design", "inventions"}},
	{"math", []string{"patterns", "shapes", "measurement", "graphs", "logic"}},
}

var stemKeywords = []string{
	"science", "technology", "engineering", "stem", "experiment",
	"discover", "explore", "build", "create", "invent",
}

// STEM matches a topic that names an area, equals an area topic, or is part
// of one ("plant" matches "plants"), plus the general STEM keywords.
func STEM() *Agent {
	var topics []string
	for _, a := range stemAreas {
		topics = append(topics, a.topics...)
	}
	return mustNew(Spec{
		Descriptor: domain.AgentDescriptor{
			ID:          "stem_explorer",
			Name:        "STEM Explorer",
			Subject:     "stem",
			Description: "Your guide to exploring science, technology, engineering and math.",
			Capabilities: []domain.Capability{
				domain.CapabilityTeach, domain.CapabilityExplain, domain.CapabilityEncourage,
				domain.CapabilityVisualize, domain.CapabilityGamify,
			},
			MinAge: 5,
			MaxAge: 12,
		},
		Topics:      topics,
		Keywords:    stemKeywords,
		Suggestions: []string{"Do an experiment", "Ask a question", "Try a challenge"},
		Match:       stemMatch,
	})
}

func stemMatch(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return false
	}
	for _, a := range stemAreas {
		if lowered == a.area {
			return true
		}
		for _, t := range a.topics {
			if strings.Contains(t, lowered) {
				return true
			}
		}
	}
	for _, kw := range stemKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// Defaults returns the built-in agents in registration order.
func Defaults() []*Agent {
	return []*Agent{Math(), Storyteller(), STEM()}
}

func mustNew(spec Spec) *Agent {
	a, err := New(spec)
	if err != nil {
		panic(err)
	}
	return a
}
