// internal/agent/session.go
package agent

import (
	"strings"

	"github.com/google/uuid"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/memory"
)

// Session is one persona's end-to-end run against one task and URL. The
// orchestrator is its sole mutator; stages read it and write only through
// the memory stream.
type Session struct {
	ID        string
	Persona   schemas.Persona
	Intent    string
	TargetURL string

	Stream *memory.Stream

	// Plan is the live plan pointer, replaced wholesale each planning cycle.
	// Superseded plans survive only as plan_step records.
	Plan  schemas.Plan
	State schemas.SessionState
}

// NewSession creates a running session around an empty memory stream.
func NewSession(persona schemas.Persona, intent, targetURL string, stream *memory.Stream) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Persona:   persona,
		Intent:    intent,
		TargetURL: targetURL,
		Stream:    stream,
		State:     schemas.SessionRunning,
	}
}

// Stage-specific retrieval profiles. Perception leans on fresh intent
// context, planning on plan history and relevance, action on the plan step
// being executed.

func perceptionWeights() schemas.RetrievalWeights {
	return schemas.RetrievalWeights{
		Importance: 0.3,
		Relevance:  0.4,
		Recency:    0.3,
		TypeWeights: map[schemas.MemoryKind]float64{
			schemas.MemoryObservation: 1.2,
			schemas.MemoryActionTaken: 1.0,
			schemas.MemoryPlanStep:    0.8,
			schemas.MemoryReflection:  0.7,
			schemas.MemoryWonder:      0.5,
			schemas.MemoryPersonaFact: 1.0,
			schemas.MemoryIntent:      1.5,
		},
	}
}

func planningWeights() schemas.RetrievalWeights {
	return schemas.RetrievalWeights{
		Importance: 0.3,
		Relevance:  0.5,
		Recency:    0.2,
		TypeWeights: map[schemas.MemoryKind]float64{
			schemas.MemoryObservation: 1.0,
			schemas.MemoryActionTaken: 1.2,
			schemas.MemoryPlanStep:    1.5,
			schemas.MemoryReflection:  0.8,
			schemas.MemoryWonder:      0.3,
			schemas.MemoryPersonaFact: 0.7,
			schemas.MemoryIntent:      1.4,
		},
	}
}

func actionWeights() schemas.RetrievalWeights {
	return schemas.RetrievalWeights{
		Importance: 0.35,
		Relevance:  0.45,
		Recency:    0.2,
		TypeWeights: map[schemas.MemoryKind]float64{
			schemas.MemoryObservation: 0.9,
			schemas.MemoryActionTaken: 0.7,
			schemas.MemoryPlanStep:    1.5,
			schemas.MemoryReflection:  0.5,
			schemas.MemoryWonder:      0.3,
			schemas.MemoryPersonaFact: 0.6,
			schemas.MemoryIntent:      1.3,
		},
	}
}

var uiKeywords = []string{
	"button", "link", "menu", "search", "input", "form", "error", "navigation",
}

// scoreObservationImportance rates an observation against the intent with a
// cheap keyword heuristic: word overlap with the intent plus a boost for
// mentions of key UI elements. Result is in [0.1, 1.0].
func scoreObservationImportance(observation, intent string) float64 {
	obsWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(observation)) {
		obsWords[w] = struct{}{}
	}

	overlap := 0
	for _, w := range strings.Fields(strings.ToLower(intent)) {
		if _, ok := obsWords[w]; ok {
			overlap++
		}
	}

	score := 0.5
	if overlap > 0 {
		boost := float64(overlap) * 0.05
		if boost > 0.3 {
			boost = 0.3
		}
		score += boost
	}

	lower := strings.ToLower(observation)
	for _, kw := range uiKeywords {
		if strings.Contains(lower, kw) {
			score += 0.05
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.1 {
		score = 0.1
	}
	return score
}
