package schemas

import (
	"fmt"
	"strings"
)

// MemoryKind is the closed enumeration of record types a session's memory
// stream can hold. Records are tagged variants with a uniform attribute set;
// anything outside this vocabulary is rejected at append time.
type MemoryKind string

const (
	MemoryObservation MemoryKind = "observation"  // Something the agent perceived on the page.
	MemoryActionTaken MemoryKind = "action_taken" // A command the agent decided to execute.
	MemoryPlanStep    MemoryKind = "plan_step"    // A snapshot of the plan at the time it was (re)written.
	MemoryReflection  MemoryKind = "reflection"   // A slow-loop insight synthesized from recent memories.
	MemoryWonder      MemoryKind = "wonder"       // A spontaneous thought or curiosity.
	MemoryPersonaFact MemoryKind = "persona_fact" // An immutable fact about the persona, seeded at start.
	MemoryIntent      MemoryKind = "intent"       // The researcher-specified task, seeded at start.
)

// ValidMemoryKind reports whether k is part of the closed kind enumeration.
func ValidMemoryKind(k MemoryKind) bool {
	switch k {
	case MemoryObservation, MemoryActionTaken, MemoryPlanStep,
		MemoryReflection, MemoryWonder, MemoryPersonaFact, MemoryIntent:
		return true
	}
	return false
}

// MemoryRecord is the atomic unit of the agent's experience log. Records are
// immutable after insertion: a correction is a new record, never an edit.
type MemoryRecord struct {
	ID      string     `json:"id"`
	Kind    MemoryKind `json:"kind"`
	Content string     `json:"content"`
	// CreatedAt is a monotonic logical tick assigned by the stream, not
	// wall-clock time, so recency scoring stays deterministic in tests.
	CreatedAt   int64  `json:"created_at"`
	SourceStage string `json:"source_stage"`
	// Embedding is computed once over Content at insertion time.
	Embedding  []float64 `json:"embedding,omitempty"`
	Importance float64   `json:"importance"`
}

// RetrievalWeights controls the weighted multi-criteria ranking used by
// memory retrieval. The three scalar weights are combined linearly and the
// result is multiplied by the per-kind type weight.
type RetrievalWeights struct {
	Importance  float64                `json:"importance"`
	Relevance   float64                `json:"relevance"`
	Recency     float64                `json:"recency"`
	TypeWeights map[MemoryKind]float64 `json:"type_weights,omitempty"`
}

// DefaultRetrievalWeights returns the neutral profile: equal thirds and no
// per-kind bias. Stages are expected to supply their own profiles.
func DefaultRetrievalWeights() RetrievalWeights {
	third := 1.0 / 3.0
	return RetrievalWeights{Importance: third, Relevance: third, Recency: third}
}

// TypeWeight resolves the multiplier for a kind, defaulting to 1.0.
func (w RetrievalWeights) TypeWeight(k MemoryKind) float64 {
	if w.TypeWeights == nil {
		return 1.0
	}
	if tw, ok := w.TypeWeights[k]; ok {
		return tw
	}
	return 1.0
}

// Persona is an immutable synthetic user profile. It is generated before a
// session starts and is a read-only input to every stage's prompt.
type Persona struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Age          int      `json:"age"`
	Occupation   string   `json:"occupation"`
	TechLiteracy string   `json:"tech_literacy"` // "beginner", "intermediate" or "advanced".
	Traits       []string `json:"traits"`
	Goals        []string `json:"goals"`
	PainPoints   []string `json:"pain_points"`
	Background   string   `json:"background,omitempty"`
}

// Describe renders the persona as prompt-ready text, one attribute per line.
func (p Persona) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	fmt.Fprintf(&b, "Age: %d\n", p.Age)
	fmt.Fprintf(&b, "Occupation: %s\n", p.Occupation)
	fmt.Fprintf(&b, "Tech literacy: %s\n", p.TechLiteracy)
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "Traits: %s\n", strings.Join(p.Traits, ", "))
	}
	if len(p.Goals) > 0 {
		fmt.Fprintf(&b, "Goals: %s\n", strings.Join(p.Goals, ", "))
	}
	if len(p.PainPoints) > 0 {
		fmt.Fprintf(&b, "Pain points: %s\n", strings.Join(p.PainPoints, ", "))
	}
	if p.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", p.Background)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Facts flattens the persona into individual statements suitable for seeding
// the memory stream as persona_fact records.
func (p Persona) Facts() []string {
	facts := []string{
		fmt.Sprintf("My name is %s and I am %d years old.", p.Name, p.Age),
		fmt.Sprintf("I work as a %s.", p.Occupation),
		fmt.Sprintf("My comfort level with technology is %s.", p.TechLiteracy),
	}
	for _, t := range p.Traits {
		facts = append(facts, fmt.Sprintf("Trait: %s", t))
	}
	for _, g := range p.Goals {
		facts = append(facts, fmt.Sprintf("Goal: %s", g))
	}
	for _, pp := range p.PainPoints {
		facts = append(facts, fmt.Sprintf("Pain point: %s", pp))
	}
	return facts
}

// PersonaConstraints narrows the demographic distribution a persona source
// draws from. Empty fields mean "any".
type PersonaConstraints struct {
	AgeRange       string `json:"age_range,omitempty"`
	Gender         string `json:"gender,omitempty"`
	TechExperience string `json:"tech_experience,omitempty"`
	IncomeLevel    string `json:"income_level,omitempty"`
	EducationLevel string `json:"education_level,omitempty"`
	// PriorNames lists already-generated persona names so batches stay distinct.
	PriorNames []string `json:"prior_names,omitempty"`
}

// Plan is the live planning summary owned by the planning stage. It is
// replaced wholesale on every planning cycle; superseded plans survive only
// as plan_step records in the memory stream.
type Plan struct {
	Rationale string   `json:"rationale"`
	Steps     []string `json:"steps"`
	NextStep  string   `json:"next_step"`
}

// Render formats the plan for prompts and plan_step record content.
func (p Plan) Render() string {
	var b strings.Builder
	if p.Rationale != "" {
		fmt.Fprintf(&b, "Rationale: %s\n", p.Rationale)
	}
	for i, s := range p.Steps {
		fmt.Fprintf(&b, "Step %d: %s\n", i+1, s)
	}
	fmt.Fprintf(&b, "Next step: %s", p.NextStep)
	return b.String()
}

// ActionType enumerates the concrete browser instructions the agent can emit.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionInput    ActionType = "input"
	ActionScroll   ActionType = "scroll"
	ActionHover    ActionType = "hover"
	ActionNavigate ActionType = "navigate"
	ActionWait     ActionType = "wait"
	// ActionError is the sentinel emitted when a step cannot be translated
	// into an executable command (e.g. no matching page element). It is
	// recoverable at the orchestrator level, never dispatched to the browser.
	ActionError ActionType = "error"
)

// ValidActionType reports whether t is part of the closed action enumeration.
func ValidActionType(t ActionType) bool {
	switch t {
	case ActionClick, ActionInput, ActionScroll, ActionHover,
		ActionNavigate, ActionWait, ActionError:
		return true
	}
	return false
}

// ActionCommand is one executable browser instruction. TargetName is a
// path-like identifier resolved against the page's current interactable
// element list; it is empty for scroll/navigate/wait/error commands.
type ActionCommand struct {
	Type        ActionType `json:"type"`
	TargetName  string     `json:"target_name,omitempty"`
	Value       string     `json:"value,omitempty"`
	Description string     `json:"description"`
}

// Describe renders the command the way the trace and action_taken records
// present it.
func (c ActionCommand) Describe() string {
	switch c.Type {
	case ActionClick:
		return fmt.Sprintf("Clicked on %s: %s", c.TargetName, c.Description)
	case ActionInput:
		return fmt.Sprintf("Entered %q into %s", c.Value, c.TargetName)
	case ActionScroll:
		return fmt.Sprintf("Scrolled %s on the page", c.Value)
	case ActionHover:
		return fmt.Sprintf("Hovered over %s", c.TargetName)
	case ActionNavigate:
		return fmt.Sprintf("Navigated to %s", c.Value)
	case ActionWait:
		return fmt.Sprintf("Waited for %s seconds", c.Value)
	case ActionError:
		return fmt.Sprintf("Could not act: %s", c.Description)
	}
	return fmt.Sprintf("Unknown action %q", string(c.Type))
}

// PageElement is one addressable element on the current page. Name is the
// hierarchical identifier commands target (e.g. "header/nav/search_button").
type PageElement struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TextBlock is a simplified unit of visible page text.
type TextBlock struct {
	Type  string   `json:"type"` // "heading", "paragraph" or "list".
	Text  string   `json:"text,omitempty"`
	Items []string `json:"items,omitempty"`
}

// PageObservation is the browser collaborator's structured snapshot of the
// currently visible page, consumed by the perception stage.
type PageObservation struct {
	URL        string        `json:"url"`
	Title      string        `json:"title"`
	Clickables []PageElement `json:"clickables"`
	Inputs     []PageElement `json:"inputs"`
	TextBlocks []TextBlock   `json:"text_blocks"`
}

// Empty reports whether the snapshot carries nothing a perception stage
// could work with.
func (p *PageObservation) Empty() bool {
	return p == nil || (len(p.Clickables) == 0 && len(p.Inputs) == 0 && len(p.TextBlocks) == 0)
}

// ElementNames returns the set of addressable target names on the page.
func (p *PageObservation) ElementNames() map[string]struct{} {
	names := make(map[string]struct{}, len(p.Clickables)+len(p.Inputs))
	for _, e := range p.Clickables {
		names[e.Name] = struct{}{}
	}
	for _, e := range p.Inputs {
		names[e.Name] = struct{}{}
	}
	return names
}

// ExecutionResult reports the browser collaborator's outcome for one
// dispatched command.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SessionState is the lifecycle state of one persona session.
type SessionState string

const (
	SessionRunning   SessionState = "running"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
	SessionAborted   SessionState = "aborted"
)

// TerminationReason records why the orchestrator stopped a session.
type TerminationReason string

const (
	// TerminatedCompleted means the planning stage declared the intent satisfied.
	TerminatedCompleted TerminationReason = "COMPLETED"
	// TerminatedAborted covers external cancellation and unrecoverable failure streaks.
	TerminatedAborted TerminationReason = "ABORTED"
	// TerminatedExhausted means a step or simulated-time budget ran out.
	TerminatedExhausted TerminationReason = "EXHAUSTED"
)

// SessionEvent is the push notification emitted to the trace sink on every
// orchestrator state transition.
type SessionEvent struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	Phase     string       `json:"phase"` // e.g. "initializing", "fast_cycle", "slow_cycle", "terminated".
	Cycle     int          `json:"cycle"`
	Detail    string       `json:"detail,omitempty"`
}

// SessionTrace is the complete, ordered, immutable record of a finished
// session, handed to the trace sink exactly once at termination.
type SessionTrace struct {
	SessionID  string            `json:"session_id"`
	Persona    Persona           `json:"persona"`
	Intent     string            `json:"intent"`
	TargetURL  string            `json:"target_url"`
	State      SessionState      `json:"state"`
	Reason     TerminationReason `json:"reason"`
	Cycles     int               `json:"cycles"`
	SlowCycles int               `json:"slow_cycles"`
	Records    []MemoryRecord    `json:"records"`
	Commands   []ActionCommand   `json:"commands"`
}

// ModelTier selects between a fast and a more capable language model.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions tunes a single completion request.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
}

// GenerationRequest is a complete request to the language-model collaborator.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}
