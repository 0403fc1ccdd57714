package schemas

import "context"

// -- External collaborator interfaces --
//
// The simulation core never talks to a browser, a language model, an
// embedding service, or storage directly; it sees only these contracts.
// Each is injected into the component that needs it, which keeps every
// stage deterministic under test fakes.

// LLMClient abstracts the language-model collaborator. Implementations must
// be assumed to occasionally return schema-invalid output; callers own the
// retry and fallback policy.
type LLMClient interface {
	// Generate produces a text completion for the request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any resources held by the client.
	Close() error
}

// Embedder abstracts the embedding collaborator used at memory insertion
// and for retrieval query encoding.
type Embedder interface {
	// Embed returns a vector representation of text.
	Embed(ctx context.Context, text string) ([]float64, error)
}

// BrowserSession is the external browser collaborator for one session.
type BrowserSession interface {
	// Navigate loads a URL in the session's page.
	Navigate(ctx context.Context, url string) error
	// Observe returns a structured snapshot of the currently visible page.
	Observe(ctx context.Context) (*PageObservation, error)
	// Execute performs one action command against the live page.
	Execute(ctx context.Context, cmd ActionCommand) ExecutionResult
	// Close tears the session down.
	Close(ctx context.Context) error
}

// PersonaSource supplies persona profiles at session creation time.
type PersonaSource interface {
	// Generate synthesizes one persona within the given constraints.
	Generate(ctx context.Context, constraints PersonaConstraints) (Persona, error)
}

// TraceSink consumes session telemetry: a push event per state transition
// while the session runs, and the full immutable trace exactly once when it
// terminates.
type TraceSink interface {
	OnTransition(ctx context.Context, ev SessionEvent) error
	SaveTrace(ctx context.Context, trace *SessionTrace) error
}
