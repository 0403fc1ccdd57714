// internal/agent/perception.go
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/config"
	"github.com/xkilldash9x/usersim-cli/internal/memory"
)

// PerceptionStage turns a page observation payload into observation memories.
type PerceptionStage struct {
	llm    schemas.LLMClient
	cfg    config.AgentConfig
	scorer *memory.Scorer
	logger *zap.Logger
}

func NewPerceptionStage(llm schemas.LLMClient, cfg config.AgentConfig, logger *zap.Logger) *PerceptionStage {
	return &PerceptionStage{
		llm:    llm,
		cfg:    cfg,
		scorer: memory.NewScorer(cfg.RecencyDecay),
		logger: logger.Named("stage.perception"),
	}
}

// Perceive asks the model to describe what matters on the page, rates each
// observation's importance against the intent and appends the results. An
// empty payload yields ErrEmptyObservation and no records; the stream is
// only mutated.
func (p *PerceptionStage) Perceive(ctx context.Context, obs *schemas.PageObservation, sess *Session) ([]string, error) {
	if obs.Empty() {
		return nil, ErrEmptyObservation
	}

	query := fmt.Sprintf("What matters on this page for: %s", sess.Intent)
	memories, err := sess.Stream.Retrieve(ctx, query, sess.Stream.Now(),
		p.cfg.PerceptionRetrievalLimit, perceptionWeights(), p.scorer)
	if err != nil {
		return nil, fmt.Errorf("retrieving perception memories: %w", err)
	}

	req := schemas.GenerationRequest{
		UserPrompt: buildPerceptionPrompt(sess, obs, memories),
		Tier:       schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     0.4,
			ForceJSONFormat: true,
		},
	}

	var resp struct {
		Observations []string `json:"observations"`
	}
	if err := callStage(ctx, p.llm, p.logger, "perception", req, p.cfg.StageRetries, &resp); err != nil {
		return nil, err
	}
	if len(resp.Observations) == 0 {
		return nil, ErrEmptyObservation
	}

	for _, observation := range resp.Observations {
		if observation == "" {
			continue
		}
		_, err := sess.Stream.Append(ctx, schemas.MemoryRecord{
			Kind:        schemas.MemoryObservation,
			Content:     observation,
			SourceStage: "perception",
			Importance:  scoreObservationImportance(observation, sess.Intent),
		})
		if err != nil {
			return nil, fmt.Errorf("appending observation: %w", err)
		}
	}

	p.logger.Debug("Observations recorded", zap.Int("count", len(resp.Observations)))
	return resp.Observations, nil
}
