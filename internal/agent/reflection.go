// internal/agent/reflection.go
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/config"
)

// ReflectionStage synthesizes higher-level insights from a recency window of
// memories. It runs on the slow loop cadence, not every cycle, and reads the
// window directly rather than through scored retrieval: reflection is about
// what just happened, not topical relevance.
type ReflectionStage struct {
	llm    schemas.LLMClient
	cfg    config.AgentConfig
	logger *zap.Logger
}

func NewReflectionStage(llm schemas.LLMClient, cfg config.AgentConfig, logger *zap.Logger) *ReflectionStage {
	return &ReflectionStage{
		llm:    llm,
		cfg:    cfg,
		logger: logger.Named("stage.reflection"),
	}
}

// Generate produces reflection records from the most recent memories.
func (r *ReflectionStage) Generate(ctx context.Context, sess *Session) ([]string, error) {
	window := sess.Stream.Recent(r.cfg.ReflectionWindow)
	if len(window) == 0 {
		return nil, nil
	}

	req := schemas.GenerationRequest{
		UserPrompt: buildReflectionPrompt(sess, window),
		Tier:       schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.7,
			ForceJSONFormat: true,
		},
	}

	var resp struct {
		Insights []string `json:"insights"`
	}
	if err := callStage(ctx, r.llm, r.logger, "reflection", req, r.cfg.StageRetries, &resp); err != nil {
		return nil, err
	}

	for _, insight := range resp.Insights {
		if insight == "" {
			continue
		}
		_, err := sess.Stream.Append(ctx, schemas.MemoryRecord{
			Kind:        schemas.MemoryReflection,
			Content:     insight,
			SourceStage: "reflection",
			Importance:  0.7,
		})
		if err != nil {
			return nil, fmt.Errorf("appending reflection: %w", err)
		}
	}

	r.logger.Debug("Reflections recorded", zap.Int("count", len(resp.Insights)))
	return resp.Insights, nil
}

// WonderStage produces the persona's spontaneous thoughts and curiosities.
// Zero thoughts is a perfectly fine outcome.
type WonderStage struct {
	llm    schemas.LLMClient
	cfg    config.AgentConfig
	logger *zap.Logger
}

func NewWonderStage(llm schemas.LLMClient, cfg config.AgentConfig, logger *zap.Logger) *WonderStage {
	return &WonderStage{
		llm:    llm,
		cfg:    cfg,
		logger: logger.Named("stage.wonder"),
	}
}

// Generate produces wonder records from a shorter recency window.
func (w *WonderStage) Generate(ctx context.Context, sess *Session) ([]string, error) {
	window := sess.Stream.Recent(w.cfg.WonderWindow)
	if len(window) == 0 {
		return nil, nil
	}

	req := schemas.GenerationRequest{
		UserPrompt: buildWonderPrompt(sess, window),
		Tier:       schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     0.9,
			ForceJSONFormat: true,
		},
	}

	var resp struct {
		Thoughts []string `json:"thoughts"`
	}
	if err := callStage(ctx, w.llm, w.logger, "wonder", req, w.cfg.StageRetries, &resp); err != nil {
		return nil, err
	}

	for _, thought := range resp.Thoughts {
		if thought == "" {
			continue
		}
		_, err := sess.Stream.Append(ctx, schemas.MemoryRecord{
			Kind:        schemas.MemoryWonder,
			Content:     thought,
			SourceStage: "wonder",
			Importance:  0.4,
		})
		if err != nil {
			return nil, fmt.Errorf("appending wonder: %w", err)
		}
	}

	w.logger.Debug("Wonders recorded", zap.Int("count", len(resp.Thoughts)))
	return resp.Thoughts, nil
}
