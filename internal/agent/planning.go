// internal/agent/planning.go
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/config"
	"github.com/xkilldash9x/usersim-cli/internal/memory"
)

// PlanningStage turns memories, persona and intent into an updated plan and
// the next actionable step.
type PlanningStage struct {
	llm    schemas.LLMClient
	cfg    config.AgentConfig
	scorer *memory.Scorer
	logger *zap.Logger
}

func NewPlanningStage(llm schemas.LLMClient, cfg config.AgentConfig, logger *zap.Logger) *PlanningStage {
	return &PlanningStage{
		llm:    llm,
		cfg:    cfg,
		scorer: memory.NewScorer(cfg.RecencyDecay),
		logger: logger.Named("stage.planning"),
	}
}

type planResponse struct {
	Rationale    string   `json:"rationale"`
	Steps        []string `json:"steps"`
	NextStep     string   `json:"next_step"`
	TaskComplete bool     `json:"task_complete"`
}

// Plan retrieves relevant memories, asks the model for a fresh plan and
// installs it on the session, logging the replacement as a plan_step record.
// Returns ErrTaskComplete when the model judges the intent satisfied. A plan
// without a next step and without completion is a StageFailure: the
// orchestrator must never act on an empty step silently.
func (p *PlanningStage) Plan(ctx context.Context, sess *Session) (schemas.Plan, error) {
	query := fmt.Sprintf("Current situation and how to accomplish: %s", sess.Intent)
	memories, err := sess.Stream.Retrieve(ctx, query, sess.Stream.Now(),
		p.cfg.PlanningRetrievalLimit, planningWeights(), p.scorer)
	if err != nil {
		return schemas.Plan{}, fmt.Errorf("retrieving planning memories: %w", err)
	}

	req := schemas.GenerationRequest{
		UserPrompt: buildPlanningPrompt(sess, memories),
		Tier:       schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.5,
			ForceJSONFormat: true,
		},
	}

	var resp planResponse
	if err := callStage(ctx, p.llm, p.logger, "planning", req, p.cfg.StageRetries, &resp); err != nil {
		return schemas.Plan{}, err
	}

	if resp.TaskComplete {
		p.logger.Info("Planning declared the intent satisfied")
		return schemas.Plan{}, ErrTaskComplete
	}
	if strings.TrimSpace(resp.NextStep) == "" {
		return schemas.Plan{}, &StageFailure{
			Stage: "planning",
			Err:   fmt.Errorf("plan has no next step and task is not complete"),
		}
	}

	plan := schemas.Plan{
		Rationale: resp.Rationale,
		Steps:     resp.Steps,
		NextStep:  strings.TrimSpace(resp.NextStep),
	}
	sess.Plan = plan

	_, err = sess.Stream.Append(ctx, schemas.MemoryRecord{
		Kind:        schemas.MemoryPlanStep,
		Content:     plan.Render(),
		SourceStage: "planning",
		Importance:  0.8,
	})
	if err != nil {
		return schemas.Plan{}, fmt.Errorf("appending plan step: %w", err)
	}

	p.logger.Debug("Plan updated",
		zap.Int("steps", len(plan.Steps)),
		zap.String("next_step", plan.NextStep))
	return plan, nil
}
