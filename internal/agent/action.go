// internal/agent/action.go
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/config"
	"github.com/xkilldash9x/usersim-cli/internal/memory"
)

// ActionStage translates the plan's next step into concrete browser commands.
type ActionStage struct {
	llm    schemas.LLMClient
	cfg    config.AgentConfig
	scorer *memory.Scorer
	logger *zap.Logger
}

func NewActionStage(llm schemas.LLMClient, cfg config.AgentConfig, logger *zap.Logger) *ActionStage {
	return &ActionStage{
		llm:    llm,
		cfg:    cfg,
		scorer: memory.NewScorer(cfg.RecencyDecay),
		logger: logger.Named("stage.action"),
	}
}

type actionResponse struct {
	Actions []struct {
		Type        string `json:"type"`
		TargetName  string `json:"target_name"`
		Value       string `json:"value"`
		Description string `json:"description"`
	} `json:"actions"`
}

// Act produces the commands for the next step and logs each as an
// action_taken record before it is dispatched, so the trace reflects intent
// even when execution later fails. A step that cannot be grounded in the
// page's elements yields exactly one error-typed sentinel command.
func (a *ActionStage) Act(ctx context.Context, nextStep string, obs *schemas.PageObservation, sess *Session) ([]schemas.ActionCommand, error) {
	if len(obs.Clickables) == 0 && len(obs.Inputs) == 0 {
		return a.errorCommand(ctx, sess, "no interactable elements on the page")
	}

	query := fmt.Sprintf("How to execute this step: %s", nextStep)
	memories, err := sess.Stream.Retrieve(ctx, query, sess.Stream.Now(),
		a.cfg.ActionRetrievalLimit, actionWeights(), a.scorer)
	if err != nil {
		return nil, fmt.Errorf("retrieving action memories: %w", err)
	}

	req := schemas.GenerationRequest{
		UserPrompt: buildActionPrompt(sess, nextStep, obs, memories),
		Tier:       schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     0.3,
			ForceJSONFormat: true,
		},
	}

	var resp actionResponse
	if err := callStage(ctx, a.llm, a.logger, "action", req, a.cfg.StageRetries, &resp); err != nil {
		return nil, err
	}
	if len(resp.Actions) == 0 {
		return a.errorCommand(ctx, sess, "model produced no actions for the step")
	}

	known := obs.ElementNames()
	commands := make([]schemas.ActionCommand, 0, len(resp.Actions))
	for _, raw := range resp.Actions {
		cmd := schemas.ActionCommand{
			Type:        schemas.ActionType(raw.Type),
			TargetName:  raw.TargetName,
			Value:       raw.Value,
			Description: raw.Description,
		}
		if !schemas.ValidActionType(cmd.Type) || cmd.Type == schemas.ActionError {
			return a.errorCommand(ctx, sess, fmt.Sprintf("model chose unsupported action type %q", raw.Type))
		}
		if requiresTarget(cmd.Type) {
			if _, ok := known[cmd.TargetName]; !ok {
				return a.errorCommand(ctx, sess,
					fmt.Sprintf("target %q does not exist on the page", cmd.TargetName))
			}
		}
		commands = append(commands, cmd)
	}

	for _, cmd := range commands {
		_, err := sess.Stream.Append(ctx, schemas.MemoryRecord{
			Kind:        schemas.MemoryActionTaken,
			Content:     cmd.Describe(),
			SourceStage: "action",
			Importance:  0.8,
		})
		if err != nil {
			return nil, fmt.Errorf("appending action record: %w", err)
		}
	}

	return commands, nil
}

func requiresTarget(t schemas.ActionType) bool {
	switch t {
	case schemas.ActionClick, schemas.ActionInput, schemas.ActionHover:
		return true
	}
	return false
}

// errorCommand emits the single recoverable sentinel and records it, so the
// orchestrator can reobserve and replan instead of failing the step.
func (a *ActionStage) errorCommand(ctx context.Context, sess *Session, reason string) ([]schemas.ActionCommand, error) {
	a.logger.Debug("Emitting error sentinel", zap.String("reason", reason))
	cmd := schemas.ActionCommand{
		Type:        schemas.ActionError,
		Description: reason,
	}
	_, err := sess.Stream.Append(ctx, schemas.MemoryRecord{
		Kind:        schemas.MemoryActionTaken,
		Content:     cmd.Describe(),
		SourceStage: "action",
		Importance:  0.9,
	})
	if err != nil {
		return nil, fmt.Errorf("appending error sentinel record: %w", err)
	}
	return []schemas.ActionCommand{cmd}, nil
}
