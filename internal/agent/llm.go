// internal/agent/llm.go
package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/llmclient"
)

// callStage asks the model for structured output and decodes it into out,
// retrying once with the same input when the response is unusable. After the
// retry budget is spent it returns a StageFailure for the orchestrator to
// recover from.
func callStage(ctx context.Context, llm schemas.LLMClient, logger *zap.Logger, stage string, req schemas.GenerationRequest, retries int, out any) error {
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := llm.Generate(ctx, req)
		if err != nil {
			lastErr = err
		} else if err := llmclient.DecodeJSON(raw, out); err != nil {
			logger.Warn("Stage response was not valid JSON",
				zap.String("stage", stage),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			lastErr = err
		} else {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &StageFailure{Stage: stage, Err: lastErr}
}
