// internal/llmclient/gemini.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/config"
)

// ErrBlocked marks a generation the provider refused for safety reasons.
// Callers must not retry it.
var ErrBlocked = errors.New("generation blocked by provider")

// GeminiClient talks to the Gemini API through the official SDK. It serves
// both text generation and embedding, shares a single rate limiter across
// the two, and routes each request to a fast or powerful model by tier.
type GeminiClient struct {
	client  *genai.Client
	cfg     config.LLMConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

var (
	_ schemas.LLMClient = (*GeminiClient)(nil)
	_ schemas.Embedder  = (*GeminiClient)(nil)
)

// NewGeminiClient initializes the SDK client and validates the configuration.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	return &GeminiClient{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		logger:  logger.Named("llm_client.gemini"),
	}, nil
}

// modelFor maps a tier onto a configured model name.
func (c *GeminiClient) modelFor(tier schemas.ModelTier) string {
	if tier == schemas.TierPowerful {
		return c.cfg.PowerfulModel
	}
	return c.cfg.FastModel
}

// Generate sends the request to the tier's model and returns the raw text
// response. Transient failures are retried with exponential backoff up to the
// configured attempt budget; safety blocks and context cancellation are not.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	model := c.modelFor(req.Tier)

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Options.Temperature)),
	}
	if req.Options.ForceJSONFormat {
		genCfg.ResponseMIMEType = "application/json"
	}
	if req.Options.MaxOutputTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.Options.MaxOutputTokens)
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	var out string
	err := c.withRetries(ctx, "generate", func(callCtx context.Context) error {
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(callCtx, model, genai.Text(req.UserPrompt), genCfg)
		if err != nil {
			return classifyAPIError(err)
		}

		text := resp.Text()
		if text == "" {
			if len(resp.Candidates) > 0 {
				reason := string(resp.Candidates[0].FinishReason)
				if reason == "SAFETY" || reason == "PROHIBITED_CONTENT" {
					return fmt.Errorf("%w: %s", ErrBlocked, reason)
				}
				return fmt.Errorf("model returned empty content (finish reason %s)", reason)
			}
			return fmt.Errorf("model returned no candidates")
		}

		c.logger.Debug("LLM generation complete",
			zap.String("model", model),
			zap.Duration("duration", time.Since(start)),
			zap.Int("response_chars", len(text)))
		out = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Embed converts text into a vector using the configured embedding model.
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	var out []float64
	err := c.withRetries(ctx, "embed", func(callCtx context.Context) error {
		resp, err := c.client.Models.EmbedContent(callCtx, c.cfg.EmbeddingModel,
			genai.Text(text), nil)
		if err != nil {
			return classifyAPIError(err)
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
			return fmt.Errorf("embedding response carried no values")
		}
		values := resp.Embeddings[0].Values
		out = make([]float64, len(values))
		for i, v := range values {
			out[i] = float64(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases nothing today but keeps the collaborator contract so a
// future transport can hold connections.
func (c *GeminiClient) Close() error {
	return nil
}

// permanentError wraps failures that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func classifyAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 503:
			return err // Transient, retry.
		default:
			return &permanentError{err: err}
		}
	}
	// Network-level failures are worth another attempt.
	return err
}

// withRetries applies the shared rate limit and per-call timeout, retrying
// transient failures with doubling delays.
func (c *GeminiClient) withRetries(ctx context.Context, op string, call func(context.Context) error) error {
	attempts := c.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	delay := 2 * time.Second
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter interrupted: %w", err)
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if c.cfg.APITimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.APITimeout)
		}
		err := call(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, ErrBlocked) || ctx.Err() != nil {
			return err
		}

		lastErr = err
		if attempt < attempts {
			c.logger.Warn("LLM call failed, retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}
