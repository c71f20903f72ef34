package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"swarmtrade/internal/config"
)

// Client is a thin chat-completion wrapper shared by all agent roles. It
// retries transient failures and accounts token spend per call.
type Client struct {
	Logger *zap.Logger

	api         openai.Client
	model       string
	temperature float64
	timeout     time.Duration
	maxRetries  int
}

func NewClient(logger *zap.Logger, cfg config.AIConfig) *Client {
	opts := []option.RequestOption{}
	if key := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv)); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		Logger:      logger,
		api:         openai.NewClient(opts...),
		model:       cfg.DefaultModel,
		temperature: cfg.Temperature,
		timeout:     timeout,
		maxRetries:  cfg.MaxRetries,
	}
}

// DefaultModel is the model used when a flow does not pin one.
func (c *Client) DefaultModel() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Complete runs one chat completion and returns the raw assistant text.
func (c *Client) Complete(ctx context.Context, model, system, user string) (string, Usage, error) {
	if c == nil {
		return "", Usage{}, fmt.Errorf("agent client not configured")
	}
	if strings.TrimSpace(model) == "" {
		model = c.model
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", Usage{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.api.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
			Temperature: openai.Float(c.temperature),
		})
		cancel()
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", Usage{}, ctx.Err()
			}
			if c.Logger != nil {
				c.Logger.Warn("completion failed",
					zap.String("model", model),
					zap.Int("attempt", attempt+1),
					zap.Error(err))
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("completion returned no choices")
			continue
		}

		usage := Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		}
		usage.CostUSD = estimateCost(model, usage)
		return resp.Choices[0].Message.Content, usage, nil
	}
	return "", Usage{}, fmt.Errorf("completion failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// Per-1M-token USD rates for cost accounting. Unknown models fall back to
// the most conservative known rate.
var modelRates = map[string]struct{ in, out float64 }{
	"gpt-4o":      {2.5, 10},
	"gpt-4o-mini": {0.15, 0.6},
	"gpt-4.1":     {2, 8},
	"o4-mini":     {1.1, 4.4},
}

func estimateCost(model string, u Usage) float64 {
	rate, ok := modelRates[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		rate = struct{ in, out float64 }{2.5, 10}
	}
	return float64(u.PromptTokens)/1e6*rate.in + float64(u.CompletionTokens)/1e6*rate.out
}
