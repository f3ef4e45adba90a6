package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/retroterm/c64bridge/memory"
)

// DefaultModel is the model used when the config names none.
const DefaultModel = anthropic.ModelClaude3_7SonnetLatest

// defaultSystemPrompt tells the model about the display it is talking to.
const defaultSystemPrompt = `You are communicating through a Commodore 64 computer from the 1980s.
The C64 has extremely limited display capabilities.
You can mention how neat it is, but you don't need to pretend to be a C64, the user is on one.
VERY IMPORTANT: Keep ALL responses under 200 characters maximum total.
Use extremely concise language - think telegram style.
The user will see your responses on a 40-column display with only 3-4 lines visible.
Only use standard ASCII characters - no Unicode, emojis, or special symbols.
Do not use line breaks or paragraph formatting.`

// AnthropicConfig configures the batch provider.
type AnthropicConfig struct {
	Model          anthropic.Model
	MaxTokens      int64 // must leave room for the thinking budget
	ThinkingBudget int64
	SystemPrompt   string
	Retry          RetryPolicy
}

// DefaultAnthropicConfig returns the tuning the C64 client was built
// against: thinking enabled with a 2000-token budget inside a 4000-token
// response ceiling.
func DefaultAnthropicConfig() AnthropicConfig {
	return AnthropicConfig{
		Model:          DefaultModel,
		MaxTokens:      4000,
		ThinkingBudget: 2000,
		SystemPrompt:   defaultSystemPrompt,
		Retry:          DefaultRetryPolicy,
	}
}

// AnthropicClient is the batch Generator over the Anthropic Messages API.
// The SDK's own retries are disabled; the bridge's retry policy governs.
type AnthropicClient struct {
	client anthropic.Client
	cfg    AnthropicConfig
	log    *zap.Logger
}

// NewAnthropicClient returns a client using the API key from the env (the
// SDK reads ANTHROPIC_API_KEY).
func NewAnthropicClient(cfg AnthropicConfig, log *zap.Logger) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithMaxRetries(0)),
		cfg:    cfg,
		log:    log,
	}
}

// Converse sends the whole history (the last turn is the new user message)
// and splits the response into thinking and answer blocks.
func (c *AnthropicClient) Converse(ctx context.Context, turns []memory.Turn) (Result, error) {
	params := anthropic.MessageNewParams{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages:  toMessageParams(turns),
		System:    []anthropic.TextBlockParam{{Text: c.cfg.SystemPrompt}},
	}
	if c.cfg.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: c.cfg.ThinkingBudget},
		}
		// The API requires temperature 1.0 when thinking is enabled.
		params.Temperature = anthropic.Float(1.0)
	}

	var result Result
	err := c.cfg.Retry.Do(ctx, func() error {
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			reqErr := classifyAnthropicErr(err)
			if reqErr.Retryable {
				c.log.Warn("anthropic request failed, will retry",
					zap.Int("status", reqErr.Status), zap.String("error", reqErr.Message))
			}
			return reqErr
		}
		result = splitContentBlocks(msg)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// toMessageParams converts history turns into SDK message params.
func toMessageParams(turns []memory.Turn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		block := anthropic.NewTextBlock(turn.Text)
		if turn.Role == memory.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// splitContentBlocks collects thinking and text blocks from a response.
func splitContentBlocks(msg *anthropic.Message) Result {
	var res Result
	var answer strings.Builder
	var thinking strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.ThinkingBlock:
			if thinking.Len() > 0 {
				thinking.WriteByte(' ')
			}
			thinking.WriteString(b.Thinking)
		case anthropic.TextBlock:
			answer.WriteString(b.Text)
		}
	}
	res.Thinking = strings.TrimSpace(thinking.String())
	res.Answer = strings.TrimSpace(answer.String())
	return res
}

// classifyAnthropicErr maps an SDK error onto the retry taxonomy: 429, 529,
// and overload signals retry; everything else (auth, malformed request,
// network failures) is terminal.
func classifyAnthropicErr(err error) *RequestError {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		msg := apierr.Error()
		return &RequestError{
			Provider: "anthropic",
			Status:   apierr.StatusCode,
			Message:  msg,
			Retryable: apierr.StatusCode == 429 || apierr.StatusCode == 529 ||
				strings.Contains(msg, "overloaded_error"),
		}
	}
	return &RequestError{
		Provider:  "anthropic",
		Message:   err.Error(),
		Retryable: strings.Contains(err.Error(), "overloaded"),
	}
}
