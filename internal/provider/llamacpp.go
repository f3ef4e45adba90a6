package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/retroterm/c64bridge/memory"
)

// Prompt delimiters for DeepSeek-style chat templates served by llama.cpp.
const (
	llamaUserTag      = "<｜User｜>"
	llamaAssistantTag = "<｜Assistant｜>"
)

// LlamaConfig configures the streaming provider.
type LlamaConfig struct {
	BaseURL     string // e.g. http://127.0.0.1:3000
	Temperature float64
	Timeout     time.Duration
	Retry       RetryPolicy
}

// DefaultLlamaConfig targets a local llama.cpp server.
func DefaultLlamaConfig() LlamaConfig {
	return LlamaConfig{
		BaseURL:     "http://127.0.0.1:3000",
		Temperature: 0.5,
		Timeout:     60 * time.Second,
		Retry:       DefaultRetryPolicy,
	}
}

// LlamaClient is the streaming Generator over llama.cpp's /completion
// endpoint. The response arrives as SSE lines; content fragments are
// concatenated until the server signals stop, then inline <think> spans are
// separated out.
type LlamaClient struct {
	cfg        LlamaConfig
	httpClient *http.Client
	log        *zap.Logger
}

// NewLlamaClient returns a client for the server at cfg.BaseURL.
func NewLlamaClient(cfg LlamaConfig, log *zap.Logger) *LlamaClient {
	def := DefaultLlamaConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &LlamaClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// completionRequest is the /completion POST body.
type completionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float64  `json:"temperature"`
	MinP        float64  `json:"min_p"`
	Stream      bool     `json:"stream"`
	Stop        []string `json:"stop"`
}

// Converse formats the newest user turn into the chat template, streams the
// completion, and splits thinking from the answer. Prior history is carried
// only in the conversation state, not resent to the server (the template is
// single-turn).
func (c *LlamaClient) Converse(ctx context.Context, turns []memory.Turn) (Result, error) {
	userText := ""
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == memory.RoleUser {
			userText = turns[i].Text
			break
		}
	}

	body, err := json.Marshal(completionRequest{
		Prompt:      llamaUserTag + userText + llamaAssistantTag,
		NPredict:    -1,
		Temperature: c.cfg.Temperature,
		MinP:        0.2,
		Stream:      true,
		Stop:        []string{"</s>", llamaUserTag},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal completion request: %w", err)
	}

	var full string
	err = c.cfg.Retry.Do(ctx, func() error {
		text, err := c.streamOnce(ctx, body)
		if err != nil {
			if reqErr, ok := err.(*RequestError); ok && reqErr.Retryable {
				c.log.Warn("llama.cpp request failed, will retry",
					zap.Int("status", reqErr.Status), zap.String("error", reqErr.Message))
			}
			return err
		}
		full = text
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	thinking, answer := ExtractThinking(full)
	return Result{Thinking: thinking, Answer: answer}, nil
}

// streamOnce performs a single POST and assembles the SSE stream.
func (c *LlamaClient) streamOnce(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", &RequestError{Provider: "llamacpp", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection-level failures are worth another attempt; the server
		// may be mid-restart.
		return "", &RequestError{Provider: "llamacpp", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &RequestError{
			Provider: "llamacpp",
			Status:   resp.StatusCode,
			Message:  string(errBody),
			Retryable: resp.StatusCode == http.StatusTooManyRequests ||
				resp.StatusCode == http.StatusServiceUnavailable,
		}
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if !gjson.Valid(payload) {
			c.log.Debug("skipping malformed stream line", zap.String("line", line))
			continue
		}
		full.WriteString(gjson.Get(payload, "content").String())
		if gjson.Get(payload, "stop").Bool() {
			return full.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		// A stream cut mid-response is not retried: fragments were already
		// consumed and a retry could double-generate. Return what we have.
		c.log.Warn("stream ended early", zap.Error(err))
	}
	return full.String(), nil
}
