// Package llm implements core.CompletionProvider against an OpenAI-compatible
// chat completions endpoint.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout bounds a single HTTP round trip. Zero means no client timeout;
	// callers are expected to bound calls with their context.
	Timeout time.Duration
}

// Client talks to a chat completions API.
type Client struct {
	cfg    Config
	api    *openai.Client
	logger *logging.Logger
}

var _ core.CompletionProvider = (*Client)(nil)

// New creates a client.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "provider base_url is required")
	}
	if cfg.Model == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "provider model is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		cfg:    cfg,
		api:    openai.NewClientWithConfig(apiCfg),
		logger: logger,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return "openai-compatible" }

// objectSchema is a JSON Schema object for structured output.
type objectSchema map[string]interface{}

func (s objectSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(s))
}

func (c *Client) request(req core.CompletionRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	out := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: float32(req.Temperature),
	}
	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	out.Messages = append(out.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})
	if req.Schema != nil {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name: req.Schema.Name,
				Schema: objectSchema{
					"type":       "object",
					"properties": req.Schema.Properties,
				},
			},
		}
	}
	return out
}

// Complete performs one chat completion. With a schema the reply is parsed
// as a JSON object into CompletionResult.Structured.
func (c *Client) Complete(ctx context.Context, req core.CompletionRequest) (*core.CompletionResult, error) {
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, c.request(req))
	if err != nil {
		return nil, classifyError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, core.ErrProvider(core.CodeBadResponse, "response has no choices", true)
	}

	result := &core.CompletionResult{
		Text:      resp.Choices[0].Message.Content,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		Model:     resp.Model,
		Duration:  time.Since(start),
	}
	if req.Schema != nil {
		structured, err := ParseObject(result.Text)
		if err != nil {
			return nil, core.ErrProvider(core.CodeBadResponse,
				"structured output for "+req.Schema.Name+" is not a JSON object", true).WithCause(err)
		}
		result.Structured = structured
	}

	c.logger.Debug("completion finished",
		"model", result.Model,
		"tokens_in", result.TokensIn,
		"tokens_out", result.TokensOut,
		"duration", result.Duration,
	)
	return result, nil
}

// classifyError maps SDK, transport and context errors onto domain errors.
func classifyError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.HTTPStatusCode)
		}
		return classifyStatus(apiErr.HTTPStatusCode, msg).WithCause(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, http.StatusText(reqErr.HTTPStatusCode)).WithCause(err)
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return core.ErrTimeout("completion call timed out").WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return core.ErrTimeout("completion call timed out").WithCause(err)
		}
		return core.ErrProvider(core.CodeCompletionFailed, "network error", true).WithCause(err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return core.ErrProvider(core.CodeBadResponse, "response is not valid JSON", false).WithCause(err)
	}
	return core.ErrProvider(core.CodeCompletionFailed, "completion request failed", true).WithCause(err)
}

func classifyStatus(status int, msg string) *core.DomainError {
	switch {
	case status == http.StatusTooManyRequests:
		return core.ErrRateLimit(msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.ErrProvider("AUTH", msg, false).WithDetail("status", status)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return core.ErrTimeout(msg).WithDetail("status", status)
	case status >= 500:
		return core.ErrProvider(core.CodeCompletionFailed, msg, true).WithDetail("status", status)
	default:
		return core.ErrProvider(core.CodeCompletionFailed, msg, false).WithDetail("status", status)
	}
}
