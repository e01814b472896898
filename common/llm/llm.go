// Package llm provides the plain chat-completion port used by every
// reasoning role. Roles exchange free-text (JSON-shaped) content with the
// model; there is no native function-calling here, since Planner, Reasoner,
// Evaluator, and Summarizer all parse their own structured responses out of
// ordinary assistant text.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Message is one turn in a chat-completion conversation.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Request is a single chat-completion call.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature *float64 // nil = model default
}

// Response is the model's reply. Content is raw text: it may be a fenced
// JSON code block, bare JSON, or prose, depending on the caller's prompt.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Client is the chat-completion port every reasoning role depends on.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
	Model() string
}

// Config configures an OpenAI-compatible chat client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type client struct {
	openai openai.Client
	model  string
}

// New builds a Client against an OpenAI-compatible endpoint. BaseURL may
// point at a self-hosted or compatible model server.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &client{
		openai: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (c *client) Chat(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}

	slog.DebugContext(ctx, "llm chat completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: no choices in response")
	}

	return &Response{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (c *client) Model() string {
	return c.model
}

// Temp returns a pointer to a temperature value, for Request.Temperature.
func Temp(t float64) *float64 {
	return &t
}

// SanitizeName converts a free-form name to a valid OpenAI participant name.
func SanitizeName(name string) string {
	sanitized := nameInvalidChars.ReplaceAllString(name, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}
