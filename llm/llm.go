package llm

import (
	"context"
	"fmt"

	"github.com/fabfab/survey-agent/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a function invocation requested by the model. Arguments holds
// the raw JSON object.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDef describes a callable function offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// ToolClient is implemented by providers that support function calling.
// Complete returns the assistant message, which carries either content or
// tool calls.
type ToolClient interface {
	Client
	Complete(ctx context.Context, messages []Message, tools []ToolDef) (Message, error)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewClient(cfg config.Config) (ToolClient, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
