package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	GroqBaseURL   = "https://api.groq.com/openai/v1"

	DefaultPrompt = "You take notes for a live conversation. Summarize the transcript " +
		"so far as short markdown bullet points: topics, decisions and action items. " +
		"The transcript is machine generated and may repeat or drop words. " +
		"Reply with the notes only."
)

// Summarizer condenses a running transcript. Implementations must be safe
// for concurrent calls.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, text string) (string, error)
}

type Options struct {
	Provider string // openai, groq, fake; empty picks the first configured key
	APIKey   string
	BaseURL  string
	Model    string
	Prompt   string
}

var Providers = []string{"openai", "groq", "fake"}

// Chat summarizes through an OpenAI-compatible chat completions endpoint.
type Chat struct {
	name   string
	client *openai.Client
	model  string
	prompt string
}

func defaultModel(provider string) string {
	if provider == "groq" {
		return "llama-3.3-70b-versatile"
	}
	return openai.GPT4oMini
}

func NewChat(provider string, opts Options) *Chat {
	cfg := openai.DefaultConfig(opts.APIKey)
	switch {
	case opts.BaseURL != "":
		cfg.BaseURL = opts.BaseURL
	case provider == "groq":
		cfg.BaseURL = GroqBaseURL
	}
	model := opts.Model
	if model == "" {
		model = defaultModel(provider)
	}
	prompt := opts.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Chat{
		name:   provider,
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		prompt: prompt,
	}
}

func (c *Chat) Name() string { return c.name }

func (c *Chat) Model() string { return c.model }

func (c *Chat) Summarize(ctx context.Context, text string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.prompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0.2,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%s API error %d: %w", c.name, apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("%s chat completion: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", c.name)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// New builds a summarizer. keys maps provider name to API key.
func New(opts Options, keys map[string]string) (Summarizer, error) {
	provider := opts.Provider
	if provider == "" {
		switch {
		case keys["openai"] != "":
			provider = "openai"
		case keys["groq"] != "":
			provider = "groq"
		default:
			return nil, fmt.Errorf("set OPENAI_API_KEY or GROQ_API_KEY environment variable")
		}
	}

	switch provider {
	case "openai", "groq":
		if opts.APIKey == "" {
			opts.APIKey = keys[provider]
		}
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%s: API key is not set", provider)
		}
		return NewChat(provider, opts), nil
	case "fake":
		return NewFake(), nil
	}
	return nil, fmt.Errorf("unknown summarization provider %q", provider)
}
