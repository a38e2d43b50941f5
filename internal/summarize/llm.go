package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ppiankov/feeddigest/internal/privacy"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 160
	defaultTimeout   = 20 * time.Second
	systemPrompt     = "Summarize the following publication entry for a busy reader in one or two plain sentences, at most %d characters, in the language of the entry. Return only the summary."
)

var errEmptyCompletion = errors.New("empty completion")

// LLMOptions configures an LLM summarizer.
type LLMOptions struct {
	BaseURL   string // OpenAI-compatible API root, e.g. https://api.openai.com/v1
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration // per call
	MaxChars  int
	Redactor  *privacy.Redactor
}

// LLM summarizes through a chat completion endpoint.
type LLM struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	maxChars  int
	redactor  *privacy.Redactor
}

// NewLLM creates an LLM summarizer.
func NewLLM(opts LLMOptions) (*LLM, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm api key is empty")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	l := &LLM{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		timeout:   opts.Timeout,
		maxChars:  opts.MaxChars,
		redactor:  opts.Redactor,
	}
	if l.model == "" {
		l.model = defaultModel
	}
	if l.maxTokens <= 0 {
		l.maxTokens = defaultMaxTokens
	}
	if l.timeout <= 0 {
		l.timeout = defaultTimeout
	}
	if l.maxChars <= 0 {
		l.maxChars = DefaultMaxChars
	}
	return l, nil
}

// Summarize sends redacted text to the model. The completion is cleaned
// and clamped to the length budget.
func (l *LLM) Summarize(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, l.maxChars)},
			{Role: openai.ChatMessageRoleUser, Content: l.redactor.Redact(text)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}

	out := Truncate(cleanCompletion(resp.Choices[0].Message.Content), l.maxChars)
	if out == "" {
		return "", errEmptyCompletion
	}
	return out, nil
}

// cleanCompletion flattens bullet lists and quoting that models add
// despite the prompt.
func cleanCompletion(content string) string {
	lines := strings.Split(content, "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimLeft(strings.TrimSpace(line), "-*• ")
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Trim(Clean(strings.Join(parts, " ")), `"“”`)
}
