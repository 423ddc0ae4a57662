// Package llm wraps the external content generator used for intervention
// plans and completion feedback.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/zulandar/admitdesk/internal/config"
)

// Supported providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderNone      = "none"
)

// RequestTimeout caps a single provider request. Callers stop waiting much
// sooner, but the request itself is left to finish or hit this limit.
const RequestTimeout = 2 * time.Minute

var (
	// ErrDisabled is returned by the disabled generator.
	ErrDisabled = errors.New("llm: generator disabled")
	// ErrFatalAPI marks provider errors that retrying will not fix
	// (credentials, billing, quota).
	ErrFatalAPI = errors.New("llm: fatal provider error")
)

// Generator produces text from a system and user prompt. Output carries no
// schema guarantee; callers validate it.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// GenerateWithSystem calls f.
func (f GeneratorFunc) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// Disabled is the generator used when no provider is configured.
type Disabled struct{}

// GenerateWithSystem always fails with ErrDisabled.
func (Disabled) GenerateWithSystem(context.Context, string, string) (string, error) {
	return "", ErrDisabled
}

// Model wraps a langchaingo model for text generation.
type Model struct {
	llm       llms.Model
	modelName string
}

// New returns the generator for cfg. Provider "none" yields Disabled.
func New(cfg config.GeneratorConfig) (Generator, error) {
	if cfg.Provider == ProviderNone || cfg.Provider == "" {
		return Disabled{}, nil
	}
	return NewModel(cfg)
}

// NewModel creates a langchaingo-backed model based on configuration.
func NewModel(cfg config.GeneratorConfig) (*Model, error) {
	var model llms.Model
	var err error
	client := &http.Client{Timeout: RequestTimeout}

	switch cfg.Provider {
	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.ServerURL),
			ollama.WithHTTPClient(client),
		)
		if err != nil {
			return nil, fmt.Errorf("llm: create ollama model: %w", err)
		}

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: openai api key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
			openai.WithHTTPClient(client),
		)
		if err != nil {
			return nil, fmt.Errorf("llm: create openai model: %w", err)
		}

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: anthropic api key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
			anthropic.WithHTTPClient(client),
		)
		if err != nil {
			return nil, fmt.Errorf("llm: create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("llm: unsupported provider: %s", cfg.Provider)
	}

	return &Model{llm: model, modelName: cfg.Model}, nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(m llms.Model, name string) *Model {
	return &Model{llm: m, modelName: name}
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages, llms.WithTemperature(0.2))
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", wrapFatalError(err))
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("llm: generate: no response choices")
	}
	return response.Choices[0].Content, nil
}

// Model returns the model name.
func (m *Model) Model() string {
	return m.modelName
}

var fatalMarkers = []string{
	"credit balance",
	"quota exceeded",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}
