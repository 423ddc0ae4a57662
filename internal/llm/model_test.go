package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tmc/langchaingo/llms"
	"github.com/zulandar/admitdesk/internal/config"
)

type stubModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
}

func (s *stubModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	s.messages = messages
	if s.err != nil {
		return nil, s.err
	}
	if s.reply == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s.reply}}}, nil
}

func (s *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

func TestNew_None(t *testing.T) {
	g, err := New(config.GeneratorConfig{Provider: ProviderNone})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.GenerateWithSystem(context.Background(), "s", "u"); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}

func TestNewModel_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.GeneratorConfig
	}{
		{"unsupported", config.GeneratorConfig{Provider: "bard"}},
		{"openai without key", config.GeneratorConfig{Provider: ProviderOpenAI, Model: "gpt-4o-mini"}},
		{"anthropic without key", config.GeneratorConfig{Provider: ProviderAnthropic, Model: "claude"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewModel(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewModel_Ollama(t *testing.T) {
	m, err := NewModel(config.GeneratorConfig{Provider: ProviderOllama, Model: "llama3", ServerURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	if m.Model() != "llama3" {
		t.Errorf("Model() = %q", m.Model())
	}
}

func TestGenerateWithSystem(t *testing.T) {
	stub := &stubModel{reply: `{"plans":[]}`}
	m := NewWithModel(stub, "stub")

	got, err := m.GenerateWithSystem(context.Background(), "system text", "user text")
	if err != nil {
		t.Fatalf("GenerateWithSystem: %v", err)
	}
	if got != `{"plans":[]}` {
		t.Errorf("reply = %q", got)
	}
	if len(stub.messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(stub.messages))
	}
	if stub.messages[0].Role != llms.ChatMessageTypeSystem || stub.messages[1].Role != llms.ChatMessageTypeHuman {
		t.Errorf("roles = %s, %s", stub.messages[0].Role, stub.messages[1].Role)
	}
}

func TestGenerateWithSystem_NoChoices(t *testing.T) {
	m := NewWithModel(&stubModel{}, "stub")
	if _, err := m.GenerateWithSystem(context.Background(), "s", "u"); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestGenerateWithSystem_FatalWrapped(t *testing.T) {
	m := NewWithModel(&stubModel{err: errors.New("HTTP 401: invalid api key")}, "stub")
	_, err := m.GenerateWithSystem(context.Background(), "s", "u")
	if !errors.Is(err, ErrFatalAPI) {
		t.Errorf("err = %v, want ErrFatalAPI", err)
	}
}

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("generate: %w", errors.New("credit balance too low")), true},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isFatalAPIError(tt.err); got != tt.fatal {
				t.Errorf("isFatalAPIError(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestGeneratorFunc(t *testing.T) {
	var g Generator = GeneratorFunc(func(_ context.Context, s, u string) (string, error) {
		return s + "|" + u, nil
	})
	got, _ := g.GenerateWithSystem(context.Background(), "a", "b")
	if got != "a|b" {
		t.Errorf("got %q, want a|b", got)
	}
}
