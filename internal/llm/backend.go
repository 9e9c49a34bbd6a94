package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

//go:generate mockgen -source=backend.go -destination=mocks/mock_generator.go -package=mocks

// Generator is the part of a langchaingo model the invoker needs.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// BackendConfig selects and configures the inference backend.
type BackendConfig struct {
	Provider string
	URL      string
	Model    string
	Token    string
	Threads  int
	NumCtx   int
}

// Sampling holds per-call generation options. The ollama provider rebuilds
// all sampling options, repeat penalty included, from these on every call.
type Sampling struct {
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
}

func (s Sampling) callOptions() []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(s.Temperature)}
	if s.TopP > 0 {
		opts = append(opts, llms.WithTopP(s.TopP))
	}
	if s.TopK > 0 {
		opts = append(opts, llms.WithTopK(s.TopK))
	}
	if s.RepeatPenalty > 0 {
		opts = append(opts, llms.WithRepetitionPenalty(s.RepeatPenalty))
	}
	return opts
}

// NewGenerator builds the langchaingo model for cfg. The ollama provider
// talks to Ollama's native API and honours context size and thread count;
// the openai provider targets any OpenAI-compatible
// endpoint, Ollama's /v1 included.
func NewGenerator(cfg BackendConfig) (Generator, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		opts := []ollama.Option{
			ollama.WithServerURL(cfg.URL),
			ollama.WithModel(cfg.Model),
		}
		if cfg.NumCtx > 0 {
			opts = append(opts, ollama.WithRunnerNumCtx(cfg.NumCtx))
		}
		if cfg.Threads > 0 {
			opts = append(opts, ollama.WithRunnerNumThread(cfg.Threads))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("init ollama backend: %w", err)
		}
		return llm, nil

	case ProviderOpenAI:
		token := cfg.Token
		if token == "" {
			// Ollama ignores the key but the client requires one.
			token = "ollama"
		}
		llm, err := openai.New(
			openai.WithToken(token),
			openai.WithBaseURL(openAIBaseURL(cfg.URL)),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init openai backend: %w", err)
		}
		return llm, nil

	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}

func openAIBaseURL(raw string) string {
	u := strings.TrimSuffix(raw, "/")
	if strings.HasSuffix(u, "/v1") {
		return u + "/"
	}
	return u + "/v1/"
}
