// Command tele-agent checks that the configured inference backend is up and
// answers a single prompt.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/RichardoC/tele-agent/internal/config"
	"github.com/RichardoC/tele-agent/internal/llm"
	flag "github.com/spf13/pflag"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	prompt := flag.String("prompt", "Xin chào, bạn là ai?", "prompt to send")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	v, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	// The admin id is irrelevant here.
	if v.GetInt64("admin_chat_id") == 0 {
		v.Set("admin_chat_id", -1)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
	defer cancel()

	if cfg.Backend.Provider == llm.ProviderOllama {
		res, err := llm.Probe(ctx, cfg.Backend.URL, cfg.Backend.Model)
		if err != nil {
			logger.Fatal("ollama is not reachable", zap.String("url", cfg.Backend.URL), zap.Error(err))
		}
		logger.Info("ollama reachable", zap.Strings("models", res.Models), zap.Bool("has_model", res.HasModel))
	}

	gen, err := llm.NewGenerator(llm.BackendConfig{
		Provider: cfg.Backend.Provider,
		URL:      cfg.Backend.URL,
		Model:    cfg.Backend.Model,
		Token:    cfg.Backend.Token,
		Threads:  cfg.Backend.Threads,
		NumCtx:   cfg.Sampling.NumCtx,
	})
	if err != nil {
		logger.Fatal("failed to initialize backend", zap.Error(err))
	}
	model, ok := gen.(llms.Model)
	if !ok {
		logger.Fatal("backend does not implement llms.Model")
	}

	start := time.Now()
	completion, err := llms.GenerateFromSinglePrompt(ctx, model, *prompt,
		llms.WithTemperature(cfg.Sampling.Temperature),
		llms.WithRepetitionPenalty(cfg.Sampling.RepeatPenalty))
	if err != nil {
		logger.Fatal("failed to generate completion", zap.Error(err))
	}
	logger.Info("completion received", zap.Duration("elapsed", time.Since(start)))
	fmt.Fprintln(os.Stdout, completion)
}
