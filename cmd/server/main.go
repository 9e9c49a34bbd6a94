package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardoC/tele-agent/internal/api"
	"github.com/RichardoC/tele-agent/internal/config"
	"github.com/RichardoC/tele-agent/internal/db"
	"github.com/RichardoC/tele-agent/internal/llm"
	"github.com/RichardoC/tele-agent/internal/logging"
	"github.com/RichardoC/tele-agent/internal/pipeline"
	"github.com/RichardoC/tele-agent/internal/queue"
	"github.com/RichardoC/tele-agent/internal/tokens"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if cfg.Backend.Provider == llm.ProviderOllama {
		res, err := llm.Probe(probeCtx, cfg.Backend.URL, cfg.Backend.Model)
		if err != nil {
			return fmt.Errorf("ollama is not reachable at %s: %w", cfg.Backend.URL, err)
		}
		logger.Info("ollama reachable", zap.Strings("models", res.Models))
		if !res.HasModel {
			logger.Warn("configured model is not installed", zap.String("model", cfg.Backend.Model))
		}
	}

	estimator := tokens.NewTiktoken(cfg.TokenEncoding)
	if err := estimator.Warm(); err != nil {
		logger.Warn("token encoding unavailable, using heuristic estimates",
			zap.String("encoding", cfg.TokenEncoding), zap.Error(err))
	}

	database, err := db.New(cfg.DatabasePath, db.WithEstimator(estimator))
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer database.Close()

	backend, err := llm.NewGenerator(llm.BackendConfig{
		Provider: cfg.Backend.Provider,
		URL:      cfg.Backend.URL,
		Model:    cfg.Backend.Model,
		Token:    cfg.Backend.Token,
		Threads:  cfg.Backend.Threads,
		NumCtx:   cfg.Sampling.NumCtx,
	})
	if err != nil {
		return err
	}

	invoker := llm.NewInvoker(backend, llm.InvokerConfig{
		Sampling: llm.Sampling{
			Temperature:   cfg.Sampling.Temperature,
			TopP:          cfg.Sampling.TopP,
			TopK:          cfg.Sampling.TopK,
			RepeatPenalty: cfg.Sampling.RepeatPenalty,
		},
		Timeout:      cfg.Backend.Timeout,
		ReclaimEvery: cfg.ReclaimEvery,
	}, logger.Named("llm"))

	p := pipeline.New(
		database,
		queue.NewCoordinator(logger.Named("queue")),
		llm.NewAssembler(database, cfg.HistoryLimit, logger.Named("context")),
		invoker,
		pipeline.Config{
			AdminID:          cfg.AdminChatID,
			MaxMessageLength: cfg.MaxMessageLength,
			Locale:           cfg.Locale,
		},
		logger.Named("pipeline"),
	)

	handler := api.NewHandler(p, api.Options{
		Locale:        cfg.Locale,
		TempFilesPath: cfg.TempFilesPath,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	sweeper := pipeline.NewRetentionSweeper(database, cfg.RetentionDays, cfg.RetentionInterval, logger.Named("retention"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("provider", cfg.Backend.Provider),
			zap.String("model", cfg.Backend.Model),
			zap.Int64("admin_chat_id", cfg.AdminChatID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
