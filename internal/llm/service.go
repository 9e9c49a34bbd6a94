package llm

import (
	"context"
	"errors"
	"net"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"github.com/RichardoC/tele-agent/internal/models"
	"github.com/RichardoC/tele-agent/internal/queue"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// ErrNoSection is returned when Invoke is called without a held section.
var ErrNoSection = errors.New("llm: invoke requires a held queue section")

const DefaultTimeout = 5 * time.Minute

type InvokerConfig struct {
	Sampling Sampling
	Timeout  time.Duration

	// ReclaimEvery runs the reclaim hook after this many successful
	// responses. Zero disables it.
	ReclaimEvery int
}

// Invoker runs one backend call per queue section.
type Invoker struct {
	backend Generator
	cfg     InvokerConfig
	logger  *zap.Logger

	responses atomic.Int64
	reclaim   func()
}

type InvokerOption func(*Invoker)

// WithReclaimer replaces the memory reclamation hook.
func WithReclaimer(fn func()) InvokerOption {
	return func(iv *Invoker) {
		iv.reclaim = fn
	}
}

func NewInvoker(backend Generator, cfg InvokerConfig, logger *zap.Logger, opts ...InvokerOption) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	iv := &Invoker{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		reclaim: debug.FreeOSMemory,
	}
	for _, opt := range opts {
		opt(iv)
	}
	return iv
}

// Responses is the number of successful responses so far.
func (iv *Invoker) Responses() int64 {
	return iv.responses.Load()
}

// Invoke sends turns to the backend and returns the reply text. The call
// runs on its own goroutine and is abandoned once the timeout passes, so a
// backend that ignores cancellation still cannot hold the section longer
// than the timeout.
func (iv *Invoker) Invoke(ctx context.Context, section *queue.Section, turns []models.Turn) (string, error) {
	if !section.Held() {
		return "", ErrNoSection
	}

	ctx, cancel := context.WithTimeout(ctx, iv.cfg.Timeout)
	defer cancel()

	type result struct {
		resp *llms.ContentResponse
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		resp, err := iv.backend.GenerateContent(ctx, toMessageContent(turns), iv.cfg.Sampling.callOptions()...)
		done <- result{resp: resp, err: err}
	}()

	// A backend that ignores ctx keeps running after the timeout while the
	// section is released, so it can overlap the next call. Single flight
	// holds only for backends that honour cancellation.
	var res result
	abandoned := false
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
		abandoned = true
	}

	fields := []zap.Field{
		zap.String("request_id", section.Ticket().RequestID),
		zap.Int("turns", len(turns)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if abandoned {
		fields = append(fields, zap.Bool("abandoned", true))
	}
	if res.err != nil {
		err := classify(res.err)
		iv.logger.Error("backend call failed", append(fields, zap.Error(err))...)
		return "", err
	}

	text := firstContent(res.resp)
	if strings.TrimSpace(text) == "" {
		iv.logger.Warn("backend returned empty content", fields...)
		return "", apperr.ErrEmptyResponse
	}

	iv.logger.Info("backend call completed", append(fields, zap.Int("chars", len(text)))...)
	iv.afterResponse()
	return text, nil
}

func (iv *Invoker) afterResponse() {
	n := iv.responses.Add(1)
	if iv.cfg.ReclaimEvery <= 0 || iv.reclaim == nil {
		return
	}
	if n%int64(iv.cfg.ReclaimEvery) == 0 {
		iv.reclaim()
		iv.logger.Debug("memory reclamation triggered", zap.Int64("responses", n))
	}
}

func toMessageContent(turns []models.Turn) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		out = append(out, llms.TextParts(chatType(t.Role), t.Content))
	}
	return out
}

func chatType(r models.Role) llms.ChatMessageType {
	switch r {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func firstContent(resp *llms.ContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Choices {
		if c != nil && c.Content != "" {
			return c.Content
		}
	}
	return ""
}

// classify maps a backend failure onto the error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeBackendTimeout, "backend call timed out", err)
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return apperr.Wrap(apperr.CodeBackendTimeout, "backend call timed out", err)
	}
	if unreachable(err) {
		return apperr.Wrap(apperr.CodeBackendUnavailable, "backend unreachable", err)
	}
	return apperr.Wrap(apperr.CodeBackendError, "backend error", err)
}

func unreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	// Some clients flatten transport errors into strings.
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset")
}
