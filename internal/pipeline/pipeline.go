// Package pipeline turns inbound chat requests into serialized inference
// calls: admission, validation, queueing, context assembly, invocation and
// recording.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"github.com/RichardoC/tele-agent/internal/llm"
	"github.com/RichardoC/tele-agent/internal/models"
	"github.com/RichardoC/tele-agent/internal/queue"
	"go.uber.org/zap"
)

// Store is the persistence the pipeline and its admin surface need.
type Store interface {
	llm.HistoryStore

	TouchUser(ctx context.Context, conversationID int64, displayName string) error
	GetUser(ctx context.Context, conversationID int64) (*models.UserRecord, error)
	CountMessages(ctx context.Context, conversationID int64) (int, error)

	GrantAccess(ctx context.Context, conversationID int64, displayName string, grantedBy int64) error
	RevokeAccess(ctx context.Context, conversationID int64) (bool, error)
	IsAuthorized(ctx context.Context, conversationID int64) (bool, error)
	ListAccess(ctx context.Context) ([]models.AccessEntry, error)

	PurgeOlderThan(ctx context.Context, days int) (int64, error)
	ClearConversation(ctx context.Context, conversationID int64) (int64, error)
}

// Invoker runs one inference inside a held queue section.
type Invoker interface {
	Invoke(ctx context.Context, section *queue.Section, turns []models.Turn) (string, error)
}

// Notifier receives progress for one request. Calls happen on the
// submitting goroutine.
type Notifier interface {
	// Queued is called once when the request lands behind others.
	Queued(position int, notice string)
	// Processing is called when the request is handed the backend.
	Processing()
}

type nopNotifier struct{}

func (nopNotifier) Queued(int, string) {}
func (nopNotifier) Processing()        {}

// NopNotifier discards all progress events.
var NopNotifier Notifier = nopNotifier{}

type Config struct {
	AdminID          int64
	MaxMessageLength int
	Locale           string

	// SystemPrompt overrides the default prompt when set.
	SystemPrompt string
}

type Pipeline struct {
	store     Store
	coord     *queue.Coordinator
	assembler *llm.Assembler
	invoker   Invoker
	cfg       Config
	logger    *zap.Logger
}

func New(store Store, coord *queue.Coordinator, assembler *llm.Assembler, invoker Invoker, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Locale == "" {
		cfg.Locale = apperr.LocaleVietnamese
	}
	return &Pipeline{
		store:     store,
		coord:     coord,
		assembler: assembler,
		invoker:   invoker,
		cfg:       cfg,
		logger:    logger,
	}
}

type request struct {
	conversationID int64
	displayName    string
	author         string
	text           string
	checkLength    bool
}

// SubmitText runs one chat message through the pipeline and returns the
// reply. On failure the returned string is the localized message to show
// in place of a reply, and the error carries the apperr code.
func (p *Pipeline) SubmitText(ctx context.Context, conversationID int64, displayName, text string, n Notifier) (string, error) {
	return p.submit(ctx, request{
		conversationID: conversationID,
		displayName:    displayName,
		author:         displayName,
		text:           text,
		checkLength:    true,
	}, n)
}

func (p *Pipeline) submit(ctx context.Context, req request, n Notifier) (string, error) {
	if n == nil {
		n = NopNotifier
	}
	log := p.logger.With(zap.Int64("conversation_id", req.conversationID))

	if !p.authorized(ctx, req.conversationID) {
		log.Info("request denied")
		return p.fail(apperr.ErrUnauthorized)
	}

	if strings.TrimSpace(req.text) == "" {
		return p.fail(apperr.ErrEmptyInput)
	}
	if req.checkLength && p.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(req.text) > p.cfg.MaxMessageLength {
		log.Info("message rejected as too long", zap.Int("runes", utf8.RuneCountInString(req.text)))
		return apperr.TooLongNotice(p.cfg.MaxMessageLength, p.cfg.Locale), apperr.ErrInputTooLarge
	}

	ticket, position, err := p.coord.Admit(req.conversationID)
	if err != nil {
		log.Info("request refused, conversation already queued", zap.Int("position", position))
		return apperr.AlreadyQueuedNotice(position, p.cfg.Locale), err
	}
	log = log.With(zap.String("request_id", ticket.RequestID))

	if err := p.store.TouchUser(ctx, req.conversationID, req.displayName); err != nil {
		log.Warn("failed to update user record", zap.Error(err))
	}

	if position > 0 {
		log.Info("request queued", zap.Int("position", position))
		n.Queued(position, apperr.QueuedNotice(position, p.cfg.Locale))
	}

	section, err := p.coord.AwaitTurn(ctx, ticket)
	if err != nil {
		log.Info("request abandoned while queued", zap.Error(err))
		return p.fail(apperr.Wrap(apperr.CodeCanceled, "request abandoned while queued", err))
	}
	defer section.Release()

	// An active call is never canceled by the caller. It runs to completion
	// or to the backend timeout and its exchange is recorded either way.
	ctx = context.WithoutCancel(ctx)

	n.Processing()
	turns := p.assembler.Build(ctx, req.conversationID, req.displayName, req.text, p.cfg.SystemPrompt)

	reply, err := p.invoker.Invoke(ctx, section, turns)
	if err != nil {
		if errors.Is(err, llm.ErrNoSection) {
			err = apperr.Wrap(apperr.CodeUnknown, "queue section lost", err)
		}
		return p.fail(err)
	}

	if err := p.assembler.Record(ctx, req.conversationID, req.author, req.text, reply); err != nil {
		log.Error("failed to record exchange", zap.Error(err), zap.Int("reply_chars", len(reply)))
		if apperr.CodeOf(err) != apperr.CodeStorage {
			err = apperr.Storage("record exchange", err)
		}
		return p.fail(err)
	}

	log.Info("request served", zap.Int("turns", len(turns)))
	return reply, nil
}

func (p *Pipeline) fail(err error) (string, error) {
	return apperr.UserMessage(err, p.cfg.Locale), err
}

func (p *Pipeline) isAdmin(conversationID int64) bool {
	return p.cfg.AdminID != 0 && conversationID == p.cfg.AdminID
}

// authorized fails closed: a storage error denies the request.
func (p *Pipeline) authorized(ctx context.Context, conversationID int64) bool {
	if p.isAdmin(conversationID) {
		return true
	}
	ok, err := p.store.IsAuthorized(ctx, conversationID)
	if err != nil {
		p.logger.Error("access check failed",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err))
		return false
	}
	return ok
}
