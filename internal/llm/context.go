package llm

import (
	"context"
	"fmt"

	"github.com/RichardoC/tele-agent/internal/models"
	"go.uber.org/zap"
)

const defaultSystemPrompt = `You are a helpful AI assistant. You MUST respond ONLY in Vietnamese language.
User: %s

CRITICAL RULES:
- NEVER use Chinese, English, or any language other than Vietnamese
- Always respond in Vietnamese (Tiếng Việt)
- If you don't have real-time information (gold prices, weather, news), clearly state you don't have internet access
- Keep answers concise and accurate`

// exemplars pin the reply language before any real history.
var exemplars = []models.Turn{
	{Role: models.RoleUser, Content: "Hello, how are you?"},
	{Role: models.RoleAssistant, Content: "Xin chào! Tôi là trợ lý AI. Tôi khỏe, cảm ơn bạn đã hỏi. Tôi có thể giúp gì cho bạn?"},
}

// Exemplars returns a copy of the fixed turns placed after the system prompt.
func Exemplars() []models.Turn {
	out := make([]models.Turn, len(exemplars))
	copy(out, exemplars)
	return out
}

func DefaultSystemPrompt(displayName string) string {
	return fmt.Sprintf(defaultSystemPrompt, displayName)
}

type HistoryStore interface {
	RecentTurns(ctx context.Context, conversationID int64, limit int) ([]models.Turn, error)
	AppendExchange(ctx context.Context, conversationID int64, author, userText, assistantText string) error
}

// Assembler turns stored history plus a new message into the context
// window for one inference call.
type Assembler struct {
	store  HistoryStore
	limit  int
	logger *zap.Logger
}

func NewAssembler(store HistoryStore, historyLimit int, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyLimit < 0 {
		historyLimit = 0
	}
	return &Assembler{store: store, limit: historyLimit, logger: logger}
}

// MaxTurns is the largest context Build can return.
func (a *Assembler) MaxTurns() int {
	return a.limit + len(exemplars) + 2
}

// Build returns system prompt, exemplars, up to the history limit of stored
// turns oldest first, and the new user message. It never writes. When the
// history cannot be read the context is built without it.
func (a *Assembler) Build(ctx context.Context, conversationID int64, displayName, newMessage, systemPrompt string) []models.Turn {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt(displayName)
	}

	history, err := a.store.RecentTurns(ctx, conversationID, a.limit)
	if err != nil {
		a.logger.Warn("history unavailable, continuing without it",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err))
		history = nil
	}
	if len(history) > a.limit {
		history = history[len(history)-a.limit:]
	}

	turns := make([]models.Turn, 0, len(history)+len(exemplars)+2)
	turns = append(turns, models.Turn{Role: models.RoleSystem, Content: systemPrompt})
	turns = append(turns, exemplars...)
	turns = append(turns, history...)
	turns = append(turns, models.Turn{Role: models.RoleUser, Content: newMessage})

	a.logger.Debug("context assembled",
		zap.Int64("conversation_id", conversationID),
		zap.Int("history", len(history)),
		zap.Int("turns", len(turns)))
	return turns
}

// Record persists a completed exchange so later Builds see it.
func (a *Assembler) Record(ctx context.Context, conversationID int64, author, userText, reply string) error {
	return a.store.AppendExchange(ctx, conversationID, author, userText, reply)
}
