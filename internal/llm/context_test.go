package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/RichardoC/tele-agent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	turns   map[int64][]models.Turn
	readErr error
	writes  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{turns: make(map[int64][]models.Turn)}
}

func (s *memoryStore) RecentTurns(_ context.Context, id int64, limit int) ([]models.Turn, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	all := s.turns[id]
	if limit <= 0 {
		return []models.Turn{}, nil
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]models.Turn, len(all))
	copy(out, all)
	return out, nil
}

func (s *memoryStore) AppendExchange(_ context.Context, id int64, _, userText, reply string) error {
	s.writes++
	s.turns[id] = append(s.turns[id],
		models.Turn{Role: models.RoleUser, Content: userText},
		models.Turn{Role: models.RoleAssistant, Content: reply})
	return nil
}

func TestAssembler_EmptyHistory(t *testing.T) {
	store := newMemoryStore()
	a := NewAssembler(store, 20, nil)

	turns := a.Build(context.Background(), 1, "admin", "hello", "")
	require.Len(t, turns, 4)
	assert.Equal(t, models.RoleSystem, turns[0].Role)
	assert.Contains(t, turns[0].Content, "User: admin")
	assert.Equal(t, Exemplars(), turns[1:3])
	assert.Equal(t, models.Turn{Role: models.RoleUser, Content: "hello"}, turns[3])
	assert.Zero(t, store.writes)
}

func TestAssembler_BoundedByHistoryLimit(t *testing.T) {
	store := newMemoryStore()
	for i := 0; i < 30; i++ {
		require.NoError(t, store.AppendExchange(context.Background(), 1, "u", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
	}
	writes := store.writes

	a := NewAssembler(store, 5, nil)
	turns := a.Build(context.Background(), 1, "u", "next", "custom prompt")

	require.Len(t, turns, a.MaxTurns())
	assert.Equal(t, "custom prompt", turns[0].Content)
	// Oldest first, ending with the latest stored reply.
	assert.Equal(t, models.Turn{Role: models.RoleAssistant, Content: "a27"}, turns[3])
	assert.Equal(t, models.Turn{Role: models.RoleAssistant, Content: "a29"}, turns[len(turns)-2])
	assert.Equal(t, "next", turns[len(turns)-1].Content)
	assert.Equal(t, writes, store.writes)
}

func TestAssembler_ReadErrorDegrades(t *testing.T) {
	store := newMemoryStore()
	store.turns[1] = []models.Turn{{Role: models.RoleUser, Content: "lost"}}
	store.readErr = errors.New("disk on fire")

	a := NewAssembler(store, 20, nil)
	turns := a.Build(context.Background(), 1, "u", "hi", "")
	require.Len(t, turns, 4)
	assert.Equal(t, "hi", turns[3].Content)
}

func TestAssembler_RecordThenBuild(t *testing.T) {
	store := newMemoryStore()
	a := NewAssembler(store, 20, nil)
	ctx := context.Background()

	require.NoError(t, a.Record(ctx, 9, "u", "ping", "pong"))
	turns := a.Build(ctx, 9, "u", "again", "")
	require.Len(t, turns, 6)
	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Content: "ping"},
		{Role: models.RoleAssistant, Content: "pong"},
	}, turns[3:5])
}
