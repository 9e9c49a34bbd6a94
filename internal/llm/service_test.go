package llm

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"github.com/RichardoC/tele-agent/internal/llm/mocks"
	"github.com/RichardoC/tele-agent/internal/models"
	"github.com/RichardoC/tele-agent/internal/queue"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func heldSection(t *testing.T) *queue.Section {
	t.Helper()
	c := queue.NewCoordinator(nil)
	ticket, pos, err := c.Admit(1)
	require.NoError(t, err)
	require.Equal(t, 0, pos)
	s, err := c.AwaitTurn(context.Background(), ticket)
	require.NoError(t, err)
	t.Cleanup(s.Release)
	return s
}

func reply(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

var sampleTurns = []models.Turn{
	{Role: models.RoleSystem, Content: "sys"},
	{Role: models.RoleUser, Content: "hi"},
	{Role: models.RoleAssistant, Content: "chào"},
	{Role: models.RoleUser, Content: "hello"},
}

func TestInvoker_Invoke(t *testing.T) {
	t.Run("happy path - reply returned and roles mapped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		gen := mocks.NewMockGenerator(ctrl)

		var got []llms.MessageContent
		gen.EXPECT().
			GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				got = msgs
				return reply("Xin chào!"), nil
			})

		iv := NewInvoker(gen, InvokerConfig{Sampling: Sampling{Temperature: 0.3, TopP: 0.8, TopK: 30}}, nil)
		text, err := iv.Invoke(context.Background(), heldSection(t), sampleTurns)
		require.NoError(t, err)
		assert.Equal(t, "Xin chào!", text)
		assert.Equal(t, int64(1), iv.Responses())

		require.Len(t, got, 4)
		assert.Equal(t, llms.ChatMessageTypeSystem, got[0].Role)
		assert.Equal(t, llms.ChatMessageTypeHuman, got[1].Role)
		assert.Equal(t, llms.ChatMessageTypeAI, got[2].Role)
		assert.Equal(t, llms.TextContent{Text: "hello"}, got[3].Parts[0])
	})

	t.Run("sad path - blank content is EmptyResponse", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		gen := mocks.NewMockGenerator(ctrl)
		gen.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(reply("  \n"), nil)

		iv := NewInvoker(gen, InvokerConfig{}, nil)
		_, err := iv.Invoke(context.Background(), heldSection(t), sampleTurns)
		assert.ErrorIs(t, err, apperr.ErrEmptyResponse)
		assert.Zero(t, iv.Responses())
	})

	t.Run("sad path - no choices is EmptyResponse", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		gen := mocks.NewMockGenerator(ctrl)
		gen.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(&llms.ContentResponse{}, nil)

		iv := NewInvoker(gen, InvokerConfig{}, nil)
		_, err := iv.Invoke(context.Background(), heldSection(t), sampleTurns)
		assert.ErrorIs(t, err, apperr.ErrEmptyResponse)
	})

	t.Run("sad path - dial failure is BackendUnavailable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		gen := mocks.NewMockGenerator(ctrl)
		gen.EXPECT().
			GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")})

		iv := NewInvoker(gen, InvokerConfig{}, nil)
		_, err := iv.Invoke(context.Background(), heldSection(t), sampleTurns)
		assert.ErrorIs(t, err, apperr.ErrBackendUnavailable)
	})

	t.Run("sad path - backend failure is BackendError", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		gen := mocks.NewMockGenerator(ctrl)
		gen.EXPECT().
			GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New(`model "qwen2.5:7b" not found`))

		iv := NewInvoker(gen, InvokerConfig{}, nil)
		_, err := iv.Invoke(context.Background(), heldSection(t), sampleTurns)
		assert.ErrorIs(t, err, apperr.ErrBackendError)
	})

	t.Run("sad path - backend honouring ctx times out", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		gen := mocks.NewMockGenerator(ctrl)
		gen.EXPECT().
			GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})

		iv := NewInvoker(gen, InvokerConfig{Timeout: 30 * time.Millisecond}, nil)
		_, err := iv.Invoke(context.Background(), heldSection(t), sampleTurns)
		assert.ErrorIs(t, err, apperr.ErrBackendTimeout)
	})

	t.Run("sad path - backend ignoring ctx still times out", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		gen := mocks.NewMockGenerator(ctrl)
		unblock := make(chan struct{})
		t.Cleanup(func() { close(unblock) })
		gen.EXPECT().
			GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
				<-unblock
				return reply("too late"), nil
			})

		core, logs := observer.New(zap.ErrorLevel)
		iv := NewInvoker(gen, InvokerConfig{Timeout: 30 * time.Millisecond}, zap.New(core))
		start := time.Now()
		_, err := iv.Invoke(context.Background(), heldSection(t), sampleTurns)
		assert.ErrorIs(t, err, apperr.ErrBackendTimeout)
		assert.Less(t, time.Since(start), 2*time.Second)

		entries := logs.FilterMessage("backend call failed").All()
		require.Len(t, entries, 1)
		assert.Equal(t, true, entries[0].ContextMap()["abandoned"])
	})

	t.Run("sad path - no section", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		gen := mocks.NewMockGenerator(ctrl)

		iv := NewInvoker(gen, InvokerConfig{}, nil)
		_, err := iv.Invoke(context.Background(), nil, sampleTurns)
		assert.ErrorIs(t, err, ErrNoSection)

		s := heldSection(t)
		s.Release()
		_, err = iv.Invoke(context.Background(), s, sampleTurns)
		assert.ErrorIs(t, err, ErrNoSection)
	})
}

func TestInvoker_ReclaimEvery(t *testing.T) {
	ctrl := gomock.NewController(t)
	gen := mocks.NewMockGenerator(ctrl)
	gen.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(reply("ok"), nil).Times(5)

	reclaimed := 0
	iv := NewInvoker(gen, InvokerConfig{ReclaimEvery: 2}, nil, WithReclaimer(func() { reclaimed++ }))
	for i := 0; i < 5; i++ {
		_, err := iv.Invoke(context.Background(), heldSection(t), sampleTurns)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, reclaimed)
	assert.Equal(t, int64(5), iv.Responses())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Code
	}{
		{"deadline", context.DeadlineExceeded, apperr.CodeBackendTimeout},
		{"canceled", context.Canceled, apperr.CodeBackendError},
		{"dns", &net.DNSError{Err: "no such host", Name: "ollama"}, apperr.CodeBackendUnavailable},
		{"flattened", errors.New(`Post "http://x/api/chat": dial tcp: connection refused`), apperr.CodeBackendUnavailable},
		{"other", errors.New("boom"), apperr.CodeBackendError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.CodeOf(classify(tt.err)))
		})
	}
}
