package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"github.com/RichardoC/tele-agent/internal/db"
	"github.com/RichardoC/tele-agent/internal/llm"
	"github.com/RichardoC/tele-agent/internal/llm/mocks"
	"github.com/RichardoC/tele-agent/internal/models"
	"github.com/RichardoC/tele-agent/internal/pipeline"
	"github.com/RichardoC/tele-agent/internal/queue"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

const adminID = 1000

type testServer struct {
	srv     *httptest.Server
	gen     *mocks.MockGenerator
	tempDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctrl := gomock.NewController(t)
	gen := mocks.NewMockGenerator(ctrl)

	store, err := db.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	p := pipeline.New(
		store,
		queue.NewCoordinator(nil),
		llm.NewAssembler(store, 20, nil),
		llm.NewInvoker(gen, llm.InvokerConfig{Timeout: 5 * time.Second}, nil),
		pipeline.Config{AdminID: adminID, MaxMessageLength: 4000, Locale: apperr.LocaleEnglish},
		nil,
	)

	tempDir := t.TempDir()
	h := NewHandler(p, Options{Locale: apperr.LocaleEnglish, TempFilesPath: tempDir}, nil)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, gen: gen, tempDir: tempDir}
}

func (s *testServer) url(path string) string {
	return s.srv.URL + path
}

func (s *testServer) expectReply(text string) {
	s.gen.EXPECT().
		GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil)
}

func readEvents(t *testing.T, resp *http.Response) []Event {
	t.Helper()
	var events []Event
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, sc.Err())
	return events
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleMessage(t *testing.T) {
	t.Run("happy path - reply streamed in chunks", func(t *testing.T) {
		s := newTestServer(t)
		long := strings.Repeat("x", pipeline.MaxChunk+10)
		s.expectReply(long)

		resp := postJSON(t, s.url("/api/message?conversation_id=1000&display_name=admin"), MessageRequest{Content: "hello"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

		events := readEvents(t, resp)
		require.Len(t, events, 2)
		assert.Equal(t, EventProcessing, events[0].Type)
		assert.Equal(t, EventReply, events[1].Type)
		require.Len(t, events[1].Chunks, 2)
		assert.Equal(t, long, strings.Join(events[1].Chunks, ""))
	})

	t.Run("sad path - unauthorized", func(t *testing.T) {
		s := newTestServer(t)

		resp := postJSON(t, s.url("/api/message?conversation_id=5"), MessageRequest{Content: "hello"})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		e := decodeError(t, resp)
		assert.Equal(t, string(apperr.CodeUnauthorized), e.Error)
		assert.Equal(t, "❌ You are not allowed to use this bot.", e.Message)
	})

	t.Run("sad path - backend failure after processing started", func(t *testing.T) {
		s := newTestServer(t)
		s.gen.EXPECT().
			GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&llms.ContentResponse{}, nil)

		resp := postJSON(t, s.url("/api/message?conversation_id=1000"), MessageRequest{Content: "hello"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		events := readEvents(t, resp)
		require.Len(t, events, 2)
		assert.Equal(t, EventError, events[1].Type)
		assert.Equal(t, string(apperr.CodeEmptyResponse), events[1].Code)
	})

	t.Run("sad path - bad input", func(t *testing.T) {
		s := newTestServer(t)

		resp := postJSON(t, s.url("/api/message?conversation_id=abc"), MessageRequest{Content: "hello"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, err := http.Get(s.url("/api/message?conversation_id=1000"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

		resp = postJSON(t, s.url("/api/message?conversation_id=1000"), MessageRequest{Content: strings.Repeat("a", 4001)})
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}

func uploadFile(t *testing.T, url, name, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleFile(t *testing.T) {
	t.Run("happy path - text file summarized and temp file removed", func(t *testing.T) {
		s := newTestServer(t)
		var prompt string
		s.gen.EXPECT().
			GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				prompt = msgs[len(msgs)-1].Parts[0].(llms.TextContent).Text
				return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "tóm tắt"}}}, nil
			})

		resp := uploadFile(t, s.url("/api/file?conversation_id=1000"), "log.txt", "server restarted twice")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		events := readEvents(t, resp)
		require.NotEmpty(t, events)
		assert.Equal(t, []string{"tóm tắt"}, events[len(events)-1].Chunks)
		assert.Contains(t, prompt, "server restarted twice")

		entries, err := os.ReadDir(s.tempDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("sad path - unsupported type", func(t *testing.T) {
		s := newTestServer(t)

		resp := uploadFile(t, s.url("/api/file?conversation_id=1000"), "photo.png", "\x89PNG")
		require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
		assert.Equal(t, string(apperr.CodeUnsupportedFileType), decodeError(t, resp).Error)

		entries, err := os.ReadDir(s.tempDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestHandleAccess(t *testing.T) {
	s := newTestServer(t)

	resp := postJSON(t, s.url("/api/access?conversation_id=1000"), GrantRequest{ConversationID: 7, DisplayName: "bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, s.url("/api/access?conversation_id=7"), GrantRequest{ConversationID: 8, DisplayName: "eve"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	get, err := http.Get(s.url("/api/access?conversation_id=1000"))
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	var entries []models.AccessEntry
	require.NoError(t, json.NewDecoder(get.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].ConversationID)
	assert.Equal(t, int64(adminID), entries[0].GrantedBy)

	req, err := http.NewRequest(http.MethodDelete, s.url("/api/access?conversation_id=1000&target_id=7"), nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer del.Body.Close()
	var out map[string]bool
	require.NoError(t, json.NewDecoder(del.Body).Decode(&out))
	assert.True(t, out["removed"])
}

func TestQueueAndStats(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.url("/api/queue?conversation_id=1000"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status queue.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.False(t, status.InFlight)

	denied, err := http.Get(s.url("/api/queue?conversation_id=5"))
	require.NoError(t, err)
	defer denied.Body.Close()
	assert.Equal(t, http.StatusForbidden, denied.StatusCode)

	stats, err := http.Get(s.url("/api/users/stats?conversation_id=1000"))
	require.NoError(t, err)
	defer stats.Body.Close()
	assert.Equal(t, http.StatusNotFound, stats.StatusCode)
}

func TestPurgeAndClear(t *testing.T) {
	s := newTestServer(t)

	resp := postJSON(t, s.url("/api/purge?conversation_id=1000&days=soon"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, s.url("/api/purge?conversation_id=1000&days=30"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Zero(t, out["deleted"])

	resp = postJSON(t, s.url("/api/purge?conversation_id=7&days=30"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = postJSON(t, s.url("/api/conversations/clear?conversation_id=1000&target_id=7"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(apperr.CodeAlreadyQueued))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(apperr.CodeBackendTimeout))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(apperr.CodeBackendUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(apperr.CodeStorage))
}
