package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/RichardoC/tele-agent/internal/models"
	"github.com/RichardoC/tele-agent/internal/pipeline"
	"github.com/RichardoC/tele-agent/internal/queue"
	"go.uber.org/zap"
)

// Pipeline is the core surface the transport drives.
type Pipeline interface {
	SubmitText(ctx context.Context, conversationID int64, displayName, text string, n pipeline.Notifier) (string, error)
	SubmitFile(ctx context.Context, conversationID int64, displayName, filePath, fileName string, n pipeline.Notifier) (string, error)
	CancelPending(conversationID int64) bool

	GrantAccess(ctx context.Context, callerID, conversationID int64, displayName string) error
	RevokeAccess(ctx context.Context, callerID, conversationID int64) (bool, error)
	ListAccess(ctx context.Context, callerID int64) ([]models.AccessEntry, error)
	PurgeOlderThan(ctx context.Context, callerID int64, days int) (int64, error)
	ClearConversation(ctx context.Context, callerID, conversationID int64) (int64, error)
	QueueStatus(ctx context.Context, callerID int64) (queue.Status, error)
	UserStats(ctx context.Context, callerID, conversationID int64) (*pipeline.UserStats, error)
}

type Options struct {
	Locale        string
	TempFilesPath string
	// MaxUploadBytes caps multipart uploads.
	MaxUploadBytes int64
}

type Handler struct {
	pipeline Pipeline
	opts     Options
	logger   *zap.Logger
}

func NewHandler(p Pipeline, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	if opts.TempFilesPath == "" {
		opts.TempFilesPath = os.TempDir()
	}
	return &Handler{pipeline: p, opts: opts, logger: logger}
}

// Routes returns the transport's HTTP routes.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/message", h.HandleMessage)
	mux.HandleFunc("/api/file", h.HandleFile)
	mux.HandleFunc("/api/queue", h.HandleQueue)
	mux.HandleFunc("/api/access", h.HandleAccess)
	mux.HandleFunc("/api/conversations/clear", h.ClearConversation)
	mux.HandleFunc("/api/purge", h.Purge)
	mux.HandleFunc("/api/users/stats", h.UserStats)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type MessageRequest struct {
	Content string `json:"content"`
}

// Event is one line of a streamed reply.
type Event struct {
	Type     string   `json:"type"`
	Position int      `json:"position,omitempty"`
	Message  string   `json:"message,omitempty"`
	Code     string   `json:"code,omitempty"`
	Chunks   []string `json:"chunks,omitempty"`
}

const (
	EventQueued     = "queued"
	EventProcessing = "processing"
	EventReply      = "reply"
	EventError      = "error"
)

type caller struct {
	id          int64
	displayName string
}

func parseCaller(r *http.Request) (caller, error) {
	id, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		return caller{}, errors.New("invalid conversation ID")
	}
	name := r.URL.Query().Get("display_name")
	if name == "" {
		name = strconv.FormatInt(id, 10)
	}
	return caller{id: id, displayName: name}, nil
}

// targetID reads target_id, defaulting to the caller.
func targetID(r *http.Request, c caller) (int64, error) {
	raw := r.URL.Query().Get("target_id")
	if raw == "" {
		return c.id, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c, err := parseCaller(r)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s := newStream(w, h)
	// The pipeline drops a waiting request when the client disconnects.
	reply, err := h.pipeline.SubmitText(r.Context(), c.id, c.displayName, req.Content, s)
	s.finish(reply, err)
}

func (h *Handler) HandleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c, err := parseCaller(r)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Invalid file upload", http.StatusBadRequest)
		return
	}
	defer file.Close()

	path, err := h.saveUpload(file)
	if err != nil {
		h.logger.Error("Failed to store upload", zap.Error(err), zap.Int64("conversation_id", c.id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			h.logger.Warn("Failed to remove upload", zap.String("path", path), zap.Error(err))
		}
	}()

	s := newStream(w, h)
	reply, err := h.pipeline.SubmitFile(r.Context(), c.id, c.displayName, path, header.Filename, s)
	s.finish(reply, err)
}

func (h *Handler) saveUpload(src io.Reader) (string, error) {
	if err := os.MkdirAll(h.opts.TempFilesPath, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(h.opts.TempFilesPath, "upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// HandleQueue reports queue status (GET) or drops the caller's waiting
// request (DELETE).
func (h *Handler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	c, err := parseCaller(r)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		status, err := h.pipeline.QueueStatus(r.Context(), c.id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, status)

	case http.MethodDelete:
		canceled := h.pipeline.CancelPending(c.id)
		h.writeJSON(w, http.StatusOK, map[string]bool{"canceled": canceled})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
