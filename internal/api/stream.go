package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"github.com/RichardoC/tele-agent/internal/pipeline"
	"go.uber.org/zap"
)

// stream writes progress as newline-delimited JSON. Until the first event
// nothing is written, so an early refusal still gets a proper status code.
type stream struct {
	w http.ResponseWriter
	h *Handler

	mu      sync.Mutex
	started bool
	enc     *json.Encoder
}

var _ pipeline.Notifier = (*stream)(nil)

func newStream(w http.ResponseWriter, h *Handler) *stream {
	return &stream{w: w, h: h}
}

func (s *stream) Queued(position int, notice string) {
	s.send(Event{Type: EventQueued, Position: position, Message: notice})
}

func (s *stream) Processing() {
	s.send(Event{Type: EventProcessing})
}

func (s *stream) send(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.WriteHeader(http.StatusOK)
		s.enc = json.NewEncoder(s.w)
	}
	if err := s.enc.Encode(e); err != nil {
		s.h.logger.Debug("Failed to write event", zap.Error(err))
		return
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

// finish writes the reply chunks or the failure.
func (s *stream) finish(reply string, err error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if err != nil {
		if !started {
			s.h.writeErrorMessage(s.w, err, reply)
			return
		}
		s.send(Event{Type: EventError, Code: string(apperr.CodeOf(err)), Message: reply})
		return
	}
	s.send(Event{Type: EventReply, Chunks: pipeline.Chunk(reply, pipeline.MaxChunk)})
}
