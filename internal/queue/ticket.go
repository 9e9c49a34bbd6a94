package queue

import (
	"sync"
	"time"
)

// Ticket is a conversation's place in the inference queue.
// Tickets live in memory only and vanish on restart.
type Ticket struct {
	ConversationID int64
	Sequence       uint64
	EnqueuedAt     time.Time

	// RequestID correlates log lines for one request.
	RequestID string

	// ready is closed when the ticket becomes active, canceled when it is
	// dropped before that.
	ready    chan struct{}
	canceled chan struct{}
	claimed  bool
}

// Section is the exclusive right to run one inference.
// At most one unreleased Section exists per Coordinator.
type Section struct {
	coord    *Coordinator
	ticket   *Ticket
	once     sync.Once
	released chan struct{}
}

// Ticket returns the ticket this section was granted to.
func (s *Section) Ticket() *Ticket {
	return s.ticket
}

// Held reports whether the section has not been released yet.
func (s *Section) Held() bool {
	if s == nil {
		return false
	}
	select {
	case <-s.released:
		return false
	default:
		return true
	}
}

// Release ends the section and promotes the next waiter.
// Safe to call more than once; only the first call has effect.
func (s *Section) Release() {
	s.once.Do(func() {
		close(s.released)
		s.coord.complete(s.ticket)
	})
}

// Status is a point-in-time view of the queue, for admin display.
type Status struct {
	InFlight     bool  `json:"in_flight"`
	HasActive    bool  `json:"has_active"`
	ActiveID     int64 `json:"active_id,omitempty"`
	WaitingCount int   `json:"waiting_count"`
}
