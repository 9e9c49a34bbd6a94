package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrCanceled is returned by AwaitTurn when the ticket was cancelled
	// while waiting.
	ErrCanceled = errors.New("queue: ticket canceled")

	// ErrNotQueued is returned by AwaitTurn for a ticket the coordinator
	// no longer tracks.
	ErrNotQueued = errors.New("queue: ticket not queued")

	// ErrClaimed is returned when AwaitTurn is called twice for one ticket.
	ErrClaimed = errors.New("queue: ticket already claimed")
)

// Coordinator admits requests and hands out the exclusive section in strict
// admission order. The state below is the only shared mutable state of the
// queue and is touched only with mu held.
type Coordinator struct {
	mu      sync.Mutex
	nextSeq uint64
	active  *Ticket
	waiting []*Ticket
	tickets map[int64]*Ticket

	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides time.Now for ticket timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator returns an idle coordinator. A nil logger discards logs.
func NewCoordinator(logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		tickets: make(map[int64]*Ticket),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Admit gives the conversation a ticket and returns its position:
// 0 when it is promoted immediately, otherwise its 1-based rank among
// waiters. A conversation that already holds a ticket gets that same
// ticket and its current position back, together with ErrAlreadyQueued.
func (c *Coordinator) Admit(conversationID int64) (*Ticket, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tickets[conversationID]; ok {
		return t, c.positionLocked(t), apperr.ErrAlreadyQueued
	}

	c.nextSeq++
	t := &Ticket{
		ConversationID: conversationID,
		Sequence:       c.nextSeq,
		EnqueuedAt:     c.now(),
		RequestID:      uuid.NewString(),
		ready:          make(chan struct{}),
		canceled:       make(chan struct{}),
	}
	c.tickets[conversationID] = t

	if c.active == nil {
		c.promoteLocked(t)
		return t, 0, nil
	}

	c.waiting = append(c.waiting, t)
	position := len(c.waiting)
	c.logger.Debug("ticket queued",
		zap.Int64("conversation_id", conversationID),
		zap.Uint64("sequence", t.Sequence),
		zap.Int("position", position),
		zap.String("request_id", t.RequestID))
	return t, position, nil
}

// AwaitTurn blocks until t is the active ticket and returns the exclusive
// section for it. If ctx ends first the ticket is given up: removed from
// the waiting list, or released if it was promoted in the meantime.
func (c *Coordinator) AwaitTurn(ctx context.Context, t *Ticket) (*Section, error) {
	select {
	case <-t.ready:
	case <-t.canceled:
		return nil, ErrCanceled
	case <-ctx.Done():
		c.abandon(t)
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != t {
		return nil, ErrNotQueued
	}
	if t.claimed {
		return nil, ErrClaimed
	}
	t.claimed = true
	return &Section{coord: c, ticket: t, released: make(chan struct{})}, nil
}

// PositionOf reports 0 for the active conversation, the 1-based rank for
// a waiting one, and false when the conversation holds no ticket.
func (c *Coordinator) PositionOf(conversationID int64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tickets[conversationID]
	if !ok {
		return 0, false
	}
	return c.positionLocked(t), true
}

// Cancel drops a waiting ticket. Active tickets run to completion and
// are not affected; the return value tells whether anything was removed.
func (c *Coordinator) Cancel(conversationID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tickets[conversationID]
	if !ok || c.active == t {
		return false
	}
	c.removeWaitingLocked(t)
	close(t.canceled)
	c.logger.Debug("ticket canceled",
		zap.Int64("conversation_id", conversationID),
		zap.Uint64("sequence", t.Sequence))
	return true
}

// Status is a snapshot of the in-flight flag and the waiting line.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		InFlight:     c.active != nil,
		WaitingCount: len(c.waiting),
	}
	if c.active != nil {
		s.HasActive = true
		s.ActiveID = c.active.ConversationID
	}
	return s
}

// complete retires the active ticket and promotes the head of the line.
func (c *Coordinator) complete(t *Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeLocked(t)
}

func (c *Coordinator) completeLocked(t *Ticket) {
	if c.active != t {
		return
	}
	delete(c.tickets, t.ConversationID)
	c.active = nil

	c.logger.Debug("ticket completed",
		zap.Int64("conversation_id", t.ConversationID),
		zap.Uint64("sequence", t.Sequence),
		zap.Duration("elapsed", c.now().Sub(t.EnqueuedAt)),
		zap.String("request_id", t.RequestID))

	if len(c.waiting) == 0 {
		return
	}
	next := c.waiting[0]
	c.waiting[0] = nil
	c.waiting = c.waiting[1:]
	c.promoteLocked(next)
}

// abandon handles a waiter whose context ended before it was handed the
// section.
func (c *Coordinator) abandon(t *Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tickets[t.ConversationID] != t {
		return
	}
	if c.active != t {
		c.removeWaitingLocked(t)
		close(t.canceled)
		return
	}
	// Promoted between the select and the lock; nobody else will release it.
	if !t.claimed {
		c.completeLocked(t)
	}
}

func (c *Coordinator) promoteLocked(t *Ticket) {
	c.active = t
	close(t.ready)
	c.logger.Debug("ticket promoted",
		zap.Int64("conversation_id", t.ConversationID),
		zap.Uint64("sequence", t.Sequence),
		zap.String("request_id", t.RequestID))
}

func (c *Coordinator) positionLocked(t *Ticket) int {
	if c.active == t {
		return 0
	}
	for i, w := range c.waiting {
		if w == t {
			return i + 1
		}
	}
	return 0
}

func (c *Coordinator) removeWaitingLocked(t *Ticket) {
	for i, w := range c.waiting {
		if w == t {
			c.waiting = append(c.waiting[:i], c.waiting[i+1:]...)
			break
		}
	}
	delete(c.tickets, t.ConversationID)
}
