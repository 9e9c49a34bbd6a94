package pipeline

import (
	"context"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"github.com/RichardoC/tele-agent/internal/models"
	"github.com/RichardoC/tele-agent/internal/queue"
	"go.uber.org/zap"
)

// UserStats is what a conversation may learn about itself.
type UserStats struct {
	User     *models.UserRecord `json:"user"`
	Messages int                `json:"messages"`
	Queued   bool               `json:"queued"`
	Position int                `json:"position"`
}

func (p *Pipeline) requireAdmin(callerID int64) error {
	if !p.isAdmin(callerID) {
		p.logger.Info("admin operation denied", zap.Int64("caller_id", callerID))
		return apperr.ErrUnauthorized
	}
	return nil
}

func (p *Pipeline) requireAuthorized(ctx context.Context, callerID int64) error {
	if !p.authorized(ctx, callerID) {
		return apperr.ErrUnauthorized
	}
	return nil
}

func (p *Pipeline) GrantAccess(ctx context.Context, callerID, conversationID int64, displayName string) error {
	if err := p.requireAdmin(callerID); err != nil {
		return err
	}
	if conversationID == 0 {
		return apperr.New(apperr.CodeInvalidArgument, "conversation id is required")
	}
	if err := p.store.GrantAccess(ctx, conversationID, displayName, callerID); err != nil {
		return err
	}
	p.logger.Info("access granted",
		zap.Int64("conversation_id", conversationID),
		zap.String("display_name", displayName))
	return nil
}

// RevokeAccess reports whether an entry was removed. The admin is
// authorized by configuration and cannot be revoked.
func (p *Pipeline) RevokeAccess(ctx context.Context, callerID, conversationID int64) (bool, error) {
	if err := p.requireAdmin(callerID); err != nil {
		return false, err
	}
	removed, err := p.store.RevokeAccess(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if removed {
		p.logger.Info("access revoked", zap.Int64("conversation_id", conversationID))
	}
	return removed, nil
}

func (p *Pipeline) ListAccess(ctx context.Context, callerID int64) ([]models.AccessEntry, error) {
	if err := p.requireAdmin(callerID); err != nil {
		return nil, err
	}
	return p.store.ListAccess(ctx)
}

func (p *Pipeline) PurgeOlderThan(ctx context.Context, callerID int64, days int) (int64, error) {
	if err := p.requireAdmin(callerID); err != nil {
		return 0, err
	}
	deleted, err := p.store.PurgeOlderThan(ctx, days)
	if err != nil {
		return 0, err
	}
	p.logger.Info("old messages purged", zap.Int("days", days), zap.Int64("deleted", deleted))
	return deleted, nil
}

// ClearConversation deletes a conversation's history. The admin may clear
// any conversation; others only their own.
func (p *Pipeline) ClearConversation(ctx context.Context, callerID, conversationID int64) (int64, error) {
	if !p.isAdmin(callerID) {
		if callerID != conversationID {
			return 0, apperr.ErrUnauthorized
		}
		if err := p.requireAuthorized(ctx, callerID); err != nil {
			return 0, err
		}
	}
	deleted, err := p.store.ClearConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	p.logger.Info("conversation cleared",
		zap.Int64("conversation_id", conversationID),
		zap.Int64("caller_id", callerID),
		zap.Int64("deleted", deleted))
	return deleted, nil
}

func (p *Pipeline) QueueStatus(ctx context.Context, callerID int64) (queue.Status, error) {
	if err := p.requireAuthorized(ctx, callerID); err != nil {
		return queue.Status{}, err
	}
	return p.coord.Status(), nil
}

// UserStats returns the caller's own record, or any conversation's for
// the admin.
func (p *Pipeline) UserStats(ctx context.Context, callerID, conversationID int64) (*UserStats, error) {
	if !p.isAdmin(callerID) {
		if callerID != conversationID {
			return nil, apperr.ErrUnauthorized
		}
		if err := p.requireAuthorized(ctx, callerID); err != nil {
			return nil, err
		}
	}

	user, err := p.store.GetUser(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	count, err := p.store.CountMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	stats := &UserStats{User: user, Messages: count}
	stats.Position, stats.Queued = p.coord.PositionOf(conversationID)
	return stats, nil
}

// CancelPending drops the caller's waiting request, if any. A request
// already talking to the backend runs to completion.
func (p *Pipeline) CancelPending(conversationID int64) bool {
	return p.coord.Cancel(conversationID)
}
