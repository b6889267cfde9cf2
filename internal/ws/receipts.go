package ws

import (
	"context"
	"fmt"
	"time"

	"zchat/internal/domain"
)

// Reconciler records read receipts and keeps last_read_at in step with them.
type Reconciler struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	reads         domain.ReadStatusRepository
	now           func() time.Time
}

func NewReconciler(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	reads domain.ReadStatusRepository,
) *Reconciler {
	return &Reconciler{
		conversations: conversations,
		messages:      messages,
		reads:         reads,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// MarkRead records that userID read messageID and advances the user's
// last_read_at to the message's created_at. Earlier messages from others then
// render with is_read=true as well. Repeated calls are no-ops that return
// created=false. A message outside the conversation is ignored.
func (r *Reconciler) MarkRead(ctx context.Context, conversationID, userID, messageID int64) (bool, error) {
	msg, err := r.messages.GetByID(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("%w: get message: %w", domain.ErrPersistence, err)
	}
	if msg == nil || msg.ConversationID != conversationID {
		return false, nil
	}

	created, err := r.reads.Upsert(ctx, messageID, userID, r.now())
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if err := r.conversations.AdvanceLastRead(ctx, conversationID, userID, msg.CreatedAt); err != nil {
		return created, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return created, nil
}

// MarkAllRead marks every message from other senders as read and moves
// last_read_at to now. It returns the number of receipts created.
func (r *Reconciler) MarkAllRead(ctx context.Context, conversationID, userID int64) (int64, error) {
	now := r.now()
	n, err := r.reads.MarkConversation(ctx, conversationID, userID, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if err := r.conversations.MarkAsRead(ctx, conversationID, userID, now); err != nil {
		return n, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return n, nil
}

func (r *Reconciler) UnreadCount(ctx context.Context, conversationID, userID int64) (int, error) {
	return r.conversations.GetUnreadCount(ctx, conversationID, userID)
}
