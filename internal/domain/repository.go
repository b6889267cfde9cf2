package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*User, error)
	ListActive(ctx context.Context, offset, limit int) ([]*User, error)
	ListOnline(ctx context.Context) ([]*User, error)
	SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error
	// Update writes the profile fields: email, password hash and active flag.
	// Presence columns belong to SetOnlineStatus.
	Update(ctx context.Context, u *User) error
}

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	// Create inserts the conversation, the creator and the other members in one
	// transaction. The creator is admin of group conversations.
	Create(ctx context.Context, c *Conversation, creatorID int64, memberIDs []int64) error
	GetByID(ctx context.Context, id int64) (*Conversation, error)
	ListForUser(ctx context.Context, userID int64) ([]*Conversation, error)
	FindExistingPrivate(ctx context.Context, userA, userB int64) (*Conversation, error)
	Delete(ctx context.Context, id int64) error

	// MarkAsRead sets last_read_at unconditionally.
	MarkAsRead(ctx context.Context, conversationID, userID int64, at time.Time) error
	// AdvanceLastRead moves last_read_at forward to at, never backwards.
	AdvanceLastRead(ctx context.Context, conversationID, userID int64, at time.Time) error
	GetUnreadCount(ctx context.Context, conversationID, userID int64) (int, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// Append inserts m, bumps its conversation's updated_at to m.CreatedAt and,
	// when keepLimit > 0, prunes the conversation to its newest keepLimit
	// messages. Either all of it is committed or none of it.
	Append(ctx context.Context, m *Message, keepLimit int) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	List(ctx context.Context, conversationID int64, q MessageQuery) ([]*Message, error)
	Last(ctx context.Context, conversationID int64) (*Message, error)
	Update(ctx context.Context, m *Message) error
	Delete(ctx context.Context, id int64) error
}

// ParticipantRepository defines operations around conversation participants.
type ParticipantRepository interface {
	ListParticipants(ctx context.Context, conversationID int64) ([]*ConversationParticipant, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	// Remove deletes the membership and reports how many participants remain.
	Remove(ctx context.Context, conversationID, userID int64) (remaining int, err error)
}

// ReadStatusRepository records per-user read receipts.
type ReadStatusRepository interface {
	// Upsert creates the receipt if absent. created is false when it already existed.
	Upsert(ctx context.Context, messageID, userID int64, at time.Time) (created bool, err error)
	// MarkConversation creates receipts for every message in the conversation that
	// was not sent by userID and not yet read by it.
	MarkConversation(ctx context.Context, conversationID, userID int64, at time.Time) (int64, error)
	// ReadSet reports which of messageIDs userID has read.
	ReadSet(ctx context.Context, userID int64, messageIDs []int64) (map[int64]bool, error)
}
