package domain

import "time"

// ConversationKind distinguishes two-party chats from named groups.
type ConversationKind string

const (
	ConversationPrivate ConversationKind = "private"
	ConversationGroup   ConversationKind = "group"
)

// Valid reports whether k is a known conversation kind.
func (k ConversationKind) Valid() bool {
	return k == ConversationPrivate || k == ConversationGroup
}

// MessageKind distinguishes user text from system notices.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageSystem MessageKind = "system"
)

// User represents an application user.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	Email          *string   `db:"email" json:"email"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	IsOnline       bool      `db:"is_online" json:"is_online"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastSeen       time.Time `db:"last_seen" json:"last_seen"`
}

// Conversation represents a private or group chat thread.
// UpdatedAt doubles as the last-activity timestamp.
type Conversation struct {
	ID        int64            `db:"id" json:"id"`
	Kind      ConversationKind `db:"kind" json:"type"`
	Name      *string          `db:"name" json:"name"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// ConversationParticipant represents the membership of a user in a conversation.
type ConversationParticipant struct {
	UserID         int64      `db:"user_id" json:"-"`
	ConversationID int64      `db:"conversation_id" json:"-"`
	IsAdmin        bool       `db:"is_admin" json:"is_admin"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at"`
	JoinedAt       time.Time  `db:"joined_at" json:"joined_at"`

	// User is populated by ListParticipants.
	User *User `db:"-" json:"user,omitempty"`
}

// Message represents a single chat message.
type Message struct {
	ID             int64       `db:"id"`
	ConversationID int64       `db:"conversation_id"`
	SenderID       int64       `db:"sender_id"`
	Kind           MessageKind `db:"kind"`
	Content        string      `db:"content"` // encrypted at rest
	CreatedAt      time.Time   `db:"created_at"`
	EditedAt       *time.Time  `db:"edited_at"`
	IsEdited       bool        `db:"is_edited"`
}

// ReadStatus records that a user has read a message.
type ReadStatus struct {
	MessageID int64     `db:"message_id"`
	UserID    int64     `db:"user_id"`
	ReadAt    time.Time `db:"read_at"`
}

// MessageQuery pages through a conversation newest first.
// BeforeID, when non-zero, restricts results to ids lower than it.
type MessageQuery struct {
	Limit    int
	Offset   int
	BeforeID int64
}
