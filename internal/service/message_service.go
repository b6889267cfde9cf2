package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zchat/internal/domain"
	"zchat/internal/security"
)

const (
	MaxContentRunes     = 5000
	DefaultMessagePage  = 50
	maxMessagePageLimit = 200
)

type MessageService struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository
	reads         domain.ReadStatusRepository
	users         domain.UserRepository
	encryptor     *security.Encryptor

	MaxMessagesPerConversation int
	now                        func() time.Time
}

func NewMessageService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	reads domain.ReadStatusRepository,
	users domain.UserRepository,
	encryptor *security.Encryptor,
	maxMessages int,
) *MessageService {
	return &MessageService{
		conversations:              conversations,
		participants:               participants,
		messages:                   messages,
		reads:                      reads,
		users:                      users,
		encryptor:                  encryptor,
		MaxMessagesPerConversation: maxMessages,
		now:                        func() time.Time { return time.Now().UTC() },
	}
}

type MessageCreateInput struct {
	ConversationID int64
	Content        string
}

// CreateMessage persists a message from senderID. Store failures wrap
// domain.ErrPersistence; a blank body yields domain.ErrEmptyInput.
func (s *MessageService) CreateMessage(
	ctx context.Context,
	in MessageCreateInput,
	senderID int64,
) (*domain.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, domain.ErrEmptyInput
	}
	if len([]rune(content)) > MaxContentRunes {
		return nil, fmt.Errorf("%w: message content exceeds %d characters", domain.ErrInvalidInput, MaxContentRunes)
	}

	if err := s.requireParticipant(ctx, in.ConversationID, senderID); err != nil {
		return nil, err
	}

	encrypted, err := s.encryptor.Encrypt(content)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}

	msg := &domain.Message{
		ConversationID: in.ConversationID,
		SenderID:       senderID,
		Kind:           domain.MessageText,
		Content:        encrypted,
	}
	if err := s.messages.Append(ctx, msg, s.MaxMessagesPerConversation); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	return msg, nil
}

func (s *MessageService) EditMessage(
	ctx context.Context,
	callerID, messageID int64,
	newContent string,
) (*domain.Message, error) {
	content := strings.TrimSpace(newContent)
	if content == "" {
		return nil, fmt.Errorf("%w: message content cannot be empty", domain.ErrInvalidInput)
	}
	if len([]rune(content)) > MaxContentRunes {
		return nil, fmt.Errorf("%w: message content exceeds %d characters", domain.ErrInvalidInput, MaxContentRunes)
	}

	msg, err := s.ownMessage(ctx, callerID, messageID)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.encryptor.Encrypt(content)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}

	now := s.now()
	msg.Content = encrypted
	msg.IsEdited = true
	msg.EditedAt = &now
	if err := s.messages.Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return msg, nil
}

func (s *MessageService) DeleteMessage(ctx context.Context, callerID, messageID int64) (*domain.Message, error) {
	msg, err := s.ownMessage(ctx, callerID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.messages.Delete(ctx, messageID); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	return msg, nil
}

func (s *MessageService) ownMessage(ctx context.Context, callerID, messageID int64) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return nil, domain.ErrNotFound
	}
	if msg.SenderID != callerID {
		return nil, domain.ErrForbidden
	}
	return msg, nil
}

// ListMessages returns a page of the conversation newest first, as seen by userID.
func (s *MessageService) ListMessages(
	ctx context.Context,
	conversationID int64,
	userID int64,
	q domain.MessageQuery,
) ([]*MessageResponse, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	if q.Limit <= 0 {
		q.Limit = DefaultMessagePage
	}
	if q.Limit > maxMessagePageLimit {
		q.Limit = maxMessagePageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	msgs, err := s.messages.List(ctx, conversationID, q)
	if err != nil {
		return nil, err
	}
	return s.ToResponses(ctx, msgs, userID)
}

func (s *MessageService) requireParticipant(ctx context.Context, conversationID, userID int64) error {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return domain.ErrNotFound
	}
	ok, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return domain.ErrMembership
	}
	return nil
}

// SenderView is the public projection of a message author.
type SenderView struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    *string `json:"email"`
	IsOnline bool    `json:"is_online"`
}

// MessageResponse is the wire form of a message, shared by REST and the hub.
type MessageResponse struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation"`
	Sender         *SenderView `json:"sender"`
	Type           string      `json:"type"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at"`
	IsEdited       bool        `json:"is_edited"`
	IsRead         bool        `json:"is_read"`
}

func senderView(u *domain.User) *SenderView {
	if u == nil {
		return nil
	}
	return &SenderView{ID: u.ID, Username: u.Username, Email: u.Email, IsOnline: u.IsOnline}
}

func (s *MessageService) decrypt(m *domain.Message) string {
	dec, err := s.encryptor.Decrypt(m.Content)
	if err != nil {
		// rows written before encryption was enabled are returned as stored
		return m.Content
	}
	return dec
}

func (s *MessageService) response(m *domain.Message, sender *domain.User, read bool) *MessageResponse {
	return &MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         senderView(sender),
		Type:           string(m.Kind),
		Content:        s.decrypt(m),
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
		IsEdited:       m.IsEdited,
		IsRead:         read,
	}
}

// ToResponse serializes a freshly created or edited message.
func (s *MessageService) ToResponse(ctx context.Context, m *domain.Message) (*MessageResponse, error) {
	sender, err := s.users.GetByID(ctx, m.SenderID)
	if err != nil {
		return nil, fmt.Errorf("get sender: %w", err)
	}
	return s.response(m, sender, false), nil
}

// ToResponses serializes msgs with is_read computed for viewerID. A message
// counts as read when the viewer holds a receipt for it or when it falls at or
// before the viewer's last_read_at, so is_read agrees with the unread count.
// The viewer's own messages rely on receipts alone.
func (s *MessageService) ToResponses(ctx context.Context, msgs []*domain.Message, viewerID int64) ([]*MessageResponse, error) {
	res := make([]*MessageResponse, 0, len(msgs))
	if len(msgs) == 0 {
		return res, nil
	}

	ids := make([]int64, 0, len(msgs))
	senderIDs := make([]int64, 0, len(msgs))
	seen := make(map[int64]bool)
	for _, m := range msgs {
		ids = append(ids, m.ID)
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	readSet, err := s.reads.ReadSet(ctx, viewerID, ids)
	if err != nil {
		return nil, err
	}
	senders, err := s.users.ListByIDs(ctx, senderIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*domain.User, len(senders))
	for _, u := range senders {
		byID[u.ID] = u
	}

	lastRead, err := s.lastReadAt(ctx, msgs, viewerID)
	if err != nil {
		return nil, err
	}

	for _, m := range msgs {
		read := readSet[m.ID]
		if !read && m.SenderID != viewerID {
			if at, ok := lastRead[m.ConversationID]; ok && !m.CreatedAt.After(at) {
				read = true
			}
		}
		res = append(res, s.response(m, byID[m.SenderID], read))
	}
	return res, nil
}

// lastReadAt maps each conversation in msgs to viewerID's read watermark.
// Conversations where the viewer has never read anything are absent.
func (s *MessageService) lastReadAt(ctx context.Context, msgs []*domain.Message, viewerID int64) (map[int64]time.Time, error) {
	out := make(map[int64]time.Time)
	done := make(map[int64]bool)
	for _, m := range msgs {
		if done[m.ConversationID] {
			continue
		}
		done[m.ConversationID] = true
		parts, err := s.participants.ListParticipants(ctx, m.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("list participants: %w", err)
		}
		for _, p := range parts {
			if p.UserID == viewerID && p.LastReadAt != nil {
				out[m.ConversationID] = *p.LastReadAt
			}
		}
	}
	return out, nil
}
