package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zchat/internal/domain"
)

type ConversationService struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository
	users         domain.UserRepository
	render        *MessageService
}

func NewConversationService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	users domain.UserRepository,
	render *MessageService,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		participants:  participants,
		messages:      messages,
		users:         users,
		render:        render,
	}
}

type ConversationCreateInput struct {
	Kind           domain.ConversationKind
	Name           *string
	ParticipantIDs []int64
}

// ConversationView is a conversation as listed for one user.
type ConversationView struct {
	ID           int64                             `json:"id"`
	Type         domain.ConversationKind           `json:"type"`
	Name         *string                           `json:"name"`
	CreatedAt    time.Time                         `json:"created_at"`
	UpdatedAt    time.Time                         `json:"updated_at"`
	Participants []*domain.ConversationParticipant `json:"participants"`
	LastMessage  *MessageResponse                  `json:"last_message"`
	UnreadCount  int                               `json:"unread_count"`
	// OtherUser is set for private conversations only.
	OtherUser *domain.User `json:"other_user"`
}

// CreateConversation creates a private or group conversation owned by creatorID.
// A private conversation that already exists between the two users is returned
// with created=false.
func (s *ConversationService) CreateConversation(
	ctx context.Context,
	in ConversationCreateInput,
	creatorID int64,
) (conv *domain.Conversation, created bool, err error) {
	if in.Kind == "" {
		in.Kind = domain.ConversationPrivate
	}
	if !in.Kind.Valid() {
		return nil, false, fmt.Errorf("%w: type must be private or group", domain.ErrInvalidInput)
	}

	others := make([]int64, 0, len(in.ParticipantIDs))
	seen := map[int64]struct{}{creatorID: {}}
	for _, id := range in.ParticipantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		others = append(others, id)
	}

	switch in.Kind {
	case domain.ConversationPrivate:
		if len(others) != 1 {
			return nil, false, fmt.Errorf("%w: private conversations need exactly one other participant", domain.ErrInvalidInput)
		}
		in.Name = nil
	case domain.ConversationGroup:
		if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
			return nil, false, fmt.Errorf("%w: group conversations need a name", domain.ErrInvalidInput)
		}
		if len(others) == 0 {
			return nil, false, fmt.Errorf("%w: at least one participant is required", domain.ErrInvalidInput)
		}
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
	}

	found, err := s.users.ListByIDs(ctx, others)
	if err != nil {
		return nil, false, fmt.Errorf("resolve participants: %w", err)
	}
	if len(found) != len(others) {
		return nil, false, fmt.Errorf("%w: unknown participant id", domain.ErrInvalidInput)
	}

	if in.Kind == domain.ConversationPrivate {
		existing, err := s.conversations.FindExistingPrivate(ctx, creatorID, others[0])
		if err != nil {
			return nil, false, fmt.Errorf("find existing conversation: %w", err)
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	conv = &domain.Conversation{Kind: in.Kind, Name: in.Name}
	if err := s.conversations.Create(ctx, conv, creatorID, others); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

func (s *ConversationService) ListForUser(ctx context.Context, userID int64) ([]*ConversationView, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := make([]*ConversationView, 0, len(convs))
	for _, c := range convs {
		v, err := s.view(ctx, c, userID)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

// GetConversation returns the view of one conversation. Non-participants get
// domain.ErrNotFound so the conversation's existence is not disclosed.
func (s *ConversationService) GetConversation(ctx context.Context, conversationID, userID int64) (*ConversationView, error) {
	conv, err := s.RequireParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, conv, userID)
}

// RequireParticipant loads the conversation if userID belongs to it.
func (s *ConversationService) RequireParticipant(ctx context.Context, conversationID, userID int64) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, domain.ErrNotFound
	}
	ok, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return conv, nil
}

// Leave removes userID from the conversation and deletes it once empty.
func (s *ConversationService) Leave(ctx context.Context, conversationID, userID int64) (deleted bool, err error) {
	remaining, err := s.participants.Remove(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}
	if err := s.conversations.Delete(ctx, conversationID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ConversationService) view(ctx context.Context, c *domain.Conversation, userID int64) (*ConversationView, error) {
	parts, err := s.participants.ListParticipants(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	v := &ConversationView{
		ID:           c.ID,
		Type:         c.Kind,
		Name:         c.Name,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Participants: parts,
	}

	if c.Kind == domain.ConversationPrivate {
		for _, p := range parts {
			if p.UserID != userID {
				v.OtherUser = p.User
				break
			}
		}
	}

	last, err := s.messages.Last(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if last != nil {
		rendered, err := s.render.ToResponses(ctx, []*domain.Message{last}, userID)
		if err != nil {
			return nil, err
		}
		v.LastMessage = rendered[0]
	}

	if v.UnreadCount, err = s.conversations.GetUnreadCount(ctx, c.ID, userID); err != nil {
		return nil, err
	}
	return v, nil
}
