package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zchat/internal/domain"
	"zchat/internal/service"
)

// MessageCreator persists chat messages and renders them for the wire.
// *service.MessageService implements it.
type MessageCreator interface {
	CreateMessage(ctx context.Context, in service.MessageCreateInput, senderID int64) (*domain.Message, error)
	ToResponse(ctx context.Context, m *domain.Message) (*service.MessageResponse, error)
}

// Ingest validates, persists and republishes chat messages from a session.
type Ingest struct {
	messages MessageCreator
	pub      Publisher
	timeout  time.Duration
}

func NewIngest(messages MessageCreator, pub Publisher, timeout time.Duration) *Ingest {
	return &Ingest{messages: messages, pub: pub, timeout: timeout}
}

// Handle runs on the session's reader goroutine. It returns domain.ErrEmptyInput
// for blank bodies and an error wrapping domain.ErrPersistence when the store
// fails; in the latter case the sender alone gets an error frame.
func (i *Ingest) Handle(s *Session, body string) error {
	content := strings.TrimSpace(body)
	if content == "" {
		return domain.ErrEmptyInput
	}

	// The write is detached from the connection so a disconnect does not abort it.
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	msg, err := i.messages.CreateMessage(ctx, service.MessageCreateInput{
		ConversationID: s.ConversationID,
		Content:        content,
	}, s.User.ID)
	if errors.Is(err, domain.ErrEmptyInput) {
		return err
	}
	if err != nil {
		s.Send(errorFrame(msgSendFailed))
		if !errors.Is(err, domain.ErrPersistence) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		return err
	}

	resp, err := i.messages.ToResponse(ctx, msg)
	if err != nil {
		s.Send(errorFrame(msgSendFailed))
		return fmt.Errorf("%w: render message %d: %w", domain.ErrPersistence, msg.ID, err)
	}

	i.pub.Publish(s.ConversationID, encode(chatMessageEvent{Type: eventChatMessage, Message: resp}), nil)
	s.log.Debug("ws: message delivered", slog.Int64("message_id", msg.ID))
	return nil
}
