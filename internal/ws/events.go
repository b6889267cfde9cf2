package ws

import (
	"encoding/json"
	"log/slog"

	"zchat/internal/logger"
	"zchat/internal/service"
)

// Inbound frame types.
const (
	frameChatMessage = "chat_message"
	frameTyping      = "typing"
	frameReadReceipt = "read_receipt"
)

// Outbound event types.
const (
	eventChatMessage = "chat_message"
	eventTyping      = "typing"
	eventUserStatus  = "user_status"
	eventError       = "error"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// Error frame messages.
const (
	msgInvalidJSON = "Invalid JSON"
	msgUnknownType = "Unknown message type"
	msgSendFailed  = "Failed to send message"
	msgReadFailed  = "Failed to mark message as read"
)

func invalidPayload(frameType string) string {
	return "Invalid " + frameType + " payload"
}

type frameHeader struct {
	Type string `json:"type"`
}

type chatMessageFrame struct {
	Content string `json:"content"`
}

type typingFrame struct {
	IsTyping bool `json:"is_typing"`
}

type readReceiptFrame struct {
	MessageID int64 `json:"message_id"`
}

type chatMessageEvent struct {
	Type    string                   `json:"type"`
	Message *service.MessageResponse `json:"message"`
}

type typingEvent struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type userStatusEvent struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		logger.L().Error("ws: encode event", slog.Any("err", err))
		return nil
	}
	return b
}

func errorFrame(msg string) []byte {
	return encode(errorEvent{Type: eventError, Message: msg})
}
