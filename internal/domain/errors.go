package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("resource already exists")
	ErrInternal           = errors.New("internal server error")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDatabaseConnection = errors.New("database connection error")
)

// Errors raised by the real-time hub.
var (
	// ErrAuth means the handshake carried no valid identity.
	ErrAuth = errors.New("authentication failed")
	// ErrMembership means the user is not a participant of the conversation.
	ErrMembership = errors.New("not a participant in this conversation")
	// ErrProtocol covers malformed frames and unknown frame types.
	ErrProtocol = errors.New("protocol error")
	// ErrPersistence wraps store failures surfaced to a session.
	ErrPersistence = errors.New("persistence error")
	// ErrEmptyInput marks a blank message body. It is never reported to clients.
	ErrEmptyInput = errors.New("empty input")
)
