// Package store holds the user directory and message store the relay
// consumes. The relay only depends on the interfaces declared here.
package store

import (
	"context"
	"errors"

	"chat-relay/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidMessage is returned when a message has no content.
	ErrInvalidMessage = errors.New("invalid message")
)

type UserStore interface {
	// GetUser returns the user with the given id or ErrNotFound.
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

type ConversationStore interface {
	// GetConversation returns the conversation keyed by a room id or ErrNotFound.
	// Room ids that are not numeric never match.
	GetConversation(ctx context.Context, roomID string) (*models.Conversation, error)
}

type MessageStore interface {
	// CreateMessage persists content sent by sender to conversation.
	CreateMessage(ctx context.Context, conversation *models.Conversation, sender *models.User, content string) (*models.Message, error)
}

// Store is every collaborator call the relay makes.
type Store interface {
	UserStore
	ConversationStore
	MessageStore
}
