package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chat-relay/internal/models"
	"chat-relay/internal/store"
)

// ErrCollaborator wraps failures of the user, conversation and message stores.
var ErrCollaborator = errors.New("collaborator failure")

// Sender is the connection an inbound frame arrived on.
type Sender interface {
	Member
	User() *models.User
	RoomID() string
}

type RouterOption func(*Router)

// WithStrictPersistence makes the router drop chat messages it could not store.
func WithStrictPersistence(strict bool) RouterOption {
	return func(r *Router) {
		r.strict = strict
	}
}

// WithClock overrides the clock used to timestamp chat messages.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		r.now = now
	}
}

// Router decodes inbound frames and dispatches them by event type.
type Router struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	registry      Registry
	logger        *slog.Logger
	now           func() time.Time
	strict        bool
}

func NewRouter(conversations store.ConversationStore, messages store.MessageStore, registry Registry, logger *slog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		conversations: conversations,
		messages:      messages,
		registry:      registry,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch handles one frame from s. Failures never propagate: the event is
// dropped and logged, and the connection stays open.
func (r *Router) Dispatch(ctx context.Context, s Sender, frame []byte) {
	logger := r.logger.With("conn", s.ID(), "room", s.RoomID())

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("[ROUTER] Handler panicked, event dropped", "panic", rec)
		}
	}()

	event, err := models.DecodeInbound(frame)
	if err != nil {
		if errors.Is(err, models.ErrUnknownEventType) {
			logger.Warn("[ROUTER] Unknown event type", "error", err)
		} else {
			logger.Warn("[ROUTER] Malformed event", "error", err)
		}
		return
	}

	switch ev := event.(type) {
	case models.ChatMessage:
		err = r.handleChatMessage(ctx, s, ev)
	case models.Typing:
		err = r.handleTyping(ctx, s, ev)
	default:
		err = fmt.Errorf("%w: %T", models.ErrUnknownEventType, event)
	}

	switch {
	case err == nil:
	case errors.Is(err, models.ErrMalformedEvent), errors.Is(err, models.ErrUnknownEventType):
		logger.Warn("[ROUTER] Event dropped", "error", err)
	default:
		logger.Error("[ROUTER] Event dropped", "error", err)
	}
}

func (r *Router) handleChatMessage(ctx context.Context, s Sender, ev models.ChatMessage) error {
	sender := s.User()
	if sender == nil {
		return fmt.Errorf("%w: sender is not authenticated", models.ErrMalformedEvent)
	}
	if claimed, ok := ev.Sender(); ok && claimed.Int64() != sender.ID {
		return fmt.Errorf("%w: sender %d does not match authenticated user %d", models.ErrMalformedEvent, claimed, sender.ID)
	}

	if err := r.persist(ctx, s.RoomID(), sender, ev.Message); err != nil {
		if r.strict {
			return err
		}
		r.logger.Error("[ROUTER] Failed to save message, relaying anyway", "conn", s.ID(), "room", s.RoomID(), "error", err)
	}

	out := models.NewChatMessageEvent(ev.Message, models.Summarize(sender), r.now())
	if err := r.registry.Broadcast(ctx, s.RoomID(), out, nil); err != nil {
		return fmt.Errorf("broadcast chat_message: %w", err)
	}
	return nil
}

func (r *Router) persist(ctx context.Context, roomID string, sender *models.User, content string) error {
	conversation, err := r.conversations.GetConversation(ctx, roomID)
	if err != nil {
		return fmt.Errorf("%w: lookup conversation %s: %w", ErrCollaborator, roomID, err)
	}
	if _, err := r.messages.CreateMessage(ctx, conversation, sender, content); err != nil {
		return fmt.Errorf("%w: save message: %w", ErrCollaborator, err)
	}
	return nil
}

func (r *Router) handleTyping(ctx context.Context, s Sender, ev models.Typing) error {
	sender := s.User()
	if sender == nil {
		return fmt.Errorf("%w: sender is not authenticated", models.ErrMalformedEvent)
	}

	receiver := ev.Target().Int64()
	if receiver == sender.ID {
		r.logger.Debug("[ROUTER] Ignoring typing to self", "conn", s.ID(), "user", sender.ID)
		return nil
	}

	out := models.NewTypingEvent(models.Summarize(sender), receiver)
	if err := r.registry.Broadcast(ctx, s.RoomID(), out, s); err != nil {
		return fmt.Errorf("broadcast typing: %w", err)
	}
	return nil
}
