package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

type EventType string

const (
	EventChatMessage  EventType = "chat_message"
	EventTyping       EventType = "typing"
	EventOnlineStatus EventType = "online_status"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

var (
	// ErrMalformedEvent is returned when a frame is not a valid event of its declared type.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEventType is returned when a frame declares a type the server does not handle.
	ErrUnknownEventType = errors.New("unknown event type")
)

var validate = validator.New()

// Inbound is an event received from a client. The set of implementations is
// closed: ChatMessage and Typing.
type Inbound interface {
	inboundType() EventType
}

// ChatMessage is sent by a client to post a message to its room.
// The sender may be given as "user" or "sender_id"; both are optional.
type ChatMessage struct {
	Message  string `json:"message" validate:"required"`
	User     *ID    `json:"user,omitempty"`
	SenderID *ID    `json:"sender_id,omitempty"`
}

func (ChatMessage) inboundType() EventType { return EventChatMessage }

// Sender returns the sender id claimed by the client, if any.
func (m ChatMessage) Sender() (ID, bool) {
	switch {
	case m.User != nil:
		return *m.User, true
	case m.SenderID != nil:
		return *m.SenderID, true
	}
	return 0, false
}

// Typing is sent by a client while composing a message to a receiver.
type Typing struct {
	Receiver   *ID `json:"receiver,omitempty" validate:"required_without=ReceiverID"`
	ReceiverID *ID `json:"receiver_id,omitempty" validate:"required_without=Receiver"`
}

func (Typing) inboundType() EventType { return EventTyping }

// Target returns the receiver id. Validate guarantees one is set.
func (t Typing) Target() ID {
	if t.Receiver != nil {
		return *t.Receiver
	}
	if t.ReceiverID != nil {
		return *t.ReceiverID
	}
	return 0
}

type envelope struct {
	Type EventType `json:"type"`
}

// DecodeInbound parses a client frame into its typed event.
func DecodeInbound(frame []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case EventChatMessage:
		var msg ChatMessage
		if err := decodeAndValidate(frame, &msg); err != nil {
			return nil, err
		}
		return msg, nil

	case EventTyping:
		var typing Typing
		if err := decodeAndValidate(frame, &typing); err != nil {
			return nil, err
		}
		return typing, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}

func decodeAndValidate(frame []byte, v any) error {
	if err := json.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// Outbound is an event sent by the server to clients.
type Outbound interface {
	OutboundType() EventType
}

type ChatMessageEvent struct {
	Type      EventType   `json:"type"`
	Message   string      `json:"message"`
	User      UserSummary `json:"user"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewChatMessageEvent(message string, user UserSummary, at time.Time) ChatMessageEvent {
	return ChatMessageEvent{
		Type:      EventChatMessage,
		Message:   message,
		User:      user,
		Timestamp: at.UTC(),
	}
}

func (ChatMessageEvent) OutboundType() EventType { return EventChatMessage }

type TypingEvent struct {
	Type     EventType   `json:"type"`
	User     UserSummary `json:"user"`
	Receiver int64       `json:"receiver"`
	IsTyping bool        `json:"is_typing"`
}

func NewTypingEvent(user UserSummary, receiver int64) TypingEvent {
	return TypingEvent{
		Type:     EventTyping,
		User:     user,
		Receiver: receiver,
		IsTyping: true,
	}
}

func (TypingEvent) OutboundType() EventType { return EventTyping }

type OnlineStatusEvent struct {
	Type       EventType      `json:"type"`
	OnlineUser []UserSummary  `json:"online_user"`
	Status     PresenceStatus `json:"status"`
}

func NewOnlineStatusEvent(user UserSummary, status PresenceStatus) OnlineStatusEvent {
	return OnlineStatusEvent{
		Type:       EventOnlineStatus,
		OnlineUser: []UserSummary{user},
		Status:     status,
	}
}

func (OnlineStatusEvent) OutboundType() EventType { return EventOnlineStatus }

// EncodeOutbound serializes an outbound event to its wire form.
func EncodeOutbound(ev Outbound) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.OutboundType(), err)
	}
	return payload, nil
}

// Envelope carries an encoded outbound event between relay processes.
type Envelope struct {
	RoomID    string          `json:"room_id"`
	ExcludeID string          `json:"exclude_id,omitempty"`
	// Publish time in Unix milliseconds.
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}
