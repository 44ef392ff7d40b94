package ws

import (
	"context"
	"sync"
	"testing"

	"chat-relay/internal/models"
	"chat-relay/internal/store"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	stale  bool
	closed []int
}

func newFakeMember(id string) *fakeMember {
	return &fakeMember{id: id}
}

func (m *fakeMember) ID() string { return m.id }

func (m *fakeMember) Enqueue(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stale {
		return ErrStaleMember
	}
	m.frames = append(m.frames, payload)
	return nil
}

func (m *fakeMember) Close(code int, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, code)
}

func (m *fakeMember) events(t *testing.T) []map[string]any {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]map[string]any, 0, len(m.frames))
	for _, f := range m.frames {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(f, &ev))
		events = append(events, ev)
	}
	return events
}

type fakeSender struct {
	*fakeMember
	user   *models.User
	roomID string
}

func (s *fakeSender) User() *models.User { return s.user }
func (s *fakeSender) RoomID() string     { return s.roomID }

type fakeStore struct {
	mu            sync.Mutex
	users         map[int64]*models.User
	conversations map[string]*models.Conversation
	messages      []models.Message
	lookupErr     error
	saveErr       error
	panics        bool
}

func newFakeStore(users ...*models.User) *fakeStore {
	s := &fakeStore{
		users:         make(map[int64]*models.User),
		conversations: map[string]*models.Conversation{"42": {ID: 42, Name: "general"}},
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) GetConversation(_ context.Context, roomID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics {
		panic("conversation lookup exploded")
	}
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if c, ok := s.conversations[roomID]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) CreateMessage(_ context.Context, conversation *models.Conversation, sender *models.User, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	msg := models.Message{
		ID:             int64(len(s.messages) + 1),
		ConversationID: conversation.ID,
		SenderID:       sender.ID,
		Content:        content,
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *fakeStore) savedMessages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

var (
	alice = &models.User{ID: 7, Username: "alice", FirstName: "Alice"}
	bob   = &models.User{ID: 9, Username: "bob", FirstName: "Bob"}
)
