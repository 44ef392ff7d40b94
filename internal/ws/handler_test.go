package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type testServer struct {
	*httptest.Server
	hub    *Hub
	store  *fakeStore
	issuer *auth.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithRegistry(t, func(h *Hub) Registry { return h })
}

// newTestServerWithRegistry lets a test wrap the hub the sessions join.
func newTestServerWithRegistry(t *testing.T, wrap func(*Hub) Registry) *testServer {
	t.Helper()

	logger := logging.Discard()
	st := newFakeStore(alice, bob)

	authenticator, err := auth.NewAuthenticator(auth.KeyConfig{Secret: testSecret}, st)
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(auth.KeyConfig{Secret: testSecret})
	require.NoError(t, err)

	hub := NewHub(logger)
	registry := wrap(hub)
	router := NewRouter(st, st, registry, logger)
	presence := NewPresence(registry, logger)
	handler := NewHandler(authenticator, registry, router, presence, DefaultOptions(), nil, logger)

	r := chi.NewRouter()
	r.Get("/ws/chat/{"+RoomParam+"}", handler.ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, hub: hub, store: st, issuer: issuer}
}

func (s *testServer) token(t *testing.T, userID int64) string {
	t.Helper()
	token, err := s.issuer.Sign(userID, time.Minute)
	require.NoError(t, err)
	return token
}

func (s *testServer) dial(t *testing.T, room, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/chat/" + room
	if token != "" {
		url += "?token=" + token
	}

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// join dials as userID and waits for the session's own online event.
func (s *testServer) join(t *testing.T, room string, userID int64) *websocket.Conn {
	t.Helper()
	conn := s.dial(t, room, s.token(t, userID))

	ev := readEvent(t, conn)
	require.Equal(t, "online_status", ev["type"])
	require.Equal(t, "online", ev["status"])
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(frame, &ev))
	return ev
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	return closeErr.Code
}

func TestSession_ChatBetweenTwoUsers(t *testing.T) {
	srv := newTestServer(t)

	a := srv.join(t, "42", 7)
	b := srv.join(t, "42", 9)

	// A learns that B came online.
	ev := readEvent(t, a)
	assert.Equal(t, "online_status", ev["type"])
	assert.Equal(t, float64(9), ev["online_user"].([]any)[0].(map[string]any)["id"])

	send(t, a, `{"type":"chat_message","message":"hi","user":7}`)

	ev = readEvent(t, b)
	assert.Equal(t, "chat_message", ev["type"])
	assert.Equal(t, "hi", ev["message"])
	assert.Equal(t, float64(7), ev["user"].(map[string]any)["id"])
	assert.Equal(t, "alice", ev["user"].(map[string]any)["username"])

	ts, err := time.Parse(time.RFC3339Nano, ev["timestamp"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)

	ev = readEvent(t, a)
	assert.Equal(t, "chat_message", ev["type"])

	assert.Len(t, srv.store.savedMessages(), 1)
}

func TestSession_TypingSkipsSender(t *testing.T) {
	srv := newTestServer(t)

	a := srv.join(t, "42", 7)
	b := srv.join(t, "42", 9)
	readEvent(t, a) // B online

	send(t, a, `{"type":"typing","receiver":9}`)

	ev := readEvent(t, b)
	assert.Equal(t, "typing", ev["type"])
	assert.Equal(t, float64(9), ev["receiver"])
	assert.Equal(t, true, ev["is_typing"])
	assert.Equal(t, float64(7), ev["user"].(map[string]any)["id"])

	// The next thing A sees is B's message, not its own typing event.
	send(t, b, `{"type":"chat_message","message":"yo"}`)
	ev = readEvent(t, a)
	assert.Equal(t, "chat_message", ev["type"])
	assert.Equal(t, "yo", ev["message"])
}

func TestSession_MalformedEventsKeepConnectionOpen(t *testing.T) {
	srv := newTestServer(t)

	a := srv.join(t, "42", 7)
	b := srv.join(t, "42", 9)
	readEvent(t, a)

	send(t, a, `{"type":"chat_message","message":""}`)
	send(t, a, `{"type":"typing","receiver":7}`)
	send(t, a, `{"type":"wave"}`)
	send(t, a, `garbage`)
	send(t, a, `{"type":"chat_message","message":"still here"}`)

	ev := readEvent(t, b)
	assert.Equal(t, "chat_message", ev["type"])
	assert.Equal(t, "still here", ev["message"])
}

func TestSession_RejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		code  int
	}{
		{name: "expired", token: expired, code: auth.CloseTokenExpired},
		{name: "invalid", token: "abc.def.ghi", code: auth.CloseTokenInvalid},
		{name: "missing", token: "", code: auth.CloseTokenMissing},
		{name: "unknown user", token: srv.token(t, 1234), code: auth.CloseUnknownUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := srv.dial(t, "42", tt.token)
			assert.Equal(t, tt.code, readCloseCode(t, conn))
			assert.Equal(t, 0, srv.hub.MemberCount("42"))
			assert.False(t, srv.hub.HasRoom("42"))
		})
	}
}

func TestSession_RejectedConnectionDoesNotDisturbRoom(t *testing.T) {
	srv := newTestServer(t)
	a := srv.join(t, "42", 7)

	conn := srv.dial(t, "42", "")
	assert.Equal(t, auth.CloseTokenMissing, readCloseCode(t, conn))
	assert.Equal(t, 1, srv.hub.MemberCount("42"))

	// A received nothing from the rejected attempt.
	send(t, a, `{"type":"chat_message","message":"ping"}`)
	ev := readEvent(t, a)
	assert.Equal(t, "chat_message", ev["type"])
}

func TestSession_DisconnectAnnouncesOffline(t *testing.T) {
	srv := newTestServer(t)

	a := srv.join(t, "42", 7)
	b := srv.join(t, "42", 9)
	readEvent(t, a)
	require.Equal(t, 2, srv.hub.MemberCount("42"))

	require.NoError(t, b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	ev := readEvent(t, a)
	assert.Equal(t, "online_status", ev["type"])
	assert.Equal(t, "offline", ev["status"])
	assert.Equal(t, float64(9), ev["online_user"].([]any)[0].(map[string]any)["id"])

	require.Eventually(t, func() bool {
		return srv.hub.MemberCount("42") == 1
	}, 2*time.Second, 10*time.Millisecond)

	a.Close()
	require.Eventually(t, func() bool {
		return !srv.hub.HasRoom("42")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_RoomsAreIsolated(t *testing.T) {
	srv := newTestServer(t)

	a := srv.join(t, "42", 7)
	b := srv.join(t, "43", 9)

	send(t, a, `{"type":"chat_message","message":"only 42"}`)
	readEvent(t, a)

	send(t, b, `{"type":"chat_message","message":"only 43"}`)
	ev := readEvent(t, b)
	assert.Equal(t, "only 43", ev["message"])
}

func TestSession_ShutdownClosesMembers(t *testing.T) {
	srv := newTestServer(t)
	a := srv.join(t, "42", 7)

	require.NoError(t, srv.hub.Shutdown(context.Background()))

	assert.Equal(t, websocket.CloseGoingAway, readCloseCode(t, a))
	assert.False(t, srv.hub.HasRoom("42"))
}

// closingRegistry closes every member as soon as it has joined, as a
// concurrent shutdown would.
type closingRegistry struct {
	*Hub
}

func (r closingRegistry) Join(roomID string, m Member) {
	r.Hub.Join(roomID, m)
	m.Close(websocket.CloseGoingAway, "shutdown")
}

func TestSession_ClosedWhileJoiningLeavesRoom(t *testing.T) {
	srv := newTestServerWithRegistry(t, func(h *Hub) Registry { return closingRegistry{h} })

	watcher := newFakeMember("watcher")
	srv.hub.Join("42", watcher)

	conn := srv.dial(t, "42", srv.token(t, 7))

	// The close frame comes first: no online event for a closed session.
	assert.Equal(t, websocket.CloseGoingAway, readCloseCode(t, conn))

	require.Eventually(t, func() bool {
		return srv.hub.MemberCount("42") == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := watcher.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "online_status", events[0]["type"])
	assert.Equal(t, "offline", events[0]["status"])

	srv.hub.Leave("42", watcher)
	assert.False(t, srv.hub.HasRoom("42"))
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	srv.join(t, "42", 7)

	// Grab the live session from the registry.
	srv.hub.mu.Lock()
	r := srv.hub.rooms["42"]
	srv.hub.mu.Unlock()
	require.NotNil(t, r)

	var client *Client
	r.mu.Lock()
	for _, m := range r.members {
		client = m.(*Client)
	}
	r.mu.Unlock()
	require.NotNil(t, client)
	assert.Equal(t, StateJoined, client.State())

	client.Close(websocket.CloseNormalClosure, "")
	client.Close(websocket.CloseNormalClosure, "")
	client.Close(websocket.CloseGoingAway, "")

	require.Eventually(t, func() bool {
		return client.State() == StateClosed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, srv.hub.MemberCount("42"))
	assert.ErrorIs(t, client.Enqueue([]byte(`{}`)), ErrStaleMember)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://chat.example/"})

	r := httptest.NewRequest("GET", "/ws/chat/1", nil)
	assert.True(t, check(r), "no origin header")

	r.Header.Set("Origin", "https://chat.example")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))

	assert.True(t, originChecker(nil)(r))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "joined", StateJoined.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
}
