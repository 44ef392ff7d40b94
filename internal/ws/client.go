package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Options tunes a session's transport.
type Options struct {
	// Time allowed to write a message
	WriteWait time.Duration

	// Time allowed to read next pong message
	PongWait time.Duration

	// Send pings with this period (must be less than PongWait)
	PingPeriod time.Duration

	// Max message size
	MaxMessageSize int64

	// Outbound frames buffered per connection
	SendBuffer int
}

func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 512 * 1024,
		SendBuffer:     256,
	}
}

// Authenticator resolves a token to the user it was issued for.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// Client is the session owning one websocket connection. It authenticates
// the peer, joins one room and relays frames until the connection closes.
type Client struct {
	id     string
	conn   *websocket.Conn
	roomID string
	opts   Options

	auth     Authenticator
	registry Registry
	router   *Router
	presence *Presence
	logger   *slog.Logger

	// Set once by Serve before the write pump starts.
	user    *models.User
	summary models.UserSummary

	send    chan []byte
	done    chan struct{}
	state   atomicState
	joined  atomic.Bool
	pumping atomic.Bool

	// Orders the online announcement against teardown.
	lifecycle   sync.Mutex
	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newClient(conn *websocket.Conn, roomID string, h *Handler) *Client {
	id := uuid.NewString()
	c := &Client{
		id:       id,
		conn:     conn,
		roomID:   roomID,
		opts:     h.opts,
		auth:     h.auth,
		registry: h.registry,
		router:   h.router,
		presence: h.presence,
		logger:   h.logger.With("conn", id, "room", roomID),
		send:     make(chan []byte, h.opts.SendBuffer),
		done:     make(chan struct{}),
	}
	c.state.Store(StateConnecting)
	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) RoomID() string {
	return c.roomID
}

// User returns the authenticated user, nil before authentication.
func (c *Client) User() *models.User {
	return c.user
}

func (c *Client) State() State {
	return c.state.Load()
}

// Serve authenticates token, joins the room and runs the read loop on the
// calling goroutine. It returns once the session is closed.
func (c *Client) Serve(ctx context.Context, token string) {
	c.state.Store(StateAuthenticating)

	user, err := c.auth.Authenticate(ctx, token)
	if err != nil {
		code := auth.CloseCode(err)
		if code == websocket.CloseInternalServerErr {
			c.logger.Error("[CLIENT] Authentication failed", "error", err)
		} else {
			c.logger.Warn("[CLIENT] Authentication rejected", "code", code, "error", err)
		}
		c.Close(code, rejectReason(err))
		return
	}

	c.user = user
	c.summary = models.Summarize(user)
	c.logger = c.logger.With("user", user.ID)

	// Once the member is visible in the room anyone may close it, so the
	// flags Close relies on are set first. Leave tolerates absent members.
	c.joined.Store(true)
	c.pumping.Store(true)
	go c.writePump()

	c.registry.Join(c.roomID, c)

	if !c.announceOnline(ctx) {
		c.logger.Info("[CLIENT] Session closed while joining")
		return
	}

	c.readPump(ctx)
}

// announceOnline moves the session to Joined and broadcasts it as online,
// unless it was closed in the meantime. Close waits for the announcement so
// offline never precedes online.
func (c *Client) announceOnline(ctx context.Context) bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	select {
	case <-c.done:
		return false
	default:
	}

	if !c.state.CompareAndSwap(StateAuthenticating, StateJoined) {
		return false
	}
	c.logger.Info("[CLIENT] Session joined")

	if err := c.presence.Notify(ctx, c.roomID, c.summary, models.StatusOnline, nil); err != nil {
		c.logger.Error("[CLIENT] Failed to announce presence", "status", models.StatusOnline, "error", err)
	}
	return true
}

// Enqueue implements Member.
func (c *Client) Enqueue(payload []byte) error {
	select {
	case <-c.done:
		return ErrStaleMember
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		go c.Close(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close tears the session down. It is safe to call from any goroutine and
// any number of times; only the first call has an effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.lifecycle.Lock()
		defer c.lifecycle.Unlock()

		c.state.Store(StateClosing)

		if c.joined.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteWait)
			if err := c.presence.Notify(ctx, c.roomID, c.summary, models.StatusOffline, c); err != nil {
				c.logger.Error("[CLIENT] Failed to announce presence", "status", models.StatusOffline, "error", err)
			}
			cancel()
			c.registry.Leave(c.roomID, c)
		}

		c.closeCode, c.closeReason = code, reason
		close(c.done)

		// Without a write pump nobody else will close the transport.
		if !c.pumping.Load() {
			c.writeClose()
			c.conn.Close()
			c.state.Store(StateClosed)
		}

		c.logger.Info("[CLIENT] Session closed", "code", code, "reason", reason)
	})
}

// readPump pumps frames from the websocket to the router.
func (c *Client) readPump(ctx context.Context) {
	defer c.Close(websocket.CloseNormalClosure, "")

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("[CLIENT] Unexpected close", "error", err)
			}
			return
		}

		c.router.Dispatch(ctx, c, frame)
	}
}

// writePump pumps frames from the send buffer to the websocket.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.state.Store(StateClosed)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Error("[CLIENT] Failed to get writer", "error", err)
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				c.logger.Error("[CLIENT] Failed to close writer", "error", err)
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("[CLIENT] Failed to send ping", "error", err)
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}

		case <-c.done:
			c.writeClose()
			return
		}
	}
}

func (c *Client) writeClose() {
	// 1006 is reserved for a transport that is already gone.
	if c.closeCode == websocket.CloseAbnormalClosure {
		return
	}
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("[CLIENT] Failed to send close frame", "error", err)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return auth.ErrExpiredToken.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return auth.ErrInvalidToken.Error()
	case errors.Is(err, auth.ErrMissingToken):
		return auth.ErrMissingToken.Error()
	case errors.Is(err, auth.ErrUnknownUser):
		return auth.ErrUnknownUser.Error()
	default:
		return "internal error"
	}
}
