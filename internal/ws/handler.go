package ws

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"chat-relay/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// RoomParam is the route parameter holding the conversation id.
const RoomParam = "conversationID"

// Handler upgrades requests to websocket sessions. Mount it on a chi route
// containing {conversationID}.
type Handler struct {
	auth     Authenticator
	registry Registry
	router   *Router
	presence *Presence
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(authenticator Authenticator, registry Registry, router *Router, presence *Presence, opts Options, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		auth:     authenticator,
		registry: registry,
		router:   router,
		presence: presence,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	roomID := chi.URLParam(r, RoomParam)
	if roomID == "" {
		h.logger.Warn("[WS] No conversation id in path", "from", remoteAddr)
		http.Error(w, "conversation id required", http.StatusBadRequest)
		return
	}

	token := auth.ExtractToken(r)

	// Authentication happens after the upgrade so failures can be reported
	// with a close code.
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("[WS] Failed to upgrade connection", "room", roomID, "from", remoteAddr, "error", err)
		return
	}

	client := newClient(conn, roomID, h)
	h.logger.Debug("[WS] Connection upgraded", "conn", client.ID(), "room", roomID, "from", remoteAddr)

	client.Serve(r.Context(), token)
}

// originChecker allows any origin when allowed is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
