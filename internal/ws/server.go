package ws

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/auth"

	"github.com/gorilla/websocket"
)

type Server struct {
	auth     *auth.AuthService
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(auth *auth.AuthService, hub *Hub) *Server {
	return &Server{
		auth: auth,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
	}
}

// HandleConnections authenticates the handshake and runs the connection
// until it drops. A missing or invalid token refuses the upgrade; no
// unauthenticated connection is ever accepted.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.VerifyToken(handshakeToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(s.hub, ws, identity)
	if err := conn.Handle(r.Context()); err != nil {
		slog.Info("connection closed", "user_id", identity.UserID, "error", err)
	}
}

// sameOrigin refuses browser handshakes from a foreign origin. The
// token cookie would otherwise ride along on a cross-site upgrade.
// Non-browser clients send no Origin header and are let through.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// handshakeToken extracts the bearer credential from the upgrade request:
// Authorization header first, then the token query parameter, then the
// token cookie.
func handshakeToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}
