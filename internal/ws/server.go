package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

type identityService interface {
	GetUserID(token string) (string, error)
}

// Server upgrades inbound realtime connections. The handshake is
// authenticated: the session token is resolved to a user ID through the
// identity service before any registry write, the same validation path the
// REST layer uses. There is no client-supplied user ID to trust.
type Server struct {
	auth     identityService
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(auth identityService, hub *Hub) *Server {
	return &Server{
		auth: auth,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}

	userID, err := s.auth.GetUserID(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	c := NewConnection(s.hub, conn, userID)
	if err := c.Handle(r.Context()); err != nil {
		log.Printf("connection for user %s closed: %v", userID, err)
	}
}
