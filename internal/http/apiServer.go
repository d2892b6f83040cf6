package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"echohub/internal/api"
	"echohub/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, wsServer *ws.Server, addr string) *APIServer {
	mux := http.NewServeMux()

	// Auth
	mux.HandleFunc("POST /api/auth/signup", api.RequireSameOrigin(apiHandlers.SignupHandler))
	mux.HandleFunc("POST /api/auth/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/auth/logout", api.RequireSameOrigin(apiHandlers.LogoutHandler))
	mux.HandleFunc("GET /api/auth/check", apiHandlers.RequireAuth(apiHandlers.CheckHandler))
	mux.HandleFunc("PUT /api/auth/update-profile", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UpdateProfileHandler)))

	// Messages
	mux.HandleFunc("GET /api/messages/users", apiHandlers.RequireAuth(apiHandlers.UsersHandler))
	mux.HandleFunc("GET /api/messages/{id}", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/messages/send/{id}", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SendMessageHandler)))

	// Images
	mux.HandleFunc("GET /api/images/{id}", apiHandlers.GetImageHandler)

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
