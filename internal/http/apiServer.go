package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/api"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/auth"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/filestore"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/storage"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(authService *auth.AuthService, hub *ws.Hub, files filestore.FileStore, store *storage.BboltStorage, addr string) *APIServer {
	server := ws.NewServer(authService, hub)
	apiHandlers := api.New(authService, store, files)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))
	mux.HandleFunc("GET /api/users", apiHandlers.RequireAuth(apiHandlers.UsersHandler))
	mux.HandleFunc("GET /api/chats", apiHandlers.RequireAuth(apiHandlers.ChatsHandler))
	mux.HandleFunc("GET /api/chats/{id}/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/chats/{id}/read", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.MarkReadHandler)))
	mux.HandleFunc("POST /api/upload", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UploadFileHandler)))
	mux.HandleFunc("GET /api/files/{id}", apiHandlers.RequireAuth(apiHandlers.GetFileHandler))

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", server.HandleConnections)

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
