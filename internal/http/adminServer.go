package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/api"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/auth"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/storage"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/ws"
)

// AdminServer binds the provisioning API to a separate, usually
// loopback-only, listener.
type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(authService *auth.AuthService, hub *ws.Hub, store *storage.BboltStorage, addr string) *AdminServer {
	adminHandler := api.NewAdminHandler(authService, hub, store)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", adminHandler.AddUserHandler)
	mux.HandleFunc("POST /admin/chats", adminHandler.AddChatHandler)
	mux.HandleFunc("POST /admin/users/disconnect", adminHandler.DisconnectUserHandler)

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Start() error {
	log.Printf("Admin API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
