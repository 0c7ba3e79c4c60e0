package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/auth"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/content"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/models"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/storage"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/ws"

	"github.com/google/uuid"
)

// AdminHandler serves the provisioning API bound to the admin listener.
type AdminHandler struct {
	authService *auth.AuthService
	hub         *ws.Hub
	store       *storage.BboltStorage
}

func NewAdminHandler(authService *auth.AuthService, hub *ws.Hub, store *storage.BboltStorage) *AdminHandler {
	return &AdminHandler{authService: authService, hub: hub, store: store}
}

type AddUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Username string `json:"username,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Password string `json:"password,omitempty"`
}

// AddUserHandler creates a user with a generated initial password, which
// is returned once and never stored in the clear.
func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	password, err := generatePassword()
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	user, err := h.authService.AddUser(req.Username, req.DisplayName, password)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrUserExists) {
			status = http.StatusConflict
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(AddUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	writeJSON(w, AddUserResponse{
		Success:  true,
		Username: user.UserName,
		UserID:   user.ID,
		Password: password,
	})
}

type AddChatRequest struct {
	Name         string   `json:"name"`
	IsGroup      bool     `json:"isGroup"`
	Participants []string `json:"participants"` // user IDs
}

type AddChatResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

// AddChatHandler creates a chat with the given participant list. The
// participant list is what authorizes joins and drives notification
// fan-out.
func (h *AdminHandler) AddChatHandler(w http.ResponseWriter, r *http.Request) {
	var req AddChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Participants) < 2 {
		http.Error(w, "A chat needs at least two participants", http.StatusBadRequest)
		return
	}

	for _, userID := range req.Participants {
		if _, err := h.store.GetUser(userID); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(AddChatResponse{
				Success: false,
				Message: fmt.Sprintf("Unknown participant %s", userID),
			})
			return
		}
	}

	chat := models.Chat{
		ID:           content.NormalizeRoomID(uuid.NewString()),
		Name:         content.Sanitize(req.Name),
		IsGroup:      req.IsGroup,
		Participants: req.Participants,
	}
	if err := h.store.UpsertChat(chat); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(AddChatResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create chat: %v", err),
		})
		return
	}

	writeJSON(w, AddChatResponse{Success: true, ChatID: chat.ID})
}

// DisconnectUserHandler force-closes all live connections of a user.
func (h *AdminHandler) DisconnectUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	h.hub.DisconnectUser(userID)

	writeJSON(w, models.APIResponse{
		Success: true,
		Message: fmt.Sprintf("User %s disconnected", userID),
	})
}

func generatePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
