package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/auth"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/content"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/filestore"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/models"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/storage"

	"github.com/h2non/filetype"
)

const maxUploadSize = 20 << 20 // 20 MiB

type API struct {
	auth  *auth.AuthService
	store *storage.BboltStorage
	files filestore.FileStore
}

func New(auth *auth.AuthService, store *storage.BboltStorage, files filestore.FileStore) *API {
	return &API{auth: auth, store: store, files: files}
}

type identityKey struct{}

// RequireAuth verifies the bearer credential and stashes the caller's
// identity in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.auth.VerifyToken(requestToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	}
}

func callerIdentity(r *http.Request) auth.Identity {
	identity, _ := r.Context().Value(identityKey{}).(auth.Identity)
	return identity
}

func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

// RequireSameOrigin rejects cross-origin state-changing requests.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = r.Header.Get("Referer")
		}
		if origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, user, err := a.auth.Login(req.Username, req.Password)
	if err != nil {
		http.Error(w, "Login failed", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Now().Add(a.auth.TokenExpiry),
	})

	writeJSON(w, struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}{Token: token, User: user})
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	identity := callerIdentity(r)
	user, err := a.store.GetUser(identity.UserID)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	writeJSON(w, user)
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers()
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, users)
}

type chatListEntry struct {
	models.Chat
	Unread  int64  `json:"unread"`
	Preview string `json:"preview,omitempty"`
}

// ChatsHandler returns the caller's chats with their unseen-ledger badge
// counts merged in, ordered by recency.
func (a *API) ChatsHandler(w http.ResponseWriter, r *http.Request) {
	identity := callerIdentity(r)

	chats, err := a.store.ListChatsForUser(identity.UserID)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	unseen, err := a.store.ListUnseen(identity.UserID)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	byRoom := make(map[string]models.Notification, len(unseen))
	for _, entry := range unseen {
		byRoom[entry.RoomID] = entry
	}

	result := make([]chatListEntry, 0, len(chats))
	for _, chat := range chats {
		entry := chatListEntry{Chat: chat}
		if n, ok := byRoom[chat.ID]; ok {
			entry.Unread = n.Count
			entry.Preview = n.Preview
		}
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivity > result[j].LastActivity
	})

	writeJSON(w, result)
}

// MessagesHandler backfills a room's messages by sequence range.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	identity := callerIdentity(r)
	roomID := content.NormalizeRoomID(r.PathValue("id"))

	chat, err := a.store.GetChat(roomID)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if !hasParticipant(chat, identity.UserID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	from := queryInt(r, "from", 1)
	to := queryInt(r, "to", chat.LastSeq)

	messages, err := a.store.ListMessages(roomID, from, to)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, messages)
}

// MarkReadHandler removes the caller's unseen-ledger entry for the room.
func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	identity := callerIdentity(r)
	roomID := content.NormalizeRoomID(r.PathValue("id"))

	if err := a.store.ClearUnseen(identity.UserID, roomID); err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, models.APIResponse{Success: true})
}

// UploadFileHandler stores an attachment and returns its descriptor for
// a subsequent sendMessage.
func (a *API) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	// Sniff the real content type from the first bytes.
	head := make([]byte, 261)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}
	head = head[:n]

	mimeType := "application/octet-stream"
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		mimeType = kind.MIME.Value
	}

	fileID, err := a.files.Save(io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		slog.Error("attachment save failed", "name", header.Filename, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, models.Attachment{
		Name:     header.Filename,
		MimeType: mimeType,
		FileID:   fileID,
		Size:     header.Size,
	})
}

func (a *API) GetFileHandler(w http.ResponseWriter, r *http.Request) {
	f, err := a.files.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(w, f); err != nil {
		slog.Error("file download failed", "file_id", r.PathValue("id"), "error", err)
	}
}

func hasParticipant(chat models.Chat, userID string) bool {
	for _, p := range chat.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

func queryInt(r *http.Request, key string, fallback int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
