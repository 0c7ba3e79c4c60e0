package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/auth"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/content"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

// Participant lists change rarely; cache chat records briefly so the
// send path does not hit storage for every message.
const chatCacheTTL = 10 * time.Second

// Store is the persistence the hub depends on: chat-record lookup,
// ordered message insert, presence update and the unseen ledger.
type Store interface {
	GetChat(id string) (models.Chat, error)
	GetUser(id string) (models.User, error)
	AppendMessage(message models.Message) (models.Message, error)
	IncrementUnseen(userID, roomID, preview, senderName string, ts int64) (models.Notification, error)
	SetPresence(userID string, online bool, lastSeen int64) error
}

// Hub is the message dispatcher: it owns the room delivery sets, runs
// the ingest/persist/broadcast pipeline and keeps the unseen ledger up
// to date. Constructed once in main and passed to whatever needs to
// emit; there is no package-level instance.
type Hub struct {
	store Store
	dir   Directory

	chatCache geche.Geche[string, models.Chat]

	// roomID -> room delivery set, created on first join and pruned when
	// the last member leaves; joined is the inverse index per session.
	rooms  map[string]*room
	joined map[*Session]map[string]*room
	mu     sync.RWMutex

	now func() time.Time
}

func NewHub(ctx context.Context, store Store, dir Directory) *Hub {
	return &Hub{
		store:     store,
		dir:       dir,
		chatCache: geche.NewMapTTLCache[string, models.Chat](ctx, chatCacheTTL, time.Minute),
		rooms:     make(map[string]*room),
		joined:    make(map[*Session]map[string]*room),
		now:       time.Now,
	}
}

// Connect registers a live session for an authenticated identity and
// flips the user's presence to online. The presence write and status
// broadcast run asynchronously; their failure never affects delivery.
func (h *Hub) Connect(id auth.Identity) *Session {
	s := &Session{
		userID:      id.UserID,
		username:    id.Username,
		displayName: id.Username,
		ch:          make(chan models.ServerFrame, sessionBufferSize),
	}
	if user, err := h.store.GetUser(id.UserID); err == nil && user.DisplayName != "" {
		s.displayName = user.DisplayName
	}

	h.mu.Lock()
	h.joined[s] = make(map[string]*room)
	h.mu.Unlock()

	h.dir.Add(s)

	go h.announcePresence(s.userID, true)

	return s
}

// Disconnect removes the session from every room it joined and, if it
// was the user's last live session, flips presence to offline.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	for roomID, r := range h.joined[s] {
		if r.leave(s) {
			delete(h.rooms, roomID)
		}
	}
	delete(h.joined, s)
	h.mu.Unlock()

	last := h.dir.Remove(s)
	s.close()

	if last {
		go h.announcePresence(s.userID, false)
	}
}

func (h *Hub) announcePresence(userID string, online bool) {
	if err := h.store.SetPresence(userID, online, h.now().Unix()); err != nil {
		slog.Error("presence update failed", "user_id", userID, "online", online, "error", err)
	}
	h.dir.Broadcast(models.ServerFrame{
		Type:   models.ServerFrameStatus,
		UserID: userID,
		Online: online,
	})
}

// Join adds the session to a room's delivery set after checking the
// caller is a participant of the chat. Idempotent.
func (h *Hub) Join(s *Session, roomID string) error {
	roomID = content.NormalizeRoomID(roomID)
	if roomID == "" {
		return models.ErrMissingRoom
	}

	chat, err := h.chatFor(roomID)
	if err != nil {
		return fmt.Errorf("room %s: %w", roomID, err)
	}
	if !isParticipant(chat, s.userID) {
		return models.ErrNotParticipant
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// The session may have been disconnected while this join was in
	// flight; adding it now would leave a dead member in the room that
	// counts as viewing forever.
	sessionRooms, tracked := h.joined[s]
	if !tracked {
		return nil
	}

	r, ok := h.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		h.rooms[roomID] = r
	}
	sessionRooms[roomID] = r
	r.join(s)

	return nil
}

// Leave removes the session from the room's delivery set and prunes the
// room once its last member is gone. Leaving a room never joined is a
// no-op.
func (h *Hub) Leave(s *Session, roomID string) {
	roomID = content.NormalizeRoomID(roomID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionRooms, joined := h.joined[s]; joined {
		delete(sessionRooms, roomID)
	}
	if r, ok := h.rooms[roomID]; ok && r.leave(s) {
		delete(h.rooms, roomID)
	}
}

// Send runs the full compose pipeline: validate, resolve mentions,
// sanitize, persist, fan out to the room and update the unseen ledger
// for participants not viewing it. A returned error means nothing was
// persisted or broadcast; the caller reports it to the sender only.
func (h *Hub) Send(s *Session, frame models.ClientFrame) error {
	roomID := content.NormalizeRoomID(frame.RoomID)
	if roomID == "" {
		return models.ErrMissingRoom
	}
	if frame.Body == "" && frame.Attachment == nil {
		return models.ErrEmptyMessage
	}

	chat, err := h.chatFor(roomID)
	if err != nil {
		return fmt.Errorf("room %s: %w", roomID, err)
	}
	if !isParticipant(chat, s.userID) {
		return models.ErrNotParticipant
	}

	body := content.Sanitize(frame.Body)

	// Sender identity comes from the session, never from the frame.
	msg := models.Message{
		ID:         uuid.NewString(),
		Timestamp:  h.now().Unix(),
		RoomID:     roomID,
		SenderID:   s.userID,
		SenderName: s.displayName,
		Body:       body,
		Attachment: frame.Attachment,
		Mentions:   h.resolveMentions(chat, frame.Mentions, body),
	}

	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()

	var (
		stored  models.Message
		viewing map[string]bool
	)
	if r != nil {
		stored, viewing, err = r.deliver(func() (models.Message, error) {
			return h.store.AppendMessage(msg)
		})
	} else {
		// Nobody has the room open; persist and go straight to the ledger.
		stored, err = h.store.AppendMessage(msg)
	}
	if err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	h.notify(chat, stored, viewing)

	return nil
}

// notify upserts the unseen-ledger entry for every participant who was
// neither the sender nor viewing the room, and pushes the new entry to
// all their live connections. Partial failures are logged and skipped;
// the ledger heals such clients on their next reconnect.
func (h *Hub) notify(chat models.Chat, stored models.Message, viewing map[string]bool) {
	preview := stored.Body
	if preview == "" && stored.Attachment != nil {
		preview = stored.Attachment.Name
	}

	for _, participant := range chat.Participants {
		if participant == stored.SenderID || viewing[participant] {
			continue
		}

		entry, err := h.store.IncrementUnseen(participant, stored.RoomID, preview, stored.SenderName, stored.Timestamp)
		if err != nil {
			slog.Error("unseen ledger upsert failed",
				"user_id", participant, "room_id", stored.RoomID, "error", err)
			continue
		}

		h.dir.Push(participant, models.ServerFrame{
			Type:         models.ServerFrameNotification,
			Notification: &entry,
		})
	}
}

// resolveMentions maps @username tokens to user IDs, considering only the
// room's participants. Mentions of users outside the room are dropped.
func (h *Hub) resolveMentions(chat models.Chat, supplied []string, body string) []string {
	names := supplied
	if len(names) == 0 {
		names = content.ExtractMentions(body)
	}
	if len(names) == 0 {
		return nil
	}

	byName := make(map[string]string, len(chat.Participants))
	for _, pid := range chat.Participants {
		user, err := h.store.GetUser(pid)
		if err != nil {
			continue
		}
		byName[user.UserName] = user.ID
	}

	var ids []string
	for _, name := range names {
		if id, ok := byName[name]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (h *Hub) chatFor(roomID string) (models.Chat, error) {
	if chat, err := h.chatCache.Get(roomID); err == nil {
		return chat, nil
	}
	chat, err := h.store.GetChat(roomID)
	if err != nil {
		return models.Chat{}, err
	}
	h.chatCache.Set(roomID, chat)
	return chat, nil
}

// DisconnectUser force-closes every live session of a user, e.g. after
// an admin deletes the account.
func (h *Hub) DisconnectUser(userID string) {
	h.mu.RLock()
	var sessions []*Session
	for s := range h.joined {
		if s.userID == userID {
			sessions = append(sessions, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		h.Disconnect(s)
	}
}

func isParticipant(chat models.Chat, userID string) bool {
	for _, p := range chat.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
