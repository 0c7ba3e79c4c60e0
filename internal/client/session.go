package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/content"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/models"

	"github.com/gorilla/websocket"
)

const (
	DefaultMaxRetries  = 5
	DefaultBaseBackoff = 500 * time.Millisecond

	// Delivery is at-least-once, so remember recently seen message ids.
	maxSeenMessages = 4096
)

var ErrNotConnected = errors.New("session is not connected")

// ChatPreview is the client-side chat-list entry: latest preview text and
// the unread badge for a room the user is not currently viewing.
type ChatPreview struct {
	RoomID     string
	Preview    string
	SenderName string
	Unread     int64
	UpdatedAt  int64
}

type Config struct {
	URL         string // websocket endpoint
	Token       string
	MaxRetries  int
	BaseBackoff time.Duration
	Dialer      *websocket.Dialer
}

func (c *Config) defaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Session maintains one physical connection to the server, reconnecting
// with bounded backoff when it drops. Listener registration does not
// survive a reconnect, so every (re)connect restarts the read loop and
// re-joins the active room.
type Session struct {
	cfg Config

	onMessage      func(models.Message)
	onNotification func(models.Notification)
	onStatus       func(userID string, online bool)
	onSendError    func(string)

	mu         sync.Mutex
	conn       *websocket.Conn
	activeRoom string
	transcript []models.Message
	chats      map[string]*ChatPreview
	seen       map[string]struct{}
	seenOrder  []string
}

func NewSession(cfg Config) *Session {
	cfg.defaults()
	return &Session{
		cfg:   cfg,
		chats: make(map[string]*ChatPreview),
		seen:  make(map[string]struct{}),
	}
}

// OnMessage registers the handler for messages in the active room.
func (s *Session) OnMessage(fn func(models.Message)) { s.onMessage = fn }

// OnNotification registers the handler for unread-badge pushes.
func (s *Session) OnNotification(fn func(models.Notification)) { s.onNotification = fn }

// OnStatus registers the handler for presence changes.
func (s *Session) OnStatus(fn func(userID string, online bool)) { s.onStatus = fn }

// OnSendError registers the handler for compose failures. The error is
// retryable; the server persisted nothing.
func (s *Session) OnSendError(fn func(string)) { s.onSendError = fn }

// Run connects and processes server frames until the context is done or
// the retry budget is exhausted. Handlers must be registered before Run.
func (s *Session) Run(ctx context.Context) error {
	attempts := 0
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			attempts++
			if attempts >= s.cfg.MaxRetries {
				return fmt.Errorf("connect failed after %d attempts: %w", attempts, err)
			}
			backoff := s.cfg.BaseBackoff << (attempts - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		attempts = 0

		s.mu.Lock()
		s.conn = conn
		room := s.activeRoom
		s.mu.Unlock()

		// Room membership is connection-scoped; rejoin after reconnect.
		if room != "" {
			if err := s.write(models.ClientFrame{Type: models.ClientFrameJoin, RoomID: room}); err != nil {
				_ = conn.Close()
				continue
			}
		}

		err = s.readLoop(ctx, conn)
		_ = conn.Close()

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		if ctx.Err() != nil {
			return nil
		}
		_ = err // transport drop; reconnect
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.Token)
	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", s.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	return conn, nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var frame models.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		s.handleFrame(frame)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Session) handleFrame(frame models.ServerFrame) {
	switch frame.Type {
	case models.ServerFrameMessage:
		if frame.Message != nil {
			s.handleMessage(*frame.Message)
		}
	case models.ServerFrameNotification:
		if frame.Notification != nil {
			s.handleNotification(*frame.Notification)
		}
	case models.ServerFrameStatus:
		if s.onStatus != nil {
			s.onStatus(frame.UserID, frame.Online)
		}
	case models.ServerFrameError:
		if s.onSendError != nil {
			s.onSendError(frame.Error)
		}
	}
}

func (s *Session) handleMessage(msg models.Message) {
	s.mu.Lock()

	if _, dup := s.seen[msg.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.remember(msg.ID)

	roomID := content.NormalizeRoomID(msg.RoomID)
	active := roomID == s.activeRoom

	preview := msg.Body
	if preview == "" && msg.Attachment != nil {
		preview = msg.Attachment.Name
	}
	entry := s.chat(roomID)
	entry.Preview = preview
	entry.SenderName = msg.SenderName
	entry.UpdatedAt = msg.Timestamp
	if active {
		s.transcript = append(s.transcript, msg)
	} else {
		entry.Unread++
	}
	s.mu.Unlock()

	if active && s.onMessage != nil {
		s.onMessage(msg)
	}
}

func (s *Session) handleNotification(n models.Notification) {
	s.mu.Lock()
	entry := s.chat(content.NormalizeRoomID(n.RoomID))
	// The ledger entry is authoritative for the badge count.
	entry.Preview = n.Preview
	entry.SenderName = n.SenderName
	entry.Unread = n.Count
	entry.UpdatedAt = n.UpdatedAt
	s.mu.Unlock()

	if s.onNotification != nil {
		s.onNotification(n)
	}
}

// remember records a message id for dedup, evicting the oldest once the
// set reaches its bound.
func (s *Session) remember(id string) {
	s.seen[id] = struct{}{}
	s.seenOrder = append(s.seenOrder, id)
	if len(s.seenOrder) > maxSeenMessages {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
}

// chat returns the preview entry for a room, creating it if needed.
// Callers hold s.mu.
func (s *Session) chat(roomID string) *ChatPreview {
	entry, ok := s.chats[roomID]
	if !ok {
		entry = &ChatPreview{RoomID: roomID}
		s.chats[roomID] = entry
	}
	return entry
}

// SetActiveRoom switches the open chat: leaves the previous room, joins
// the new one and resets the visible transcript. The unread badge for
// the newly opened room is cleared locally; the caller is expected to
// mark the room read server-side as well.
func (s *Session) SetActiveRoom(roomID string) error {
	roomID = content.NormalizeRoomID(roomID)

	s.mu.Lock()
	previous := s.activeRoom
	s.activeRoom = roomID
	s.transcript = nil
	if entry, ok := s.chats[roomID]; ok {
		entry.Unread = 0
	}
	s.mu.Unlock()

	if previous != "" && previous != roomID {
		if err := s.write(models.ClientFrame{Type: models.ClientFrameLeave, RoomID: previous}); err != nil {
			return err
		}
	}
	if roomID == "" {
		return nil
	}
	return s.write(models.ClientFrame{Type: models.ClientFrameJoin, RoomID: roomID})
}

// Send composes a message into a room.
func (s *Session) Send(roomID, body string, attachment *models.Attachment, mentions []string) error {
	return s.write(models.ClientFrame{
		Type:       models.ClientFrameSend,
		RoomID:     content.NormalizeRoomID(roomID),
		Body:       body,
		Attachment: attachment,
		Mentions:   mentions,
	})
}

func (s *Session) write(frame models.ClientFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteJSON(frame)
}

// ActiveRoom returns the normalized id of the currently open chat.
func (s *Session) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoom
}

// Transcript returns the messages of the active room received since it
// was opened.
func (s *Session) Transcript() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Chats returns the chat-list entries ordered by recency, newest first.
func (s *Session) Chats() []ChatPreview {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ChatPreview, 0, len(s.chats))
	for _, entry := range s.chats {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out
}
