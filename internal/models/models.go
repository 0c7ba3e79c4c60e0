package models

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrNotParticipant = errors.New("user is not a participant of this room")
	ErrEmptyMessage   = errors.New("message needs a body or an attachment")
	ErrMissingRoom    = errors.New("message missing room id")
)

// User represents a user in the system.
type User struct {
	ID          string   `json:"id"`
	UserName    string   `json:"userName"`
	DisplayName string   `json:"displayName"`
	Presence    Presence `json:"presence"`
}

// Presence represents the online status of a user.
// Transitions are driven by connection lifecycle only.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}

// Chat represents a chat conversation (a room in realtime terms).
// Participants is both the authorization list for joining the room
// and the fan-out list for notifications.
type Chat struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	IsGroup      bool     `json:"isGroup"`
	Participants []string `json:"participants"` // user IDs
	LastActivity int64    `json:"lastActivity"` // Unix timestamp of the latest message
	LastSeq      int64    `json:"lastSeq"`
}

// Message represents a persisted chat message. Immutable once stored.
type Message struct {
	ID         string      `json:"id"`
	Seq        int64       `json:"seq"`
	Timestamp  int64       `json:"timestamp"` // Unix timestamp (seconds)
	RoomID     string      `json:"roomId"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Body       string      `json:"body"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Mentions   []string    `json:"mentions,omitempty"` // user IDs resolved from @username tokens
}

// Attachment describes a file attached to a message. The content itself
// lives in the file store under FileID.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	FileID   string `json:"fileId"`
	Size     int64  `json:"size"`
}

// Notification is one unseen-ledger entry: the per-(user, room) record
// of unread count and latest preview. A user never has two entries for
// the same room; an upsert replaces the previous entry.
type Notification struct {
	RoomID     string `json:"roomId"`
	Preview    string `json:"message"`
	SenderName string `json:"senderName"`
	Count      int64  `json:"count"`
	UpdatedAt  int64  `json:"timestamp"`
}

// ClientFrame represents an event sent from the client to the server.
type ClientFrame struct {
	Type       ClientFrameType `json:"type"`
	RoomID     string          `json:"roomId,omitempty"`
	Body       string          `json:"body,omitempty"`
	Attachment *Attachment     `json:"attachment,omitempty"`
	Mentions   []string        `json:"mentions,omitempty"` // usernames; resolved server-side if absent
}

// ServerFrame represents an event pushed from the server to the client.
type ServerFrame struct {
	Type         ServerFrameType `json:"type"`
	Message      *Message        `json:"message,omitempty"`
	Notification *Notification   `json:"notification,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	Online       bool            `json:"online,omitempty"`
	Error        string          `json:"error,omitempty"`
}

type ClientFrameType string

const (
	ClientFrameJoin  ClientFrameType = "joinChat"
	ClientFrameLeave ClientFrameType = "leaveChat"
	ClientFrameSend  ClientFrameType = "sendMessage"
)

type ServerFrameType string

const (
	ServerFrameMessage      ServerFrameType = "chatMessage"
	ServerFrameNotification ServerFrameType = "notificationReceived"
	ServerFrameStatus       ServerFrameType = "userStatusUpdate"
	ServerFrameError        ServerFrameType = "sendMessageError"
)

// APIResponse is the generic envelope for admin API responses.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
