package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	UserName     string `msgpack:"userName"`
	DisplayName  string `msgpack:"displayName"`
	Online       bool   `msgpack:"online"`
	LastSeen     int64  `msgpack:"lastSeen"`
	PasswordHash string `msgpack:"passwordHash"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBChat struct {
	ID           string   `msgpack:"id"`
	Name         string   `msgpack:"name"`
	IsGroup      bool     `msgpack:"isGroup"`
	Participants []string `msgpack:"participants"`
	LastActivity int64    `msgpack:"lastActivity"`
	LastSeq      int64    `msgpack:"lastSeq"`
}

func (c *DBChat) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChat) MarshalBinary() (data []byte, err error) {
	type alias DBChat
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChat) UnmarshalBinary(data []byte) error {
	type alias DBChat
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	ID         string        `msgpack:"id"`
	Seq        int64         `msgpack:"seq"`
	Timestamp  int64         `msgpack:"timestamp"`
	RoomID     string        `msgpack:"roomId"`
	SenderID   string        `msgpack:"senderId"`
	SenderName string        `msgpack:"senderName"`
	Body       string        `msgpack:"body"`
	Attachment *DBAttachment `msgpack:"attachment,omitempty"`
	Mentions   []string      `msgpack:"mentions,omitempty"`
}

type DBAttachment struct {
	Name     string `msgpack:"name"`
	MimeType string `msgpack:"mimeType"`
	FileID   string `msgpack:"fileId"`
	Size     int64  `msgpack:"size"`
}

// Messages are keyed by sequence number so a bucket cursor walks them
// in persistence order.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBNotification is one unseen-ledger entry. Keyed by room ID inside a
// per-user bucket, so a Put for an existing room replaces the previous
// entry instead of adding a second one.
type DBNotification struct {
	RoomID     string `msgpack:"roomId"`
	Preview    string `msgpack:"preview"`
	SenderName string `msgpack:"senderName"`
	Count      int64  `msgpack:"count"`
	UpdatedAt  int64  `msgpack:"updatedAt"`
}

func (n *DBNotification) Key() []byte {
	return []byte(n.RoomID)
}

func (n *DBNotification) MarshalBinary() (data []byte, err error) {
	type alias DBNotification
	return msgpack.Marshal((*alias)(n))
}

func (n *DBNotification) UnmarshalBinary(data []byte) error {
	type alias DBNotification
	return msgpack.Unmarshal(data, (*alias)(n))
}
