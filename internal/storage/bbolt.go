package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketChats         = []byte("chats")
	bucketMessages      = []byte("messages")
	bucketNotifications = []byte("notifications")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketUsers, bucketChats, bucketMessages, bucketNotifications} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertUser stores a new or updated user record.
func (s *BboltStorage) UpsertUser(user models.User, passwordHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           user.ID,
			UserName:     user.UserName,
			DisplayName:  user.DisplayName,
			Online:       user.Presence.Online,
			LastSeen:     user.Presence.LastSeen,
			PasswordHash: passwordHash,
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = dbUser.toModel()
		return nil
	})
	return user, err
}

// GetUserByName scans the user bucket for a matching username.
func (s *BboltStorage) GetUserByName(username string) (models.User, string, error) {
	var (
		user models.User
		hash string
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbUser.UserName == username {
				user = dbUser.toModel()
				hash = dbUser.PasswordHash
				return nil
			}
		}
		return models.ErrNotFound
	})
	return user, hash, err
}

func (s *BboltStorage) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, dbUser.toModel())
			return nil
		})
	})
	return users, err
}

// SetPresence flips the online flag on a user record. The read-modify-write
// runs inside one update transaction, so concurrent presence updates for
// the same user serialize cleanly.
func (s *BboltStorage) SetPresence(userID string, online bool, lastSeen int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get([]byte(userID))
		if data == nil {
			return models.ErrNotFound
		}

		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		dbUser.Online = online
		dbUser.LastSeen = lastSeen

		updated, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), updated)
	})
}

// UpsertChat saves a chat record to the database.
func (s *BboltStorage) UpsertChat(chat models.Chat) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChats)
		dbChat := DBChat{
			ID:           chat.ID,
			Name:         chat.Name,
			IsGroup:      chat.IsGroup,
			Participants: chat.Participants,
			LastActivity: chat.LastActivity,
			LastSeq:      chat.LastSeq,
		}
		data, err := dbChat.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbChat.Key(), data)
	})
}

func (s *BboltStorage) GetChat(id string) (models.Chat, error) {
	var chat models.Chat
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChats).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbChat DBChat
		if err := dbChat.UnmarshalBinary(data); err != nil {
			return err
		}
		chat = dbChat.toModel()
		return nil
	})
	return chat, err
}

// ListChatsForUser returns all chats the user participates in.
func (s *BboltStorage) ListChatsForUser(userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChats)
		return b.ForEach(func(k, v []byte) error {
			var dbChat DBChat
			if err := dbChat.UnmarshalBinary(v); err != nil {
				return err
			}
			for _, p := range dbChat.Participants {
				if p == userID {
					chats = append(chats, dbChat.toModel())
					break
				}
			}
			return nil
		})
	})
	return chats, err
}

// AppendMessage assigns the next per-room sequence number to the message,
// stores it and bumps the chat's LastSeq and LastActivity, all in a single
// transaction. The returned message carries the assigned sequence.
func (s *BboltStorage) AppendMessage(message models.Message) (models.Message, error) {
	if message.RoomID == "" {
		return models.Message{}, models.ErrMissingRoom
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketChats)
		chatKey := []byte(message.RoomID)
		chatData := chatBucket.Get(chatKey)
		if chatData == nil {
			return fmt.Errorf("chat %s: %w", message.RoomID, models.ErrNotFound)
		}

		var dbChat DBChat
		if err := dbChat.UnmarshalBinary(chatData); err != nil {
			return fmt.Errorf("failed to unmarshal chat: %w", err)
		}

		dbChat.LastSeq++
		dbChat.LastActivity = message.Timestamp
		message.Seq = dbChat.LastSeq

		roomBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(message.RoomID))
		if err != nil {
			return fmt.Errorf("failed to create room bucket: %w", err)
		}

		dbMessage := DBMessage{
			ID:         message.ID,
			Seq:        message.Seq,
			Timestamp:  message.Timestamp,
			RoomID:     message.RoomID,
			SenderID:   message.SenderID,
			SenderName: message.SenderName,
			Body:       message.Body,
			Mentions:   message.Mentions,
		}
		if message.Attachment != nil {
			dbMessage.Attachment = &DBAttachment{
				Name:     message.Attachment.Name,
				MimeType: message.Attachment.MimeType,
				FileID:   message.Attachment.FileID,
				Size:     message.Attachment.Size,
			}
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := roomBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		chatUpdated, err := dbChat.MarshalBinary()
		if err != nil {
			return err
		}
		return chatBucket.Put(chatKey, chatUpdated)
	})
	if err != nil {
		return models.Message{}, err
	}

	return message, nil
}

// ListMessages returns messages for a room with sequence numbers in
// [from, to], in persistence order.
func (s *BboltStorage) ListMessages(roomID string, from, to int64) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
		if roomBucket == nil {
			return nil // No messages for this room
		}

		c := roomBucket.Cursor()

		minKey := make([]byte, 8)
		binary.BigEndian.PutUint64(minKey, uint64(from))

		maxKey := make([]byte, 8)
		binary.BigEndian.PutUint64(maxKey, uint64(to))

		for k, v := c.Seek(minKey); k != nil && bytes.Compare(k, maxKey) <= 0; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.toModel())
		}
		return nil
	})
	return messages, err
}

// IncrementUnseen upserts the unseen-ledger entry for (userID, roomID):
// count goes up by one, preview and sender are replaced. There is exactly
// one entry per room because entries are keyed by room ID inside the
// user's bucket, so the Put replaces any prior entry.
func (s *BboltStorage) IncrementUnseen(userID, roomID, preview, senderName string, ts int64) (models.Notification, error) {
	var entry models.Notification
	err := s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketNotifications).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return fmt.Errorf("failed to create user notification bucket: %w", err)
		}

		dbEntry := DBNotification{RoomID: roomID}
		if data := userBucket.Get([]byte(roomID)); data != nil {
			if err := dbEntry.UnmarshalBinary(data); err != nil {
				return err
			}
		}
		dbEntry.Count++
		dbEntry.Preview = preview
		dbEntry.SenderName = senderName
		dbEntry.UpdatedAt = ts

		data, err := dbEntry.MarshalBinary()
		if err != nil {
			return err
		}
		if err := userBucket.Put(dbEntry.Key(), data); err != nil {
			return err
		}

		entry = dbEntry.toModel()
		return nil
	})
	return entry, err
}

// ClearUnseen removes the ledger entry for (userID, roomID) entirely.
// Clearing a room with no entry is a no-op.
func (s *BboltStorage) ClearUnseen(userID, roomID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.Delete([]byte(roomID))
	})
}

// ListUnseen returns all unseen-ledger entries for a user.
func (s *BboltStorage) ListUnseen(userID string) ([]models.Notification, error) {
	var entries []models.Notification
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var dbEntry DBNotification
			if err := dbEntry.UnmarshalBinary(v); err != nil {
				return err
			}
			entries = append(entries, dbEntry.toModel())
			return nil
		})
	})
	return entries, err
}

func (u *DBUser) toModel() models.User {
	return models.User{
		ID:          u.ID,
		UserName:    u.UserName,
		DisplayName: u.DisplayName,
		Presence: models.Presence{
			Online:   u.Online,
			LastSeen: u.LastSeen,
		},
	}
}

func (c *DBChat) toModel() models.Chat {
	return models.Chat{
		ID:           c.ID,
		Name:         c.Name,
		IsGroup:      c.IsGroup,
		Participants: c.Participants,
		LastActivity: c.LastActivity,
		LastSeq:      c.LastSeq,
	}
}

func (m *DBMessage) toModel() models.Message {
	msg := models.Message{
		ID:         m.ID,
		Seq:        m.Seq,
		Timestamp:  m.Timestamp,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       m.Body,
		Mentions:   m.Mentions,
	}
	if m.Attachment != nil {
		msg.Attachment = &models.Attachment{
			Name:     m.Attachment.Name,
			MimeType: m.Attachment.MimeType,
			FileID:   m.Attachment.FileID,
			Size:     m.Attachment.Size,
		}
	}
	return msg
}

func (n *DBNotification) toModel() models.Notification {
	return models.Notification{
		RoomID:     n.RoomID,
		Preview:    n.Preview,
		SenderName: n.SenderName,
		Count:      n.Count,
		UpdatedAt:  n.UpdatedAt,
	}
}
