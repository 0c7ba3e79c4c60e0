package ws

import (
	"sync"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/models"
)

const sessionBufferSize = 64

// Session is one live, authenticated connection of a user. A user with
// several tabs open has several sessions.
type Session struct {
	userID      string
	username    string
	displayName string
	ch          chan models.ServerFrame

	mu     sync.Mutex
	closed bool
}

// push queues a frame for delivery without blocking the caller. A frame
// for a session whose buffer is full is dropped; the durable ledger is
// the source of truth for anything the client must not miss.
func (s *Session) push(frame models.ServerFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Directory tracks the live sessions of every user and supports pushing
// a frame to all of a user's connections, wherever they are. Backed by
// an in-memory map here; a multi-process deployment would back it with
// a pub/sub fan-out instead.
type Directory interface {
	Add(s *Session)
	// Remove reports whether this was the user's last live session.
	Remove(s *Session) bool
	// Push delivers a frame to every live session of the user, best-effort.
	Push(userID string, frame models.ServerFrame)
	// Broadcast delivers a frame to every live session, best-effort.
	Broadcast(frame models.ServerFrame)
}

type MemoryDirectory struct {
	mu     sync.RWMutex
	byUser map[string]map[*Session]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byUser: make(map[string]map[*Session]struct{}),
	}
}

func (d *MemoryDirectory) Add(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sessions, ok := d.byUser[s.userID]
	if !ok {
		sessions = make(map[*Session]struct{})
		d.byUser[s.userID] = sessions
	}
	sessions[s] = struct{}{}
}

func (d *MemoryDirectory) Remove(s *Session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	sessions, ok := d.byUser[s.userID]
	if !ok {
		return false
	}
	if _, present := sessions[s]; !present {
		return false
	}
	delete(sessions, s)
	if len(sessions) == 0 {
		delete(d.byUser, s.userID)
		return true
	}
	return false
}

func (d *MemoryDirectory) Push(userID string, frame models.ServerFrame) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for s := range d.byUser[userID] {
		s.push(frame)
	}
}

func (d *MemoryDirectory) Broadcast(frame models.ServerFrame) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, sessions := range d.byUser {
		for s := range sessions {
			s.push(frame)
		}
	}
}
