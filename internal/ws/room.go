package ws

import (
	"sync"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/models"
)

// room is the delivery set for one chat: the sessions currently joined.
// Its mutex is held across persist + fan-out so that messages reach all
// members in the order persistence serialized them.
type room struct {
	id      string
	mu      sync.Mutex
	members map[*Session]struct{}
}

func newRoom(id string) *room {
	return &room{
		id:      id,
		members: make(map[*Session]struct{}),
	}
}

// join adds the session to the delivery set. Joining twice has no
// additional effect.
func (r *room) join(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[s] = struct{}{}
}

// leave removes the session and reports whether the delivery set is now
// empty, so the hub can prune the room. Leaving a room never joined is a
// no-op.
func (r *room) leave(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, s)
	return len(r.members) == 0
}

// deliver runs persist under the room lock and, if it succeeds, fans the
// stored message out to every joined session, the sender's own included.
// It returns the set of user IDs that had a session joined at delivery
// time, which the caller uses as the "actively viewing" set.
func (r *room) deliver(persist func() (models.Message, error)) (models.Message, map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := persist()
	if err != nil {
		return models.Message{}, nil, err
	}

	frame := models.ServerFrame{
		Type:    models.ServerFrameMessage,
		Message: &stored,
	}
	viewing := make(map[string]bool, len(r.members))
	for s := range r.members {
		s.push(frame)
		viewing[s.userID] = true
	}

	return stored, viewing, nil
}
