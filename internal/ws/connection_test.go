package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/auth"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/models"
)

type mockWS struct {
	readCh      chan models.ClientFrame
	writeCh     chan any
	closeCh     chan struct{}
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientFrame, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case frame, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientFrame); ok {
			*ptr = frame
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockConnHub struct {
	joinCh    chan string
	leaveCh   chan string
	sendCh    chan models.ClientFrame
	joinErr   error
	sendErr   error
	session   *Session
	disconnCh chan struct{}
}

func newMockConnHub() *mockConnHub {
	return &mockConnHub{
		joinCh:    make(chan string, 10),
		leaveCh:   make(chan string, 10),
		sendCh:    make(chan models.ClientFrame, 10),
		disconnCh: make(chan struct{}, 1),
	}
}

func (m *mockConnHub) Connect(id auth.Identity) *Session {
	m.session = &Session{
		userID:   id.UserID,
		username: id.Username,
		ch:       make(chan models.ServerFrame, 10),
	}
	return m.session
}

func (m *mockConnHub) Disconnect(s *Session) {
	s.close()
	m.disconnCh <- struct{}{}
}

func (m *mockConnHub) Join(s *Session, roomID string) error {
	if m.joinErr != nil {
		return m.joinErr
	}
	m.joinCh <- roomID
	return nil
}

func (m *mockConnHub) Leave(s *Session, roomID string) {
	m.leaveCh <- roomID
}

func (m *mockConnHub) Send(s *Session, frame models.ClientFrame) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sendCh <- frame
	return nil
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockConnHub()
	ws := newMockWS()

	conn := NewConnection(hub, ws, auth.Identity{UserID: "u1", Username: "alice"})
	if conn == nil {
		t.Fatal("NewConnection returned nil")
	}
	if hub.session == nil || hub.session.userID != "u1" {
		t.Fatal("Connect not called with identity")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// 1. Join flows to the hub.
	ws.readCh <- models.ClientFrame{Type: models.ClientFrameJoin, RoomID: "r1"}
	select {
	case roomID := <-hub.joinCh:
		if roomID != "r1" {
			t.Errorf("expected join r1, got %s", roomID)
		}
	case <-time.After(1 * time.Second):
		t.Error("hub did not receive join")
	}

	// 2. Send flows to the hub.
	ws.readCh <- models.ClientFrame{Type: models.ClientFrameSend, RoomID: "r1", Body: "hello"}
	select {
	case frame := <-hub.sendCh:
		if frame.Body != "hello" {
			t.Errorf("hub received wrong frame: %+v", frame)
		}
	case <-time.After(1 * time.Second):
		t.Error("hub did not receive send")
	}

	// 3. Leave flows to the hub.
	ws.readCh <- models.ClientFrame{Type: models.ClientFrameLeave, RoomID: "r1"}
	select {
	case roomID := <-hub.leaveCh:
		if roomID != "r1" {
			t.Errorf("expected leave r1, got %s", roomID)
		}
	case <-time.After(1 * time.Second):
		t.Error("hub did not receive leave")
	}

	// 4. Server frame flows to the websocket.
	hub.session.push(models.ServerFrame{
		Type:    models.ServerFrameMessage,
		Message: &models.Message{RoomID: "r1", Body: "hi back"},
	})
	select {
	case received := <-ws.writeCh:
		frame, ok := received.(models.ServerFrame)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if frame.Message == nil || frame.Message.Body != "hi back" {
			t.Errorf("WS received wrong content: %+v", frame)
		}
	case <-time.After(1 * time.Second):
		t.Error("WS did not receive server frame")
	}

	// 5. Stop.
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after cancel")
	}

	select {
	case <-hub.disconnCh:
	default:
		t.Error("Disconnect not called")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
}

func TestConnection_SendErrorGoesToSenderOnly(t *testing.T) {
	hub := newMockConnHub()
	hub.sendErr = models.ErrEmptyMessage
	ws := newMockWS()

	conn := NewConnection(hub, ws, auth.Identity{UserID: "u1", Username: "alice"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	ws.readCh <- models.ClientFrame{Type: models.ClientFrameSend, RoomID: "r1"}

	select {
	case received := <-ws.writeCh:
		frame, ok := received.(models.ServerFrame)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if frame.Type != models.ServerFrameError {
			t.Errorf("expected error frame, got %s", frame.Type)
		}
		if frame.Error == "" {
			t.Error("expected error detail for retry")
		}
	case <-time.After(1 * time.Second):
		t.Error("sender did not receive error frame")
	}

	// The compose failure is not fatal for the connection.
	select {
	case err := <-done:
		t.Fatalf("Handle returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnection_JoinErrorReported(t *testing.T) {
	hub := newMockConnHub()
	hub.joinErr = models.ErrNotParticipant
	ws := newMockWS()

	conn := NewConnection(hub, ws, auth.Identity{UserID: "u9", Username: "mallory"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = conn.Handle(ctx) }()

	ws.readCh <- models.ClientFrame{Type: models.ClientFrameJoin, RoomID: "r1"}

	select {
	case received := <-ws.writeCh:
		frame := received.(models.ServerFrame)
		if frame.Type != models.ServerFrameError {
			t.Errorf("expected error frame, got %s", frame.Type)
		}
	case <-time.After(1 * time.Second):
		t.Error("join rejection not reported")
	}
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockConnHub()
	ws := newMockWS()

	conn := NewConnection(hub, ws, auth.Identity{UserID: "u2", Username: "bob"})

	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return on error")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
}
