package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/auth"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Connect(id auth.Identity) *Session
	Disconnect(s *Session)
	Join(s *Session, roomID string) error
	Leave(s *Session, roomID string)
	Send(s *Session, frame models.ClientFrame) error
}

type Connection struct {
	ws         wsConnection
	hub        messageHub
	session    *Session
	fromClient chan models.ClientFrame
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	id auth.Identity,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		session:    hub.Connect(id),
		fromClient: make(chan models.ClientFrame),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Disconnect(c.session)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpFrames(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpFrames(ctx context.Context) error {
	for {
		var frame models.ClientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return err
		}
		select {
		case c.fromClient <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case frame := <-c.fromClient:
			if err := c.processClientFrame(frame); err != nil {
				return err
			}
		case frame, ok := <-c.session.ch:
			if !ok {
				// Hub closed the session (e.g. account removed).
				return nil
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientFrame runs on the mainLoop goroutine, so it may write to
// the websocket directly. Domain errors go back to this sender only and
// never tear the connection down.
func (c *Connection) processClientFrame(frame models.ClientFrame) error {
	switch frame.Type {
	case models.ClientFrameJoin:
		if err := c.hub.Join(c.session, frame.RoomID); err != nil {
			return c.writeError(err)
		}
	case models.ClientFrameLeave:
		c.hub.Leave(c.session, frame.RoomID)
	case models.ClientFrameSend:
		if err := c.hub.Send(c.session, frame); err != nil {
			return c.writeError(err)
		}
	}

	return nil
}

func (c *Connection) writeError(err error) error {
	return c.ws.WriteJSON(models.ServerFrame{
		Type:  models.ServerFrameError,
		Error: err.Error(),
	})
}
