package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"taskpulse/internal/models"
)

type wsConnection interface {
	Close() error
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
}

type presenceHub interface {
	Join(taskID string, user models.User) chan []byte
	Leave(taskID, userID string, ch chan []byte)
	Dispatch(taskID, userID string, raw []byte)
}

type Connection struct {
	ws         wsConnection
	hub        presenceHub
	taskID     string
	user       models.User
	fromClient chan []byte
	fromServer chan []byte
	errorCh    chan error
}

func NewConnection(
	hub presenceHub,
	ws wsConnection,
	taskID string,
	user models.User,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		taskID:     taskID,
		user:       user,
		fromClient: make(chan []byte),
		fromServer: hub.Join(taskID, user),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.taskID, c.user.ID, c.fromServer)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
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

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		select {
		case c.fromClient <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case raw := <-c.fromClient:
			c.hub.Dispatch(c.taskID, c.user.ID, raw)
		case data, ok := <-c.fromServer:
			if !ok {
				// Superseded by a newer connection for the same user.
				return nil
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
