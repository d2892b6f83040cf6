package ws

import (
	"context"
	"errors"
	"sync"

	"echohub/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type gatewayHub interface {
	Join(userID string) (string, chan models.ServerEvent)
	Leave(userID, connID string)
	DispatchDirect(senderID string, ev models.ClientEvent)
}

// Connection services one websocket for its whole lifetime: a reader
// goroutine pumps client events into fromClient, the main loop multiplexes
// those against hub pushes arriving on fromServer. The user ID is fixed at
// handshake and never changes for the life of the connection.
type Connection struct {
	ws         wsConnection
	hub        gatewayHub
	userID     string
	connID     string
	fromClient chan models.ClientEvent
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub gatewayHub,
	ws wsConnection,
	userID string,
) *Connection {
	connID, fromServer := hub.Join(userID)
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		connID:     connID,
		fromClient: make(chan models.ClientEvent),
		fromServer: fromServer,
		errorCh:    make(chan error, 2),
	}
}

// Handle runs the connection until the transport dies, the context is
// cancelled, or a newer connection for the same user supersedes this one.
// On exit the registry entry is removed iff it still belongs to this
// connection.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.userID, c.connID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
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

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			c.processClientEvent(ev)
		case ev, ok := <-c.fromServer:
			if !ok {
				// Superseded by a newer handshake for the same user.
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientEvent(ev models.ClientEvent) {
	switch ev.Type {
	case models.ClientEventTypeSendDirect:
		c.hub.DispatchDirect(c.userID, ev)
	default:
		// Unknown event types are dropped.
	}
}
