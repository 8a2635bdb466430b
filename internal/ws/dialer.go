package ws

import (
	"context"

	"github.com/coder/websocket"

	"github.com/helioplay/rooms-backend/internal/reconnect"
)

// Dialer is the websocket implementation of reconnect.Dialer, used by
// client tooling and integration tests to connect through a
// supervisor.
type Dialer struct {
	URL string
}

func (d *Dialer) Dial(ctx context.Context) (reconnect.Conn, error) {
	c, _, err := websocket.Dial(ctx, d.URL, nil)
	if err != nil {
		return nil, err
	}
	return &clientConn{c: c}, nil
}

type clientConn struct {
	c *websocket.Conn
}

func (c *clientConn) Send(ctx context.Context, data []byte) error {
	return c.c.Write(ctx, websocket.MessageText, data)
}

func (c *clientConn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.c.Read(ctx)
	return data, err
}

func (c *clientConn) Close() error {
	return c.c.Close(websocket.StatusNormalClosure, "")
}
