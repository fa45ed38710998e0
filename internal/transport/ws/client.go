package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"scenesync.dev/internal/protocol"
)

// Conn is a participant-side connection. Frames read off the socket are
// delivered on Incoming(); Send is safe from one goroutine at a time.
type Conn struct {
	ws       *websocket.Conn
	incoming chan []byte
}

// Dial connects, performs the hello handshake and returns once the
// welcome and the initial snapshot are queued on Incoming().
func Dial(ctx context.Context, url, name string, builder bool) (*Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            name,
		Builder:         builder,
	}
	b, err := json.Marshal(hello)
	if err != nil {
		ws.Close()
		return nil, err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		ws.Close()
		return nil, err
	}

	c := &Conn{ws: ws, incoming: make(chan []byte, outQueueSize)}

	// Welcome must arrive first; anything else means we were refused.
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, first, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, err
	}
	base, err := protocol.DecodeBase(first)
	if err != nil || base.Type != protocol.TypeWelcome {
		ws.Close()
		return nil, fmt.Errorf("ws: expected welcome, got %q", base.Type)
	}
	c.incoming <- first

	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.incoming)
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.incoming <- msg
	}
}

func (c *Conn) Incoming() <-chan []byte { return c.incoming }

func (c *Conn) Send(b []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *Conn) Close() error { return c.ws.Close() }
