package ws

import (
	"time"

	"github.com/2dverse/relay/pkg/event"

	"github.com/gorilla/websocket"
)

// Connection parameters.
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period.  Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.  Raw audio frames are the
	// largest inbound payload, so the limit is well above a chat-sized cap.
	maxMessageSize = 64 * 1024
)

/*
client manages a single WebSocket connection lifecycle and carries the
session state the coordinator binds to it: the room the connection currently
occupies and the user it represents, both empty while unbound.

The session fields are written exclusively by the hub goroutine, so they need
no locking.

The reason for the send channel is that frames must be written sequentially,
since the Gorilla WebSocket library allows only one concurrent writer to a
connection at a time.  It carries pre-encoded bytes so a room broadcast is
encoded once, not once per subscriber.
*/
type client struct {
	id string
	// Session state, owned by the hub goroutine.
	roomKey string
	userID  string
	// unregister notifies the hub about the connection teardown.
	unregister chan<- *client
	// forward carries decoded inbound events to the hub bus.
	forward chan<- event.Inbound
	send    chan []byte
	conn    *websocket.Conn
}

func newClient(
	id string,
	unregister chan<- *client,
	forward chan<- event.Inbound,
	conn *websocket.Conn,
) *client {
	c := &client{
		id:         id,
		unregister: unregister,
		forward:    forward,
		send:       make(chan []byte, 192),
		conn:       conn,
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return c
}

/*
read reads events from the connection sequentially (one at a time) and
forwards them to the hub bus with the connection id attached.  A decode error
or an action the clients are not allowed to send interrupts the connection.
*/
func (c *client) read() {
	defer func() {
		c.conn.Close()
		c.unregister <- c
	}()

	for {
		var e event.Inbound
		if err := c.conn.ReadJSON(&e); err != nil {
			return
		}

		switch e.Action {
		case event.ActionJoinSpace, event.ActionUpdatePosition,
			event.ActionEnterHouseRoom, event.ActionUpdateHousePosition,
			event.ActionLeaveHouseRoom, event.ActionAudioFrame,
			event.ActionLeave:
			e.ConnID = c.id
			c.forward <- e

		default:
			return
		}
	}
}

/*
write takes frames from the send channel and writes them to the connection
sequentially (one at a time), sending ping messages periodically to maintain
the heartbeat.  Returns when the send channel is closed by the hub.
*/
func (c *client) write() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
