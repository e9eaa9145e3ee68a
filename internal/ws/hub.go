/*
Package ws hosts the WebSocket transport and the per-connection session
coordination: it accepts connections, decodes their events, drives the room
registry, and fans the resulting notifications back out to the right set of
connections.
*/
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/2dverse/relay/internal/mq"
	"github.com/2dverse/relay/internal/registry"
	"github.com/2dverse/relay/pkg/event"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

/*
upgrader is used to establish a WebSocket connection.  It is safe for
concurrent use.
*/
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

/*
Options carries the presence policy the hub applies: the space joined when a
client names none, the coordinate a user reappears at when returning from a
house room to a space, and the eviction cadence.
*/
type Options struct {
	DefaultSpace        string
	RejoinPosition      event.Position
	EvictionInterval    time.Duration
	InactivityThreshold time.Duration
}

/*
Hub owns every piece of mutable transport state: the connected clients, the
room subscription index, and the sessions bound to each connection.  A single
goroutine (Run) receives registrations, disconnections, inbound events and
eviction ticks and handles them one at a time, so no session or subscription
state is ever touched concurrently.  The registry carries its own lock and is
shared, not owned.
*/
type Hub struct {
	log      *slog.Logger
	reg      *registry.Registry
	pub      mq.Publisher
	opts     Options
	validate *validator.Validate

	register   chan *websocket.Conn
	unregister chan *client
	bus        chan event.Inbound

	// clients indexes every live connection by id; rooms is the
	// subscription index used for room fanout.  Both maps are owned by the
	// Run goroutine.
	clients map[string]*client
	rooms   map[string]map[*client]struct{}

	now func() time.Time
}

func NewHub(log *slog.Logger, reg *registry.Registry, pub mq.Publisher, opts Options) *Hub {
	return &Hub{
		log:        log,
		reg:        reg,
		pub:        pub,
		opts:       opts,
		validate:   validator.New(),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *client),
		bus:        make(chan event.Inbound, 64),
		clients:    make(map[string]*client),
		rooms:      make(map[string]map[*client]struct{}),
		now:        time.Now,
	}
}

/*
Run receives incoming events from the hub channels consequentially (one at a
time) and forwards them to the corresponding handlers.  The eviction sweep is
just another case of the same loop: it goes through exactly the same
serialization as live joins, moves and leaves.

Returns when ctx is cancelled, after closing every connection.
*/
func (h *Hub) Run(ctx context.Context) {
	evict := time.NewTicker(h.opts.EvictionInterval)
	defer evict.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.handleRegister(conn)

		case c := <-h.unregister:
			h.handleUnregister(c)

		case e := <-h.bus:
			h.route(e)

		case now := <-evict.C:
			h.handleEvict(now)
		}
	}
}

/*
HandleConnection upgrades an HTTP request to a WebSocket connection and hands
it to the hub goroutine.
*/
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.register <- conn
}

func (h *Hub) handleRegister(conn *websocket.Conn) {
	c := newClient(uuid.NewString(), h.unregister, h.bus, conn)
	h.clients[c.id] = c

	go c.read()
	go c.write()

	h.log.Info("connection registered", "conn", c.id)
}

/*
handleUnregister tears down a vanished connection: the same leave-and-notify
sequence as an explicit leave, then the session and subscription are
destroyed.  Safe to call for a connection that never joined a room.
*/
func (h *Hub) handleUnregister(c *client) {
	if _, exists := h.clients[c.id]; !exists {
		return
	}
	delete(h.clients, c.id)

	h.teardown(c)
	close(c.send)

	h.log.Info("connection unregistered", "conn", c.id)
}

/*
route dispatches one inbound event to its session handler.  Events arriving
after the connection was unregistered are dropped.
*/
func (h *Hub) route(e event.Inbound) {
	c, exists := h.clients[e.ConnID]
	if !exists {
		return
	}

	switch e.Action {
	case event.ActionJoinSpace:
		h.handleJoinSpace(c, e.Payload)
	case event.ActionUpdatePosition:
		h.handleUpdatePosition(c, e.Payload, false)
	case event.ActionEnterHouseRoom:
		h.handleEnterHouseRoom(c, e.Payload)
	case event.ActionUpdateHousePosition:
		h.handleUpdatePosition(c, e.Payload, true)
	case event.ActionLeaveHouseRoom:
		h.handleLeaveHouseRoom(c, e.Payload)
	case event.ActionAudioFrame:
		h.handleAudioFrame(c, e.Payload)
	case event.ActionLeave:
		h.handleLeave(c, e.Payload)
	}
}

/*
handleEvict sweeps the registry and notifies each emptied room's remaining
occupants with the same user-left event an explicit leave produces.  Evicted
users that are still connected keep their session binding; their next join
starts a fresh record.
*/
func (h *Hub) handleEvict(now time.Time) {
	evicted := h.reg.Evict(now, h.opts.InactivityThreshold)

	for _, ev := range evicted {
		h.log.Info("occupant evicted",
			"room", ev.RoomKey, "user", ev.Occupant.UserID)

		h.broadcast(ev.RoomKey, nil, eventsFor(ev.RoomKey).left, event.Left{
			UserID: ev.Occupant.UserID,
			ConnID: ev.Occupant.ConnID,
		})
		h.publish(ev.RoomKey, "left", ev.Occupant)
	}
}

func (h *Hub) shutdown() {
	for id, c := range h.clients {
		delete(h.clients, id)
		c.conn.Close()
		close(c.send)
	}
	h.rooms = make(map[string]map[*client]struct{})
}

/*
subscribe binds the client to the room's broadcast channel.  Any previous
subscription must have been removed by the caller first; the session can
occupy only one room at a time.
*/
func (h *Hub) subscribe(c *client, roomKey string) {
	subs, exists := h.rooms[roomKey]
	if !exists {
		subs = make(map[*client]struct{})
		h.rooms[roomKey] = subs
	}
	subs[c] = struct{}{}
	c.roomKey = roomKey
}

func (h *Hub) unsubscribe(c *client) {
	if c.roomKey == "" {
		return
	}
	if subs, exists := h.rooms[c.roomKey]; exists {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, c.roomKey)
		}
	}
	c.roomKey = ""
}

/*
broadcast encodes the envelope once and sends the raw frame to every
connection subscribed to the room, excluding origin when it is non-nil.  A
subscriber whose send buffer is full has the frame dropped rather than
stalling everyone else's delivery.
*/
func (h *Hub) broadcast(roomKey string, origin *client, act event.Action, payload any) {
	raw := event.EncodeOrPanic(event.Outbound{
		Action:  act,
		Payload: event.EncodeOrPanic(payload),
	})

	for c := range h.rooms[roomKey] {
		if c == origin {
			continue
		}
		select {
		case c.send <- raw:
		default:
			h.log.Warn("send buffer full, frame dropped",
				"conn", c.id, "room", roomKey)
		}
	}
}

// sendTo delivers one event to a single connection.
func (h *Hub) sendTo(c *client, act event.Action, payload any) {
	raw := event.EncodeOrPanic(event.Outbound{
		Action:  act,
		Payload: event.EncodeOrPanic(payload),
	})

	select {
	case c.send <- raw:
	default:
		h.log.Warn("send buffer full, frame dropped", "conn", c.id)
	}
}

// sendError reports a failure to the offending connection only.  Errors are
// never broadcast.
func (h *Hub) sendError(c *client, msg string) {
	h.sendTo(c, event.ActionError, event.Error{Message: msg})
}

/*
publish mirrors a presence transition to the message broker for downstream
consumers.  Per-tick movement and audio stay off the exchange.
*/
func (h *Hub) publish(roomKey, kind string, o registry.Occupant) {
	h.pub.Publish(roomKey+"."+kind, event.EncodeOrPanic(event.User{
		UserID:    o.UserID,
		Name:      o.Name,
		Position:  o.Position,
		Character: o.Character,
		Facing:    o.Facing,
		Moving:    o.Moving,
		ConnID:    o.ConnID,
	}))
}
