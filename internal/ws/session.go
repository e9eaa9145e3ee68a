package ws

import (
	"encoding/json"
	"strings"

	"github.com/2dverse/relay/internal/registry"
	"github.com/2dverse/relay/pkg/event"

	"github.com/samber/lo"
)

/*
House rooms share the registry with spaces under a derived key namespace: the
parent space key plus this suffix.  The derivation is deterministic, so a
house key always identifies exactly one parent space, and joins of a space
whose key carries the suffix are rejected so the namespaces cannot collide.
*/
const houseSuffix = "-house"

func houseKey(spaceKey string) string { return spaceKey + houseSuffix }

func isHouseKey(key string) bool { return strings.HasSuffix(key, houseSuffix) }

func parentSpace(key string) string { return strings.TrimSuffix(key, houseSuffix) }

/*
roomEvents names the outbound actions for one key namespace.  The space and
house flows are identical in shape and differ only in these names.
*/
type roomEvents struct {
	joined     event.Action
	userJoined event.Action
	userMoved  event.Action
	left       event.Action
}

var (
	spaceEvents = roomEvents{
		joined:     event.ActionSpaceJoined,
		userJoined: event.ActionUserJoined,
		userMoved:  event.ActionUserMoved,
		left:       event.ActionUserLeft,
	}
	houseRoomEvents = roomEvents{
		joined:     event.ActionHouseRoomJoined,
		userJoined: event.ActionHouseUserJoined,
		userMoved:  event.ActionHouseUserMoved,
		left:       event.ActionHouseUserLeft,
	}
)

func eventsFor(roomKey string) roomEvents {
	if isHouseKey(roomKey) {
		return houseRoomEvents
	}
	return spaceEvents
}

/*
handleJoinSpace binds the session to a space.  The payload is validated
before any existing binding is touched, so a malformed join leaves the
session exactly where it was: bound sessions stay bound, unbound sessions
stay unbound, and only the offending connection hears about the failure.
*/
func (h *Hub) handleJoinSpace(c *client, raw json.RawMessage) {
	var p event.Join
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "failed to join space")
		return
	}
	if err := h.validate.Struct(p); err != nil {
		h.sendError(c, "failed to join space")
		return
	}

	roomKey := p.RoomKey
	if roomKey == "" {
		roomKey = h.opts.DefaultSpace
	}
	if isHouseKey(roomKey) {
		h.sendError(c, "room key is reserved for house rooms")
		return
	}

	// A rejoin of the current room by the same user is an in-place replace
	// in the registry; tearing down first would broadcast a spurious
	// departure to the other occupants.
	if c.roomKey != roomKey || c.userID != p.UserID {
		h.teardown(c)
	}
	h.enterRoom(c, roomKey, registry.Occupant{
		UserID:    p.UserID,
		Name:      p.Name,
		Position:  p.Position,
		Character: p.Character,
	})
}

/*
handleEnterHouseRoom moves the session from its current space into the house
room derived from it (or from the space named in the payload).  The departure
notification goes to the old room, the snapshot to the joining connection,
and the arrival notification to the house room's other occupants.
*/
func (h *Hub) handleEnterHouseRoom(c *client, raw json.RawMessage) {
	var p event.Join
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "failed to enter house room")
		return
	}
	if err := h.validate.Struct(p); err != nil {
		h.sendError(c, "failed to enter house room")
		return
	}

	parent := p.RoomKey
	if parent == "" {
		switch {
		case c.roomKey != "" && !isHouseKey(c.roomKey):
			parent = c.roomKey
		case isHouseKey(c.roomKey):
			parent = parentSpace(c.roomKey)
		default:
			parent = h.opts.DefaultSpace
		}
	}
	if isHouseKey(parent) {
		h.sendError(c, "failed to enter house room")
		return
	}

	target := houseKey(parent)
	if c.roomKey != target || c.userID != p.UserID {
		h.teardown(c)
	}
	h.enterRoom(c, target, registry.Occupant{
		UserID:    p.UserID,
		Name:      p.Name,
		Position:  p.Position,
		Character: p.Character,
	})
}

/*
handleLeaveHouseRoom is the inverse transition: leave the house room, rejoin
the target space at the configured rejoin coordinate.  House and space
coordinate systems are independent, so the user's last house position is
deliberately discarded.  Display fields are carried over from the removed
house record when it exists; a double-fired transition finds no record and
still completes the join with empty display fields.
*/
func (h *Hub) handleLeaveHouseRoom(c *client, raw json.RawMessage) {
	var p event.Leave
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}

	userID := p.UserID
	if userID == "" {
		userID = c.userID
	}
	if userID == "" {
		return
	}

	target := p.RoomKey
	if target == "" {
		if isHouseKey(c.roomKey) {
			target = parentSpace(c.roomKey)
		} else {
			target = h.opts.DefaultSpace
		}
	}
	if isHouseKey(target) {
		h.sendError(c, "room key is reserved for house rooms")
		return
	}

	var name, character string
	if isHouseKey(c.roomKey) {
		roomKey := c.roomKey
		removed, found := h.reg.Leave(roomKey, userID)
		h.unsubscribe(c)
		c.userID = ""
		if found {
			name, character = removed.Name, removed.Character
			h.broadcast(roomKey, c, houseRoomEvents.left, event.Left{
				UserID: removed.UserID,
				ConnID: removed.ConnID,
			})
			h.publish(roomKey, "left", removed)
		}
	} else {
		h.teardown(c)
	}

	h.enterRoom(c, target, registry.Occupant{
		UserID:    userID,
		Name:      name,
		Position:  h.opts.RejoinPosition,
		Character: character,
	})
}

/*
handleUpdatePosition applies a movement tick to the session's current room.
houseOnly marks the house-namespace variant, which is ignored unless the
session is currently inside a house room.  A failed registry update means the
user or room vanished between ticks; nothing is broadcast and no error is
surfaced, the client simply sends the next tick.
*/
func (h *Hub) handleUpdatePosition(c *client, raw json.RawMessage, houseOnly bool) {
	if c.roomKey == "" || c.userID == "" {
		return
	}
	if houseOnly && !isHouseKey(c.roomKey) {
		return
	}

	var m event.Movement
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}

	ok := h.reg.UpdatePosition(c.roomKey, c.userID, registry.Movement{
		Position: m.Position,
		Facing:   m.Facing,
		Moving:   m.Moving,
	})
	if !ok {
		return
	}

	// Enrich the broadcast with display fields the movement tick does not
	// carry.
	o, found := h.reg.Lookup(c.roomKey, c.userID)
	moved := event.Moved{
		UserID:   c.userID,
		Position: m.Position,
		Facing:   m.Facing,
		Moving:   m.Moving,
	}
	if found {
		moved.Name = o.Name
		moved.Character = o.Character
		moved.Facing = o.Facing
	}

	h.broadcast(c.roomKey, c, eventsFor(c.roomKey).userMoved, moved)
}

/*
handleAudioFrame relays a raw audio frame to the session's room verbatim,
with the server receive timestamp attached.  The frame is the one input the
coordinator validates itself: an empty sample array or a frame attributed to
no user is rejected, and the rejection goes to the sender only.
*/
func (h *Hub) handleAudioFrame(c *client, raw json.RawMessage) {
	if c.roomKey == "" {
		return
	}

	var p event.AudioFrame
	if err := json.Unmarshal(raw, &p); err != nil || len(p.Samples) == 0 || p.UserID == "" {
		h.sendError(c, "invalid audio frame")
		return
	}

	h.broadcast(c.roomKey, c, event.ActionIncomingAudio, event.IncomingAudio{
		UserID:    p.UserID,
		Samples:   p.Samples,
		Timestamp: h.now().UnixMilli(),
	})
}

/*
handleLeave removes the named user from the session's current room and
notifies the remaining occupants.  An unknown user is a silent no-op.  The
session binding itself is untouched; a connection that withdrew its own user
keeps listening to the room until it disconnects or joins elsewhere.
*/
func (h *Hub) handleLeave(c *client, raw json.RawMessage) {
	if c.roomKey == "" {
		return
	}

	var p event.Leave
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	userID := p.UserID
	if userID == "" {
		userID = c.userID
	}

	removed, found := h.reg.Leave(c.roomKey, userID)
	if !found {
		return
	}

	h.broadcast(c.roomKey, c, eventsFor(c.roomKey).left, event.Left{
		UserID: removed.UserID,
		ConnID: removed.ConnID,
	})
	h.publish(c.roomKey, "left", removed)
	h.log.Info("user left", "user", removed.UserID, "room", c.roomKey)
}

/*
teardown ends the session's current room membership, notifying the room's
remaining occupants, and leaves the session unbound.  A no-op for sessions
that never joined.
*/
func (h *Hub) teardown(c *client) {
	if c.roomKey == "" {
		return
	}
	roomKey := c.roomKey
	userID := c.userID

	h.unsubscribe(c)
	c.userID = ""

	if userID == "" {
		return
	}
	removed, found := h.reg.Leave(roomKey, userID)
	if !found {
		return
	}

	h.broadcast(roomKey, c, eventsFor(roomKey).left, event.Left{
		UserID: removed.UserID,
		ConnID: removed.ConnID,
	})
	h.publish(roomKey, "left", removed)
	h.log.Info("user left", "user", userID, "room", roomKey)
}

/*
enterRoom performs the join half of every transition: registry join,
subscription to the room's broadcast channel, snapshot to the joiner, and
arrival notification to everyone else.  The caller must have torn down any
previous binding first.
*/
func (h *Hub) enterRoom(c *client, roomKey string, o registry.Occupant) {
	o.ConnID = c.id

	others := h.reg.Join(roomKey, o)
	h.subscribe(c, roomKey)
	c.userID = o.UserID

	// Re-read the committed record so broadcasts carry the defaults the
	// registry applied, not the raw input.
	joined, _ := h.reg.Lookup(roomKey, o.UserID)

	ev := eventsFor(roomKey)
	h.sendTo(c, ev.joined, event.Snapshot{Users: viewsOf(others)})
	h.broadcast(roomKey, c, ev.userJoined, viewOf(joined))
	h.publish(roomKey, "joined", joined)

	h.log.Info("user joined", "user", o.UserID, "room", roomKey)
}

func viewOf(o registry.Occupant) event.User {
	return event.User{
		UserID:    o.UserID,
		Name:      o.Name,
		Position:  o.Position,
		Character: o.Character,
		Facing:    o.Facing,
		Moving:    o.Moving,
		ConnID:    o.ConnID,
	}
}

func viewsOf(occupants []registry.Occupant) []event.User {
	return lo.Map(occupants, func(o registry.Occupant, _ int) event.User {
		return viewOf(o)
	})
}
