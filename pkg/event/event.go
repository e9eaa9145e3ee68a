/*
Package event defines the wire protocol exchanged between the relay and
WebSocket clients: the envelope format, the domain of actions, and the payload
types carried by each action.
*/
package event

import (
	"encoding/json"
	"log"
)

/*
Action represents a domain of possible event actions.
*/
type Action int

const (
	// Events that can be sent only by the clients.
	ActionJoinSpace Action = iota
	ActionUpdatePosition
	ActionEnterHouseRoom
	ActionUpdateHousePosition
	ActionLeaveHouseRoom
	ActionAudioFrame
	ActionLeave

	// Events that can be sent only by the relay.
	ActionSpaceJoined
	ActionUserJoined
	ActionUserMoved
	ActionUserLeft
	ActionHouseRoomJoined
	ActionHouseUserJoined
	ActionHouseUserMoved
	ActionHouseUserLeft
	ActionIncomingAudio
	ActionError
)

/*
Inbound represents an event read from a WebSocket connection.  ConnID is
attached by the reading client and is never supplied by the peer.
*/
type Inbound struct {
	Payload json.RawMessage `json:"p"`
	ConnID  string          `json:"-"`
	Action  Action          `json:"a"`
}

/*
Outbound represents an event written to one or more WebSocket connections.
Envelopes are encoded once and fanned out as raw bytes, so broadcasting to a
room does not re-encode per subscriber.
*/
type Outbound struct {
	Payload json.RawMessage `json:"p"`
	Action  Action          `json:"a"`
}

// Position is a 2D coordinate in a room's world.  No bounds are enforced.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

/*
Join is the payload of ActionJoinSpace and ActionEnterHouseRoom.  RoomKey is
optional; the relay falls back to its configured default space (or, for house
rooms, to the session's current space).
*/
type Join struct {
	UserID    string   `json:"userId" validate:"required"`
	Name      string   `json:"userName" validate:"required"`
	Position  Position `json:"positions"`
	Character string   `json:"selectedCharacter"`
	RoomKey   string   `json:"roomKey,omitempty"`
}

/*
Movement is the payload of ActionUpdatePosition and ActionUpdateHousePosition.
*/
type Movement struct {
	Position Position `json:"positions"`
	Facing   string   `json:"direction"`
	Moving   bool     `json:"isMoving"`
}

/*
Leave is the payload of ActionLeave and ActionLeaveHouseRoom.  For
ActionLeaveHouseRoom, RoomKey names the space to rejoin; when empty the relay
rejoins the parent space of the current house room.
*/
type Leave struct {
	UserID  string `json:"userId"`
	RoomKey string `json:"roomKey,omitempty"`
}

// AudioFrame is the payload of ActionAudioFrame.
type AudioFrame struct {
	UserID  string    `json:"userId"`
	Samples []float64 `json:"data"`
}

/*
Snapshot is the payload of ActionSpaceJoined and ActionHouseRoomJoined, sent
to the joining connection only.  Users holds every other occupant of the room
as of immediately after the join.
*/
type Snapshot struct {
	Users []User `json:"usersArr"`
}

// User describes one occupant inside a broadcast payload.
type User struct {
	UserID    string   `json:"userId"`
	Name      string   `json:"userName"`
	Position  Position `json:"positions"`
	Character string   `json:"selectedCharacter"`
	Facing    string   `json:"direction"`
	Moving    bool     `json:"isMoving"`
	ConnID    string   `json:"connId"`
}

// Moved is the payload of ActionUserMoved and ActionHouseUserMoved.
type Moved struct {
	UserID    string   `json:"userId"`
	Position  Position `json:"positions"`
	Facing    string   `json:"direction"`
	Moving    bool     `json:"isMoving"`
	Name      string   `json:"userName"`
	Character string   `json:"selectedCharacter"`
}

// Left is the payload of ActionUserLeft and ActionHouseUserLeft.
type Left struct {
	UserID string `json:"userId"`
	ConnID string `json:"connId"`
}

/*
IncomingAudio is the payload of ActionIncomingAudio: a relayed frame with the
server receive timestamp (Unix milliseconds) appended.
*/
type IncomingAudio struct {
	UserID    string    `json:"userId"`
	Samples   []float64 `json:"audioData"`
	Timestamp int64     `json:"timestamp"`
}

// Error is the payload of ActionError, sent to the offending connection only.
type Error struct {
	Message string `json:"message"`
}

/*
EncodeOrPanic is a helper function to encode a JSON payload on the fly skipping
the error check.  All payload types above encode without error by construction,
so a failure here is a programming bug and panics.
*/
func EncodeOrPanic(v any) []byte {
	p, err := json.Marshal(v)
	if err != nil {
		log.Panicf("cannot encode payload %v: %s", v, err)
	}
	return p
}
