/*
Package registry implements the in-memory room/presence registry: the mapping
from room key to the occupants currently inside it.

Rooms exist implicitly.  A room is created on the first join and deleted the
moment its occupant list becomes empty, whether through an explicit leave or
through the eviction sweep.  Room state lives for the lifetime of the process
only.

Absent rooms and absent users are not errors: lookups report them through a
boolean result and mutate nothing.
*/
package registry

import (
	"sync"
	"time"

	"github.com/2dverse/relay/pkg/event"

	"github.com/samber/lo"
)

// Facing values an occupant can report.  Anything else collapses to down.
const (
	FacingUp    = "up"
	FacingDown  = "down"
	FacingLeft  = "left"
	FacingRight = "right"
)

/*
Occupant is the per-user state held while the user is present in a room.
ConnID correlates the record with the owning connection; the registry never
acts on it, it only stores it for the transport layer.
*/
type Occupant struct {
	UserID      string
	Name        string
	Position    event.Position
	Character   string
	Facing      string
	Moving      bool
	ConnID      string
	LastUpdated time.Time
}

// Movement carries the fields overwritten by a position update.
type Movement struct {
	Position event.Position
	Facing   string
	Moving   bool
}

/*
Eviction reports one occupant removed by an eviction sweep, together with the
room the occupant was removed from.
*/
type Eviction struct {
	RoomKey  string
	Occupant Occupant
}

/*
Registry owns the room map exclusively.  Every returned Occupant is a value
copy taken under the lock; callers must not expect their mutations to
propagate back without calling into the registry again.

A single mutex over the whole map is deliberate: every operation is a short
in-memory read-modify-write, and room-level granularity buys nothing at the
occupancy scale this relay serves.
*/
type Registry struct {
	mu    sync.Mutex
	rooms map[string][]*Occupant
	now   func() time.Time
}

func New() *Registry {
	return &Registry{
		rooms: make(map[string][]*Occupant),
		now:   time.Now,
	}
}

/*
Join adds the occupant to the room, creating the room if it does not exist
yet.  A join with a userId already present in the room replaces the existing
record in place instead of appending a duplicate.  Facing defaults to down and
moving to false when unset; LastUpdated is always stamped by the registry.

Returns a snapshot of every other occupant of the room as of immediately
after the join: the world state the joining client needs to render everyone
else.
*/
func (r *Registry) Join(roomKey string, o Occupant) []Occupant {
	o.Facing = normalizeFacing(o.Facing)

	r.mu.Lock()
	defer r.mu.Unlock()

	o.LastUpdated = r.now()

	room := r.rooms[roomKey]
	i := indexOf(room, o.UserID)
	if i == -1 {
		r.rooms[roomKey] = append(room, &o)
	} else {
		*room[i] = o
	}

	return lo.FilterMap(r.rooms[roomKey], func(cur *Occupant, _ int) (Occupant, bool) {
		return *cur, cur.UserID != o.UserID
	})
}

/*
Lookup returns a copy of the occupant's record, or false if either the room
or the user is absent.  It never mutates.
*/
func (r *Registry) Lookup(roomKey, userID string) (Occupant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := indexOf(r.rooms[roomKey], userID)
	if i == -1 {
		return Occupant{}, false
	}
	return *r.rooms[roomKey][i], true
}

/*
Leave removes the occupant from the room and returns the removed record so
the caller can build a departure notification without a second lookup.  An
unknown room or user reports false and changes nothing.  A room emptied by the
leave is deleted from the map entirely.
*/
func (r *Registry) Leave(roomKey, userID string) (Occupant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[roomKey]
	i := indexOf(room, userID)
	if i == -1 {
		return Occupant{}, false
	}

	removed := *room[i]
	room = append(room[:i], room[i+1:]...)
	if len(room) == 0 {
		delete(r.rooms, roomKey)
	} else {
		r.rooms[roomKey] = room
	}
	return removed, true
}

/*
UpdatePosition overwrites the occupant's position, facing and moving flag and
refreshes LastUpdated.  Reports false, mutating nothing, if the room or user
is absent.  This is the hot path, called on every movement tick of every
client: it touches the existing record in place and never reallocates the
room's list.
*/
func (r *Registry) UpdatePosition(roomKey, userID string, m Movement) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := indexOf(r.rooms[roomKey], userID)
	if i == -1 {
		return false
	}

	o := r.rooms[roomKey][i]
	o.Position = m.Position
	o.Facing = normalizeFacing(m.Facing)
	o.Moving = m.Moving
	o.LastUpdated = r.now()
	return true
}

/*
Evict removes every occupant whose LastUpdated is stale relative to now:
kept if and only if now-LastUpdated < threshold.  Rooms left empty are
deleted.  The removed records are returned with their room keys so the caller
can emit the same departure notifications an explicit leave produces.

Eviction reclaims state from connections that vanished without a clean
disconnect.  It is routine reclamation, not an error path, and it runs under
the same lock as every live mutation.
*/
func (r *Registry) Evict(now time.Time, threshold time.Duration) []Eviction {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Eviction
	for key, room := range r.rooms {
		kept := room[:0]
		for _, o := range room {
			if now.Sub(o.LastUpdated) < threshold {
				kept = append(kept, o)
			} else {
				evicted = append(evicted, Eviction{RoomKey: key, Occupant: *o})
			}
		}
		if len(kept) == 0 {
			delete(r.rooms, key)
		} else {
			r.rooms[key] = kept
		}
	}
	return evicted
}

// OccupantCount reports the total number of occupants across all rooms.
func (r *Registry) OccupantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, room := range r.rooms {
		n += len(room)
	}
	return n
}

// indexOf scans linearly; rooms are small and the scan allocates nothing.
func indexOf(room []*Occupant, userID string) int {
	for i, o := range room {
		if o.UserID == userID {
			return i
		}
	}
	return -1
}

func normalizeFacing(f string) string {
	switch f {
	case FacingUp, FacingDown, FacingLeft, FacingRight:
		return f
	default:
		return FacingDown
	}
}
