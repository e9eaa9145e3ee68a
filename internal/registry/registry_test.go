package registry

import (
	"testing"
	"time"

	"github.com/2dverse/relay/pkg/event"

	"github.com/stretchr/testify/require"
)

func frozen(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestJoin_ReturnsOthersOnly(t *testing.T) {
	r := New()

	others := r.Join("lobby", Occupant{UserID: "a", Name: "Alice", ConnID: "c1"})
	require.Empty(t, others)

	others = r.Join("lobby", Occupant{
		UserID:   "b",
		Name:     "Bob",
		Position: event.Position{X: 5, Y: 5},
		ConnID:   "c2",
	})
	require.Len(t, others, 1)
	require.Equal(t, "a", others[0].UserID)
	require.Equal(t, "Alice", others[0].Name)
}

func TestJoin_SameUserReplacesInsteadOfAppending(t *testing.T) {
	r := New()

	r.Join("lobby", Occupant{UserID: "a", Name: "Alice", ConnID: "c1"})
	r.Join("lobby", Occupant{
		UserID:   "a",
		Name:     "Alice",
		Position: event.Position{X: 3, Y: 4},
		ConnID:   "c2",
	})

	require.Equal(t, 1, r.OccupantCount())

	o, ok := r.Lookup("lobby", "a")
	require.True(t, ok)
	require.Equal(t, event.Position{X: 3, Y: 4}, o.Position)
	require.Equal(t, "c2", o.ConnID)
}

func TestJoin_AppliesDefaults(t *testing.T) {
	r := New()

	r.Join("lobby", Occupant{UserID: "a", Facing: "sideways"})

	o, ok := r.Lookup("lobby", "a")
	require.True(t, ok)
	require.Equal(t, FacingDown, o.Facing)
	require.False(t, o.Moving)
	require.False(t, o.LastUpdated.IsZero())
}

func TestLookup_ReturnsCopy(t *testing.T) {
	r := New()
	r.Join("lobby", Occupant{UserID: "a", Name: "Alice"})

	o, ok := r.Lookup("lobby", "a")
	require.True(t, ok)

	o.Name = "Mallory"

	again, ok := r.Lookup("lobby", "a")
	require.True(t, ok)
	require.Equal(t, "Alice", again.Name)
}

func TestLeave_UnknownIsNotFound(t *testing.T) {
	r := New()
	r.Join("lobby", Occupant{UserID: "a"})

	_, ok := r.Leave("lobby", "ghost")
	require.False(t, ok)

	_, ok = r.Leave("nowhere", "a")
	require.False(t, ok)

	require.Equal(t, 1, r.OccupantCount())
}

func TestLeave_EmptiedRoomIsDeleted(t *testing.T) {
	r := New()
	r.Join("lobby", Occupant{UserID: "a", Name: "Alice"})

	removed, ok := r.Leave("lobby", "a")
	require.True(t, ok)
	require.Equal(t, "Alice", removed.Name)

	// The key must be gone, not retained as an empty room.
	_, ok = r.Lookup("lobby", "a")
	require.False(t, ok)
	require.Equal(t, 0, r.OccupantCount())
}

func TestUpdatePosition_AbsentUserFailsWithoutCreating(t *testing.T) {
	r := New()

	ok := r.UpdatePosition("lobby", "a", Movement{Position: event.Position{X: 1}})
	require.False(t, ok)
	require.Equal(t, 0, r.OccupantCount())
}

func TestUpdatePosition_OverwritesAndRefreshesTimestamp(t *testing.T) {
	r := New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = frozen(t0)

	r.Join("lobby", Occupant{UserID: "a"})

	r.now = frozen(t0.Add(10 * time.Second))
	ok := r.UpdatePosition("lobby", "a", Movement{
		Position: event.Position{X: 7, Y: 8},
		Facing:   FacingLeft,
		Moving:   true,
	})
	require.True(t, ok)

	o, found := r.Lookup("lobby", "a")
	require.True(t, found)
	require.Equal(t, event.Position{X: 7, Y: 8}, o.Position)
	require.Equal(t, FacingLeft, o.Facing)
	require.True(t, o.Moving)
	require.Equal(t, t0.Add(10*time.Second), o.LastUpdated)
}

func TestEvict_RemovesStaleKeepsFresh(t *testing.T) {
	r := New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := time.Minute

	r.now = frozen(t0)
	r.Join("lobby", Occupant{UserID: "stale"})

	r.now = frozen(t0.Add(45 * time.Second))
	r.Join("lobby", Occupant{UserID: "fresh"})

	evicted := r.Evict(t0.Add(70*time.Second), threshold)
	require.Len(t, evicted, 1)
	require.Equal(t, "lobby", evicted[0].RoomKey)
	require.Equal(t, "stale", evicted[0].Occupant.UserID)

	_, ok := r.Lookup("lobby", "fresh")
	require.True(t, ok)
}

func TestEvict_ThresholdBoundaryIsStrict(t *testing.T) {
	r := New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := time.Minute

	r.now = frozen(t0)
	r.Join("lobby", Occupant{UserID: "a"})

	// elapsed == threshold: kept only when elapsed < threshold, so evicted.
	just := r.Evict(t0.Add(threshold), threshold)
	require.Len(t, just, 1)

	r.now = frozen(t0)
	r.Join("lobby", Occupant{UserID: "a"})

	none := r.Evict(t0.Add(threshold-time.Nanosecond), threshold)
	require.Empty(t, none)
}

func TestEvict_DeletesEmptiedRoomsOnly(t *testing.T) {
	r := New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := time.Minute

	r.now = frozen(t0)
	r.Join("dead", Occupant{UserID: "a"})
	r.Join("mixed", Occupant{UserID: "b"})

	r.now = frozen(t0.Add(2 * time.Minute))
	r.Join("mixed", Occupant{UserID: "c"})

	evicted := r.Evict(t0.Add(2*time.Minute), threshold)
	require.Len(t, evicted, 2)

	_, ok := r.Lookup("dead", "a")
	require.False(t, ok)
	_, ok = r.Lookup("mixed", "c")
	require.True(t, ok)
	require.Equal(t, 1, r.OccupantCount())
}

func TestEvict_InactivityAfterUpdatesStillEvicts(t *testing.T) {
	r := New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := time.Minute

	r.now = frozen(t0)
	r.Join("lobby", Occupant{UserID: "a"})

	// Two updates inside the threshold window, then silence.
	r.now = frozen(t0.Add(10 * time.Second))
	require.True(t, r.UpdatePosition("lobby", "a", Movement{}))
	r.now = frozen(t0.Add(20 * time.Second))
	require.True(t, r.UpdatePosition("lobby", "a", Movement{}))

	none := r.Evict(t0.Add(50*time.Second), threshold)
	require.Empty(t, none)

	evicted := r.Evict(t0.Add(20*time.Second+2*time.Minute), threshold)
	require.Len(t, evicted, 1)
	require.Equal(t, "a", evicted[0].Occupant.UserID)
}
