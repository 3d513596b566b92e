package collab

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = Participant{UserID: "u-alice", DisplayName: "Alice", Email: "alice@example.com"}
	bob   = Participant{UserID: "u-bob", DisplayName: "Bob", Email: "bob@example.com"}
	carol = Participant{UserID: "u-carol", DisplayName: "Carol", Email: "carol@example.com"}
)

func TestRoomRegistry_Join(t *testing.T) {
	t.Parallel()

	r := NewRoomRegistry()

	first := r.Join("n1", alice, "a1")
	assert.True(t, first.CreatedRoom)
	assert.False(t, first.AlreadyPresent)
	assert.Empty(t, first.CurrentParticipants)
	assert.Empty(t, first.Recipients)

	second := r.Join("n1", bob, "b1")
	assert.False(t, second.CreatedRoom)
	assert.Equal(t, []Participant{alice}, second.CurrentParticipants)
	assert.Equal(t, []string{"a1"}, second.Recipients)

	assert.Equal(t, []Participant{alice, bob}, r.Participants("n1"))
	assert.Equal(t, 1, r.Len())
}

func TestRoomRegistry_JoinIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRoomRegistry()
	r.Join("n1", alice, "a1")
	r.Join("n1", bob, "b1")

	again := r.Join("n1", alice, "a1")
	assert.True(t, again.AlreadyPresent)
	assert.False(t, again.CreatedRoom)
	assert.Equal(t, []Participant{bob}, again.CurrentParticipants)

	// a second tab of the same user subscribes without duplicating presence
	tab := r.Join("n1", alice, "a2")
	assert.True(t, tab.AlreadyPresent)
	assert.Equal(t, []Participant{alice, bob}, r.Participants("n1"))
	assert.Equal(t, []string{"a1", "a2"}, r.Recipients("n1", "b1"))
}

func TestRoomRegistry_Leave(t *testing.T) {
	t.Parallel()

	r := NewRoomRegistry()
	r.Join("n1", alice, "a1")
	r.Join("n1", alice, "a2")
	r.Join("n1", bob, "b1")

	res := r.Leave("n1", alice.UserID)
	assert.True(t, res.WasPresent)
	assert.Equal(t, alice, res.Participant)
	assert.Equal(t, []Participant{bob}, res.RemainingParticipants)
	assert.False(t, res.RoomDeleted)
	assert.Equal(t, []string{"b1"}, res.Recipients, "all of alice's subscriptions leave with her")

	assert.Equal(t, LeaveResult{}, r.Leave("n1", alice.UserID), "leaving twice is a no-op")
	assert.Equal(t, LeaveResult{}, r.Leave("missing", alice.UserID))

	last := r.Leave("n1", bob.UserID)
	assert.True(t, last.RoomDeleted)
	assert.Empty(t, last.RemainingParticipants)
	assert.Empty(t, last.Recipients)
	assert.Equal(t, 0, r.Len())

	_, ok := r.Snapshot("n1")
	assert.False(t, ok, "empty rooms are deleted")
}

func TestRoomRegistry_RejoinAfterRoomDeleted(t *testing.T) {
	t.Parallel()

	r := NewRoomRegistry()
	r.Join("n1", alice, "a1")
	r.RecordContent("n1", "draft", time.Now(), "a1")
	r.Leave("n1", alice.UserID)

	res := r.Join("n1", carol, "c1")
	assert.True(t, res.CreatedRoom)
	assert.Empty(t, res.CurrentParticipants)

	snap, ok := r.Snapshot("n1")
	require.True(t, ok)
	assert.Nil(t, snap.LastContent, "a recreated room starts without content")
}

func TestRoomRegistry_JoinLeaveReplay(t *testing.T) {
	t.Parallel()

	type op struct {
		join bool
		user Participant
	}
	sequences := [][]op{
		{{true, alice}, {true, alice}, {false, alice}},
		{{false, alice}, {true, alice}},
		{{true, alice}, {true, bob}, {false, alice}, {true, alice}, {false, bob}},
		{{true, alice}, {false, alice}, {false, alice}, {true, bob}},
	}

	for i, seq := range sequences {
		t.Run(fmt.Sprintf("sequence %d", i), func(t *testing.T) {
			t.Parallel()
			r := NewRoomRegistry()
			naive := map[string]bool{}
			for _, o := range seq {
				if o.join {
					r.Join("n1", o.user, o.user.UserID+"-conn")
					naive[o.user.UserID] = true
				} else {
					r.Leave("n1", o.user.UserID)
					delete(naive, o.user.UserID)
				}
			}

			got := map[string]bool{}
			for _, p := range r.Participants("n1") {
				got[p.UserID] = true
			}
			assert.Equal(t, naive, got)

			_, exists := r.Snapshot("n1")
			assert.Equal(t, len(naive) > 0, exists)
		})
	}
}

func TestRoomRegistry_LeaveAllRoomsFor(t *testing.T) {
	t.Parallel()

	r := NewRoomRegistry()
	r.Join("n1", alice, "a1")
	r.Join("n2", alice, "a1")
	r.Join("n2", bob, "b1")
	r.Join("n3", bob, "b1")

	departures := r.LeaveAllRoomsFor(alice.UserID)
	require.Len(t, departures, 2)

	assert.Equal(t, "n1", departures[0].NoteID)
	assert.True(t, departures[0].RoomDeleted)

	assert.Equal(t, "n2", departures[1].NoteID)
	assert.False(t, departures[1].RoomDeleted)
	assert.Equal(t, []Participant{bob}, departures[1].RemainingParticipants)
	assert.Equal(t, []string{"b1"}, departures[1].Recipients)

	assert.Empty(t, r.LeaveAllRoomsFor(alice.UserID))
	assert.Equal(t, 2, r.Len())
}

func TestRoomRegistry_RecordContent(t *testing.T) {
	t.Parallel()

	r := NewRoomRegistry()

	recipients, ok := r.RecordContent("n1", "orphan", time.Now(), "a1")
	assert.False(t, ok)
	assert.Nil(t, recipients)
	assert.Equal(t, 0, r.Len(), "recording content never creates a room")

	r.Join("n1", alice, "a1")
	r.Join("n1", bob, "b1")

	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)

	recipients, ok = r.RecordContent("n1", "hello", t1, "a1")
	require.True(t, ok)
	assert.Equal(t, []string{"b1"}, recipients)

	// last write wins even with an older timestamp
	_, ok = r.RecordContent("n1", "older", t0, "b1")
	require.True(t, ok)

	snap, ok := r.Snapshot("n1")
	require.True(t, ok)
	require.NotNil(t, snap.LastContent)
	assert.Equal(t, "older", *snap.LastContent)
	assert.Equal(t, t0, *snap.LastUpdatedAt)
}

func TestRoomRegistry_Unsubscribe(t *testing.T) {
	t.Parallel()

	r := NewRoomRegistry()
	r.Join("n1", alice, "a1")
	r.Join("n1", alice, "a2")
	r.Join("n2", alice, "a2")
	r.Join("n1", bob, "b1")

	r.Unsubscribe("a2")

	assert.Equal(t, []string{"a1"}, r.Recipients("n1", "b1"))
	assert.Empty(t, r.Recipients("n2", ""))
	assert.Equal(t, []Participant{alice}, r.Participants("n2"), "presence is untouched")
}

func TestRoomRegistry_ConcurrentFirstJoinCreatesOneRoom(t *testing.T) {
	t.Parallel()

	for range 20 {
		r := NewRoomRegistry()
		var created sync.Map
		var wg sync.WaitGroup
		for _, p := range []Participant{alice, bob} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := r.Join("fresh", p, p.UserID+"-conn")
				created.Store(p.UserID, res.CreatedRoom)
			}()
		}
		wg.Wait()

		creations := 0
		created.Range(func(_, v any) bool {
			if v.(bool) {
				creations++
			}
			return true
		})
		assert.Equal(t, 1, creations)
		assert.Equal(t, 1, r.Len())
		assert.Len(t, r.Participants("fresh"), 2)
	}
}
