package collab

import (
	"cmp"
	"slices"
	"sort"
	"sync"
	"time"
)

// JoinResult is the aftermath of RoomRegistry.Join.
type JoinResult struct {
	// CreatedRoom is true when this join brought the room into existence.
	CreatedRoom bool
	// AlreadyPresent is true when the user was present before this join.
	AlreadyPresent bool
	// CurrentParticipants lists everyone present before the join, excluding the joiner.
	CurrentParticipants []Participant
	// Recipients are the room's subscribed connections other than the joining one.
	Recipients []string
}

// LeaveResult is the aftermath of RoomRegistry.Leave.
type LeaveResult struct {
	// WasPresent is false when the user was not in the room; nothing changed.
	WasPresent bool
	// Participant is the identity that left.
	Participant           Participant
	RemainingParticipants []Participant
	RoomDeleted           bool
	// Recipients are the connections still subscribed to the room.
	Recipients []string
}

// Departure is one room's aftermath in LeaveAllRoomsFor.
type Departure struct {
	NoteID string
	LeaveResult
}

// RoomSnapshot is a point-in-time copy of a room.
type RoomSnapshot struct {
	NoteID        string
	Participants  []Participant
	LastContent   *string
	LastUpdatedAt *time.Time
}

type member struct {
	participant Participant
	seq         uint64
}

type room struct {
	noteID        string
	participants  map[string]member
	subscribers   map[string]string // connection id -> user id
	lastContent   *string
	lastUpdatedAt *time.Time
}

// RoomRegistry tracks who is present in each note and the last content seen.
// A room exists only while it has at least one participant.
// Every method applies atomically under one registry-wide lock.
type RoomRegistry struct {
	mu     sync.Mutex
	rooms  map[string]*room
	byUser map[string]map[string]struct{} // user id -> note ids
	byConn map[string]map[string]struct{} // connection id -> note ids
	seq    uint64
}

// NewRoomRegistry returns an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms:  make(map[string]*room),
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join makes p present in noteID and subscribes connID to the room's broadcasts.
// Joining twice is idempotent for presence.
func (r *RoomRegistry) Join(noteID string, p Participant, connID string) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[noteID]
	created := !ok
	if created {
		rm = &room{
			noteID:       noteID,
			participants: make(map[string]member),
			subscribers:  make(map[string]string),
		}
		r.rooms[noteID] = rm
	}

	res := JoinResult{
		CreatedRoom:         created,
		CurrentParticipants: rm.list(p.UserID),
		Recipients:          rm.recipients(connID),
	}

	if _, present := rm.participants[p.UserID]; present {
		res.AlreadyPresent = true
	} else {
		r.seq++
		rm.participants[p.UserID] = member{participant: p, seq: r.seq}
		index(r.byUser, p.UserID, noteID)
	}

	if connID != "" {
		rm.subscribers[connID] = p.UserID
		index(r.byConn, connID, noteID)
	}

	return res
}

// Leave removes userID from noteID along with every subscription the user
// held in that room, and deletes the room when it becomes empty.
func (r *RoomRegistry) Leave(noteID, userID string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(noteID, userID)
}

func (r *RoomRegistry) leaveLocked(noteID, userID string) LeaveResult {
	rm, ok := r.rooms[noteID]
	if !ok {
		return LeaveResult{}
	}
	m, present := rm.participants[userID]
	if !present {
		return LeaveResult{}
	}

	delete(rm.participants, userID)
	unindex(r.byUser, userID, noteID)
	for connID, owner := range rm.subscribers {
		if owner == userID {
			delete(rm.subscribers, connID)
			unindex(r.byConn, connID, noteID)
		}
	}

	res := LeaveResult{
		WasPresent:            true,
		Participant:           m.participant,
		RemainingParticipants: rm.list(""),
		Recipients:            rm.recipients(""),
	}

	if len(rm.participants) == 0 {
		for connID := range rm.subscribers {
			unindex(r.byConn, connID, noteID)
		}
		delete(r.rooms, noteID)
		res.RoomDeleted = true
	}
	return res
}

// LeaveAllRoomsFor removes userID from every room it is present in and
// returns one Departure per affected room.
func (r *RoomRegistry) LeaveAllRoomsFor(userID string) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	notes := make([]string, 0, len(r.byUser[userID]))
	for noteID := range r.byUser[userID] {
		notes = append(notes, noteID)
	}
	sort.Strings(notes)

	departures := make([]Departure, 0, len(notes))
	for _, noteID := range notes {
		res := r.leaveLocked(noteID, userID)
		if res.WasPresent {
			departures = append(departures, Departure{NoteID: noteID, LeaveResult: res})
		}
	}
	return departures
}

// Unsubscribe drops connID from every room's broadcast list without touching
// presence. Used when a user closes one of several connections.
func (r *RoomRegistry) Unsubscribe(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for noteID := range r.byConn[connID] {
		if rm, ok := r.rooms[noteID]; ok {
			delete(rm.subscribers, connID)
		}
	}
	delete(r.byConn, connID)
}

// RecordContent overwrites the room's last known content (last write wins)
// and returns the subscribed connections other than fromConnID.
// It reports false, recording nothing, when the room does not exist.
func (r *RoomRegistry) RecordContent(noteID, content string, at time.Time, fromConnID string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[noteID]
	if !ok {
		return nil, false
	}
	rm.lastContent = &content
	rm.lastUpdatedAt = &at
	return rm.recipients(fromConnID), true
}

// Recipients returns the connections subscribed to noteID other than exceptConnID.
func (r *RoomRegistry) Recipients(noteID, exceptConnID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[noteID]
	if !ok {
		return nil
	}
	return rm.recipients(exceptConnID)
}

// Participants returns who is present in noteID, in join order.
func (r *RoomRegistry) Participants(noteID string) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[noteID]
	if !ok {
		return []Participant{}
	}
	return rm.list("")
}

// Snapshot copies a room's state. It reports false when the room does not exist.
func (r *RoomRegistry) Snapshot(noteID string) (RoomSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[noteID]
	if !ok {
		return RoomSnapshot{}, false
	}
	snap := RoomSnapshot{NoteID: noteID, Participants: rm.list("")}
	if rm.lastContent != nil {
		content := *rm.lastContent
		snap.LastContent = &content
	}
	if rm.lastUpdatedAt != nil {
		at := *rm.lastUpdatedAt
		snap.LastUpdatedAt = &at
	}
	return snap, true
}

// Len returns the number of rooms.
func (r *RoomRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// list returns participants in join order, skipping exceptUserID.
func (rm *room) list(exceptUserID string) []Participant {
	members := make([]member, 0, len(rm.participants))
	for userID, m := range rm.participants {
		if userID != exceptUserID {
			members = append(members, m)
		}
	}
	slices.SortFunc(members, func(a, b member) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]Participant, len(members))
	for i, m := range members {
		out[i] = m.participant
	}
	return out
}

func (rm *room) recipients(exceptConnID string) []string {
	out := make([]string, 0, len(rm.subscribers))
	for connID := range rm.subscribers {
		if connID != exceptConnID {
			out = append(out, connID)
		}
	}
	sort.Strings(out)
	return out
}

func index(idx map[string]map[string]struct{}, key, noteID string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[noteID] = struct{}{}
}

func unindex(idx map[string]map[string]struct{}, key, noteID string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, noteID)
	if len(set) == 0 {
		delete(idx, key)
	}
}
