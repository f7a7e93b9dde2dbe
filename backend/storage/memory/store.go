package memory

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"github.com/agyn-ub/eth-minority-rule-sub000/backend/model"
)

// RoomIndex maps room ids to their member sessions and remembers which rooms
// every session has joined. Empty rooms are never kept.
type RoomIndex struct {
	logger zerolog.Logger
	mx     *sync.Mutex
	rooms  map[string]map[string]model.Session
	joined map[string]mapset.Set[string]
}

func NewRoomIndex(logger *zerolog.Logger) *RoomIndex {
	return &RoomIndex{
		logger: logger.With().Str("component", "room-index").Logger(),
		mx:     &sync.Mutex{},
		rooms:  make(map[string]map[string]model.Session),
		joined: make(map[string]mapset.Set[string]),
	}
}

// Subscribe adds s to roomID. It reports false if s was already a member.
func (ri *RoomIndex) Subscribe(s model.Session, roomID string) bool {
	ri.mx.Lock()
	defer ri.mx.Unlock()

	room, ok := ri.rooms[roomID]
	if !ok {
		room = make(map[string]model.Session)
		ri.rooms[roomID] = room
		ri.logger.Debug().Str("room", roomID).Msg("room created")
	}
	if _, ok = room[s.ID()]; ok {
		return false
	}
	room[s.ID()] = s

	rooms, ok := ri.joined[s.ID()]
	if !ok {
		rooms = mapset.NewThreadUnsafeSet[string]()
		ri.joined[s.ID()] = rooms
	}
	rooms.Add(roomID)
	return true
}

// Unsubscribe removes s from roomID. It reports false if s was not a member.
func (ri *RoomIndex) Unsubscribe(s model.Session, roomID string) bool {
	ri.mx.Lock()
	defer ri.mx.Unlock()

	return ri.unsubscribe(s.ID(), roomID)
}

// UnsubscribeAll removes s from every room it has joined and returns those rooms.
func (ri *RoomIndex) UnsubscribeAll(s model.Session) []string {
	ri.mx.Lock()
	defer ri.mx.Unlock()

	rooms, ok := ri.joined[s.ID()]
	if !ok {
		return nil
	}
	left := rooms.ToSlice()
	for _, roomID := range left {
		ri.unsubscribe(s.ID(), roomID)
	}
	delete(ri.joined, s.ID())
	return left
}

func (ri *RoomIndex) unsubscribe(sessionID, roomID string) bool {
	room, ok := ri.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok = room[sessionID]; !ok {
		return false
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(ri.rooms, roomID)
		ri.logger.Debug().Str("room", roomID).Msg("room removed")
	}

	if rooms, ok := ri.joined[sessionID]; ok {
		rooms.Remove(roomID)
		if rooms.Cardinality() == 0 {
			delete(ri.joined, sessionID)
		}
	}
	return true
}

// Members returns a snapshot of the sessions currently in roomID.
func (ri *RoomIndex) Members(roomID string) []model.Session {
	ri.mx.Lock()
	defer ri.mx.Unlock()

	room := ri.rooms[roomID]
	members := make([]model.Session, 0, len(room))
	for _, s := range room {
		members = append(members, s)
	}
	return members
}

// Rooms returns the member count of every live room.
func (ri *RoomIndex) Rooms() map[string]int {
	ri.mx.Lock()
	defer ri.mx.Unlock()

	stats := make(map[string]int, len(ri.rooms))
	for roomID, room := range ri.rooms {
		stats[roomID] = len(room)
	}
	return stats
}
