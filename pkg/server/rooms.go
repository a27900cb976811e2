package server

import (
	"sort"
	"sync"
)

// RoomManager tracks which users have an open view of which conversations.
// Rooms are created lazily on first join and removed when the last member
// leaves. Unlike session membership this is purely in-memory state; the
// participant list in the database is the source of truth for authorization.
type RoomManager struct {
	mu      sync.RWMutex
	members map[int64]map[int64]struct{} // roomID -> set of userIDs
}

// NewRoomManager creates a new room manager.
func NewRoomManager() *RoomManager {
	return &RoomManager{
		members: make(map[int64]map[int64]struct{}),
	}
}

// Join adds a user to a room. Users may be in any number of rooms at once.
// Returns false if the user was already a member.
func (rm *RoomManager) Join(roomID, userID int64) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.members[roomID]
	if !ok {
		room = make(map[int64]struct{})
		rm.members[roomID] = room
	}
	if _, already := room[userID]; already {
		return false
	}
	room[userID] = struct{}{}
	return true
}

// Leave removes a user from a room, deleting the room when it empties.
// Returns false if the user was not a member.
func (rm *RoomManager) Leave(roomID, userID int64) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.members[roomID]
	if !ok {
		return false
	}
	if _, member := room[userID]; !member {
		return false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(rm.members, roomID)
	}
	return true
}

// LeaveAll removes the user from every room they are in and returns the
// rooms that were left. Used on disconnect.
func (rm *RoomManager) LeaveAll(userID int64) []int64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var left []int64
	for roomID, room := range rm.members {
		if _, member := room[userID]; member {
			delete(room, userID)
			left = append(left, roomID)
			if len(room) == 0 {
				delete(rm.members, roomID)
			}
		}
	}
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left
}

// Members returns all user IDs in a room.
func (rm *RoomManager) Members(roomID int64) []int64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room := rm.members[roomID]
	result := make([]int64, 0, len(room))
	for uid := range room {
		result = append(result, uid)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// IsMember reports whether a user is in a room.
func (rm *RoomManager) IsMember(roomID, userID int64) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.members[roomID][userID]
	return ok
}

// MembersCount returns how many users are in a room.
func (rm *RoomManager) MembersCount(roomID int64) int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members[roomID])
}
