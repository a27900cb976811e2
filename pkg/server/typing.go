package server

import (
	"sort"
	"sync"
	"time"
)

// TypingTracker tracks who is typing in which room. Every typing signal arms
// a per-user expiry timer; a fresh signal cancels the old timer before
// arming a new one, so a continuously typing user never flickers. When a
// timer fires the user is removed and the onExpire callback runs.
type TypingTracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	timers   map[int64]map[int64]*time.Timer // roomID -> userID -> expiry timer
	onExpire func(roomID, userID int64)
}

// NewTypingTracker creates a tracker with the given indicator lifetime.
func NewTypingTracker(ttl time.Duration, onExpire func(roomID, userID int64)) *TypingTracker {
	return &TypingTracker{
		ttl:      ttl,
		timers:   make(map[int64]map[int64]*time.Timer),
		onExpire: onExpire,
	}
}

// Start marks the user as typing in the room, restarting the expiry timer if
// one was already armed.
func (tt *TypingTracker) Start(roomID, userID int64) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	room, ok := tt.timers[roomID]
	if !ok {
		room = make(map[int64]*time.Timer)
		tt.timers[roomID] = room
	}
	if old, armed := room[userID]; armed {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(tt.ttl, func() {
		tt.expire(roomID, userID, timer)
	})
	room[userID] = timer
}

// Stop clears the user's typing state in the room. Returns false if the user
// was not typing.
func (tt *TypingTracker) Stop(roomID, userID int64) bool {
	tt.mu.Lock()
	timer, ok := tt.timers[roomID][userID]
	if ok {
		timer.Stop()
		tt.remove(roomID, userID)
	}
	tt.mu.Unlock()
	return ok
}

// ClearUser clears the user's typing state everywhere and returns the rooms
// that changed. Used on disconnect.
func (tt *TypingTracker) ClearUser(userID int64) []int64 {
	tt.mu.Lock()
	var cleared []int64
	for roomID, room := range tt.timers {
		if timer, ok := room[userID]; ok {
			timer.Stop()
			delete(room, userID)
			if len(room) == 0 {
				delete(tt.timers, roomID)
			}
			cleared = append(cleared, roomID)
		}
	}
	tt.mu.Unlock()
	sort.Slice(cleared, func(i, j int) bool { return cleared[i] < cleared[j] })
	return cleared
}

// Typists returns the users currently typing in a room.
func (tt *TypingTracker) Typists(roomID int64) []int64 {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	room := tt.timers[roomID]
	result := make([]int64, 0, len(room))
	for uid := range room {
		result = append(result, uid)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// expire runs on the timer goroutine. The timer may have been stopped and
// replaced after it fired but before we took the lock; only act if the armed
// timer is still ours.
func (tt *TypingTracker) expire(roomID, userID int64, timer *time.Timer) {
	tt.mu.Lock()
	if current, ok := tt.timers[roomID][userID]; !ok || current != timer {
		tt.mu.Unlock()
		return
	}
	tt.remove(roomID, userID)
	tt.mu.Unlock()

	if tt.onExpire != nil {
		tt.onExpire(roomID, userID)
	}
}

// remove deletes the user's timer entry. Caller holds the lock.
func (tt *TypingTracker) remove(roomID, userID int64) {
	room := tt.timers[roomID]
	delete(room, userID)
	if len(room) == 0 {
		delete(tt.timers, roomID)
	}
}
