package relay

import "time"

type typingKey struct {
	file   string
	userId string
}

// typingTracker holds the short-lived (file, user) typing entries for one
// room. It is owned by the room goroutine and needs no locking. Entries
// older than the idle timeout are swept so an indicator can never stay on
// when a client vanishes without sending a stop.
type typingTracker struct {
	timeout time.Duration
	entries map[typingKey]time.Time
}

func newTypingTracker(timeout time.Duration) *typingTracker {
	return &typingTracker{
		timeout: timeout,
		entries: make(map[typingKey]time.Time),
	}
}

// start records or refreshes a typing entry and reports whether this was a
// transition into the typing state.
func (t *typingTracker) start(file, userId string, now time.Time) bool {
	key := typingKey{file: file, userId: userId}
	_, active := t.entries[key]
	t.entries[key] = now
	return !active
}

// stop clears an entry and reports whether it was active.
func (t *typingTracker) stop(file, userId string) bool {
	key := typingKey{file: file, userId: userId}
	if _, active := t.entries[key]; !active {
		return false
	}
	delete(t.entries, key)
	return true
}

// expire removes entries whose last refresh is older than the idle timeout
// and returns them so the room can announce the stops.
func (t *typingTracker) expire(now time.Time) []typingKey {
	var expired []typingKey
	for key, startedAt := range t.entries {
		if now.Sub(startedAt) > t.timeout {
			delete(t.entries, key)
			expired = append(expired, key)
		}
	}
	return expired
}

// stopAllForUser clears every entry owned by a user, used when the user's
// last connection leaves the room.
func (t *typingTracker) stopAllForUser(userId string) []typingKey {
	var stopped []typingKey
	for key := range t.entries {
		if key.userId == userId {
			delete(t.entries, key)
			stopped = append(stopped, key)
		}
	}
	return stopped
}
