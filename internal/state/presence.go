package state

import "time"

// DefaultLivenessWindow is how long a cursor stays live after its last
// update before peers stop showing it.
const DefaultLivenessWindow = 10 * time.Second

// LiveCursors filters the cursor map down to the remote cursors worth
// drawing: the caller's own entry is dropped, and so is anything whose
// LastActive is outside the liveness window. Nothing is removed from the
// document; liveness is purely a read-time view. A window <= 0 selects
// DefaultLivenessWindow.
func LiveCursors(cursors map[string]Cursor, self string, now time.Time, window time.Duration) map[string]Cursor {
	if window <= 0 {
		window = DefaultLivenessWindow
	}
	live := make(map[string]Cursor)
	for actor, cur := range cursors {
		if actor == self {
			continue
		}
		if now.Sub(cur.LastActive) > window {
			continue
		}
		live[actor] = cur
	}
	return live
}
