package arrangement

import "sync"

// NoSong is the active index before the first song boundary.
const NoSong = -1

// Tracker remembers which song brackets the play position.
type Tracker struct {
	mu     sync.Mutex
	active int
	known  bool
}

// NewTracker creates a tracker with no active song recorded yet,
// so the first Update always reports a change.
func NewTracker() *Tracker {
	return &Tracker{active: NoSong}
}

// Update computes the active song for position and stores it.
// changed is false when the index is the same as the stored one.
func (t *Tracker) Update(position float64, songs []float64) (index int, changed bool) {
	index = ActiveSong(position, songs)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.known && t.active == index {
		return index, false
	}
	t.active = index
	t.known = true
	return index, true
}

// Active returns the stored index, NoSong until the first Update.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// ActiveSong returns the index of the last boundary at or before position,
// or NoSong when position precedes every boundary.
func ActiveSong(position float64, songs []float64) int {
	for i := len(songs) - 1; i >= 0; i-- {
		if songs[i] <= position {
			return i
		}
	}
	return NoSong
}
