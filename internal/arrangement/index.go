// Package arrangement derives section and song boundaries from arrangement markers
// and tracks which song brackets the play position.
package arrangement

import (
	"slices"
	"sync"
)

// CuePoint is a named locator in the arrangement.
type CuePoint struct {
	Name string  `json:"name"`
	Time float64 `json:"time"` // beats
}

// Snapshot is an immutable view of the derived boundaries.
type Snapshot struct {
	Sections []float64 // section start beats, ascending
	Songs    []float64 // song boundary beats
}

// Index owns the section markers and song boundaries. Both sequences are
// replaced wholesale on every update, so snapshots stay valid after later updates.
type Index struct {
	mu        sync.RWMutex
	sections  []float64
	cuePoints []CuePoint
	songs     []float64
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{}
}

// SetSections stores new section starts and recomputes song boundaries
// against the cached cue points.
func (x *Index) SetSections(starts []float64) {
	sections := slices.Clone(starts)
	slices.Sort(sections)

	x.mu.Lock()
	defer x.mu.Unlock()
	x.sections = sections
	x.songs = SongBoundaries(x.cuePoints, sections)
}

// SetCuePoints caches cue points (kept in their original order) and
// recomputes song boundaries against the current section starts.
func (x *Index) SetCuePoints(points []CuePoint) {
	cached := slices.Clone(points)

	x.mu.Lock()
	defer x.mu.Unlock()
	x.cuePoints = cached
	x.songs = SongBoundaries(cached, x.sections)
}

// Snapshot returns the current boundaries.
func (x *Index) Snapshot() Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Snapshot{Sections: x.sections, Songs: x.songs}
}

// SongBoundaries keeps every cue point that starts a song: any cue point whose
// name is not purely numeric, and numeric ones that sit on no section start.
func SongBoundaries(points []CuePoint, sections []float64) []float64 {
	songs := make([]float64, 0, len(points))
	for _, p := range points {
		if !isNumeric(p.Name) || !slices.Contains(sections, p.Time) {
			songs = append(songs, p.Time)
		}
	}
	return songs
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// SongSections returns the start beats of the sections inside song and the
// song's end beat. A song without a closing boundary has no sections.
func (s Snapshot) SongSections(song int) (starts []float64, end float64, ok bool) {
	if song < 0 || song+1 >= len(s.Songs) {
		return nil, 0, false
	}
	begin, end := s.Songs[song], s.Songs[song+1]
	for _, t := range s.Sections {
		if t >= begin && t < end {
			starts = append(starts, t)
		}
	}
	return starts, end, true
}
