// Package live describes the audio workstation session the engine follows:
// tracks, arrangement clips, cue points and the play position, each exposed as a
// property that can be read on demand or subscribed to.
package live

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/satindergrewal/wavecue/internal/arrangement"
	"github.com/satindergrewal/wavecue/internal/tempo"
)

// ErrTrackNotFound is returned when no track name starts with the wanted prefix.
var ErrTrackNotFound = errors.New("track not found")

// Property is a session value that can be fetched or observed.
type Property[T any] interface {
	// Get fetches the current value.
	Get(ctx context.Context) (T, error)
	// Subscribe registers fn for every new value. The returned func removes it.
	Subscribe(fn func(T)) (unsubscribe func())
}

// Session is the live set the engine follows.
type Session interface {
	Tracks() Property[[]Track]
	CuePoints() Property[[]arrangement.CuePoint]
	SongTime() Property[float64] // beats
}

// Track is one session track.
type Track struct {
	ID    string
	Name  string
	Clips Property[[]Clip] // arrangement clips
}

// Clip is an arrangement clip as listed by its track.
type Clip struct {
	Name    string
	Start   float64 // beats
	End     float64 // beats
	Muted   bool
	Details ClipDetails
}

// ClipDetails fetches the per-clip properties that are not part of the clip listing.
type ClipDetails interface {
	WarpMarkers(ctx context.Context) ([]tempo.Marker, error)
	StartMarker(ctx context.Context) (float64, error)
	FilePath(ctx context.Context) (string, error)
}

// FindTrack returns the first track whose name starts with prefix.
func FindTrack(tracks []Track, prefix string) (Track, error) {
	for _, t := range tracks {
		if strings.HasPrefix(t.Name, prefix) {
			return t, nil
		}
	}
	return Track{}, fmt.Errorf("%w: no track named %q...", ErrTrackNotFound, prefix)
}

// StaticDetails serves clip details that arrived together with the clip listing.
type StaticDetails struct {
	Markers []tempo.Marker
	Offset  float64
	Path    string
}

func (d StaticDetails) WarpMarkers(context.Context) ([]tempo.Marker, error) { return d.Markers, nil }
func (d StaticDetails) StartMarker(context.Context) (float64, error)        { return d.Offset, nil }
func (d StaticDetails) FilePath(context.Context) (string, error)            { return d.Path, nil }
