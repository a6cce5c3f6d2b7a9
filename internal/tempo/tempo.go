// Package tempo maps arrangement beats to audio time through a clip's warp markers.
package tempo

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientWarp is returned when a clip carries fewer than two warp markers.
	ErrInsufficientWarp = errors.New("insufficient warp data")
	// ErrUnordered is returned when warp marker beats are not strictly ascending.
	ErrUnordered = errors.New("warp markers not ascending")
)

// Marker pairs a beat position with the audio time (seconds) it is pinned to.
type Marker struct {
	BeatTime   float64 `json:"beat_time"`
	SampleTime float64 `json:"sample_time"`
}

// Map is a validated piecewise-linear beat -> sample-time mapping.
type Map struct {
	markers []Marker
}

// New validates markers and returns a Map over them.
// The slice is retained, callers must not modify it afterwards.
func New(markers []Marker) (Map, error) {
	if len(markers) < 2 {
		return Map{}, fmt.Errorf("%w: %d markers", ErrInsufficientWarp, len(markers))
	}
	for i := 1; i < len(markers); i++ {
		if markers[i].BeatTime <= markers[i-1].BeatTime {
			return Map{}, fmt.Errorf("%w: beat %v after %v", ErrUnordered, markers[i].BeatTime, markers[i-1].BeatTime)
		}
	}
	return Map{markers: markers}, nil
}

// SampleTime returns the audio time for beat.
// Beats before the first marker clamp to it, beats after the last
// marker follow the slope of the final interval.
func (m Map) SampleTime(beat float64) float64 {
	first := m.markers[0]
	if beat <= first.BeatTime {
		return first.SampleTime
	}

	for i := 0; i < len(m.markers)-1; i++ {
		a, b := m.markers[i], m.markers[i+1]
		if beat >= a.BeatTime && beat <= b.BeatTime {
			return interpolate(a, b, beat)
		}
	}

	n := len(m.markers)
	return interpolate(m.markers[n-2], m.markers[n-1], beat)
}

// BeatToTime is a convenience wrapper for one-off lookups.
func BeatToTime(markers []Marker, beat float64) (float64, error) {
	m, err := New(markers)
	if err != nil {
		return 0, err
	}
	return m.SampleTime(beat), nil
}

func interpolate(a, b Marker, beat float64) float64 {
	return a.SampleTime + (beat-a.BeatTime)/(b.BeatTime-a.BeatTime)*(b.SampleTime-a.SampleTime)
}
