package tempo

import (
	"errors"
	"math"
	"testing"
)

func TestSampleTimeAtMarkers(t *testing.T) {
	markers := []Marker{{BeatTime: 0, SampleTime: 0.25}, {BeatTime: 4, SampleTime: 2.25}}
	m, err := New(markers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, mk := range markers {
		if got := m.SampleTime(mk.BeatTime); got != mk.SampleTime {
			t.Errorf("SampleTime(%v) = %v, want %v", mk.BeatTime, got, mk.SampleTime)
		}
	}
}

func TestSampleTimeInterpolates(t *testing.T) {
	m, err := New([]Marker{{0, 0}, {4, 2}, {8, 6}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tests := []struct {
		beat float64
		want float64
	}{
		{1, 0.5},
		{2, 1},
		{4, 2},
		{6, 4},
		{7, 5},
	}
	for _, tt := range tests {
		if got := m.SampleTime(tt.beat); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("SampleTime(%v) = %v, want %v", tt.beat, got, tt.want)
		}
	}
}

func TestSampleTimeLeftClamp(t *testing.T) {
	m, err := New([]Marker{{2, 1}, {6, 3}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, beat := range []float64{2, 1.999, 0, -16, -1e9} {
		if got := m.SampleTime(beat); got != 1 {
			t.Errorf("SampleTime(%v) = %v, want 1 (clamped)", beat, got)
		}
	}
}

func TestSampleTimeExtrapolatesPastLast(t *testing.T) {
	got, err := BeatToTime([]Marker{{0, 0}, {1, 10}}, 2)
	if err != nil {
		t.Fatalf("BeatToTime: %v", err)
	}
	if got != 20 {
		t.Errorf("BeatToTime(2) = %v, want 20", got)
	}

	// Slope comes from the final interval only.
	m, _ := New([]Marker{{0, 0}, {4, 4}, {8, 6}})
	if got := m.SampleTime(12); got != 8 {
		t.Errorf("SampleTime(12) = %v, want 8", got)
	}
}

func TestSampleTimeMonotonic(t *testing.T) {
	m, err := New([]Marker{{0, 0}, {3, 1}, {5, 4}, {9, 5}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prev := m.SampleTime(-1)
	for i := 0; i <= 140; i++ {
		beat := float64(i) / 10
		got := m.SampleTime(beat)
		if got < prev {
			t.Errorf("SampleTime not monotonic: f(%v)=%v < %v", beat, got, prev)
		}
		prev = got
	}
}

func TestNewInsufficientWarp(t *testing.T) {
	for _, markers := range [][]Marker{nil, {}, {{0, 0}}} {
		if _, err := New(markers); !errors.Is(err, ErrInsufficientWarp) {
			t.Errorf("New(%v) error = %v, want ErrInsufficientWarp", markers, err)
		}
	}
	if _, err := BeatToTime([]Marker{{1, 1}}, 3); !errors.Is(err, ErrInsufficientWarp) {
		t.Errorf("BeatToTime error = %v, want ErrInsufficientWarp", err)
	}
}

func TestNewUnordered(t *testing.T) {
	tests := [][]Marker{
		{{4, 0}, {2, 1}},
		{{0, 0}, {2, 1}, {2, 3}},
	}
	for _, markers := range tests {
		if _, err := New(markers); !errors.Is(err, ErrUnordered) {
			t.Errorf("New(%v) error = %v, want ErrUnordered", markers, err)
		}
	}
}
