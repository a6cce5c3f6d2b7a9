// Package audio decodes clip source files into mono sample buffers and caches them per path.
package audio

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnsupportedFormat is returned for files that are not WAV, AIFF or MP3.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrUnsupportedChannels is returned for anything other than mono or stereo audio.
	ErrUnsupportedChannels = errors.New("unsupported channel count")
)

// Decoded is the raw output of a decoder: one sample slice per channel in [-1, 1].
type Decoded struct {
	Channels   [][]float32
	SampleRate int
}

// Buffer is a decoded, downmixed clip source. It is never modified after
// creation and is shared by every clip that references the same file.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Downmix folds a decoded file into a mono Buffer. Stereo channels are
// averaged sample by sample, mono is used as is.
func Downmix(d Decoded) (*Buffer, error) {
	if d.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", d.SampleRate)
	}
	switch len(d.Channels) {
	case 1:
		return &Buffer{Samples: d.Channels[0], SampleRate: d.SampleRate}, nil
	case 2:
		left, right := d.Channels[0], d.Channels[1]
		if len(right) < len(left) {
			return nil, fmt.Errorf("channel length mismatch: %d vs %d", len(left), len(right))
		}
		mono := make([]float32, len(left))
		for i := range left {
			mono[i] = (left[i] + right[i]) / 2
		}
		return &Buffer{Samples: mono, SampleRate: d.SampleRate}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChannels, len(d.Channels))
	}
}

// Window returns the samples between two audio times (seconds).
// Indices are truncated and clamped to the buffer, an inverted range is empty.
func (b *Buffer) Window(from, to float64) []float32 {
	start := b.index(from)
	end := b.index(to)
	if start >= end {
		return nil
	}
	return b.Samples[start:end]
}

func (b *Buffer) index(seconds float64) int {
	pos := math.Trunc(seconds * float64(b.SampleRate))
	switch {
	case math.IsNaN(pos) || pos <= 0:
		return 0
	case pos >= float64(len(b.Samples)):
		return len(b.Samples)
	}
	return int(pos)
}
