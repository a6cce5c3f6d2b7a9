// Package render turns the active song's sections into fixed-resolution
// min/max envelopes and sends the ones that changed since the last pass.
package render

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/satindergrewal/wavecue/internal/arrangement"
	"github.com/satindergrewal/wavecue/internal/clips"
	"github.com/satindergrewal/wavecue/internal/transport"
)

// ErrStaleSong is returned by Render when its input is for a song other than
// the one the renderer was last reset to.
var ErrStaleSong = errors.New("render input is for an inactive song")

// Input is everything a render pass reads.
type Input struct {
	Song        int
	Arrangement arrangement.Snapshot
	Clips       []clips.Clip
}

// Renderer owns the per-section fingerprint cache of the active song.
type Renderer struct {
	sender     transport.Sender
	resolution int

	// mu is held for a whole render or reset so transmissions never interleave.
	mu     sync.Mutex
	song   int
	prints []string

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	resets   atomic.Int32 // resets waiting for mu
}

// New creates a renderer that sends through sender.
func New(sender transport.Sender, resolution int) *Renderer {
	return &Renderer{
		sender:     sender,
		resolution: resolution,
		song:       arrangement.NoSong,
	}
}

// Resolution returns the number of envelope points per channel.
func (r *Renderer) Resolution() int {
	return r.resolution
}

// Reset switches the cache to song. Any render in flight is cancelled and
// waited for, the cache is emptied and the display is told to clear.
func (r *Renderer) Reset(ctx context.Context, song int) error {
	r.resets.Add(1)
	r.cancelMu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancelMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets.Add(-1)
	r.song = song
	r.prints = nil
	return r.sender.Clear(ctx)
}

// Render sends every section of the active song whose fingerprint changed,
// strictly one after another, and returns how many were sent. A failed send
// is logged and leaves that section's fingerprint stale so the next pass
// retries it.
func (r *Renderer) Render(ctx context.Context, in Input) (int, error) {
	// The cancel func is visible before mu is taken so a Reset racing with
	// the start of a pass still stops it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancelMu.Lock()
	r.cancel = cancel
	r.cancelMu.Unlock()
	defer func() {
		r.cancelMu.Lock()
		r.cancel = nil
		r.cancelMu.Unlock()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if in.Song != r.song || r.resets.Load() > 0 {
		return 0, ErrStaleSong
	}

	starts, songEnd, ok := in.Arrangement.SongSections(in.Song)
	if !ok {
		return 0, nil
	}

	sent := 0
	for i, start := range starts {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if r.resets.Load() > 0 {
			return sent, ErrStaleSong
		}

		end := songEnd
		if i+1 < len(starts) {
			end = starts[i+1]
		}

		overlapping := Overlapping(in.Clips, start, end)
		fp := Fingerprint(start, end, overlapping)
		if i < len(r.prints) && r.prints[i] == fp {
			continue
		}

		payload, err := Envelope(ctx, start, end, overlapping, r.resolution)
		if err != nil {
			return sent, err
		}
		if err := r.sender.SendSection(ctx, i, payload); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			log.Printf("Send section %d failed: %v", i, err)
			continue
		}
		r.remember(i, fp)
		sent++
	}
	return sent, nil
}

func (r *Renderer) remember(i int, fp string) {
	for len(r.prints) <= i {
		r.prints = append(r.prints, "")
	}
	r.prints[i] = fp
}
