// Package clips keeps the set of arrangement audio clips the renderer draws from,
// each resolved with its warp markers and decoded audio.
package clips

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/wavecue/internal/audio"
	"github.com/satindergrewal/wavecue/internal/live"
	"github.com/satindergrewal/wavecue/internal/tempo"
)

// Clip is a fully resolved, unmuted arrangement clip.
type Clip struct {
	Name        string
	Start       float64 // arrangement beats
	End         float64 // arrangement beats
	StartMarker float64 // clip-relative beat the playable range begins at
	WarpMarkers []tempo.Marker
	Source      string // file path
	Audio       *audio.Buffer
}

// Loader resolves a file path to decoded audio.
type Loader interface {
	Load(path string) (*audio.Buffer, error)
}

// Registry holds the current clip set. Rebuilds replace it wholesale, readers
// see either the old or the new set, never a mix.
type Registry struct {
	loader  Loader
	workers int
	clips   atomic.Pointer[[]Clip]
}

// NewRegistry creates an empty registry. workers bounds concurrent clip
// resolutions per rebuild, values below 1 mean unbounded.
func NewRegistry(loader Loader, workers int) *Registry {
	r := &Registry{loader: loader, workers: workers}
	empty := []Clip{}
	r.clips.Store(&empty)
	return r
}

// Snapshot returns the current clip set. The slice must not be modified.
func (r *Registry) Snapshot() []Clip {
	return *r.clips.Load()
}

// Rebuild resolves every unmuted clip in listing and swaps the result in.
// Any failure leaves the previous set in place and is returned.
func (r *Registry) Rebuild(ctx context.Context, listing []live.Clip) error {
	var active []live.Clip
	for _, c := range listing {
		if !c.Muted {
			active = append(active, c)
		}
	}

	resolved := make([]Clip, len(active))
	g, gctx := errgroup.WithContext(ctx)
	if r.workers > 0 {
		g.SetLimit(r.workers)
	}
	for i, c := range active {
		i, c := i, c
		g.Go(func() error {
			clip, err := r.resolve(gctx, c)
			if err != nil {
				return fmt.Errorf("clip %q: %w", c.Name, err)
			}
			resolved[i] = clip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.clips.Store(&resolved)
	log.Printf("Clip registry rebuilt: %d clips (%d muted skipped)", len(resolved), len(listing)-len(active))
	return nil
}

func (r *Registry) resolve(ctx context.Context, c live.Clip) (Clip, error) {
	if c.Details == nil {
		return Clip{}, fmt.Errorf("no clip details")
	}
	markers, err := c.Details.WarpMarkers(ctx)
	if err != nil {
		return Clip{}, fmt.Errorf("warp markers: %w", err)
	}
	offset, err := c.Details.StartMarker(ctx)
	if err != nil {
		return Clip{}, fmt.Errorf("start marker: %w", err)
	}
	path, err := c.Details.FilePath(ctx)
	if err != nil {
		return Clip{}, fmt.Errorf("file path: %w", err)
	}
	buf, err := r.loader.Load(path)
	if err != nil {
		return Clip{}, err
	}

	return Clip{
		Name:        c.Name,
		Start:       c.Start,
		End:         c.End,
		StartMarker: offset,
		WarpMarkers: markers,
		Source:      path,
		Audio:       buf,
	}, nil
}
