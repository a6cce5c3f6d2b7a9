// Package engine follows a live session and keeps the waveform display in
// sync with the section of the song being played.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/satindergrewal/wavecue/internal/arrangement"
	"github.com/satindergrewal/wavecue/internal/clips"
	"github.com/satindergrewal/wavecue/internal/live"
	"github.com/satindergrewal/wavecue/internal/render"
	"github.com/satindergrewal/wavecue/internal/transport"
)

// Config holds engine parameters.
type Config struct {
	DynamicsPrefix string // audio track name prefix
	SectionsPrefix string // section marker track name prefix
	Resolution     int    // envelope points per channel
	DecodeWorkers  int    // concurrent clip resolutions
}

// Status is a point-in-time view for the status endpoint.
type Status struct {
	ActiveSong int       `json:"active_song"`
	Position   float64   `json:"position"`
	Songs      []float64 `json:"songs"`
	Sections   []float64 `json:"sections"`
	Clips      int       `json:"clips"`
	Rebuilding bool      `json:"rebuilding"`
}

type binding struct {
	id    string
	unsub func()
}

func (b *binding) rebind(t live.Track, fn func([]live.Clip)) {
	if b.unsub != nil {
		b.unsub()
	}
	b.id = t.ID
	b.unsub = t.Clips.Subscribe(fn)
}

func (b *binding) release() {
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
}

// drop forgets the bound track so the next track list binds it again.
func (b *binding) drop() {
	b.release()
	b.id = ""
}

// Engine owns every piece of mutable state: arrangement index, active song,
// clip registry and the renderer's section cache. Session notifications land
// in per-source mailboxes and are handled one at a time by Run.
type Engine struct {
	session  live.Session
	cfg      Config
	index    *arrangement.Index
	tracker  *arrangement.Tracker
	registry *clips.Registry
	renderer *render.Renderer

	tracks       *mailbox[[]live.Track]
	cues         *mailbox[[]arrangement.CuePoint]
	position     *mailbox[float64]
	sectionClips *mailbox[[]live.Clip]
	audioClips   *mailbox[[]live.Clip]

	rebuilt  chan error
	renderCh chan struct{}

	// owned by Run
	dynamics   binding
	sections   binding
	rebuilding bool

	mu   sync.RWMutex
	pos  float64
	busy bool
}

// New creates an engine. loader resolves clip audio, sender receives envelopes.
func New(session live.Session, loader clips.Loader, sender transport.Sender, cfg Config) *Engine {
	return &Engine{
		session:  session,
		cfg:      cfg,
		index:    arrangement.NewIndex(),
		tracker:  arrangement.NewTracker(),
		registry: clips.NewRegistry(loader, cfg.DecodeWorkers),
		renderer: render.New(sender, cfg.Resolution),

		tracks:       newMailbox[[]live.Track](),
		cues:         newMailbox[[]arrangement.CuePoint](),
		position:     newMailbox[float64](),
		sectionClips: newMailbox[[]live.Clip](),
		audioClips:   newMailbox[[]live.Clip](),

		rebuilt:  make(chan error, 1),
		renderCh: make(chan struct{}, 1),
	}
}

// Status returns the current engine state.
func (e *Engine) Status() Status {
	snap := e.index.Snapshot()
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{
		ActiveSong: e.tracker.Active(),
		Position:   e.pos,
		Songs:      snap.Songs,
		Sections:   snap.Sections,
		Clips:      len(e.registry.Snapshot()),
		Rebuilding: e.busy,
	}
}

// Run subscribes to the session, loads its current state and processes
// updates until ctx is cancelled. Errors while loading the initial state
// are returned; later errors are logged.
func (e *Engine) Run(ctx context.Context) error {
	defer e.dynamics.release()
	defer e.sections.release()

	unsubTracks := e.session.Tracks().Subscribe(e.tracks.put)
	defer unsubTracks()
	tracks, err := e.session.Tracks().Get(ctx)
	if err != nil {
		return fmt.Errorf("get tracks: %w", err)
	}
	if err := e.bindTracks(ctx, tracks); err != nil {
		return err
	}

	unsubCues := e.session.CuePoints().Subscribe(e.cues.put)
	defer unsubCues()
	cues, err := e.session.CuePoints().Get(ctx)
	if err != nil {
		return fmt.Errorf("get cue points: %w", err)
	}
	e.index.SetCuePoints(cues)

	unsubPos := e.session.SongTime().Subscribe(e.position.put)
	defer unsubPos()
	pos, err := e.session.SongTime().Get(ctx)
	if err != nil {
		return fmt.Errorf("get song time: %w", err)
	}
	e.setPosition(pos)
	e.checkActiveSong(ctx)

	go e.renderLoop(ctx)

	log.Printf("Engine running (dynamics track %s, sections track %s)", e.dynamics.id, e.sections.id)
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-e.tracks.ready:
			if tracks, ok := e.tracks.take(); ok {
				if err := e.bindTracks(ctx, tracks); err != nil {
					log.Printf("Track binding: %v", err)
				}
			}

		case <-e.cues.ready:
			if cues, ok := e.cues.take(); ok {
				e.index.SetCuePoints(cues)
				log.Printf("Cue points updated: %d songs", len(e.index.Snapshot().Songs))
				e.checkActiveSong(ctx)
				e.requestRender()
			}

		case <-e.sectionClips.ready:
			if listing, ok := e.sectionClips.take(); ok {
				e.index.SetSections(sectionStarts(listing))
				log.Printf("Sections updated: %d markers", len(listing))
				e.checkActiveSong(ctx)
				e.requestRender()
			}

		case <-e.position.ready:
			if pos, ok := e.position.take(); ok {
				e.setPosition(pos)
				e.checkActiveSong(ctx)
			}

		case <-e.audioClips.ready:
			if !e.rebuilding {
				e.startRebuild(ctx)
			}

		case err := <-e.rebuilt:
			e.setRebuilding(false)
			if err != nil {
				log.Printf("Clip registry rebuild failed, keeping previous clips: %v", err)
			} else {
				e.requestRender()
			}
			// Updates that arrived during the rebuild collapse into one more pass.
			if e.audioClips.pending() {
				e.startRebuild(ctx)
			}
		}
	}
}

// bindTracks follows the first tracks matching the configured prefixes,
// switching subscriptions only when the matched track changed. A track whose
// clips cannot be fetched is left unbound and retried on the next track list.
func (e *Engine) bindTracks(ctx context.Context, tracks []live.Track) error {
	dyn, err := live.FindTrack(tracks, e.cfg.DynamicsPrefix)
	if err != nil {
		return err
	}
	sec, err := live.FindTrack(tracks, e.cfg.SectionsPrefix)
	if err != nil {
		return err
	}

	if dyn.ID != e.dynamics.id {
		e.dynamics.rebind(dyn, e.audioClips.put)
		listing, err := dyn.Clips.Get(ctx)
		if err != nil {
			e.dynamics.drop()
			return fmt.Errorf("get clips of %q: %w", dyn.Name, err)
		}
		e.audioClips.put(listing)
		log.Printf("Bound audio track %q (%s)", dyn.Name, dyn.ID)
	}
	if sec.ID != e.sections.id {
		e.sections.rebind(sec, e.sectionClips.put)
		listing, err := sec.Clips.Get(ctx)
		if err != nil {
			e.sections.drop()
			return fmt.Errorf("get clips of %q: %w", sec.Name, err)
		}
		e.sectionClips.put(listing)
		log.Printf("Bound sections track %q (%s)", sec.Name, sec.ID)
	}
	return nil
}

// startRebuild runs at most one registry rebuild at a time, always with the
// newest clip listing.
func (e *Engine) startRebuild(ctx context.Context) {
	listing, ok := e.audioClips.take()
	if !ok {
		return
	}
	e.setRebuilding(true)
	go func() {
		e.rebuilt <- e.registry.Rebuild(ctx, listing)
	}()
}

func (e *Engine) checkActiveSong(ctx context.Context) {
	e.mu.RLock()
	pos := e.pos
	e.mu.RUnlock()

	idx, changed := e.tracker.Update(pos, e.index.Snapshot().Songs)
	if !changed {
		return
	}
	log.Printf("Active song changed to %d at beat %v", idx, pos)
	if err := e.renderer.Reset(ctx, idx); err != nil {
		log.Printf("Clear display: %v", err)
	}
	e.requestRender()
}

func (e *Engine) requestRender() {
	select {
	case e.renderCh <- struct{}{}:
	default:
	}
}

// renderLoop renders on request. Requests made while a pass is running
// collapse into one follow-up pass.
func (e *Engine) renderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.renderCh:
		}

		in := render.Input{
			Song:        e.tracker.Active(),
			Arrangement: e.index.Snapshot(),
			Clips:       e.registry.Snapshot(),
		}
		n, err := e.renderer.Render(ctx, in)
		switch {
		case errors.Is(err, render.ErrStaleSong), errors.Is(err, context.Canceled):
			// superseded by a song change, which queued its own pass
		case err != nil:
			log.Printf("Render song %d: %v", in.Song, err)
		case n > 0:
			log.Printf("Sent %d section(s) for song %d", n, in.Song)
		}
	}
}

func (e *Engine) setPosition(pos float64) {
	e.mu.Lock()
	e.pos = pos
	e.mu.Unlock()
}

func (e *Engine) setRebuilding(v bool) {
	e.rebuilding = v
	e.mu.Lock()
	e.busy = v
	e.mu.Unlock()
}

func sectionStarts(listing []live.Clip) []float64 {
	starts := make([]float64, len(listing))
	for i, c := range listing {
		starts[i] = c.Start
	}
	return starts
}
