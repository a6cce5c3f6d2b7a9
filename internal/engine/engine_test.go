package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satindergrewal/wavecue/internal/arrangement"
	"github.com/satindergrewal/wavecue/internal/audio"
	"github.com/satindergrewal/wavecue/internal/live"
	"github.com/satindergrewal/wavecue/internal/tempo"
)

// --- Fakes ---

type fakeSession struct {
	tracks   *live.Feed[[]live.Track]
	cues     *live.Feed[[]arrangement.CuePoint]
	songTime *live.Feed[float64]
	dynamics *live.Feed[[]live.Clip]
	sections *live.Feed[[]live.Clip]
}

func (s *fakeSession) Tracks() live.Property[[]live.Track]              { return s.tracks }
func (s *fakeSession) CuePoints() live.Property[[]arrangement.CuePoint] { return s.cues }
func (s *fakeSession) SongTime() live.Property[float64]                 { return s.songTime }

// newSession builds a session with two songs: [0,16) holding sections 0 and 8,
// and [16,40) holding sections 16, 24 and 32.
func newSession(position float64, audioClips []live.Clip) *fakeSession {
	s := &fakeSession{
		tracks:   live.NewFeed[[]live.Track](nil, nil),
		cues:     live.NewFeed[[]arrangement.CuePoint](nil, nil),
		songTime: live.NewFeed[float64](nil, nil),
		dynamics: live.NewFeed[[]live.Clip](nil, nil),
		sections: live.NewFeed[[]live.Clip](nil, nil),
	}
	s.tracks.Publish([]live.Track{
		{ID: "t1", Name: "Drums", Clips: live.NewFeed[[]live.Clip](nil, nil)},
		{ID: "t2", Name: "Dynamics Bus", Clips: s.dynamics},
		{ID: "t3", Name: "Sections", Clips: s.sections},
	})
	s.cues.Publish([]arrangement.CuePoint{
		{Name: "Opener", Time: 0},
		{Name: "Closer", Time: 16},
		{Name: "End", Time: 40},
	})
	s.sections.Publish([]live.Clip{
		{Name: "intro", Start: 0, End: 8},
		{Name: "verse", Start: 8, End: 16},
		{Name: "intro", Start: 16, End: 24},
		{Name: "chorus", Start: 24, End: 32},
		{Name: "outro", Start: 32, End: 40},
	})
	s.songTime.Publish(position)
	s.dynamics.Publish(audioClips)
	return s
}

func audioClip(path string, start, end float64) live.Clip {
	return live.Clip{
		Name:  path,
		Start: start,
		End:   end,
		Details: live.StaticDetails{
			Markers: []tempo.Marker{{BeatTime: 0, SampleTime: 0}, {BeatTime: 1, SampleTime: 0.5}},
			Path:    path,
		},
	}
}

// flakyClips fails Get while fail is set.
type flakyClips struct {
	*live.Feed[[]live.Clip]
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flakyClips) Get(ctx context.Context) ([]live.Clip, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("bridge timeout")
	}
	return f.Feed.Get(ctx)
}

type fakeLoader struct {
	mu      sync.Mutex
	paths   []string
	gate    map[string]chan struct{}
	started chan string
}

func newLoader() *fakeLoader {
	return &fakeLoader{gate: map[string]chan struct{}{}, started: make(chan string, 16)}
}

func (l *fakeLoader) Load(path string) (*audio.Buffer, error) {
	l.mu.Lock()
	l.paths = append(l.paths, path)
	gate := l.gate[path]
	l.mu.Unlock()

	l.started <- path
	if gate != nil {
		<-gate
	}
	s := make([]float32, 1000)
	for i := range s {
		s[i] = 0.5
	}
	return &audio.Buffer{Samples: s, SampleRate: 100}, nil
}

func (l *fakeLoader) loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

// recorder logs every display operation; -1 marks a clear.
type recorder struct {
	mu  sync.Mutex
	ops []int
}

func (r *recorder) SendSection(_ context.Context, index int, _ []int32) error {
	r.mu.Lock()
	r.ops = append(r.ops, index)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Clear(context.Context) error {
	r.mu.Lock()
	r.ops = append(r.ops, -1)
	r.mu.Unlock()
	return nil
}

// sinceClear returns how often each section was sent after the last clear,
// and the number of clears so far.
func (r *recorder) sinceClear() (map[int]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[int]int{}
	clears := 0
	for _, op := range r.ops {
		if op < 0 {
			clears++
			counts = map[int]int{}
			continue
		}
		counts[op]++
	}
	return counts, clears
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() Config {
	return Config{DynamicsPrefix: "Dynamics", SectionsPrefix: "Sections", Resolution: 8, DecodeWorkers: 2}
}

func start(t *testing.T, e *Engine) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	}
}

// --- Song following ---

func TestEngineRendersActiveSong(t *testing.T) {
	s := newSession(20, []live.Clip{audioClip("/a.wav", 16, 20)})
	rec := &recorder{}
	e := New(s, newLoader(), rec, testConfig())
	stop := start(t, e)
	defer stop()

	waitFor(t, "sections of song 1", func() bool {
		counts, clears := rec.sinceClear()
		return clears == 1 && counts[0] >= 1 && counts[1] >= 1 && counts[2] >= 1
	})

	st := e.Status()
	if st.ActiveSong != 1 {
		t.Errorf("active song = %d, want 1", st.ActiveSong)
	}
	if len(st.Songs) != 3 || st.Songs[1] != 16 {
		t.Errorf("songs = %v, want [0 16 40]", st.Songs)
	}
}

func TestEngineSongChangeClearsAndRerenders(t *testing.T) {
	s := newSession(20, []live.Clip{audioClip("/a.wav", 16, 20)})
	rec := &recorder{}
	e := New(s, newLoader(), rec, testConfig())
	stop := start(t, e)
	defer stop()

	waitFor(t, "song 1", func() bool {
		counts, _ := rec.sinceClear()
		return len(counts) == 3
	})

	s.songTime.Publish(5)
	waitFor(t, "song 0", func() bool {
		counts, clears := rec.sinceClear()
		return clears == 2 && counts[0] >= 1 && counts[1] >= 1
	})
	counts, _ := rec.sinceClear()
	if _, ok := counts[2]; ok {
		t.Errorf("song 0 has two sections, got sends %v", counts)
	}

	// Moving within the same song sends nothing.
	s.songTime.Publish(6)
	time.Sleep(50 * time.Millisecond)
	if _, clears := rec.sinceClear(); clears != 2 {
		t.Errorf("clears = %d after in-song move, want 2", clears)
	}
}

func TestEngineClipChangeResendsAffectedSection(t *testing.T) {
	s := newSession(5, nil)
	rec := &recorder{}
	e := New(s, newLoader(), rec, testConfig())
	stop := start(t, e)
	defer stop()

	waitFor(t, "song 0", func() bool {
		counts, _ := rec.sinceClear()
		return counts[0] >= 1 && counts[1] >= 1
	})
	before, _ := rec.sinceClear()

	s.dynamics.Publish([]live.Clip{audioClip("/b.wav", 0, 4)})
	waitFor(t, "section 0 resend", func() bool {
		counts, _ := rec.sinceClear()
		return counts[0] > before[0]
	})

	time.Sleep(50 * time.Millisecond)
	after, clears := rec.sinceClear()
	if clears != 1 {
		t.Errorf("clears = %d, want 1", clears)
	}
	if after[1] != before[1] {
		t.Errorf("section 1 sends = %d, want %d", after[1], before[1])
	}
}

func TestEngineCuePointsMoveSongs(t *testing.T) {
	s := newSession(20, nil)
	rec := &recorder{}
	e := New(s, newLoader(), rec, testConfig())
	stop := start(t, e)
	defer stop()

	waitFor(t, "song 1", func() bool { return e.Status().ActiveSong == 1 })

	// A new boundary at 8 puts position 20 in the third song.
	s.cues.Publish([]arrangement.CuePoint{
		{Name: "Opener", Time: 0},
		{Name: "Middle", Time: 8},
		{Name: "Closer", Time: 16},
		{Name: "End", Time: 40},
	})
	waitFor(t, "song 2", func() bool { return e.Status().ActiveSong == 2 })
	waitFor(t, "second clear", func() bool {
		_, clears := rec.sinceClear()
		return clears == 2
	})
}

// --- Track binding ---

func TestEngineMissingTrack(t *testing.T) {
	s := newSession(0, nil)
	s.tracks.Publish([]live.Track{{ID: "t1", Name: "Drums", Clips: s.dynamics}})
	e := New(s, newLoader(), &recorder{}, testConfig())

	err := e.Run(context.Background())
	if !errors.Is(err, live.ErrTrackNotFound) {
		t.Fatalf("err = %v, want ErrTrackNotFound", err)
	}
}

func TestEngineRebindsRenamedTrack(t *testing.T) {
	s := newSession(5, nil)
	loader := newLoader()
	e := New(s, loader, &recorder{}, testConfig())
	stop := start(t, e)
	defer stop()

	waitFor(t, "startup", func() bool { return e.Status().ActiveSong == 0 })

	other := live.NewFeed[[]live.Clip](nil, nil)
	other.Publish([]live.Clip{audioClip("/other.wav", 0, 4)})
	s.tracks.Publish([]live.Track{
		{ID: "t9", Name: "Dynamics New", Clips: other},
		{ID: "t3", Name: "Sections", Clips: s.sections},
	})

	waitFor(t, "clips of new track", func() bool {
		c := e.registry.Snapshot()
		return len(c) == 1 && c[0].Source == "/other.wav"
	})

	// The old track no longer drives the registry.
	s.dynamics.Publish([]live.Clip{audioClip("/stale.wav", 0, 4)})
	time.Sleep(50 * time.Millisecond)
	for _, p := range loader.loaded() {
		if p == "/stale.wav" {
			t.Fatal("clip of unbound track was loaded")
		}
	}
}

func TestEngineRetriesFailedRebind(t *testing.T) {
	s := newSession(5, []live.Clip{audioClip("/old.wav", 0, 4)})
	e := New(s, newLoader(), &recorder{}, testConfig())
	stop := start(t, e)
	defer stop()

	waitFor(t, "clips of first track", func() bool {
		c := e.registry.Snapshot()
		return len(c) == 1 && c[0].Source == "/old.wav"
	})

	flaky := &flakyClips{Feed: live.NewFeed[[]live.Clip](nil, nil)}
	flaky.Publish([]live.Clip{audioClip("/new.wav", 0, 4)})
	flaky.fail.Store(true)
	tracks := []live.Track{
		{ID: "t9", Name: "Dynamics New", Clips: flaky},
		{ID: "t3", Name: "Sections", Clips: s.sections},
	}

	s.tracks.Publish(tracks)
	waitFor(t, "failed fetch", func() bool { return flaky.calls.Load() >= 1 })

	// Same track list again: the fetch must be retried.
	flaky.fail.Store(false)
	s.tracks.Publish(tracks)
	waitFor(t, "clips of rebound track", func() bool {
		c := e.registry.Snapshot()
		return len(c) == 1 && c[0].Source == "/new.wav"
	})
}

// --- Rebuild coalescing ---

func TestEngineCoalescesRebuilds(t *testing.T) {
	s := newSession(5, []live.Clip{audioClip("/v1.wav", 0, 4)})
	loader := newLoader()
	gate := make(chan struct{})
	loader.gate["/v1.wav"] = gate
	e := New(s, loader, &recorder{}, testConfig())
	stop := start(t, e)
	defer stop()

	if p := <-loader.started; p != "/v1.wav" {
		t.Fatalf("first load = %s", p)
	}
	waitFor(t, "rebuild in flight", func() bool { return e.Status().Rebuilding })

	s.dynamics.Publish([]live.Clip{audioClip("/v2.wav", 0, 4)})
	s.dynamics.Publish([]live.Clip{audioClip("/v3.wav", 0, 4)})
	s.dynamics.Publish([]live.Clip{audioClip("/v4.wav", 0, 4)})
	close(gate)

	waitFor(t, "latest listing", func() bool {
		c := e.registry.Snapshot()
		return len(c) == 1 && c[0].Source == "/v4.wav"
	})
	got := loader.loaded()
	if len(got) != 2 || got[0] != "/v1.wav" || got[1] != "/v4.wav" {
		t.Errorf("loads = %v, want [/v1.wav /v4.wav]", got)
	}
}
