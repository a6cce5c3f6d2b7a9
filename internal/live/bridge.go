package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/satindergrewal/wavecue/internal/arrangement"
	"github.com/satindergrewal/wavecue/internal/tempo"
)

// ErrNotReady is returned when the bridge never answers a ping.
var ErrNotReady = errors.New("session bridge not ready")

// Property names understood by the bridge.
const (
	PropTracks    = "tracks"
	PropClips     = "clips"
	PropCuePoints = "cue_points"
	PropSongTime  = "song_time"
)

type trackJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type clipJSON struct {
	Name        string         `json:"name"`
	StartTime   float64        `json:"start_time"`
	EndTime     float64        `json:"end_time"`
	Muted       bool           `json:"muted"`
	WarpMarkers []tempo.Marker `json:"warp_markers"`
	StartMarker float64        `json:"start_marker"`
	FilePath    string         `json:"file_path"`
}

// MaxDatagram is the largest inbound message the bridge reads. A listing that
// does not fit in one UDP datagram is truncated by the network and dropped as
// a bad packet.
const MaxDatagram = 65507

// Bridge is a Session backed by a companion remote script in the workstation.
// Requests go out as OSC messages, state comes back as OSC messages carrying
// JSON payloads on a local UDP port.
//
// Every reply travels in a single datagram of at most MaxDatagram bytes. A
// clip listing costs roughly 200 bytes per clip plus 50 per warp marker, so a
// track with a few hundred heavily warped clips can exceed it; the remote
// script must keep listings under the limit.
type Bridge struct {
	client  *osc.Client
	conn    net.PacketConn
	timeout time.Duration

	tracks   *Feed[[]Track]
	cues     *Feed[[]arrangement.CuePoint]
	songTime *Feed[float64]
	pong     chan struct{}

	mu    sync.Mutex
	clips map[string]*Feed[[]Clip]
}

// NewBridge opens the local listening socket. Call Run to start processing.
func NewBridge(host string, port int, listenAddr string, timeout time.Duration) (*Bridge, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	b := &Bridge{
		client:  osc.NewClient(host, port),
		conn:    conn,
		timeout: timeout,
		pong:    make(chan struct{}, 1),
		clips:   make(map[string]*Feed[[]Clip]),
	}
	b.tracks = NewFeed[[]Track](b.requester(PropTracks), b.listener(PropTracks))
	b.cues = NewFeed[[]arrangement.CuePoint](b.requester(PropCuePoints), b.listener(PropCuePoints))
	b.songTime = NewFeed[float64](b.requester(PropSongTime), b.listener(PropSongTime))
	return b, nil
}

// LocalAddr is the address the bridge must push state to.
func (b *Bridge) LocalAddr() net.Addr {
	return b.conn.LocalAddr()
}

func (b *Bridge) Tracks() Property[[]Track] {
	return WithTimeout[[]Track](b.tracks, b.timeout)
}

func (b *Bridge) CuePoints() Property[[]arrangement.CuePoint] {
	return WithTimeout[[]arrangement.CuePoint](b.cues, b.timeout)
}

func (b *Bridge) SongTime() Property[float64] {
	return WithTimeout[float64](b.songTime, b.timeout)
}

// WaitForReady pings the bridge until it answers or ctx is done.
func (b *Bridge) WaitForReady(ctx context.Context) error {
	log.Println("Waiting for session bridge...")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := b.send("/session/ping"); err != nil {
			log.Printf("Bridge ping failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-b.pong:
			log.Println("Session bridge is ready")
			return nil
		case <-ticker.C:
		}
	}
}

// Run processes inbound datagrams in arrival order until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.conn.Close()
	}()

	buf := make([]byte, MaxDatagram)
	for {
		n, _, err := b.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bridge read: %w", err)
		}
		packet, err := osc.ParsePacket(string(buf[:n]))
		if err != nil {
			log.Printf("Bridge: bad packet: %v", err)
			continue
		}
		b.dispatch(packet)
	}
}

// Close releases the listening socket.
func (b *Bridge) Close() error {
	return b.conn.Close()
}

func (b *Bridge) dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		if err := b.handle(p); err != nil {
			log.Printf("Bridge: %s: %v", p.Address, err)
		}
	case *osc.Bundle:
		for _, m := range p.Messages {
			b.dispatch(m)
		}
		for _, sub := range p.Bundles {
			b.dispatch(sub)
		}
	}
}

func (b *Bridge) handle(msg *osc.Message) error {
	switch msg.Address {
	case "/session/tracks":
		var raw []trackJSON
		if err := decodeArg(msg, 0, &raw); err != nil {
			return err
		}
		tracks := make([]Track, len(raw))
		for i, t := range raw {
			tracks[i] = Track{ID: t.ID, Name: t.Name, Clips: WithTimeout[[]Clip](b.clipFeed(t.ID), b.timeout)}
		}
		b.tracks.Publish(tracks)

	case "/session/clips":
		id, err := stringArg(msg, 0)
		if err != nil {
			return err
		}
		var raw []clipJSON
		if err := decodeArg(msg, 1, &raw); err != nil {
			return err
		}
		clips := make([]Clip, len(raw))
		for i, c := range raw {
			clips[i] = Clip{
				Name:    c.Name,
				Start:   c.StartTime,
				End:     c.EndTime,
				Muted:   c.Muted,
				Details: StaticDetails{Markers: c.WarpMarkers, Offset: c.StartMarker, Path: c.FilePath},
			}
		}
		b.clipFeed(id).Publish(clips)

	case "/session/cue_points":
		var points []arrangement.CuePoint
		if err := decodeArg(msg, 0, &points); err != nil {
			return err
		}
		b.cues.Publish(points)

	case "/session/song_time":
		t, err := floatArg(msg, 0)
		if err != nil {
			return err
		}
		b.songTime.Publish(t)

	case "/session/pong":
		select {
		case b.pong <- struct{}{}:
		default:
		}

	default:
		return fmt.Errorf("unknown address")
	}
	return nil
}

func (b *Bridge) clipFeed(trackID string) *Feed[[]Clip] {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.clips[trackID]
	if !ok {
		f = NewFeed[[]Clip](b.requester(PropClips, trackID), b.listener(PropClips, trackID))
		b.clips[trackID] = f
	}
	return f
}

func (b *Bridge) requester(args ...string) func(context.Context) error {
	return func(context.Context) error {
		return b.send("/session/get", args...)
	}
}

func (b *Bridge) listener(args ...string) func(bool) {
	return func(on bool) {
		addr := "/session/unlisten"
		if on {
			addr = "/session/listen"
		}
		if err := b.send(addr, args...); err != nil {
			log.Printf("Bridge: %s %v: %v", addr, args, err)
		}
	}
}

func (b *Bridge) send(addr string, args ...string) error {
	msg := osc.NewMessage(addr)
	for _, a := range args {
		msg.Append(a)
	}
	if err := b.client.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", addr, err)
	}
	return nil
}

func stringArg(msg *osc.Message, i int) (string, error) {
	if i >= len(msg.Arguments) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := msg.Arguments[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d is %T, want string", i, msg.Arguments[i])
	}
	return s, nil
}

func decodeArg(msg *osc.Message, i int, v any) error {
	s, err := stringArg(msg, i)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode argument %d: %w", i, err)
	}
	return nil
}

func floatArg(msg *osc.Message, i int) (float64, error) {
	if i >= len(msg.Arguments) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := msg.Arguments[i].(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("argument %d is %T, want number", i, msg.Arguments[i])
}
