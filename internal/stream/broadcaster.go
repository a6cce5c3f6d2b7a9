package stream

import (
	"context"
	"slices"
	"sync"
)

// Message is one envelope update for preview clients.
type Message struct {
	Section int     `json:"section"`
	Max     []int32 `json:"max,omitempty"`
	Min     []int32 `json:"min,omitempty"`
	Clear   bool    `json:"clear,omitempty"`
}

// Broadcaster fans out envelope updates to N preview listeners. It implements
// transport.Sender so it can sit next to the display transport.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[*Listener]struct{}
	sections  map[int]Message // latest envelope per section
}

// Listener receives envelope messages from the broadcaster.
type Listener struct {
	C    chan Message // buffered channel of updates
	done chan struct{}
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
		sections:  make(map[int]Message),
	}
}

// Subscribe registers a new listener. It first receives the current
// envelope of every section, then live updates.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan Message, 64),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]int, 0, len(b.sections))
	for k := range b.sections {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		select {
		case l.C <- b.sections[k]:
		default:
		}
	}
	b.listeners[l] = struct{}{}
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	close(l.done)
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// SectionCount returns how many sections currently have an envelope.
func (b *Broadcaster) SectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sections)
}

// SendSection records and broadcasts a section payload (maxima then minima).
func (b *Broadcaster) SendSection(_ context.Context, index int, payload []int32) error {
	half := len(payload) / 2
	m := Message{
		Section: index,
		Max:     slices.Clone(payload[:half]),
		Min:     slices.Clone(payload[half:]),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sections[index] = m
	b.publish(m)
	return nil
}

// Clear drops every recorded section and tells listeners to do the same.
func (b *Broadcaster) Clear(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.sections)
	b.publish(Message{Section: -1, Clear: true})
	return nil
}

// publish must be called with mu held. Slow listeners get messages dropped
// rather than blocking the renderer.
func (b *Broadcaster) publish(m Message) {
	for l := range b.listeners {
		select {
		case l.C <- m:
		default:
		}
	}
}
