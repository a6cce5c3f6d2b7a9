package engine

import "sync"

// mailbox holds the newest undelivered value of one source. Producers never
// block; a burst of updates collapses into the last one.
type mailbox[T any] struct {
	mu    sync.Mutex
	v     T
	full  bool
	ready chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{ready: make(chan struct{}, 1)}
}

func (m *mailbox[T]) put(v T) {
	m.mu.Lock()
	m.v = v
	m.full = true
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	v, ok := m.v, m.full
	m.v, m.full = zero, false
	return v, ok
}

func (m *mailbox[T]) pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.full
}
