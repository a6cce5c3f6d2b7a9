package live

import (
	"context"
	"sync"
	"time"
)

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Feed is an in-memory Property. Producers call Publish, consumers Get or Subscribe.
type Feed[T any] struct {
	request func(ctx context.Context) error // asks the producer for a fresh value
	listen  func(on bool)                   // first subscriber added / last removed

	mu      sync.Mutex
	latest  T
	have    bool
	nextID  int
	subs    []subscriber[T]
	waiters []chan T
}

// NewFeed creates a feed. Both hooks are optional.
func NewFeed[T any](request func(ctx context.Context) error, listen func(on bool)) *Feed[T] {
	return &Feed[T]{request: request, listen: listen}
}

// Publish stores v and delivers it to waiting getters and then to subscribers
// in registration order, on the caller's goroutine.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	f.latest = v
	f.have = true
	waiters := f.waiters
	f.waiters = nil
	subs := make([]subscriber[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, w := range waiters {
		w <- v
	}
	for _, s := range subs {
		s.fn(v)
	}
}

// Get returns the next published value after asking the producer for one.
// Without a request hook the latest value is returned if there is one.
func (f *Feed[T]) Get(ctx context.Context) (T, error) {
	var zero T
	ch := make(chan T, 1)

	f.mu.Lock()
	if f.request == nil && f.have {
		v := f.latest
		f.mu.Unlock()
		return v, nil
	}
	f.waiters = append(f.waiters, ch)
	f.mu.Unlock()

	if f.request != nil {
		if err := f.request(ctx); err != nil {
			f.dropWaiter(ch)
			return zero, err
		}
	}

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		f.dropWaiter(ch)
		return zero, ctx.Err()
	}
}

// Latest returns the most recently published value.
func (f *Feed[T]) Latest() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.have
}

// Subscribe registers fn for future values.
func (f *Feed[T]) Subscribe(fn func(T)) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscriber[T]{id: id, fn: fn})
	first := len(f.subs) == 1
	f.mu.Unlock()

	if first && f.listen != nil {
		f.listen(true)
	}

	var once sync.Once
	return func() {
		once.Do(func() { f.unsubscribe(id) })
	}
}

func (f *Feed[T]) unsubscribe(id int) {
	f.mu.Lock()
	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			break
		}
	}
	last := len(f.subs) == 0
	f.mu.Unlock()

	if last && f.listen != nil {
		f.listen(false)
	}
}

func (f *Feed[T]) dropWaiter(ch chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range f.waiters {
		if w == ch {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}

// timed bounds every Get of an underlying property.
type timed[T any] struct {
	Property[T]
	timeout time.Duration
}

// WithTimeout wraps p so Get gives up after d.
func WithTimeout[T any](p Property[T], d time.Duration) Property[T] {
	if d <= 0 {
		return p
	}
	return timed[T]{Property: p, timeout: d}
}

func (t timed[T]) Get(ctx context.Context) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Property.Get(ctx)
}
