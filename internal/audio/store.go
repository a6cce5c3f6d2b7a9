package audio

import (
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Store caches decoded buffers by file path for the life of the process.
// Concurrent loads of the same path share one decode. Failed decodes are
// not cached so a fixed file is picked up on the next rebuild.
type Store struct {
	mu       sync.RWMutex
	buffers  map[string]*Buffer
	inflight singleflight.Group

	readFile func(string) ([]byte, error)
}

// NewStore creates an empty sample store reading from the local filesystem.
func NewStore() *Store {
	return &Store{
		buffers:  make(map[string]*Buffer),
		readFile: os.ReadFile,
	}
}

// Load returns the buffer for path, decoding it on first use.
func (s *Store) Load(path string) (*Buffer, error) {
	s.mu.RLock()
	buf, ok := s.buffers[path]
	s.mu.RUnlock()
	if ok {
		return buf, nil
	}

	v, err, _ := s.inflight.Do(path, func() (any, error) {
		s.mu.RLock()
		buf, ok := s.buffers[path]
		s.mu.RUnlock()
		if ok {
			return buf, nil
		}

		buf, err := s.decodeFile(path)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.buffers[path] = buf
		s.mu.Unlock()
		log.Printf("Decoded %s (%d samples @ %d Hz)", path, len(buf.Samples), buf.SampleRate)
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Buffer), nil
}

// Len returns the number of cached files.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffers)
}

func (s *Store) decodeFile(path string) (*Buffer, error) {
	data, err := s.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	decoded, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	buf, err := Downmix(decoded)
	if err != nil {
		return nil, fmt.Errorf("downmix %s: %w", path, err)
	}
	return buf, nil
}
