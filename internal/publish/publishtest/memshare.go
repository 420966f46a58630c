// Package publishtest provides an in-memory share for tests.
package publishtest

import (
	"context"
	"io"
	"sync"

	"github.com/rileyhilliard/fleetpage/internal/publish"
)

// MemoryShare records every stored file.
type MemoryShare struct {
	mu       sync.Mutex
	files    map[string][]byte
	stores   []string
	closed   int
	failOn   map[string]error
	closeErr error
	active   int
	maxConc  int
}

var _ publish.Share = (*MemoryShare)(nil)

// NewMemoryShare returns an empty share.
func NewMemoryShare() *MemoryShare {
	return &MemoryShare{
		files:  make(map[string][]byte),
		failOn: make(map[string]error),
	}
}

// FailStore makes Store of name return err.
func (s *MemoryShare) FailStore(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[name] = err
}

// FailClose makes Close return err.
func (s *MemoryShare) FailClose(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr = err
}

func (s *MemoryShare) Store(ctx context.Context, name string, r io.Reader) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxConc {
		s.maxConc = s.active
	}
	err := s.failOn[name]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = data
	s.stores = append(s.stores, name)
	return nil
}

func (s *MemoryShare) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

// File returns the stored contents of name.
func (s *MemoryShare) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	return data, ok
}

// Files returns the names currently stored.
func (s *MemoryShare) Files() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.files))
	for k, v := range s.files {
		out[k] = v
	}
	return out
}

// Stores lists every Store call in order, including overwrites.
func (s *MemoryShare) Stores() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.stores))
	copy(out, s.stores)
	return out
}

// CloseCount reports how many times Close was called.
func (s *MemoryShare) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MaxConcurrentStores reports the most Store calls seen running at once.
func (s *MemoryShare) MaxConcurrentStores() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConc
}

// Connector hands out the same MemoryShare on every Connect.
type Connector struct {
	mu      sync.Mutex
	Share   *MemoryShare
	Err     error
	connect int
}

var _ publish.Connector = (*Connector)(nil)

// NewConnector returns a connector around a fresh MemoryShare.
func NewConnector() *Connector {
	return &Connector{Share: NewMemoryShare()}
}

func (c *Connector) Connect(ctx context.Context) (publish.Share, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connect++
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Share, nil
}

// ConnectCount reports how many times Connect was called.
func (c *Connector) ConnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect
}
