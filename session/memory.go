package session

import (
	"context"
	"sync"
	"time"
)

// defaultCleanupInterval is how often MemoryStore sweeps expired records.
const defaultCleanupInterval = 5 * time.Minute

// MemoryStore is an in-process Store. Suitable for single-instance
// deployments and tests; records do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	closed  bool

	stop chan struct{}
	once sync.Once
}

type memoryRecord struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*memoryStoreConfig)

type memoryStoreConfig struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired records are swept.
// A non-positive interval disables the sweeper.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryStore creates an in-process store and starts its sweeper.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	cfg := memoryStoreConfig{cleanupInterval: defaultCleanupInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &MemoryStore{
		records: make(map[string]memoryRecord),
		stop:    make(chan struct{}),
	}
	if cfg.cleanupInterval > 0 {
		go s.cleanupLoop(cfg.cleanupInterval)
	}
	return s
}

func (s *MemoryStore) Save(_ context.Context, id string, data []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if !expiresAt.After(time.Now()) {
		delete(s.records, id)
		return nil
	}
	// Copy so later mutation by the caller cannot alter the stored record.
	cp := make([]byte, len(data))
	copy(cp, data)
	s.records[id] = memoryRecord{data: cp, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.records[id]
	if !ok || !rec.expiresAt.After(time.Now()) {
		return nil, nil
	}
	cp := make([]byte, len(rec.data))
	copy(cp, rec.data)
	return cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.once.Do(func() { close(s.stop) })
	s.records = nil
	return nil
}

// Len reports the number of live records. Intended for tests and stats.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	now := time.Now()
	for _, rec := range s.records {
		if rec.expiresAt.After(now) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for id, rec := range s.records {
		if !rec.expiresAt.After(now) {
			delete(s.records, id)
		}
	}
}
