package session

import (
	"context"
	"sync"
	"time"
)

const (
	minSweepInterval = time.Second
	maxSweepInterval = time.Minute
)

// MemoryStore is an in-process Store used when Redis is disabled. Records
// idle for longer than the TTL are treated as absent and are swept by a
// background janitor until Close.
type MemoryStore struct {
	serverName string
	ttl        time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore returns an empty store. A ttl of zero keeps records forever.
func NewMemoryStore(serverName string, ttl time.Duration) *MemoryStore {
	return newMemoryStore(serverName, ttl, sweepInterval(ttl), time.Now)
}

func newMemoryStore(serverName string, ttl, every time.Duration, now func() time.Time) *MemoryStore {
	m := &MemoryStore{
		serverName: serverName,
		ttl:        ttl,
		now:        now,
		sessions:   make(map[string]*Session),
		done:       make(chan struct{}),
	}
	if ttl > 0 && every > 0 {
		go m.janitor(every)
	}
	return m
}

// sweepInterval is half the TTL, clamped to [minSweepInterval, maxSweepInterval].
func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	every := ttl / 2
	if every < minSweepInterval {
		every = minSweepInterval
	}
	if every > maxSweepInterval {
		every = maxSweepInterval
	}
	return every
}

func (m *MemoryStore) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep drops every record that has been idle past the TTL and returns how
// many were removed.
func (m *MemoryStore) sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for sid := range m.sessions {
		if _, ok := m.liveLocked(sid, now); !ok {
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) Touch(_ context.Context, sid string, meta Meta) (*Session, bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.liveLocked(sid, now)
	created := !ok
	if created {
		s = &Session{
			ID:        sid,
			Server:    m.serverName,
			FirstPath: meta.Path,
			UserAgent: meta.UserAgent,
			CreatedAt: now.Unix(),
		}
		m.sessions[sid] = s
	}
	s.LastActive = now.Unix()
	s.Hits++

	cp := *s
	return &cp, created, nil
}

func (m *MemoryStore) Get(_ context.Context, sid string) (*Session, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.liveLocked(sid, now)
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Delete(_ context.Context, sid string) error {
	m.mu.Lock()
	delete(m.sessions, sid)
	m.mu.Unlock()
	return nil
}

// Close stops the janitor. It is safe to call more than once.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// Len returns the number of live records.
func (m *MemoryStore) Len() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for sid := range m.sessions {
		if _, ok := m.liveLocked(sid, now); ok {
			n++
		}
	}
	return n
}

func (m *MemoryStore) liveLocked(sid string, now time.Time) (*Session, bool) {
	s, ok := m.sessions[sid]
	if !ok {
		return nil, false
	}
	if m.ttl > 0 && now.Sub(time.Unix(s.LastActive, 0)) > m.ttl {
		delete(m.sessions, sid)
		return nil, false
	}
	return s, true
}
