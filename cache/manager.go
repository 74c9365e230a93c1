package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Manager owns the named pools of a process.
type Manager struct {
	config   Config
	now      func() time.Time
	recorder Recorder

	mu    sync.RWMutex
	pools map[string]*Pool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRecorder reports hits and misses to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// NewManager creates a Manager with no pools.
func NewManager(config Config, opts ...Option) *Manager {
	config.validate()
	m := &Manager{
		config:   config,
		now:      time.Now,
		recorder: nopRecorder{},
		pools:    make(map[string]*Pool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create adds a pool.
func (m *Manager) Create(name string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, name)
	}
	p := newPool(name, m.config, m.now, m.recorder)
	m.pools[name] = p
	return p, nil
}

// Ensure returns the named pool, creating it when missing.
func (m *Manager) Ensure(name string) *Pool {
	if p, err := m.Pool(name); err == nil {
		return p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[name]; ok {
		return p
	}
	p := newPool(name, m.config, m.now, m.recorder)
	m.pools[name] = p
	return p
}

// Pool returns the named pool or ErrPoolNotExist.
func (m *Manager) Pool(name string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotExist, name)
	}
	return p, nil
}

// Has reports whether the named pool exists.
func (m *Manager) Has(name string) bool {
	_, err := m.Pool(name)
	return err == nil
}

// Drop removes a pool and its contents.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[name]; !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotExist, name)
	}
	delete(m.pools, name)
	return nil
}

// Names lists pool names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for n := range m.pools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
