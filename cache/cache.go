// Package cache provides named, in-process key/value pools with per-key TTL
// and append-only list values.
//
// Pools are sharded by key so that concurrent access to different keys
// rarely contends. Expiry is checked lazily on access; there is no sweeper.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacentio/grove/internal/shard"
)

// Config holds configuration for pools created by a Manager.
type Config struct {
	// Shards is the number of independently locked partitions per pool.
	// Default: 16
	// Max: 256
	Shards int

	// DefaultTTL applies when Put or Append receives a zero TTL.
	// A negative value means entries never expire.
	// Default: 24h
	DefaultTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Shards:     16,
		DefaultTTL: 24 * time.Hour,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Shards < 1 {
		c.Shards = 16
	}
	if c.Shards > 256 {
		c.Shards = 256
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 24 * time.Hour
	}
}

// Recorder observes pool hits and misses.
type Recorder interface {
	CacheHit(pool string)
	CacheMiss(pool string)
}

type nopRecorder struct{}

func (nopRecorder) CacheHit(string)  {}
func (nopRecorder) CacheMiss(string) {}

type entry struct {
	value   any
	list    []any
	isList  bool
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

type partition struct {
	mu    sync.Mutex
	items map[string]*entry
}

// Pool is a named key/value space.
type Pool struct {
	name     string
	config   Config
	now      func() time.Time
	recorder Recorder
	parts    []*partition

	// gen is bumped by Clear before any partition is emptied.
	gen atomic.Uint64
}

func newPool(name string, config Config, now func() time.Time, rec Recorder) *Pool {
	p := &Pool{
		name:     name,
		config:   config,
		now:      now,
		recorder: rec,
		parts:    make([]*partition, config.Shards),
	}
	for i := range p.parts {
		p.parts[i] = &partition{items: make(map[string]*entry)}
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

func (p *Pool) partition(key string) *partition {
	return p.parts[shard.Index(key, len(p.parts))]
}

func (p *Pool) expiry(ttl time.Duration) time.Time {
	if ttl == 0 {
		ttl = p.config.DefaultTTL
	}
	if ttl < 0 {
		return time.Time{}
	}
	return p.now().Add(ttl)
}

// lookup returns a live entry; expired entries are evicted. Callers hold part.mu.
func (p *Pool) lookup(part *partition, key string) *entry {
	e, ok := part.items[key]
	if !ok {
		return nil
	}
	if e.expired(p.now()) {
		delete(part.items, key)
		return nil
	}
	return e
}

// Has reports whether key holds a live value or list.
func (p *Pool) Has(key string) bool {
	part := p.partition(key)
	part.mu.Lock()
	defer part.mu.Unlock()
	return p.lookup(part, key) != nil
}

// Get returns the value stored under key. A list key yields a copy of the list.
func (p *Pool) Get(key string) (any, bool) {
	part := p.partition(key)
	part.mu.Lock()
	e := p.lookup(part, key)
	var v any
	if e != nil {
		v = e.value
		if e.isList {
			v = append([]any(nil), e.list...)
		}
	}
	part.mu.Unlock()

	if e == nil {
		p.recorder.CacheMiss(p.name)
		return nil, false
	}
	p.recorder.CacheHit(p.name)
	return v, true
}

// Put stores v under key. A zero ttl uses the pool default; a negative ttl never expires.
func (p *Pool) Put(key string, v any, ttl time.Duration) {
	part := p.partition(key)
	part.mu.Lock()
	defer part.mu.Unlock()
	part.items[key] = &entry{value: v, expires: p.expiry(ttl)}
}

// Remove deletes key. Removing a missing key is not an error.
func (p *Pool) Remove(key string) {
	part := p.partition(key)
	part.mu.Lock()
	defer part.mu.Unlock()
	delete(part.items, key)
}

// Generation identifies the pool contents between two Clear calls. Writers
// that computed a value from a store read capture it first and write with
// PutAt or AppendAt, so a Clear in between discards their write.
func (p *Pool) Generation() uint64 { return p.gen.Load() }

// PutAt stores v under key unless the pool was cleared since gen.
func (p *Pool) PutAt(gen uint64, key string, v any, ttl time.Duration) bool {
	part := p.partition(key)
	part.mu.Lock()
	defer part.mu.Unlock()
	if p.gen.Load() != gen {
		return false
	}
	part.items[key] = &entry{value: v, expires: p.expiry(ttl)}
	return true
}

// PutListAt replaces key with a list unless the pool was cleared since gen.
func (p *Pool) PutListAt(gen uint64, key string, items []any, ttl time.Duration) bool {
	part := p.partition(key)
	part.mu.Lock()
	defer part.mu.Unlock()
	if p.gen.Load() != gen {
		return false
	}
	part.items[key] = &entry{isList: true, list: append([]any{}, items...), expires: p.expiry(ttl)}
	return true
}

// Append adds v to the list under key, creating the list with the given ttl
// when absent. Appending to an existing list keeps its expiry.
func (p *Pool) Append(key string, v any, ttl time.Duration) error {
	part := p.partition(key)
	part.mu.Lock()
	defer part.mu.Unlock()
	return p.appendLocked(part, key, v, ttl)
}

// AppendAt is Append unless the pool was cleared since gen, in which case
// nothing is written and false is returned.
func (p *Pool) AppendAt(gen uint64, key string, v any, ttl time.Duration) (bool, error) {
	part := p.partition(key)
	part.mu.Lock()
	defer part.mu.Unlock()
	if p.gen.Load() != gen {
		return false, nil
	}
	return true, p.appendLocked(part, key, v, ttl)
}

func (p *Pool) appendLocked(part *partition, key string, v any, ttl time.Duration) error {
	e := p.lookup(part, key)
	if e == nil {
		e = &entry{isList: true, list: []any{}, expires: p.expiry(ttl)}
		part.items[key] = e
	}
	if !e.isList {
		return ErrNotList
	}
	e.list = append(e.list, v)
	return nil
}

// PutList replaces key with a list holding items.
func (p *Pool) PutList(key string, items []any, ttl time.Duration) {
	part := p.partition(key)
	part.mu.Lock()
	defer part.mu.Unlock()
	part.items[key] = &entry{isList: true, list: append([]any{}, items...), expires: p.expiry(ttl)}
}

// List returns a copy of the list under key.
func (p *Pool) List(key string) ([]any, bool) {
	part := p.partition(key)
	part.mu.Lock()
	e := p.lookup(part, key)
	var out []any
	ok := e != nil && e.isList
	if ok {
		out = append([]any{}, e.list...)
	}
	part.mu.Unlock()

	if !ok {
		p.recorder.CacheMiss(p.name)
		return nil, false
	}
	p.recorder.CacheHit(p.name)
	return out, true
}

// Keys returns the live keys in sorted order.
func (p *Pool) Keys() []string {
	var keys []string
	for _, part := range p.parts {
		part.mu.Lock()
		now := p.now()
		for k, e := range part.items {
			if !e.expired(now) {
				keys = append(keys, k)
			}
		}
		part.mu.Unlock()
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live keys.
func (p *Pool) Len() int { return len(p.Keys()) }

// Clear removes every key and starts a new generation.
func (p *Pool) Clear() {
	p.gen.Add(1)
	for _, part := range p.parts {
		part.mu.Lock()
		part.items = make(map[string]*entry)
		part.mu.Unlock()
	}
}
