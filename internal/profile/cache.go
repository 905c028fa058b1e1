package profile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CCasusensa/ArtaleBroadcast/internal/eventbus"
	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

// Cache maps profile codes to fetched profiles for a fixed TTL.
//
// Concurrent misses for the same id may each hit upstream; results are
// idempotent so the last writer wins.
//
// It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration

	lookup Lookup
	log    logx.Logger
	bus    eventbus.Bus

	persistCh chan Entry

	now func() time.Time
}

// New creates a cache. lookup may be nil, in which case every Get reports
// no enrichment. store may be nil; when set, fetched entries are written
// asynchronously by PersistLoop.
func New(ttl time.Duration, lookup Lookup, log logx.Logger, bus eventbus.Bus, store Store) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Cache{
		entries: map[string]Entry{},
		ttl:     ttl,
		lookup:  lookup,
		log:     log,
		bus:     bus,
		now:     time.Now,
	}
	if store != nil {
		c.persistCh = make(chan Entry, 256)
	}
	return c
}

// Get returns the profile for id, fetching it on a miss.
// ok=false means "no enrichment available"; it is never an error for callers.
func (c *Cache) Get(ctx context.Context, id string) (Profile, bool) {
	now := c.now()
	c.mu.RLock()
	e, found := c.entries[id]
	c.mu.RUnlock()
	if found && e.Valid(now) {
		eventbus.Publish(c.bus, eventbus.ProfileLookup, LookupEvent{ID: id, Result: ResultHit})
		return e.Data, true
	}

	if c.lookup == nil {
		c.log.Trace("profile lookup skipped", logx.String("profile", id), logx.Err(ErrNoLookup))
		eventbus.Publish(c.bus, eventbus.ProfileLookup, LookupEvent{ID: id, Result: ResultDisabled, Error: ErrNoLookup.Error()})
		return Profile{}, false
	}

	p, err := c.lookup.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			c.log.Debug("profile lookup skipped", logx.String("profile", id), logx.Err(err))
		} else {
			c.log.Warn("profile lookup failed", logx.String("profile", id), logx.Err(err))
		}
		eventbus.Publish(c.bus, eventbus.ProfileLookup, LookupEvent{ID: id, Result: ResultError, Error: err.Error()})
		return Profile{}, false
	}

	c.mu.Lock()
	ne := Entry{ID: id, Data: p, ExpiresAt: c.now().Add(c.ttl)}
	c.entries[id] = ne
	c.mu.Unlock()
	c.log.Debug("profile cached", logx.String("profile", id), logx.Time("expires_at", ne.ExpiresAt))
	eventbus.Publish(c.bus, eventbus.ProfileLookup, LookupEvent{ID: id, Result: ResultMiss})

	if c.persistCh != nil {
		select {
		case c.persistCh <- ne:
		default:
		}
	}
	return p, true
}

// SetTTL changes the TTL applied to entries stored from now on.
func (c *Cache) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

func (c *Cache) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttl
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if !e.Valid(now) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

// Warm loads still-valid entries, e.g. from persistent storage at startup.
// Existing entries are kept when they expire later than the loaded one.
func (c *Cache) Warm(entries []Entry) int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range entries {
		if e.ID == "" || !e.Valid(now) {
			continue
		}
		if cur, ok := c.entries[e.ID]; ok && cur.ExpiresAt.After(e.ExpiresAt) {
			continue
		}
		c.entries[e.ID] = e
		n++
	}
	return n
}

// PersistLoop drains fetched entries into store until ctx is done.
// It returns immediately when the cache was created without a store.
func (c *Cache) PersistLoop(ctx context.Context, store Store) {
	if c.persistCh == nil || store == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.persistCh:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := store.PutProfile(pctx, e); err != nil {
				c.log.Debug("profile persist failed", logx.String("profile", e.ID), logx.Err(err))
			}
			cancel()
		}
	}
}
