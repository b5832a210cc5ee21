// Package identitycache keeps recently authorized user records in memory so
// every request does not hit the record store. Entries live until their TTL
// passes, the LRU capacity pushes them out, or a mutation invalidates them.
// The cache never writes back; the record store stays the source of truth.
package identitycache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/dkarpov/authvault/internal/server/models"
)

// Loader fetches a user record from the record store on cache miss.
type Loader func(ctx context.Context, identity string) (*models.User, error)

type entry struct {
	key       string
	user      *models.User
	expiresAt time.Time
}

// Cache is an LRU+TTL read-through cache keyed by subject identity.
// A single mutex guards both the map and the LRU list; Get mutates the list
// (MoveToFront), so there is no benefit to an RWMutex here.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	lru      *list.List
	// gen is bumped on every Invalidate. A load started before the bump
	// carries a snapshot that may predate the mutation, so store refuses it.
	gen  uint64
	load Loader
	now  func() time.Time
}

func New(capacity int, ttl time.Duration, load Loader) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
		load:     load,
		now:      time.Now,
	}
}

// Get returns the cached record for identity, loading it from the record
// store on miss or TTL expiry. A loader error is returned as-is and nothing
// is cached for that key.
func (c *Cache) Get(ctx context.Context, identity string) (*models.User, error) {
	user, ok, gen := c.lookup(identity)
	if ok {
		return user, nil
	}

	user, err := c.load(ctx, identity)
	if err != nil {
		return nil, err
	}

	c.store(identity, user, gen)
	return user, nil
}

// Invalidate drops the entry for identity immediately. Callers that mutate
// the underlying record (password change, role change, deactivation) must
// invoke it so stale authorization data is never served.
func (c *Cache) Invalidate(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if elem, ok := c.items[identity]; ok {
		c.lru.Remove(elem)
		delete(c.items, identity)
	}
}

// Len reports the number of live entries, expired ones included until their
// next lookup evicts them.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// lookup also returns the generation observed at miss time so the caller's
// eventual store can detect an invalidation that raced its load.
func (c *Cache) lookup(identity string) (*models.User, bool, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[identity]
	if !ok {
		return nil, false, c.gen
	}

	ent := elem.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.lru.Remove(elem)
		delete(c.items, identity)
		return nil, false, c.gen
	}

	c.lru.MoveToFront(elem)
	return ent.user, true, c.gen
}

func (c *Cache) store(identity string, user *models.User, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// An Invalidate landed while the load was in flight; the snapshot may be
	// stale, so the next reader goes back to the record store.
	if c.gen != gen {
		return
	}

	expiresAt := c.now().Add(c.ttl)

	if elem, ok := c.items[identity]; ok {
		c.lru.MoveToFront(elem)
		ent := elem.Value.(*entry)
		ent.user = user
		ent.expiresAt = expiresAt
		return
	}

	elem := c.lru.PushFront(&entry{key: identity, user: user, expiresAt: expiresAt})
	c.items[identity] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}
