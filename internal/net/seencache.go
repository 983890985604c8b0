package net

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// TTLSeenCache is a SeenCache backed by a TTL-bounded LRU, so an id
// dedup set can't grow without bound under sustained traffic. Distinct
// from meshstate.Peer's heIsReceivings flat LRU (golang-lru/v2's plain
// variant): the seen-set needs expiry, not just a size cap, since
// spec.md never revisits an id once its generation ages out of
// history regardless of how little traffic followed it.
type TTLSeenCache struct {
	cache *expirable.LRU[wire.SaltedID, struct{}]
}

// NewTTLSeenCache returns a SeenCache holding up to size ids, each
// expiring ttl after it was last marked seen.
func NewTTLSeenCache(size int, ttl time.Duration) *TTLSeenCache {
	return &TTLSeenCache{cache: expirable.NewLRU[wire.SaltedID, struct{}](size, nil, ttl)}
}

// HasSeen reports whether id was marked seen and not yet expired. This
// standalone implementation doubles as its own recorder: the first
// call for an id returns false and marks it, every later call within
// ttl returns true. A caller wired to a real pubsub base's own
// duplicate-detection layer should use that instead and treat this as
// the fallback for running the mesh manager standalone.
func (c *TTLSeenCache) HasSeen(id wire.SaltedID) bool {
	if _, ok := c.cache.Get(id); ok {
		return true
	}
	c.cache.Add(id, struct{}{})
	return false
}

// MarkSeen records id as seen without querying it first.
func (c *TTLSeenCache) MarkSeen(id wire.SaltedID) {
	c.cache.Add(id, struct{}{})
}
