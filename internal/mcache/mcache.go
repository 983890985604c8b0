// Package mcache implements the generational message cache (§4.2): a
// sliding window of recently published messages, grouped by heartbeat
// generation, that backs gossip advertisement via IHAVE and lookup via
// IWANT.
//
// Grounded on internal/arrivalwindow.go's circular buffer of
// generations, generalized from a ring of numeric samples to a ring of
// `map[MessageID]Message` buckets. Each generation bucket is itself an
// LRU (github.com/hashicorp/golang-lru/v2), bounding per-generation
// memory the way the rest of the corpus bounds caches rather than
// growing unboundedly on a hostile publisher.
package mcache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// Message is the minimal payload the mesh manager cares about: the
// topic it belongs to (for window(topic) filtering) and an opaque blob
// the pubsub base is responsible for interpreting.
type Message struct {
	ID      wire.MessageID
	Topic   wire.TopicID
	Payload []byte
}

type generation struct {
	entries *lru.Cache[wire.MessageID, Message]
}

// Cache is the generational message cache. It is not safe for
// concurrent use without external synchronization, matching the rest
// of the mesh manager's single-threaded-scheduler assumption (§5) —
// callers serialize access the same way they serialize access to the
// Peer State Store.
type Cache struct {
	generations []*generation
	historyGens int
	genCapacity int
}

// New returns an empty cache retaining historyGens generations, each
// capped at genCapacity messages.
func New(historyGens, genCapacity int) *Cache {
	c := &Cache{
		historyGens: historyGens,
		genCapacity: genCapacity,
	}
	c.generations = []*generation{c.newGeneration()}
	return c
}

func (c *Cache) newGeneration() *generation {
	cache, err := lru.New[wire.MessageID, Message](c.genCapacity)
	if err != nil {
		// Only returns an error for size <= 0, which is a caller
		// configuration bug, not a runtime condition.
		panic("mcache: invalid generation capacity")
	}
	return &generation{entries: cache}
}

// Add records msg into the newest generation.
func (c *Cache) Add(msg Message) {
	c.generations[0].entries.Add(msg.ID, msg)
}

// Get returns the message for id if any retained generation holds it.
func (c *Cache) Get(id wire.MessageID) (Message, bool) {
	for _, gen := range c.generations {
		if msg, ok := gen.entries.Peek(id); ok {
			return msg, true
		}
	}
	return Message{}, false
}

// Window returns every message id in the current window belonging to
// topic, across all retained generations.
func (c *Cache) Window(topic wire.TopicID) []wire.MessageID {
	var ids []wire.MessageID
	for _, gen := range c.generations {
		for _, id := range gen.entries.Keys() {
			msg, ok := gen.entries.Peek(id)
			if ok && msg.Topic == topic {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Shift rotates the cache: the oldest generation is dropped and a fresh
// empty generation becomes current (§4.8 step 5).
func (c *Cache) Shift() {
	gens := append([]*generation{c.newGeneration()}, c.generations...)
	if len(gens) > c.historyGens {
		gens = gens[:c.historyGens]
	}
	c.generations = gens
}

// Generations reports how many generations are currently retained, for
// tests and metrics.
func (c *Cache) Generations() int {
	return len(c.generations)
}
