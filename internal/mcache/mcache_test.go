package mcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

func TestCache_AddAndGet(t *testing.T) {
	c := New(3, 10)
	c.Add(Message{ID: "m1", Topic: "t1", Payload: []byte("hello")})

	msg, ok := c.Get("m1")
	require.True(t, ok)
	assert.Equal(t, wire.TopicID("t1"), msg.Topic)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_WindowFiltersbyTopic(t *testing.T) {
	c := New(3, 10)
	c.Add(Message{ID: "m1", Topic: "t1"})
	c.Add(Message{ID: "m2", Topic: "t2"})
	c.Add(Message{ID: "m3", Topic: "t1"})

	window := c.Window("t1")
	assert.ElementsMatch(t, []wire.MessageID{"m1", "m3"}, window)
}

func TestCache_ShiftDropsOldestGeneration(t *testing.T) {
	c := New(2, 10)
	c.Add(Message{ID: "m1", Topic: "t1"})
	c.Shift()
	c.Add(Message{ID: "m2", Topic: "t1"})
	c.Shift()

	// historyGens=2: after two shifts the m1 generation (now the third
	// oldest) should have aged out entirely.
	_, ok := c.Get("m1")
	assert.False(t, ok, "message from an aged-out generation should no longer be retrievable")

	_, ok = c.Get("m2")
	assert.True(t, ok)
}

func TestCache_ShiftRetainsConfiguredGenerationCount(t *testing.T) {
	c := New(4, 10)
	for i := 0; i < 10; i++ {
		c.Shift()
	}
	assert.Equal(t, 4, c.Generations())
}

func TestCache_GenerationCapacityEvictsOldestEntryInBucket(t *testing.T) {
	c := New(1, 2)
	c.Add(Message{ID: "m1", Topic: "t1"})
	c.Add(Message{ID: "m2", Topic: "t1"})
	c.Add(Message{ID: "m3", Topic: "t1"})

	_, ok := c.Get("m1")
	assert.False(t, ok, "LRU-capped generation should evict the least recently used entry")
}
