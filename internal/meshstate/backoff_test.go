package meshstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

func TestBackoffTable_SetAndIsBackingOff(t *testing.T) {
	b := NewBackoffTable()
	now := time.Now()

	assert.False(t, b.IsBackingOff("t1", "p1", now))

	b.Set("t1", "p1", now.Add(time.Minute))
	assert.True(t, b.IsBackingOff("t1", "p1", now))
	assert.False(t, b.IsBackingOff("t1", "p1", now.Add(2*time.Minute)))
}

func TestBackoffTable_OnlyExtendsNeverShortens(t *testing.T) {
	b := NewBackoffTable()
	now := time.Now()

	b.Set("t1", "p1", now.Add(10*time.Minute))
	b.Set("t1", "p1", now.Add(time.Minute))

	until, ok := b.Until("t1", "p1")
	assert.True(t, ok)
	assert.Equal(t, now.Add(10*time.Minute), until, "a shorter deadline must never shorten an existing backoff")

	b.Set("t1", "p1", now.Add(20*time.Minute))
	until, _ = b.Until("t1", "p1")
	assert.Equal(t, now.Add(20*time.Minute), until, "a longer deadline must extend the backoff")
}

func TestBackoffTable_KeysAreScopedPerTopic(t *testing.T) {
	b := NewBackoffTable()
	now := time.Now()
	b.Set("t1", "p1", now.Add(time.Minute))

	assert.True(t, b.IsBackingOff("t1", "p1", now))
	assert.False(t, b.IsBackingOff("t2", "p1", now), "backoff on one topic must not apply to another")
}

func TestBackoffTable_Sweep_RemovesExpiredEntries(t *testing.T) {
	b := NewBackoffTable()
	now := time.Now()
	b.Set("t1", "p1", now.Add(-time.Second))
	b.Set("t1", "p2", now.Add(time.Minute))

	b.Sweep(now)

	assert.Equal(t, 1, b.Len())
	_, ok := b.Until("t1", "p1")
	assert.False(t, ok)
	_, ok = b.Until("t1", "p2")
	assert.True(t, ok)
}

func TestBackoffTable_DistinctPeersOnSameTopic(t *testing.T) {
	b := NewBackoffTable()
	now := time.Now()
	b.Set("t1", "p1", now.Add(time.Minute))

	assert.True(t, b.IsBackingOff("t1", wire.PeerID("p1"), now))
	assert.False(t, b.IsBackingOff("t1", wire.PeerID("p2"), now))
}
