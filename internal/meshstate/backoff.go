package meshstate

import (
	"sync"
	"time"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

type backoffKey struct {
	topic wire.TopicID
	peer  wire.PeerID
}

// BackoffTable tracks, per (topic, peer), the time before which we must
// not GRAFT that peer again (§3, §4.3, §4.6). Grounded on
// internal/failuredetector.go's map+mutex+ageout pattern, generalized
// from a single key to a (topic, peer) composite key and from liveness
// windows to a single expiry deadline.
type BackoffTable struct {
	mu      sync.Mutex
	expires map[backoffKey]time.Time
}

func NewBackoffTable() *BackoffTable {
	return &BackoffTable{expires: make(map[backoffKey]time.Time)}
}

// Set records that peer must not be regrafted onto topic until until. A
// later call with a later deadline extends the backoff; a call with an
// earlier deadline never shortens it (§4.3's "backoff is only ever
// extended, never shortened" rule for repeated PRUNEs).
func (b *BackoffTable) Set(topic wire.TopicID, peer wire.PeerID, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := backoffKey{topic, peer}
	if existing, ok := b.expires[key]; ok && existing.After(until) {
		return
	}
	b.expires[key] = until
}

// IsBackingOff reports whether peer is still within its backoff window
// for topic as of now.
func (b *BackoffTable) IsBackingOff(topic wire.TopicID, peer wire.PeerID, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.expires[backoffKey{topic, peer}]
	if !ok {
		return false
	}
	return now.Before(until)
}

// Until returns the backoff deadline for (topic, peer), if any.
func (b *BackoffTable) Until(topic wire.TopicID, peer wire.PeerID) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.expires[backoffKey{topic, peer}]
	return until, ok
}

// Sweep deletes every entry that has already expired as of now, bounding
// the table's memory to currently-relevant backoffs (§4.8's periodic
// housekeeping).
func (b *BackoffTable) Sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, until := range b.expires {
		if !now.Before(until) {
			delete(b.expires, key)
		}
	}
}

// Len reports the number of tracked entries, for tests and metrics.
func (b *BackoffTable) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.expires)
}
