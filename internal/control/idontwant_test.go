package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

func TestHandleIDontWant_RecordsSaltedIDs(t *testing.T) {
	params := config.Default()
	h, store, _, _, _ := newTestHandler(t, params)

	h.HandleIDontWant("p1", []wire.IDontWant{{MessageIDs: []wire.MessageID{"m1", "m2"}}})

	peer, ok := store.Peer("p1")
	require.True(t, ok)
	assert.True(t, peer.HasIDontWant(identitySalter{}.Salt("m1")))
	assert.True(t, peer.HasIDontWant(identitySalter{}.Salt("m2")))
}

func TestHandleIDontWant_RespectsMaxCount(t *testing.T) {
	params := config.Default()
	params.IDontWantMaxCount = 1
	h, store, _, _, _ := newTestHandler(t, params)

	h.HandleIDontWant("p1", []wire.IDontWant{{MessageIDs: []wire.MessageID{"m1", "m2"}}})

	peer, _ := store.Peer("p1")
	assert.True(t, peer.HasIDontWant(identitySalter{}.Salt("m1")))
	assert.False(t, peer.HasIDontWant(identitySalter{}.Salt("m2")))
}

type recordingPreambleTracker struct {
	tracked map[wire.MessageID]bool
	notes   []wire.PeerID
}

func (r *recordingPreambleTracker) IsTracked(id wire.MessageID) bool { return r.tracked[id] }
func (r *recordingPreambleTracker) NoteAlternateSender(_ wire.MessageID, from wire.PeerID) {
	r.notes = append(r.notes, from)
}

func TestHandleIDontWant_NotesAlternateSenderWhenPreambleWired(t *testing.T) {
	params := config.Default()
	h, _, _, _, _ := newTestHandler(t, params)
	tracker := &recordingPreambleTracker{tracked: map[wire.MessageID]bool{}}
	h.SetPreambleTracker(tracker)

	h.HandleIDontWant("p1", []wire.IDontWant{{MessageIDs: []wire.MessageID{"m1"}}})

	require.Len(t, tracker.notes, 1)
	assert.Equal(t, wire.PeerID("p1"), tracker.notes[0])
}
