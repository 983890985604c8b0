// Package wire defines the control-message shapes exchanged between the
// mesh manager and its peers, and the codec used to serialize them.
//
// The wire bytes of the real GossipSub protocol are assumed to be
// specified elsewhere (see the module's Non-goals); this package
// defines Go-native shapes for GRAFT/PRUNE/IHAVE/IWANT/IDONTWANT and the
// v1.4 PREAMBLE/IMRECEIVING extension, plus a length-prefixed binary
// encoding in the same spirit a real wire codec would use.
package wire

import (
	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerID identifies a remote peer. It is comparable and orderable, so it
// can key maps and backoff tables.
type PeerID = peer.ID

// TopicID names a pubsub topic.
type TopicID string

// MessageID identifies a pubsub message, typically derived from its
// signature or content hash by the surrounding pubsub base.
type MessageID string

// SaltedID is a per-node-secret keyed hash of a MessageID, used to defeat
// cross-node prediction of the seen set.
type SaltedID [32]byte

// Codec is the negotiated protocol variant for a peer connection.
type Codec int

const (
	CodecV10 Codec = iota
	CodecV11
	CodecV12
	CodecV14
)

func (c Codec) String() string {
	switch c {
	case CodecV10:
		return "1.0.0"
	case CodecV11:
		return "1.1.0"
	case CodecV12:
		return "1.2.0"
	case CodecV14:
		return "1.4.0"
	default:
		return "unknown"
	}
}

// SupportsPreamble reports whether the codec negotiated with a peer
// supports the preamble/bandwidth extension (§4.7).
func (c Codec) SupportsPreamble() bool {
	return c == CodecV14
}

// PeerInfoMsg carries a peer's identity and, optionally, its signed peer
// record for peer exchange. Empty SignedPeerRecord means "no record
// available".
type PeerInfoMsg struct {
	PeerID           PeerID
	SignedPeerRecord []byte
}

// Graft requests that the sender be added to the mesh for Topic.
type Graft struct {
	Topic TopicID
}

// Prune evicts the recipient from the mesh for Topic, optionally
// suggesting alternates via Peers and specifying how long the recipient
// must back off before GRAFTing again.
type Prune struct {
	Topic          TopicID
	Peers          []PeerInfoMsg
	BackoffSeconds uint64
}

// IHave advertises message ids the sender has recently seen for Topic.
type IHave struct {
	Topic      TopicID
	MessageIDs []MessageID
}

// IWant requests full delivery of the named message ids.
type IWant struct {
	MessageIDs []MessageID
}

// IDontWant asks the recipient to suppress sending the named message ids.
type IDontWant struct {
	MessageIDs []MessageID
}

// Preamble announces that the sender is about to (or has begun to)
// transmit a large message, ahead of the message itself (v1.4 extension).
type Preamble struct {
	MessageID     MessageID
	Topic         TopicID
	MessageLength int
}

// IMReceiving announces that the sender is currently receiving a message
// from a third party, letting recipients suppress redundant IWANTs
// (v1.4 extension).
type IMReceiving struct {
	MessageID     MessageID
	MessageLength int
}

// ControlMessage batches every control submessage type that may appear in
// a single RPC, mirroring how a real GossipSub RPC piggybacks control
// messages of every kind in one frame.
type ControlMessage struct {
	Grafts       []Graft
	Prunes       []Prune
	IHaves       []IHave
	IWants       []IWant
	IDontWants   []IDontWant
	Preambles    []Preamble
	IMReceivings []IMReceiving
}

// IsEmpty reports whether the control message carries nothing worth
// sending.
func (c *ControlMessage) IsEmpty() bool {
	return len(c.Grafts) == 0 && len(c.Prunes) == 0 && len(c.IHaves) == 0 &&
		len(c.IWants) == 0 && len(c.IDontWants) == 0 && len(c.Preambles) == 0 &&
		len(c.IMReceivings) == 0
}

// RPC pairs an inbound control message with the peer that sent it.
type RPC struct {
	From    PeerID
	Control ControlMessage
}
