package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_EncodeDecode_PreservesOrderAndFields(t *testing.T) {
	msg := ControlMessage{
		Grafts: []Graft{{Topic: "chat"}},
		Prunes: []Prune{{
			Topic:          "chat",
			BackoffSeconds: 60,
			Peers: []PeerInfoMsg{
				{PeerID: "peer-a", SignedPeerRecord: []byte{0x1, 0x2}},
				{PeerID: "peer-b", SignedPeerRecord: nil},
			},
		}},
		IHaves:     []IHave{{Topic: "chat", MessageIDs: []MessageID{"m1", "m2"}}},
		IWants:     []IWant{{MessageIDs: []MessageID{"m3"}}},
		IDontWants: []IDontWant{{MessageIDs: []MessageID{"m4", "m5"}}},
		Preambles:  []Preamble{{MessageID: "m6", Topic: "chat", MessageLength: 4096}},
		IMReceivings: []IMReceiving{
			{MessageID: "m6", MessageLength: 4096},
		},
	}

	b := Encode(&msg)
	decoded, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestCodec_Decode_SkipsUnknownTags(t *testing.T) {
	msg := ControlMessage{Grafts: []Graft{{Topic: "chat"}}}
	b := Encode(&msg)

	// Append a record with a tag no current decoder recognises.
	unknown := appendRecord(nil, tag(0xEE), []byte{0xDE, 0xAD})
	b = append(b, unknown...)

	decoded, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestCodec_Decode_TruncatedRecord(t *testing.T) {
	b := Encode(&ControlMessage{Grafts: []Graft{{Topic: "chat"}}})
	_, err := Decode(b[:len(b)-2])
	assert.Error(t, err)
}

func TestCodec_IsEmpty(t *testing.T) {
	var c ControlMessage
	assert.True(t, c.IsEmpty())
	c.Grafts = []Graft{{Topic: "t"}}
	assert.False(t, c.IsEmpty())
}
