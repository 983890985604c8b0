package wire

import (
	"encoding/binary"
	"fmt"
)

// Submessage tags. Each control message on the wire is a sequence of
// tagged, length-prefixed records so a decoder can skip records it
// doesn't understand rather than failing the whole RPC.
type tag uint8

const (
	tagGraft tag = iota + 1
	tagPrune
	tagIHave
	tagIWant
	tagIDontWant
	tagPreamble
	tagIMReceiving
)

const (
	uint8Len  = 1
	uint16Len = 2
	uint64Len = 8
)

// Encode serializes a ControlMessage into the wire's length-prefixed
// binary form.
func Encode(c *ControlMessage) []byte {
	buf := []byte{}
	for _, g := range c.Grafts {
		buf = appendRecord(buf, tagGraft, encodeGraft(g))
	}
	for _, p := range c.Prunes {
		buf = appendRecord(buf, tagPrune, encodePrune(p))
	}
	for _, ih := range c.IHaves {
		buf = appendRecord(buf, tagIHave, encodeIHave(ih))
	}
	for _, iw := range c.IWants {
		buf = appendRecord(buf, tagIWant, encodeIWant(iw))
	}
	for _, dw := range c.IDontWants {
		buf = appendRecord(buf, tagIDontWant, encodeIDontWant(dw))
	}
	for _, pr := range c.Preambles {
		buf = appendRecord(buf, tagPreamble, encodePreamble(pr))
	}
	for _, im := range c.IMReceivings {
		buf = appendRecord(buf, tagIMReceiving, encodeIMReceiving(im))
	}
	return buf
}

// Decode parses a byte stream produced by Encode. Unrecognised tags are
// skipped rather than treated as a fatal error, so a codec upgrade on one
// side of a connection doesn't break the other (spec.md §7's policy of
// truncating rather than erroring on malformed/foreign submessages).
func Decode(b []byte) (ControlMessage, error) {
	var c ControlMessage
	offset := 0
	for offset < len(b) {
		if len(b) < offset+uint8Len+uint16Len {
			return c, fmt.Errorf("wire: truncated record header at offset %d", offset)
		}
		t := tag(b[offset])
		offset += uint8Len
		n := int(binary.BigEndian.Uint16(b[offset : offset+uint16Len]))
		offset += uint16Len
		if len(b) < offset+n {
			return c, fmt.Errorf("wire: truncated record body at offset %d", offset)
		}
		body := b[offset : offset+n]
		offset += n

		switch t {
		case tagGraft:
			c.Grafts = append(c.Grafts, decodeGraft(body))
		case tagPrune:
			c.Prunes = append(c.Prunes, decodePrune(body))
		case tagIHave:
			c.IHaves = append(c.IHaves, decodeIHave(body))
		case tagIWant:
			c.IWants = append(c.IWants, decodeIWant(body))
		case tagIDontWant:
			c.IDontWants = append(c.IDontWants, decodeIDontWant(body))
		case tagPreamble:
			c.Preambles = append(c.Preambles, decodePreamble(body))
		case tagIMReceiving:
			c.IMReceivings = append(c.IMReceivings, decodeIMReceiving(body))
		default:
			// unknown record kind; skip.
		}
	}
	return c, nil
}

func appendRecord(buf []byte, t tag, body []byte) []byte {
	header := make([]byte, uint8Len+uint16Len)
	header[0] = byte(t)
	binary.BigEndian.PutUint16(header[uint8Len:], uint16(len(body)))
	buf = append(buf, header...)
	buf = append(buf, body...)
	return buf
}

func encodeStr(buf []byte, s string) []byte {
	l := make([]byte, uint16Len)
	binary.BigEndian.PutUint16(l, uint16(len(s)))
	buf = append(buf, l...)
	buf = append(buf, s...)
	return buf
}

func decodeStr(b []byte, offset int) (string, int) {
	n := int(binary.BigEndian.Uint16(b[offset : offset+uint16Len]))
	offset += uint16Len
	return string(b[offset : offset+n]), offset + n
}

func encodeBytes(buf []byte, b []byte) []byte {
	l := make([]byte, uint16Len)
	binary.BigEndian.PutUint16(l, uint16(len(b)))
	buf = append(buf, l...)
	buf = append(buf, b...)
	return buf
}

func decodeBytes(b []byte, offset int) ([]byte, int) {
	n := int(binary.BigEndian.Uint16(b[offset : offset+uint16Len]))
	offset += uint16Len
	if n == 0 {
		// An empty field decodes as nil, the "absent" form Encode was given.
		return nil, offset
	}
	return b[offset : offset+n], offset + n
}

func encodeGraft(g Graft) []byte {
	return encodeStr(nil, string(g.Topic))
}

func decodeGraft(b []byte) Graft {
	topic, _ := decodeStr(b, 0)
	return Graft{Topic: TopicID(topic)}
}

func encodePeerInfo(buf []byte, p PeerInfoMsg) []byte {
	buf = encodeStr(buf, string(p.PeerID))
	buf = encodeBytes(buf, p.SignedPeerRecord)
	return buf
}

func decodePeerInfo(b []byte, offset int) (PeerInfoMsg, int) {
	id, offset := decodeStr(b, offset)
	spr, offset := decodeBytes(b, offset)
	return PeerInfoMsg{PeerID: PeerID(id), SignedPeerRecord: spr}, offset
}

func encodePrune(p Prune) []byte {
	buf := encodeStr(nil, string(p.Topic))
	backoff := make([]byte, uint64Len)
	binary.BigEndian.PutUint64(backoff, p.BackoffSeconds)
	buf = append(buf, backoff...)
	count := make([]byte, uint16Len)
	binary.BigEndian.PutUint16(count, uint16(len(p.Peers)))
	buf = append(buf, count...)
	for _, peer := range p.Peers {
		buf = encodePeerInfo(buf, peer)
	}
	return buf
}

func decodePrune(b []byte) Prune {
	topic, offset := decodeStr(b, 0)
	backoff := binary.BigEndian.Uint64(b[offset : offset+uint64Len])
	offset += uint64Len
	count := int(binary.BigEndian.Uint16(b[offset : offset+uint16Len]))
	offset += uint16Len
	peers := make([]PeerInfoMsg, 0, count)
	for i := 0; i < count; i++ {
		var p PeerInfoMsg
		p, offset = decodePeerInfo(b, offset)
		peers = append(peers, p)
	}
	return Prune{Topic: TopicID(topic), BackoffSeconds: backoff, Peers: peers}
}

func encodeIDs(buf []byte, ids []MessageID) []byte {
	count := make([]byte, uint16Len)
	binary.BigEndian.PutUint16(count, uint16(len(ids)))
	buf = append(buf, count...)
	for _, id := range ids {
		buf = encodeStr(buf, string(id))
	}
	return buf
}

func decodeIDs(b []byte, offset int) ([]MessageID, int) {
	count := int(binary.BigEndian.Uint16(b[offset : offset+uint16Len]))
	offset += uint16Len
	ids := make([]MessageID, 0, count)
	for i := 0; i < count; i++ {
		var s string
		s, offset = decodeStr(b, offset)
		ids = append(ids, MessageID(s))
	}
	return ids, offset
}

func encodeIHave(ih IHave) []byte {
	buf := encodeStr(nil, string(ih.Topic))
	buf = encodeIDs(buf, ih.MessageIDs)
	return buf
}

func decodeIHave(b []byte) IHave {
	topic, offset := decodeStr(b, 0)
	ids, _ := decodeIDs(b, offset)
	return IHave{Topic: TopicID(topic), MessageIDs: ids}
}

func encodeIWant(iw IWant) []byte {
	return encodeIDs(nil, iw.MessageIDs)
}

func decodeIWant(b []byte) IWant {
	ids, _ := decodeIDs(b, 0)
	return IWant{MessageIDs: ids}
}

func encodeIDontWant(dw IDontWant) []byte {
	return encodeIDs(nil, dw.MessageIDs)
}

func decodeIDontWant(b []byte) IDontWant {
	ids, _ := decodeIDs(b, 0)
	return IDontWant{MessageIDs: ids}
}

func encodePreamble(p Preamble) []byte {
	buf := encodeStr(nil, string(p.MessageID))
	buf = encodeStr(buf, string(p.Topic))
	length := make([]byte, uint64Len)
	binary.BigEndian.PutUint64(length, uint64(p.MessageLength))
	buf = append(buf, length...)
	return buf
}

func decodePreamble(b []byte) Preamble {
	id, offset := decodeStr(b, 0)
	topic, offset2 := decodeStr(b, offset)
	length := binary.BigEndian.Uint64(b[offset2 : offset2+uint64Len])
	return Preamble{MessageID: MessageID(id), Topic: TopicID(topic), MessageLength: int(length)}
}

func encodeIMReceiving(im IMReceiving) []byte {
	buf := encodeStr(nil, string(im.MessageID))
	length := make([]byte, uint64Len)
	binary.BigEndian.PutUint64(length, uint64(im.MessageLength))
	buf = append(buf, length...)
	return buf
}

func decodeIMReceiving(b []byte) IMReceiving {
	id, offset := decodeStr(b, 0)
	length := binary.BigEndian.Uint64(b[offset : offset+uint64Len])
	return IMReceiving{MessageID: MessageID(id), MessageLength: int(length)}
}
