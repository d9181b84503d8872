package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/seqnum"
)

// Heartbeat flags.
const (
	HeartbeatFlagFinal      byte = 0x02
	HeartbeatFlagLiveliness byte = 0x04
)

// Heartbeat tells a Reader the range of sequence numbers a Writer
// currently holds, prompting a positive or negative AckNack.
type Heartbeat struct {
	ReaderId guid.EntityId
	WriterId guid.EntityId
	First    seqnum.SequenceNumber
	Last     seqnum.SequenceNumber
	Count    uint32
	Final    bool
	Liveliness bool
}

func encodeSN(order binary.ByteOrder, sn seqnum.SequenceNumber) []byte {
	out := make([]byte, 8)
	order.PutUint32(out[0:4], uint32(int64(sn)>>32))
	order.PutUint32(out[4:8], uint32(sn))
	return out
}

func decodeSN(order binary.ByteOrder, b []byte) seqnum.SequenceNumber {
	high := order.Uint32(b[0:4])
	low := order.Uint32(b[4:8])
	return seqnum.SequenceNumber(int64(high)<<32 | int64(low))
}

// EncodeBody serializes the Heartbeat body and returns the flags to
// OR into the submessage header alongside the endianness bit.
func (h Heartbeat) EncodeBody(order binary.ByteOrder) (body []byte, flags byte) {
	body = append(body, h.ReaderId[:]...)
	body = append(body, h.WriterId[:]...)
	body = append(body, encodeSN(order, h.First)...)
	body = append(body, encodeSN(order, h.Last)...)
	count := make([]byte, 4)
	order.PutUint32(count, h.Count)
	body = append(body, count...)
	if h.Final {
		flags |= HeartbeatFlagFinal
	}
	if h.Liveliness {
		flags |= HeartbeatFlagLiveliness
	}
	return body, flags
}

// DecodeHeartbeat parses a Heartbeat submessage body.
func DecodeHeartbeat(b []byte, flags byte, order binary.ByteOrder) (Heartbeat, error) {
	if len(b) < 28 {
		return Heartbeat{}, fmt.Errorf("wire: heartbeat too short")
	}
	var h Heartbeat
	copy(h.ReaderId[:], b[0:4])
	copy(h.WriterId[:], b[4:8])
	h.First = decodeSN(order, b[8:16])
	h.Last = decodeSN(order, b[16:24])
	h.Count = order.Uint32(b[24:28])
	h.Final = flags&HeartbeatFlagFinal != 0
	h.Liveliness = flags&HeartbeatFlagLiveliness != 0
	return h, nil
}

// AckNack flags.
const AckNackFlagFinal byte = 0x02

// AckNack reports which sequence numbers a Reader still needs from a
// Writer, positively or negatively acknowledging a Heartbeat.
type AckNack struct {
	ReaderId        guid.EntityId
	WriterId        guid.EntityId
	ReaderSNState   *SequenceNumberSet
	Count           uint32
	Final           bool
}

// EncodeBody serializes the AckNack body.
func (a AckNack) EncodeBody(order binary.ByteOrder) (body []byte, flags byte) {
	body = append(body, a.ReaderId[:]...)
	body = append(body, a.WriterId[:]...)
	body = append(body, a.ReaderSNState.Encode(order)...)
	count := make([]byte, 4)
	order.PutUint32(count, a.Count)
	body = append(body, count...)
	if a.Final {
		flags |= AckNackFlagFinal
	}
	return body, flags
}

// DecodeAckNack parses an AckNack submessage body.
func DecodeAckNack(b []byte, flags byte, order binary.ByteOrder) (AckNack, error) {
	if len(b) < 8+12 {
		return AckNack{}, fmt.Errorf("wire: acknack too short")
	}
	var a AckNack
	copy(a.ReaderId[:], b[0:4])
	copy(a.WriterId[:], b[4:8])
	set, consumed, err := DecodeSequenceNumberSet(b[8:], order)
	if err != nil {
		return AckNack{}, fmt.Errorf("wire: acknack reader sn state: %w", err)
	}
	a.ReaderSNState = set
	offset := 8 + consumed
	if offset+4 > len(b) {
		return AckNack{}, fmt.Errorf("wire: acknack missing count")
	}
	a.Count = order.Uint32(b[offset : offset+4])
	a.Final = flags&AckNackFlagFinal != 0
	return a, nil
}

// Gap flags are reserved; no flags beyond endianness are defined.

// Gap informs a Reader that a range of sequence numbers will never be
// delivered: they were removed from the Writer's history before every
// Reader caught up.
type Gap struct {
	ReaderId   guid.EntityId
	WriterId   guid.EntityId
	GapStart   seqnum.SequenceNumber
	GapList    *SequenceNumberSet
}

// EncodeBody serializes the Gap body.
func (g Gap) EncodeBody(order binary.ByteOrder) (body []byte, flags byte) {
	body = append(body, g.ReaderId[:]...)
	body = append(body, g.WriterId[:]...)
	body = append(body, encodeSN(order, g.GapStart)...)
	body = append(body, g.GapList.Encode(order)...)
	return body, 0
}

// DecodeGap parses a Gap submessage body.
func DecodeGap(b []byte, order binary.ByteOrder) (Gap, error) {
	if len(b) < 8+8+12 {
		return Gap{}, fmt.Errorf("wire: gap too short")
	}
	var g Gap
	copy(g.ReaderId[:], b[0:4])
	copy(g.WriterId[:], b[4:8])
	g.GapStart = decodeSN(order, b[8:16])
	set, _, err := DecodeSequenceNumberSet(b[16:], order)
	if err != nil {
		return Gap{}, fmt.Errorf("wire: gap list: %w", err)
	}
	g.GapList = set
	return g, nil
}
