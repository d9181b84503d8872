package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/locator"
)

// InfoTimestampFlagInvalidate marks the submessage as clearing the
// receiver's current source timestamp rather than setting one.
const InfoTimestampFlagInvalidate byte = 0x02

// InfoTimestamp sets (or clears) the timestamp applied to subsequent
// entity submessages in the same message.
type InfoTimestamp struct {
	Timestamp  time.Time
	Invalidate bool
}

// EncodeBody serializes the InfoTimestamp body.
func (t InfoTimestamp) EncodeBody(order binary.ByteOrder) (body []byte, flags byte) {
	if t.Invalidate {
		return nil, InfoTimestampFlagInvalidate
	}
	body = make([]byte, 8)
	sec := t.Timestamp.Unix()
	frac := uint32(uint64(t.Timestamp.Nanosecond()) * (1 << 32) / 1e9)
	order.PutUint32(body[0:4], uint32(sec))
	order.PutUint32(body[4:8], frac)
	return body, 0
}

// DecodeInfoTimestamp parses an InfoTimestamp submessage body.
func DecodeInfoTimestamp(b []byte, flags byte, order binary.ByteOrder) (InfoTimestamp, error) {
	if flags&InfoTimestampFlagInvalidate != 0 {
		return InfoTimestamp{Invalidate: true}, nil
	}
	if len(b) < 8 {
		return InfoTimestamp{}, fmt.Errorf("wire: info timestamp too short")
	}
	sec := int64(order.Uint32(b[0:4]))
	frac := order.Uint32(b[4:8])
	ns := int64(frac) * 1e9 / (1 << 32)
	return InfoTimestamp{Timestamp: time.Unix(sec, ns).UTC()}, nil
}

// InfoDestination overrides dest_guid_prefix for the remainder of the
// message, or restores the receiver's own prefix if it carries the
// unknown prefix.
type InfoDestination struct {
	GuidPrefix guid.GuidPrefix
}

// EncodeBody serializes the InfoDestination body.
func (d InfoDestination) EncodeBody(binary.ByteOrder) (body []byte, flags byte) {
	return append([]byte(nil), d.GuidPrefix[:]...), 0
}

// DecodeInfoDestination parses an InfoDestination submessage body.
func DecodeInfoDestination(b []byte) (InfoDestination, error) {
	if len(b) < guid.PrefixLength {
		return InfoDestination{}, fmt.Errorf("wire: info destination too short")
	}
	var d InfoDestination
	copy(d.GuidPrefix[:], b[:guid.PrefixLength])
	return d, nil
}

// InfoSource overrides the source guid prefix and protocol version for
// the remainder of the message; the Message Receiver also clears the
// source timestamp on it. VendorId is neither encoded nor decoded (the
// body is 2 reserved bytes, the version, and the prefix), so the
// receiver's source vendor id is left unchanged.
type InfoSource struct {
	Version    ProtocolVersion
	VendorId   VendorId
	GuidPrefix guid.GuidPrefix
}

// EncodeBody serializes the InfoSource body.
func (s InfoSource) EncodeBody(binary.ByteOrder) (body []byte, flags byte) {
	body = make([]byte, 4+guid.PrefixLength)
	body[2] = s.Version.Major
	body[3] = s.Version.Minor
	// bytes 0-1 are reserved; vendor id does not fit RTPS 2.3's
	// InfoSource layout (it precedes version in some profiles), kept
	// here for symmetry with InfoDestination's prefix-only body.
	copy(body[4:], s.GuidPrefix[:])
	return body, 0
}

// DecodeInfoSource parses an InfoSource submessage body.
func DecodeInfoSource(b []byte) (InfoSource, error) {
	if len(b) < 4+guid.PrefixLength {
		return InfoSource{}, fmt.Errorf("wire: info source too short")
	}
	var s InfoSource
	s.Version = ProtocolVersion{Major: b[2], Minor: b[3]}
	copy(s.GuidPrefix[:], b[4:4+guid.PrefixLength])
	return s, nil
}

// InfoReply flags.
const InfoReplyFlagMulticast byte = 0x02

// InfoReply supplies the locators subsequent submessages in the
// message should be answered at.
type InfoReply struct {
	UnicastLocatorList   locator.List
	MulticastLocatorList locator.List
}

// DecodeInfoReply parses an InfoReply submessage body. Only the
// locator count and entries this core actually consumes are decoded;
// the wire layout of a LocatorList is {count: u32, locator...}.
func DecodeInfoReply(b []byte, flags byte, order binary.ByteOrder) (InfoReply, error) {
	var r InfoReply
	offset := 0
	unicast, consumed, err := decodeLocatorList(b[offset:], order)
	if err != nil {
		return InfoReply{}, fmt.Errorf("wire: info reply unicast locators: %w", err)
	}
	r.UnicastLocatorList = unicast
	offset += consumed
	if flags&InfoReplyFlagMulticast != 0 && offset < len(b) {
		multicast, _, err := decodeLocatorList(b[offset:], order)
		if err != nil {
			return InfoReply{}, fmt.Errorf("wire: info reply multicast locators: %w", err)
		}
		r.MulticastLocatorList = multicast
	}
	return r, nil
}

func decodeLocatorList(b []byte, order binary.ByteOrder) (locator.List, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("wire: locator list count truncated")
	}
	count := order.Uint32(b[0:4])
	offset := 4
	list := make(locator.List, 0, count)
	for i := uint32(0); i < count; i++ {
		if offset+24 > len(b) {
			return nil, 0, fmt.Errorf("wire: locator list entry %d truncated", i)
		}
		var loc locator.Locator
		loc.Kind = locator.Kind(int32(order.Uint32(b[offset : offset+4])))
		loc.Port = order.Uint32(b[offset+4 : offset+8])
		copy(loc.Address[:], b[offset+8:offset+24])
		list = append(list, loc)
		offset += 24
	}
	return list, offset, nil
}
