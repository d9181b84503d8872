package wire

import (
	"encoding/binary"
	"fmt"
)

// RawSubmessage is one undecoded submessage: header plus body bytes,
// exactly as they appeared on the wire.
type RawSubmessage struct {
	Header SubmessageHeader
	Body   []byte
}

// Message is a decoded RTPS message: a header followed by zero or
// more submessages, left undecoded until a consumer asks for a
// specific kind.
type Message struct {
	Header      Header
	Submessages []RawSubmessage
}

// DecodeMessage parses a full RTPS message, validating the header and
// splitting the remainder into raw submessages without interpreting
// their bodies.
func DecodeMessage(b []byte) (Message, error) {
	header, err := DecodeHeader(b)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	msg.Header = header
	offset := HeaderLength
	for offset < len(b) {
		if len(b)-offset < SubmessageHeaderLength {
			return Message{}, fmt.Errorf("wire: trailing %d bytes too short for a submessage header", len(b)-offset)
		}
		sh, err := DecodeSubmessageHeader(b[offset:])
		if err != nil {
			return Message{}, err
		}
		offset += SubmessageHeaderLength
		length := int(sh.ContentLength)
		if offset+length > len(b) {
			return Message{}, fmt.Errorf("wire: submessage %s declares length %d exceeding remaining buffer", sh.Kind, length)
		}
		body := b[offset : offset+length]
		msg.Submessages = append(msg.Submessages, RawSubmessage{Header: sh, Body: body})
		offset += length
	}
	return msg, nil
}

// Encode serializes the header and every submessage back onto the
// wire in order.
func (m Message) Encode() []byte {
	out := m.Header.Encode()
	for _, sm := range m.Submessages {
		out = append(out, sm.Header.Encode()...)
		out = append(out, sm.Body...)
	}
	return out
}

// Append adds a submessage whose body has already been encoded, with
// the given kind and endianness.
func (m *Message) Append(kind SubmessageKind, littleEndian bool, bodyFlags byte, body []byte) {
	flags := bodyFlags
	if littleEndian {
		flags |= FlagEndianness
	}
	m.Submessages = append(m.Submessages, RawSubmessage{
		Header: SubmessageHeader{Kind: kind, Flags: flags, ContentLength: uint16(len(body))},
		Body:   body,
	})
}

// ByteOrder returns the byte order a submessage body should be
// interpreted in, given its header.
func ByteOrder(h SubmessageHeader) binary.ByteOrder {
	if h.LittleEndian() {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// IsRTPSPing reports whether b looks like the informal RTPS keep-alive
// ping some implementations send: shorter than a full header but
// still carrying the "RTPS" magic followed by the literal "DDSPING"
// at a fixed offset. The receiver tolerates these rather than logging
// them as malformed datagrams.
func IsRTPSPing(b []byte) bool {
	const pingMarkerOffset = 9
	marker := "DDSPING"
	if len(b) < pingMarkerOffset+len(marker) || len(b) >= HeaderLength {
		return false
	}
	if b[0] != ProtocolId[0] || b[1] != ProtocolId[1] || b[2] != ProtocolId[2] || b[3] != ProtocolId[3] {
		return false
	}
	return string(b[pingMarkerOffset:pingMarkerOffset+len(marker)]) == marker
}
