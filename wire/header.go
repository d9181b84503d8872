// Package wire implements the RTPS 2.3 on-the-wire message and
// submessage framing: headers, the submessage kind table, parameter
// lists, and the sequence-number bitmap used by Gap/AckNack.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/katzenpost/rtpscore/guid"
)

// ProtocolId is the fixed 4-byte magic that opens every RTPS message.
var ProtocolId = [4]byte{'R', 'T', 'P', 'S'}

// ProtocolVersion is the {major, minor} pair this core speaks.
type ProtocolVersion struct {
	Major byte
	Minor byte
}

// Version23 is RTPS 2.3, the version this core implements.
var Version23 = ProtocolVersion{Major: 2, Minor: 3}

// VendorId identifies the implementation that produced a message.
type VendorId [2]byte

// HeaderLength is the fixed size of the RTPS message header.
const HeaderLength = 20

// Header is the fixed 20-byte prologue of every RTPS message.
type Header struct {
	Version    ProtocolVersion
	VendorId   VendorId
	GuidPrefix guid.GuidPrefix
}

// Encode writes the header into a fresh 20-byte slice.
func (h Header) Encode() []byte {
	out := make([]byte, HeaderLength)
	copy(out[0:4], ProtocolId[:])
	out[4] = h.Version.Major
	out[5] = h.Version.Minor
	out[6] = h.VendorId[0]
	out[7] = h.VendorId[1]
	copy(out[8:20], h.GuidPrefix[:])
	return out
}

// DecodeHeader parses the first 20 bytes of b as a message header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, fmt.Errorf("wire: header too short: %d bytes", len(b))
	}
	if b[0] != ProtocolId[0] || b[1] != ProtocolId[1] || b[2] != ProtocolId[2] || b[3] != ProtocolId[3] {
		return Header{}, fmt.Errorf("wire: bad magic %q", b[0:4])
	}
	var h Header
	h.Version = ProtocolVersion{Major: b[4], Minor: b[5]}
	h.VendorId = VendorId{b[6], b[7]}
	copy(h.GuidPrefix[:], b[8:20])
	return h, nil
}

// SubmessageKind tags the type of one submessage within a message.
type SubmessageKind byte

const (
	KindPad                SubmessageKind = 0x01
	KindAckNack            SubmessageKind = 0x06
	KindHeartbeat          SubmessageKind = 0x07
	KindGap                SubmessageKind = 0x08
	KindInfoTimestamp      SubmessageKind = 0x09
	KindInfoSource         SubmessageKind = 0x0c
	KindInfoReplyIP4       SubmessageKind = 0x0d
	KindInfoDestination    SubmessageKind = 0x0e
	KindInfoReply          SubmessageKind = 0x0f
	KindNackFrag           SubmessageKind = 0x12
	KindHeartbeatFrag      SubmessageKind = 0x13
	KindData               SubmessageKind = 0x15
	KindDataFrag           SubmessageKind = 0x16
	KindSecurePrefix       SubmessageKind = 0x31
	KindSecureBody         SubmessageKind = 0x30
	KindSecurePostfix      SubmessageKind = 0x32
	KindSecureRTPSPrefix   SubmessageKind = 0x33
	KindSecureRTPSPostfix  SubmessageKind = 0x34
)

func (k SubmessageKind) String() string {
	switch k {
	case KindPad:
		return "Pad"
	case KindAckNack:
		return "AckNack"
	case KindHeartbeat:
		return "Heartbeat"
	case KindGap:
		return "Gap"
	case KindInfoTimestamp:
		return "InfoTimestamp"
	case KindInfoSource:
		return "InfoSource"
	case KindInfoReplyIP4:
		return "InfoReplyIP4"
	case KindInfoDestination:
		return "InfoDestination"
	case KindInfoReply:
		return "InfoReply"
	case KindNackFrag:
		return "NackFrag"
	case KindHeartbeatFrag:
		return "HeartbeatFrag"
	case KindData:
		return "Data"
	case KindDataFrag:
		return "DataFrag"
	case KindSecurePrefix:
		return "SecurePrefix"
	case KindSecureBody:
		return "SecureBody"
	case KindSecurePostfix:
		return "SecurePostfix"
	case KindSecureRTPSPrefix:
		return "SecureRTPSPrefix"
	case KindSecureRTPSPostfix:
		return "SecureRTPSPostfix"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(k))
	}
}

// FlagEndianness is bit 0 of a submessage's flags octet: when set the
// submessage body is little-endian, otherwise big-endian.
const FlagEndianness byte = 0x01

// SubmessageHeaderLength is the fixed size of a submessage header.
const SubmessageHeaderLength = 4

// SubmessageHeader is the 4-byte prologue of every submessage.
type SubmessageHeader struct {
	Kind          SubmessageKind
	Flags         byte
	ContentLength uint16
}

// LittleEndian reports whether the endianness flag selects
// little-endian encoding for the submessage body.
func (h SubmessageHeader) LittleEndian() bool {
	return h.Flags&FlagEndianness != 0
}

func (h SubmessageHeader) order() binary.ByteOrder {
	if h.LittleEndian() {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Encode writes the submessage header into a fresh 4-byte slice.
func (h SubmessageHeader) Encode() []byte {
	out := make([]byte, SubmessageHeaderLength)
	out[0] = byte(h.Kind)
	out[1] = h.Flags
	h.order().PutUint16(out[2:4], h.ContentLength)
	return out
}

// DecodeSubmessageHeader parses the first 4 bytes of b as a
// submessage header.
func DecodeSubmessageHeader(b []byte) (SubmessageHeader, error) {
	if len(b) < SubmessageHeaderLength {
		return SubmessageHeader{}, fmt.Errorf("wire: submessage header too short: %d bytes", len(b))
	}
	h := SubmessageHeader{
		Kind:  SubmessageKind(b[0]),
		Flags: b[1],
	}
	h.ContentLength = h.order().Uint16(b[2:4])
	return h, nil
}
