// Package guid implements the RTPS GUID, GuidPrefix and EntityId types:
// the 16-byte identifiers that name Participants, Writers and Readers
// on the wire.
package guid

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// PrefixLength is the size in bytes of a GuidPrefix.
const PrefixLength = 12

// EntityIdLength is the size in bytes of an EntityId.
const EntityIdLength = 4

// Length is the size in bytes of a full GUID.
const Length = PrefixLength + EntityIdLength

// EntityKind is the final octet of an EntityId: it tags the entity as
// built-in or user-defined, with or without a key, and as a writer,
// reader, or something else.
type EntityKind byte

const (
	EntityKindUnknown                  EntityKind = 0x00
	EntityKindWriterWithKeyUserDefined EntityKind = 0x02
	EntityKindWriterNoKeyUserDefined   EntityKind = 0x03
	EntityKindReaderNoKeyUserDefined   EntityKind = 0x04
	EntityKindReaderWithKeyUserDefined EntityKind = 0x07
	EntityKindWriterWithKeyBuiltin     EntityKind = 0xC2
	EntityKindWriterNoKeyBuiltin       EntityKind = 0xC3
	EntityKindReaderNoKeyBuiltin       EntityKind = 0xC4
	EntityKindReaderWithKeyBuiltin     EntityKind = 0xC7
)

// IsWriter reports whether the kind tags a Writer entity.
func (k EntityKind) IsWriter() bool {
	switch k {
	case EntityKindWriterWithKeyUserDefined, EntityKindWriterNoKeyUserDefined,
		EntityKindWriterWithKeyBuiltin, EntityKindWriterNoKeyBuiltin:
		return true
	}
	return false
}

// IsReader reports whether the kind tags a Reader entity.
func (k EntityKind) IsReader() bool {
	switch k {
	case EntityKindReaderNoKeyUserDefined, EntityKindReaderWithKeyUserDefined,
		EntityKindReaderNoKeyBuiltin, EntityKindReaderWithKeyBuiltin:
		return true
	}
	return false
}

// IsBuiltin reports whether the kind tags a built-in (discovery) entity.
func (k EntityKind) IsBuiltin() bool {
	return k&0xC0 == 0xC0
}

// GuidPrefix identifies a Participant; it is the first 12 bytes of
// every GUID belonging to that Participant's entities.
type GuidPrefix [PrefixLength]byte

// UnknownPrefix is the reserved all-zero GuidPrefix.
var UnknownPrefix = GuidPrefix{}

func (p GuidPrefix) String() string {
	return hex.EncodeToString(p[:])
}

// EntityId identifies a Writer or Reader within a Participant.
type EntityId [EntityIdLength]byte

// UnknownEntityId is the reserved all-zero EntityId.
var UnknownEntityId = EntityId{}

// Well-known built-in entity ids used by SPDP/SEDP discovery and the
// stateless participant message channel. The core never constructs
// these on its own (discovery is out of scope), but the Message
// Receiver dispatches by comparing against them.
var (
	EntityIdSPDPBuiltinParticipantWriter = EntityId{0x00, 0x01, 0x00, 0xc2}
	EntityIdSPDPBuiltinParticipantReader = EntityId{0x00, 0x01, 0x00, 0xc7}

	EntityIdP2PBuiltinParticipantStatelessWriter = EntityId{0x00, 0x02, 0x00, 0xc3}
	EntityIdP2PBuiltinParticipantStatelessReader = EntityId{0x00, 0x02, 0x00, 0xc4}
)

// Kind returns the entity kind octet (the last byte of the id).
func (e EntityId) Kind() EntityKind {
	return EntityKind(e[3])
}

func (e EntityId) String() string {
	return hex.EncodeToString(e[:])
}

// IsUnknown reports whether e is the reserved unknown entity id.
func (e EntityId) IsUnknown() bool {
	return e == UnknownEntityId
}

// GUID is the full, globally-unique identifier of one Writer or Reader.
type GUID struct {
	Prefix   GuidPrefix
	EntityId EntityId
}

// Unknown is the reserved all-zero GUID.
var Unknown = GUID{}

// New builds a GUID from a prefix and entity id.
func New(prefix GuidPrefix, entityId EntityId) GUID {
	return GUID{Prefix: prefix, EntityId: entityId}
}

func (g GUID) String() string {
	return fmt.Sprintf("%s:%s", g.Prefix, g.EntityId)
}

// Equal reports whether two GUIDs name the same entity.
func (g GUID) Equal(other GUID) bool {
	return bytes.Equal(g.Prefix[:], other.Prefix[:]) && g.EntityId == other.EntityId
}

// Bytes marshals the GUID into its 16-byte wire representation.
func (g GUID) Bytes() [Length]byte {
	var out [Length]byte
	copy(out[:PrefixLength], g.Prefix[:])
	copy(out[PrefixLength:], g.EntityId[:])
	return out
}

// FromBytes parses a 16-byte wire representation into a GUID.
func FromBytes(b []byte) (GUID, error) {
	if len(b) != Length {
		return GUID{}, fmt.Errorf("guid: expected %d bytes, got %d", Length, len(b))
	}
	var g GUID
	copy(g.Prefix[:], b[:PrefixLength])
	copy(g.EntityId[:], b[PrefixLength:])
	return g, nil
}
