package wire

import (
	"encoding/binary"
	"fmt"
)

// Parameter is one {id, value} entry of a ParameterList.
type Parameter struct {
	Id    uint16
	Value []byte
}

// Well-known parameter ids used by InlineQoS.
const (
	PidPad          uint16 = 0x0000
	PidSentinel     uint16 = 0x0001
	PidKeyHash      uint16 = 0x0070
	PidStatusInfo   uint16 = 0x0071
)

// StatusInfo flags carried by PID_STATUS_INFO, little-endian in the
// low byte of a 4-byte value.
const (
	StatusInfoDisposed   byte = 0x01
	StatusInfoUnregistered byte = 0x02
)

// ParameterList is an ordered sequence of parameters terminated on
// the wire by a {PID_SENTINEL, 0} entry.
type ParameterList []Parameter

// Get returns the value of the first parameter with the given id.
func (pl ParameterList) Get(id uint16) ([]byte, bool) {
	for _, p := range pl {
		if p.Id == id {
			return p.Value, true
		}
	}
	return nil, false
}

// Encode serializes the parameter list, 4-byte-aligning every
// element's value and appending the sentinel, in the given byte
// order.
func (pl ParameterList) Encode(order binary.ByteOrder) []byte {
	var out []byte
	for _, p := range pl {
		padded := pad4(p.Value)
		hdr := make([]byte, 4)
		order.PutUint16(hdr[0:2], p.Id)
		order.PutUint16(hdr[2:4], uint16(len(padded)))
		out = append(out, hdr...)
		out = append(out, padded...)
	}
	sentinel := make([]byte, 4)
	order.PutUint16(sentinel[0:2], PidSentinel)
	out = append(out, sentinel...)
	return out
}

// DecodeParameterList parses a parameter list from b, stopping at the
// sentinel, and returns the number of bytes consumed including the
// sentinel.
func DecodeParameterList(b []byte, order binary.ByteOrder) (ParameterList, int, error) {
	var pl ParameterList
	offset := 0
	for {
		if offset+4 > len(b) {
			return nil, 0, fmt.Errorf("wire: parameter list truncated at offset %d", offset)
		}
		id := order.Uint16(b[offset : offset+2])
		length := int(order.Uint16(b[offset+2 : offset+4]))
		offset += 4
		if id == PidSentinel {
			return pl, offset, nil
		}
		if offset+length > len(b) {
			return nil, 0, fmt.Errorf("wire: parameter 0x%04x length %d exceeds buffer", id, length)
		}
		value := make([]byte, length)
		copy(value, b[offset:offset+length])
		pl = append(pl, Parameter{Id: id, Value: value})
		offset += length
	}
}

func pad4(b []byte) []byte {
	rem := len(b) % 4
	if rem == 0 {
		return b
	}
	padded := make([]byte, len(b)+(4-rem))
	copy(padded, b)
	return padded
}
