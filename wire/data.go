package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/seqnum"
)

// Data submessage flags.
const (
	DataFlagInlineQos byte = 0x02
	DataFlagData      byte = 0x04
	DataFlagKey       byte = 0x08
)

// RepresentationIdentifier tags the encoding of a Data submessage's
// serialized payload.
type RepresentationIdentifier [2]byte

var (
	RepresentationCDRBE  = RepresentationIdentifier{0x00, 0x00}
	RepresentationCDRLE  = RepresentationIdentifier{0x00, 0x01}
	RepresentationPLCDRBE = RepresentationIdentifier{0x00, 0x02}
	RepresentationPLCDRLE = RepresentationIdentifier{0x00, 0x03}
)

// Data carries one cache change from a Writer to its matched Readers.
type Data struct {
	ReaderId       guid.EntityId
	WriterId       guid.EntityId
	WriterSN       seqnum.SequenceNumber
	InlineQos      ParameterList
	Representation RepresentationIdentifier
	SerializedData []byte
}

// EncodeBody serializes the Data submessage body (excluding the
// submessage header) in the given byte order, returning the body and
// the flags that must be set on the header alongside the endianness
// bit.
func (d Data) EncodeBody(order binary.ByteOrder) (body []byte, flags byte) {
	body = make([]byte, 0, 24)
	body = append(body, 0, 0) // extraFlags, reserved
	octetsToInlineQosOff := len(body)
	body = append(body, 0, 0)
	body = append(body, d.ReaderId[:]...)
	body = append(body, d.WriterId[:]...)
	sn := make([]byte, 8)
	order.PutUint32(sn[0:4], uint32(int64(d.WriterSN)>>32))
	order.PutUint32(sn[4:8], uint32(d.WriterSN))
	body = append(body, sn...)

	order.PutUint16(body[octetsToInlineQosOff:octetsToInlineQosOff+2], uint16(len(body)-octetsToInlineQosOff-2))

	if len(d.InlineQos) > 0 {
		flags |= DataFlagInlineQos
		body = append(body, d.InlineQos.Encode(order)...)
	}
	if len(d.SerializedData) > 0 {
		flags |= DataFlagData
		body = append(body, d.Representation[0], d.Representation[1], 0, 0)
		body = append(body, d.SerializedData...)
	}
	return body, flags
}

// DecodeData parses a Data submessage body given the header's flags
// and byte order.
func DecodeData(b []byte, flags byte, order binary.ByteOrder) (Data, error) {
	if len(b) < 4+4+4+8 {
		return Data{}, fmt.Errorf("wire: data submessage too short")
	}
	octetsToInlineQos := int(order.Uint16(b[2:4]))
	var d Data
	offset := 4
	copy(d.ReaderId[:], b[offset:offset+4])
	offset += 4
	copy(d.WriterId[:], b[offset:offset+4])
	offset += 4
	high := order.Uint32(b[offset : offset+4])
	low := order.Uint32(b[offset+4 : offset+8])
	d.WriterSN = seqnum.SequenceNumber(int64(high)<<32 | int64(low))

	offset = 4 + octetsToInlineQos
	if offset > len(b) {
		return Data{}, fmt.Errorf("wire: data submessage octetsToInlineQos out of range")
	}

	if flags&DataFlagInlineQos != 0 {
		pl, consumed, err := DecodeParameterList(b[offset:], order)
		if err != nil {
			return Data{}, fmt.Errorf("wire: data inline qos: %w", err)
		}
		d.InlineQos = pl
		offset += consumed
	}
	if flags&DataFlagData != 0 {
		if offset+4 > len(b) {
			return Data{}, fmt.Errorf("wire: data submessage missing representation header")
		}
		d.Representation = RepresentationIdentifier{b[offset], b[offset+1]}
		offset += 4
		d.SerializedData = append([]byte(nil), b[offset:]...)
	}
	return d, nil
}

// IsDisposedOrUnregistered reports whether the inline QoS carries a
// PID_STATUS_INFO flagging this change as disposed or unregistered.
func (d Data) IsDisposedOrUnregistered() (disposed, unregistered bool) {
	value, ok := d.InlineQos.Get(PidStatusInfo)
	if !ok || len(value) == 0 {
		return false, false
	}
	return value[0]&StatusInfoDisposed != 0, value[0]&StatusInfoUnregistered != 0
}

// KeyHash returns the PID_KEY_HASH parameter value, if present.
func (d Data) KeyHash() ([]byte, bool) {
	return d.InlineQos.Get(PidKeyHash)
}
