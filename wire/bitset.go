package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/katzenpost/rtpscore/seqnum"
)

// SequenceNumberSet carries a base sequence number plus a bitmap of
// offsets from that base, as used by Gap's gap list and by AckNack's
// requested-changes set.
//
// The bitmap is stored and transmitted as raw 32-bit words, one bit
// per offset, MSB-first within each word — unlike the original
// encoder this core's wire format was distilled from, which rotated
// each storage word by its own leading-zero count before writing and
// never undid the rotation on read, making that encoding
// non-interoperable with itself across a read/write round trip.
type SequenceNumberSet struct {
	Base seqnum.SequenceNumber
	bits []uint32
	max  uint32
}

// NewSequenceNumberSet creates an empty set based at base.
func NewSequenceNumberSet(base seqnum.SequenceNumber) *SequenceNumberSet {
	return &SequenceNumberSet{Base: base}
}

func (s *SequenceNumberSet) ensure(word uint32) {
	for uint32(len(s.bits)) <= word {
		s.bits = append(s.bits, 0)
	}
}

// Add marks sn present (missing) in the set.
func (s *SequenceNumberSet) Add(sn seqnum.SequenceNumber) {
	offset := uint32(sn - s.Base)
	word, bit := offset/32, offset%32
	s.ensure(word)
	s.bits[word] |= 1 << (31 - bit)
	if offset+1 > s.max {
		s.max = offset + 1
	}
}

// Contains reports whether sn is marked in the set.
func (s *SequenceNumberSet) Contains(sn seqnum.SequenceNumber) bool {
	if sn < s.Base {
		return false
	}
	offset := uint32(sn - s.Base)
	word, bit := offset/32, offset%32
	if word >= uint32(len(s.bits)) {
		return false
	}
	return s.bits[word]&(1<<(31-bit)) != 0
}

// Each calls fn once for every sequence number marked in the set, in
// ascending order.
func (s *SequenceNumberSet) Each(fn func(seqnum.SequenceNumber)) {
	for word, bits := range s.bits {
		for bit := 0; bit < 32; bit++ {
			if bits&(1<<(31-bit)) != 0 {
				fn(s.Base + seqnum.SequenceNumber(uint32(word)*32+uint32(bit)))
			}
		}
	}
}

// Encode serializes the set as {base: i64, numBits: u32, words...}.
func (s *SequenceNumberSet) Encode(order binary.ByteOrder) []byte {
	numWords := (s.max + 31) / 32
	out := make([]byte, 12+4*numWords)
	order.PutUint32(out[0:4], uint32(s.Base>>32))
	order.PutUint32(out[4:8], uint32(s.Base))
	order.PutUint32(out[8:12], s.max)
	for i := uint32(0); i < numWords; i++ {
		var word uint32
		if i < uint32(len(s.bits)) {
			word = s.bits[i]
		}
		order.PutUint32(out[12+4*i:16+4*i], word)
	}
	return out
}

// DecodeSequenceNumberSet parses a SequenceNumberSet from b and
// returns the number of bytes consumed.
func DecodeSequenceNumberSet(b []byte, order binary.ByteOrder) (*SequenceNumberSet, int, error) {
	if len(b) < 12 {
		return nil, 0, fmt.Errorf("wire: sequence number set truncated")
	}
	high := order.Uint32(b[0:4])
	low := order.Uint32(b[4:8])
	base := seqnum.SequenceNumber(int64(high)<<32 | int64(low))
	numBits := order.Uint32(b[8:12])
	numWords := (numBits + 31) / 32
	offset := 12
	if offset+4*int(numWords) > len(b) {
		return nil, 0, fmt.Errorf("wire: sequence number set bitmap truncated")
	}
	s := &SequenceNumberSet{Base: base, max: numBits}
	for i := uint32(0); i < numWords; i++ {
		s.bits = append(s.bits, order.Uint32(b[offset+4*int(i):offset+4*int(i)+4]))
	}
	offset += 4 * int(numWords)
	return s, offset, nil
}
