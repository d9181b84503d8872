// Package seqnum implements the RTPS SequenceNumber: a signed,
// monotonically increasing counter scoped to one Writer.
package seqnum

import "fmt"

// SequenceNumber numbers the samples a Writer has published, starting
// at 1. The value 0 is reserved and never assigned to a real change.
type SequenceNumber int64

// Unknown is the reserved sequence number meaning "no change".
const Unknown SequenceNumber = 0

// Zero is the value a freshly matched WriterProxy reports before any
// change has ever been received or heard about via heartbeat.
const Zero SequenceNumber = 0

// First is the sequence number assigned to a Writer's first published
// change.
const First SequenceNumber = 1

// Max returns the larger of a and b.
func Max(a, b SequenceNumber) SequenceNumber {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b SequenceNumber) SequenceNumber {
	if a < b {
		return a
	}
	return b
}

// Range is the half-open-on-neither-end inclusive range [Low, High]
// used by Heartbeat and Gap submessages to describe a span of
// sequence numbers.
type Range struct {
	Low  SequenceNumber
	High SequenceNumber
}

// Empty reports whether the range contains no sequence numbers.
func (r Range) Empty() bool {
	return r.High < r.Low
}

// Contains reports whether n falls within [Low, High].
func (r Range) Contains(n SequenceNumber) bool {
	return n >= r.Low && n <= r.High
}

func (n SequenceNumber) String() string {
	return fmt.Sprintf("%d", int64(n))
}
