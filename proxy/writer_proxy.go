package proxy

import (
	"encoding/binary"
	"time"

	"github.com/yawning/bloom"

	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/locator"
	"github.com/katzenpost/rtpscore/seqnum"
)

// bloomEstimatedChanges and bloomFalsePositiveRate size the per-proxy
// duplicate-delivery filter: a generous estimate keeps the false
// positive rate low across a proxy's whole lifetime without resizing.
const (
	bloomEstimatedChanges    = 4096
	bloomFalsePositiveRate   = 0.01
)

// WriterProxy tracks, from a Reader's point of view, which sequence
// numbers have been received from one matched Writer.
type WriterProxy struct {
	RemoteWriterGuid     guid.GUID
	UnicastLocatorList   locator.List
	MulticastLocatorList locator.List
	RemoteGroupEntityId  guid.EntityId

	received               map[seqnum.SequenceNumber]time.Time
	seen                   *bloom.BloomFilter
	HbLastSeen             seqnum.SequenceNumber
	ReceivedHeartbeatCount uint32
	SentAckNackCount       uint32
}

// NewWriterProxy creates a proxy for a newly matched writer.
func NewWriterProxy(remote guid.GUID, unicast, multicast locator.List, group guid.EntityId) *WriterProxy {
	return &WriterProxy{
		RemoteWriterGuid:     remote,
		UnicastLocatorList:   unicast,
		MulticastLocatorList: multicast,
		RemoteGroupEntityId:  group,
		received:             make(map[seqnum.SequenceNumber]time.Time),
		seen:                 bloom.NewWithEstimates(bloomEstimatedChanges, bloomFalsePositiveRate),
	}
}

func seqnumKey(sn seqnum.SequenceNumber) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(sn))
	return b[:]
}

// ReceivedChangesAdd records that sn arrived at t.
func (p *WriterProxy) ReceivedChangesAdd(sn seqnum.SequenceNumber, t time.Time) {
	p.received[sn] = t
	p.seen.Add(seqnumKey(sn))
}

// AlreadyReceived reports whether sn has already been recorded as
// received. The bloom filter gives a cheap definite-no before falling
// back to the received map, so a Data submessage for a sequence
// number this proxy has never seen never touches the map.
func (p *WriterProxy) AlreadyReceived(sn seqnum.SequenceNumber) bool {
	if !p.seen.Test(seqnumKey(sn)) {
		return false
	}
	_, ok := p.received[sn]
	return ok
}

// AvailableChangesMin returns the lower bound missing_changes uses:
// max(1, the smallest received key), or 1 if nothing has been
// received yet.
func (p *WriterProxy) AvailableChangesMin() seqnum.SequenceNumber {
	min, ok := p.availableMinRaw()
	if !ok {
		return seqnum.First
	}
	return seqnum.Max(seqnum.First, min)
}

func (p *WriterProxy) availableMinRaw() (seqnum.SequenceNumber, bool) {
	first := true
	var min seqnum.SequenceNumber
	for sn := range p.received {
		if first || sn < min {
			min = sn
			first = false
		}
	}
	return min, !first
}

// AvailableChangesMax returns the largest received sequence number,
// and whether anything has been received yet.
func (p *WriterProxy) AvailableChangesMax() (seqnum.SequenceNumber, bool) {
	first := true
	var max seqnum.SequenceNumber
	for sn := range p.received {
		if first || sn > max {
			max = sn
			first = false
		}
	}
	return max, !first
}

// ChangesAreMissing reports whether any sequence number in
// [available_min, hbLast) has not been received.
func (p *WriterProxy) ChangesAreMissing(hbLast seqnum.SequenceNumber) bool {
	min := p.AvailableChangesMin()
	for sn := min; sn < hbLast; sn++ {
		if _, ok := p.received[sn]; !ok {
			return true
		}
	}
	return false
}

// MissingChanges returns, in ascending order, every sequence number
// in [available_min, hbLast) that has not been received.
func (p *WriterProxy) MissingChanges(hbLast seqnum.SequenceNumber) []seqnum.SequenceNumber {
	min := p.AvailableChangesMin()
	var missing []seqnum.SequenceNumber
	for sn := min; sn < hbLast; sn++ {
		if _, ok := p.received[sn]; !ok {
			missing = append(missing, sn)
		}
	}
	return missing
}

// IrrelevantChangesUpTo removes and returns the arrival times of
// every received sequence number strictly below seq, as applied when
// a Gap submessage declares that range will never be delivered.
func (p *WriterProxy) IrrelevantChangesUpTo(seq seqnum.SequenceNumber) []time.Time {
	var removed []time.Time
	var toDelete []seqnum.SequenceNumber
	for sn, t := range p.received {
		if sn < seq {
			removed = append(removed, t)
			toDelete = append(toDelete, sn)
		}
	}
	for _, sn := range toDelete {
		delete(p.received, sn)
	}
	return removed
}

// SetIrrelevantChange drops sn from the received set, if present: a
// Gap submessage can name a sequence number this proxy already holds,
// retracting it so it is neither delivered nor counted as missing.
func (p *WriterProxy) SetIrrelevantChange(sn seqnum.SequenceNumber) {
	delete(p.received, sn)
}

// MarkRangeIrrelevant applies SetIrrelevantChange to every sequence
// number in [start, end), as a Gap submessage's declared span.
func (p *WriterProxy) MarkRangeIrrelevant(start, end seqnum.SequenceNumber) {
	for sn := start; sn < end; sn++ {
		p.SetIrrelevantChange(sn)
	}
}

// Len reports how many sequence numbers are currently recorded as
// received. Sequence numbers removed as irrelevant are not counted.
func (p *WriterProxy) Len() int {
	return len(p.received)
}
