// Package proxy implements the per-matched-peer bookkeeping a Writer
// keeps about each Reader it serves (ReaderProxy) and a Reader keeps
// about each Writer it listens to (WriterProxy).
package proxy

import (
	"sort"

	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/locator"
	"github.com/katzenpost/rtpscore/seqnum"
)

// ReaderProxy tracks, from a Writer's point of view, what one matched
// Reader has and has not yet acknowledged.
type ReaderProxy struct {
	RemoteReaderGuid     guid.GUID
	UnicastLocatorList   locator.List
	MulticastLocatorList locator.List
	IsReliable           bool
	HeartbeatCount       int32

	unsentChanges    map[seqnum.SequenceNumber]struct{}
	requestedChanges map[seqnum.SequenceNumber]struct{}
	highestAcked     seqnum.SequenceNumber
}

// NewReaderProxy creates a proxy for a newly matched reader.
// HighestAcked starts at 0 (no sample acked).
func NewReaderProxy(remote guid.GUID, unicast, multicast locator.List, reliable bool) *ReaderProxy {
	return &ReaderProxy{
		RemoteReaderGuid:     remote,
		UnicastLocatorList:   unicast,
		MulticastLocatorList: multicast,
		IsReliable:           reliable,
		unsentChanges:        make(map[seqnum.SequenceNumber]struct{}),
		requestedChanges:     make(map[seqnum.SequenceNumber]struct{}),
	}
}

// UnsentChanges returns every sequence number the Writer owes this
// reader that has never been transmitted, ascending.
func (p *ReaderProxy) UnsentChanges() []seqnum.SequenceNumber {
	return sortedKeys(p.unsentChanges)
}

// RemoveUnsent marks sn as transmitted.
func (p *ReaderProxy) RemoveUnsent(sn seqnum.SequenceNumber) {
	delete(p.unsentChanges, sn)
}

// UnsentChangesSet adds newLastSeq to unsent_changes, called after the
// Writer publishes a new sample.
func (p *ReaderProxy) UnsentChangesSet(newLastSeq seqnum.SequenceNumber) {
	p.unsentChanges[newLastSeq] = struct{}{}
}

// AddRequestedChanges unions sns into requested_changes. The caller is
// responsible for filtering to sequence numbers the Writer still
// holds before calling this.
func (p *ReaderProxy) AddRequestedChanges(sns []seqnum.SequenceNumber) {
	for _, sn := range sns {
		p.requestedChanges[sn] = struct{}{}
	}
}

// RequestedChanges returns every outstanding negatively-acknowledged
// sequence number, ascending.
func (p *ReaderProxy) RequestedChanges() []seqnum.SequenceNumber {
	return sortedKeys(p.requestedChanges)
}

// NextRequestedChange returns the lowest outstanding requested
// change, if any.
func (p *ReaderProxy) NextRequestedChange() (seqnum.SequenceNumber, bool) {
	requested := p.RequestedChanges()
	if len(requested) == 0 {
		return 0, false
	}
	return requested[0], true
}

// AckedChangesSet applies a cumulative positive acknowledgement: sets
// highest_acked = max(highest_acked, base-1), and drops every
// sequence number below base from both unsent_changes and
// requested_changes.
func (p *ReaderProxy) AckedChangesSet(base seqnum.SequenceNumber) {
	p.highestAcked = seqnum.Max(p.highestAcked, base-1)
	for sn := range p.unsentChanges {
		if sn < base {
			delete(p.unsentChanges, sn)
		}
	}
	for sn := range p.requestedChanges {
		if sn < base {
			delete(p.requestedChanges, sn)
		}
	}
}

// SequenceIsAcked reports whether sn is acknowledged: unconditionally
// true for best-effort readers, otherwise true iff sn <= highest_acked.
func (p *ReaderProxy) SequenceIsAcked(sn seqnum.SequenceNumber) bool {
	if !p.IsReliable {
		return true
	}
	return sn <= p.highestAcked
}

// CanSend reports whether the proxy has anything queued to transmit:
// either unsent changes or reader-requested retransmissions.
func (p *ReaderProxy) CanSend() bool {
	return len(p.unsentChanges) > 0 || len(p.requestedChanges) > 0
}

func sortedKeys(m map[seqnum.SequenceNumber]struct{}) []seqnum.SequenceNumber {
	out := make([]seqnum.SequenceNumber, 0, len(m))
	for sn := range m {
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
