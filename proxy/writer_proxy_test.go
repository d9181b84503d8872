package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/seqnum"
)

func TestWriterProxyMissingChangesMatchesDefinition(t *testing.T) {
	wp := NewWriterProxy(guid.Unknown, nil, nil, guid.UnknownEntityId)
	now := time.Unix(0, 0)
	wp.ReceivedChangesAdd(1, now)
	wp.ReceivedChangesAdd(3, now)

	require.True(t, wp.ChangesAreMissing(5))
	require.Equal(t, []seqnum.SequenceNumber{2, 4}, wp.MissingChanges(5))
}

func TestWriterProxyMissingChangesEmptyDefaultsToOne(t *testing.T) {
	wp := NewWriterProxy(guid.Unknown, nil, nil, guid.UnknownEntityId)
	require.Equal(t, []seqnum.SequenceNumber{1, 2}, wp.MissingChanges(3))
}

func TestWriterProxyGapHandling(t *testing.T) {
	wp := NewWriterProxy(guid.Unknown, nil, nil, guid.UnknownEntityId)
	now := time.Unix(0, 0)
	wp.ReceivedChangesAdd(1, now)
	wp.ReceivedChangesAdd(3, now)
	wp.ReceivedChangesAdd(5, now)

	gapStart, gapListBase := seqnum.SequenceNumber(2), seqnum.SequenceNumber(5)
	wp.IrrelevantChangesUpTo(gapStart)
	wp.MarkRangeIrrelevant(gapStart, gapListBase)

	require.Equal(t, 1, wp.Len())
	require.Empty(t, wp.MissingChanges(6))
}

func TestWriterProxyChangesAreMissingFalseWhenComplete(t *testing.T) {
	wp := NewWriterProxy(guid.Unknown, nil, nil, guid.UnknownEntityId)
	now := time.Unix(0, 0)
	for sn := seqnum.SequenceNumber(1); sn <= 4; sn++ {
		wp.ReceivedChangesAdd(sn, now)
	}
	require.False(t, wp.ChangesAreMissing(5))
}

func TestWriterProxyAlreadyReceivedDistinguishesSeenFromUnseen(t *testing.T) {
	wp := NewWriterProxy(guid.Unknown, nil, nil, guid.UnknownEntityId)
	now := time.Unix(0, 0)
	wp.ReceivedChangesAdd(2, now)

	require.True(t, wp.AlreadyReceived(2))
	require.False(t, wp.AlreadyReceived(7), "a sequence number never added must never read back as received")

	wp.SetIrrelevantChange(2)
	require.False(t, wp.AlreadyReceived(2), "retracting from the received map must retract the duplicate check too")
}
