package proxy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/seqnum"
)

func TestReaderProxyUnsentAndSent(t *testing.T) {
	rp := NewReaderProxy(guid.Unknown, nil, nil, true)
	rp.UnsentChangesSet(1)
	rp.UnsentChangesSet(2)
	require.Equal(t, []seqnum.SequenceNumber{1, 2}, rp.UnsentChanges())

	rp.RemoveUnsent(1)
	require.Equal(t, []seqnum.SequenceNumber{2}, rp.UnsentChanges())
	require.True(t, rp.CanSend())
}

func TestReaderProxyAckedChangesDropsStaleRequests(t *testing.T) {
	rp := NewReaderProxy(guid.Unknown, nil, nil, true)
	rp.AddRequestedChanges([]seqnum.SequenceNumber{2, 4})
	rp.AckedChangesSet(3)

	require.True(t, rp.SequenceIsAcked(1))
	require.True(t, rp.SequenceIsAcked(2))
	require.False(t, rp.SequenceIsAcked(3))
	require.Equal(t, []seqnum.SequenceNumber{4}, rp.RequestedChanges())
}

func TestReaderProxyBestEffortAlwaysAcked(t *testing.T) {
	rp := NewReaderProxy(guid.Unknown, nil, nil, false)
	require.True(t, rp.SequenceIsAcked(1000))
}

func TestReaderProxyRequestedChangesTakePriority(t *testing.T) {
	rp := NewReaderProxy(guid.Unknown, nil, nil, true)
	rp.UnsentChangesSet(5)
	rp.AddRequestedChanges([]seqnum.SequenceNumber{2, 4})

	require.Equal(t, []seqnum.SequenceNumber{2, 4}, rp.RequestedChanges())
	require.Equal(t, []seqnum.SequenceNumber{5}, rp.UnsentChanges())

	next, ok := rp.NextRequestedChange()
	require.True(t, ok)
	require.Equal(t, seqnum.SequenceNumber(2), next)
}
