package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/seqnum"
)

var writerA = guid.GUID{Prefix: guid.GuidPrefix{1}, EntityId: guid.EntityId{1}}
var writerB = guid.GUID{Prefix: guid.GuidPrefix{2}, EntityId: guid.EntityId{2}}

var instantCounter int64

func nextInstant() time.Time {
	instantCounter++
	return time.Unix(0, instantCounter)
}

func change(writer guid.GUID, sn int64) *CacheChange {
	return &CacheChange{
		Kind:           Alive,
		WriterGuid:     writer,
		SequenceNumber: seqnum.SequenceNumber(sn),
		ReceivedAt:     nextInstant(),
	}
}

func toInts(sns []seqnum.SequenceNumber) []int64 {
	out := make([]int64, len(sns))
	for i, sn := range sns {
		out[i] = int64(sn)
	}
	return out
}

func TestHistoryCacheAddGetRemove(t *testing.T) {
	hc := New()
	hc.Add(change(writerA, 1))
	hc.Add(change(writerA, 2))
	hc.Add(change(writerA, 3))
	require.Equal(t, 3, hc.Len(writerA))

	got, ok := hc.Get(writerA, 2)
	require.True(t, ok)
	require.Equal(t, seqnum.SequenceNumber(2), got.SequenceNumber)

	hc.Remove(writerA, 2)
	require.Equal(t, 2, hc.Len(writerA))
	_, ok = hc.Get(writerA, 2)
	require.False(t, ok)
}

func TestHistoryCacheKeepsWritersSeparate(t *testing.T) {
	hc := New()
	hc.Add(change(writerA, 1))
	hc.Add(change(writerB, 1))
	require.Equal(t, 1, hc.Len(writerA))
	require.Equal(t, 1, hc.Len(writerB))
}

func TestHistoryCacheMinMax(t *testing.T) {
	hc := New()
	_, ok := hc.SeqNumMin(writerA)
	require.False(t, ok)

	hc.Add(change(writerA, 5))
	hc.Add(change(writerA, 1))
	hc.Add(change(writerA, 3))

	min, ok := hc.SeqNumMin(writerA)
	require.True(t, ok)
	require.Equal(t, seqnum.SequenceNumber(1), min)

	max, ok := hc.SeqNumMax(writerA)
	require.True(t, ok)
	require.Equal(t, seqnum.SequenceNumber(5), max)
}

func TestHistoryCacheRemoveUpToIsStrict(t *testing.T) {
	hc := New()
	hc.Add(change(writerA, 1))
	hc.Add(change(writerA, 2))
	hc.Add(change(writerA, 3))

	removed := hc.RemoveUpTo(writerA, 3)
	require.ElementsMatch(t, []int64{1, 2}, toInts(removed))
	require.Equal(t, 1, hc.Len(writerA))
	_, ok := hc.Get(writerA, 3)
	require.True(t, ok, "sequence number equal to the bound must survive")
}

func TestHistoryCacheRemoveAllButKeepDepth(t *testing.T) {
	hc := New()
	var acked []seqnum.SequenceNumber
	for i := int64(1); i <= 5; i++ {
		hc.Add(change(writerA, i))
		acked = append(acked, seqnum.SequenceNumber(i))
	}
	removed := hc.RemoveAllButKeepDepth(writerA, acked, 2)
	require.ElementsMatch(t, []int64{1, 2, 3}, toInts(removed))
	require.Equal(t, 2, hc.Len(writerA))
}

func TestHistoryCacheAscendingOrder(t *testing.T) {
	hc := New()
	hc.Add(change(writerA, 3))
	hc.Add(change(writerA, 1))
	hc.Add(change(writerA, 2))

	var order []int64
	hc.Ascending(writerA, func(cc *CacheChange) {
		order = append(order, int64(cc.SequenceNumber))
	})
	require.Equal(t, []int64{1, 2, 3}, order)
}

func TestHistoryCacheMarkDisposedRemovesAliveInstanceChanges(t *testing.T) {
	hc := New()
	instance := [16]byte{1}
	c1 := change(writerA, 1)
	c1.InstanceHandle = instance
	c2 := change(writerA, 2)
	c2.InstanceHandle = instance
	other := change(writerA, 3)
	other.InstanceHandle = [16]byte{2}

	hc.Add(c1)
	hc.Add(c2)
	hc.Add(other)

	hc.MarkDisposed(instance)
	require.Equal(t, 1, hc.Len(writerA))
	_, ok := hc.Get(writerA, 3)
	require.True(t, ok)
}
