package writer

import (
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/rtpscore/cache"
	"github.com/katzenpost/rtpscore/config"
	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/locator"
	"github.com/katzenpost/rtpscore/seqnum"
	"github.com/katzenpost/rtpscore/wire"
)

type recordingSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *recordingSender) Send(loc locator.Locator, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, message)
	return nil
}

func (s *recordingSender) Close() error { return nil }

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func testWriter(reliable bool) (*Writer, *recordingSender) {
	g := guid.GUID{Prefix: guid.GuidPrefix{9}, EntityId: guid.EntityId{1, 0, 0, 2}}
	cfg := config.DefaultWriterConfig(reliable)
	hc := cache.New()
	sender := &recordingSender{}
	w := New(g, wire.Version23, wire.VendorId{1, 1}, cfg, hc, sender, testLogger())
	return w, sender
}

var remoteReader = guid.GUID{Prefix: guid.GuidPrefix{8}, EntityId: guid.EntityId{1, 0, 0, 4}}

func unicastLocator(port uint32) locator.List {
	loc := locator.Locator{Kind: locator.KindUDPv4, Port: port}
	loc.Address[15] = 1
	return locator.List{loc}
}

func TestWriterPublishInsertsIntoHistoryCacheAndTransmits(t *testing.T) {
	w, sender := testWriter(false)
	w.MatchedReaderAdd(remoteReader, unicastLocator(7400), nil, false)

	w.insertToHistoryCache(Sample{Data: []byte("payload")})

	cc, ok := w.cache.Get(w.Guid, seqnum.First)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), cc.DataValue)
	require.Equal(t, 1, sender.count())

	rp, ok := w.MatchedReaderLookup(remoteReader)
	require.True(t, ok)
	require.False(t, rp.CanSend(), "push-mode publish should have drained unsent_changes")
}

func TestWriterPublishDisposeMarksInstanceRemoved(t *testing.T) {
	w, _ := testWriter(false)
	instance := [16]byte{1, 2, 3}
	w.insertToHistoryCache(Sample{InstanceHandle: instance, Data: []byte("v1")})
	w.insertToHistoryCache(Sample{InstanceHandle: instance, Dispose: true})

	require.Equal(t, 1, w.cache.Len(w.Guid))
	_, ok := w.cache.Get(w.Guid, seqnum.First)
	require.False(t, ok, "the disposed alive sample should have been evicted")
}

func TestWriterHandleAckNackRequestsFilteredToCacheContents(t *testing.T) {
	w, _ := testWriter(true)
	w.MatchedReaderAdd(remoteReader, unicastLocator(7400), nil, true)
	w.insertToHistoryCache(Sample{Data: []byte("s1")})
	w.insertToHistoryCache(Sample{Data: []byte("s2")})

	state := wire.NewSequenceNumberSet(1)
	state.Add(1)
	state.Add(5) // not in the cache, must be filtered out

	w.handleAckNack(AckNackEvent{
		SourcePrefix: remoteReader.Prefix,
		AckNack: wire.AckNack{
			ReaderId:      remoteReader.EntityId,
			WriterId:      w.Guid.EntityId,
			ReaderSNState: state,
		},
	})

	rp, ok := w.MatchedReaderLookup(remoteReader)
	require.True(t, ok)
	require.Equal(t, []seqnum.SequenceNumber{1}, rp.RequestedChanges())
}

func TestWriterHandleAckNackEmptySetIsPositiveAck(t *testing.T) {
	w, _ := testWriter(true)
	w.MatchedReaderAdd(remoteReader, unicastLocator(7400), nil, true)

	state := wire.NewSequenceNumberSet(3)
	w.handleAckNack(AckNackEvent{
		SourcePrefix: remoteReader.Prefix,
		AckNack: wire.AckNack{
			ReaderId:      remoteReader.EntityId,
			WriterId:      w.Guid.EntityId,
			ReaderSNState: state,
		},
	})

	rp, ok := w.MatchedReaderLookup(remoteReader)
	require.True(t, ok)
	require.True(t, rp.SequenceIsAcked(2))
	require.False(t, rp.SequenceIsAcked(3))
}

func TestWriterHandleAckNackIgnoredForBestEffort(t *testing.T) {
	w, _ := testWriter(false)
	w.MatchedReaderAdd(remoteReader, unicastLocator(7400), nil, false)

	state := wire.NewSequenceNumberSet(1)
	w.handleAckNack(AckNackEvent{
		SourcePrefix: remoteReader.Prefix,
		AckNack: wire.AckNack{
			ReaderId:      remoteReader.EntityId,
			WriterId:      w.Guid.EntityId,
			ReaderSNState: state,
		},
	})

	rp, ok := w.MatchedReaderLookup(remoteReader)
	require.True(t, ok)
	require.Empty(t, rp.RequestedChanges())
}

func TestWriterCleanCacheKeepsOnlyConfiguredDepth(t *testing.T) {
	w, _ := testWriter(true)
	w.cfg.History.Kind = "keep_last"
	w.cfg.History.Depth = 1
	w.MatchedReaderAdd(remoteReader, unicastLocator(7400), nil, true)

	w.insertToHistoryCache(Sample{Data: []byte("s1")})
	w.insertToHistoryCache(Sample{Data: []byte("s2")})

	rp, ok := w.MatchedReaderLookup(remoteReader)
	require.True(t, ok)
	rp.AckedChangesSet(3) // acks both seq 1 and 2

	w.cleanCache()
	require.Equal(t, 1, w.cache.Len(w.Guid))
	_, ok = w.cache.Get(w.Guid, seqnum.SequenceNumber(2))
	require.True(t, ok, "the newest sample should survive depth=1 eviction")
}

func TestWriterCleanCacheKeepAllNeverEvicts(t *testing.T) {
	w, _ := testWriter(true)
	w.MatchedReaderAdd(remoteReader, unicastLocator(7400), nil, true)
	w.insertToHistoryCache(Sample{Data: []byte("s1")})
	w.insertToHistoryCache(Sample{Data: []byte("s2")})

	rp, ok := w.MatchedReaderLookup(remoteReader)
	require.True(t, ok)
	rp.AckedChangesSet(3)

	w.cleanCache()
	require.Equal(t, 2, w.cache.Len(w.Guid))
}

func TestWriterInsertDerivesInstanceHandleFromKeyFields(t *testing.T) {
	w, _ := testWriter(false)
	keyFields := []byte("topic/sensor-7")
	w.insertToHistoryCache(Sample{KeyFields: keyFields, Data: []byte("v1")})

	cc, ok := w.cache.Get(w.Guid, seqnum.First)
	require.True(t, ok)
	require.Equal(t, guid.InstanceKeyHash(keyFields), cc.InstanceHandle)
}

func TestWriterInsertPrefersExplicitInstanceHandleOverKeyFields(t *testing.T) {
	w, _ := testWriter(false)
	explicit := [16]byte{9, 9, 9}
	w.insertToHistoryCache(Sample{InstanceHandle: explicit, KeyFields: []byte("ignored"), Data: []byte("v1")})

	cc, ok := w.cache.Get(w.Guid, seqnum.First)
	require.True(t, ok)
	require.Equal(t, explicit, cc.InstanceHandle)
}

func TestWriterCanSendSomeTrueBeforeAnyPublish(t *testing.T) {
	w, _ := testWriter(true)
	require.True(t, w.CanSendSome())
}

func TestWriterCanSendSomeFalseUntilReliableReaderAcks(t *testing.T) {
	w, _ := testWriter(true)
	w.MatchedReaderAdd(remoteReader, unicastLocator(7400), nil, true)
	w.insertToHistoryCache(Sample{Data: []byte("s1")})

	require.False(t, w.CanSendSome(), "an un-acked reliable reader should block readiness")

	rp, ok := w.MatchedReaderLookup(remoteReader)
	require.True(t, ok)
	rp.AckedChangesSet(2)

	require.True(t, w.CanSendSome())
}

func TestWriterFirstSequenceNumberTracksCacheMinimum(t *testing.T) {
	w, _ := testWriter(true)
	require.Equal(t, seqnum.First, w.FirstSequenceNumber())

	w.MatchedReaderAdd(remoteReader, unicastLocator(7400), nil, true)
	w.insertToHistoryCache(Sample{Data: []byte("s1")})
	w.insertToHistoryCache(Sample{Data: []byte("s2")})
	require.Equal(t, seqnum.First, w.FirstSequenceNumber())

	rp, ok := w.MatchedReaderLookup(remoteReader)
	require.True(t, ok)
	rp.AckedChangesSet(3)
	w.cfg.History.Kind = "keep_last"
	w.cfg.History.Depth = 1
	w.cleanCache()

	require.Equal(t, seqnum.SequenceNumber(2), w.FirstSequenceNumber())
}
