package reader

import (
	"io"
	"testing"
	"time"

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
	sent [][]byte
}

func (s *recordingSender) Send(loc locator.Locator, message []byte) error {
	s.sent = append(s.sent, message)
	return nil
}

func (s *recordingSender) Close() error { return nil }

func testReader(reliable bool) (*Reader, *recordingSender) {
	g := guid.GUID{Prefix: guid.GuidPrefix{1}, EntityId: guid.EntityId{1, 0, 0, 4}}
	cfg := config.DefaultReaderConfig(reliable)
	hc := cache.New()
	sender := &recordingSender{}
	r := New(g, wire.Version23, wire.VendorId{1, 1}, cfg, hc, sender, log.New(io.Discard))
	return r, sender
}

var remoteWriter = guid.GUID{Prefix: guid.GuidPrefix{2}, EntityId: guid.EntityId{1, 0, 0, 2}}

func TestReaderHandleDataInsertsIntoCacheAndMarksReceived(t *testing.T) {
	r, _ := testReader(true)
	r.MatchedWriterAdd(remoteWriter, nil, nil, guid.UnknownEntityId)

	r.HandleData(DataEvent{
		SourcePrefix: remoteWriter.Prefix,
		Data: wire.Data{
			WriterId:       remoteWriter.EntityId,
			WriterSN:       seqnum.First,
			SerializedData: []byte("hello"),
		},
	})

	cc, ok := r.cache.Get(remoteWriter, seqnum.First)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), cc.DataValue)

	wp, ok := r.MatchedWriterLookup(remoteWriter)
	require.True(t, ok)
	require.Equal(t, 1, wp.Len())
}

func TestReaderHandleDataSkipsRedeliveredSequenceNumber(t *testing.T) {
	r, _ := testReader(true)
	r.MatchedWriterAdd(remoteWriter, nil, nil, guid.UnknownEntityId)

	event := DataEvent{
		SourcePrefix: remoteWriter.Prefix,
		Data: wire.Data{
			WriterId:       remoteWriter.EntityId,
			WriterSN:       seqnum.First,
			SerializedData: []byte("v1"),
		},
	}
	r.HandleData(event)

	redelivered := event
	redelivered.Data.SerializedData = []byte("v2-should-not-land")
	r.HandleData(redelivered)

	cc, ok := r.cache.Get(remoteWriter, seqnum.First)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), cc.DataValue, "a redelivered sequence number must not overwrite the first delivery")
}

func TestReaderHandleDataDropsUnmatchedWriter(t *testing.T) {
	r, _ := testReader(true)
	r.HandleData(DataEvent{
		SourcePrefix: remoteWriter.Prefix,
		Data:         wire.Data{WriterId: remoteWriter.EntityId, WriterSN: seqnum.First},
	})
	_, ok := r.cache.Get(remoteWriter, seqnum.First)
	require.False(t, ok)
}

func TestReaderHandleGapMarksDeclaredRangeIrrelevant(t *testing.T) {
	r, _ := testReader(true)
	r.MatchedWriterAdd(remoteWriter, nil, nil, guid.UnknownEntityId)
	wp, _ := r.MatchedWriterLookup(remoteWriter)

	for _, sn := range []seqnum.SequenceNumber{1, 3, 5} {
		wp.ReceivedChangesAdd(sn, time.Now())
	}

	gapList := wire.NewSequenceNumberSet(5)
	r.HandleGap(GapEvent{
		SourcePrefix: remoteWriter.Prefix,
		Gap: wire.Gap{
			WriterId: remoteWriter.EntityId,
			GapStart: 2,
			GapList:  gapList,
		},
	})

	require.Equal(t, 1, wp.Len())
	require.Empty(t, wp.MissingChanges(6))
}

func TestReaderHandleHeartbeatSchedulesAckNackWhenChangesMissing(t *testing.T) {
	r, sender := testReader(true)
	r.Start()
	defer r.Stop()
	r.MatchedWriterAdd(remoteWriter, locatorList(7500), nil, guid.UnknownEntityId)
	wp, _ := r.MatchedWriterLookup(remoteWriter)
	wp.ReceivedChangesAdd(1, time.Now())

	r.cfg.NackResponseDelay = 0
	r.HandleHeartbeat(HeartbeatEvent{
		SourcePrefix: remoteWriter.Prefix,
		Heartbeat: wire.Heartbeat{
			WriterId: remoteWriter.EntityId,
			First:    1,
			Last:     3,
			Final:    true,
		},
	})

	require.Eventually(t, func() bool { return len(sender.sent) > 0 }, time.Second, 5*time.Millisecond)
}

func TestReaderSendPreemptiveAckNackTargetsUnheardWritersOnly(t *testing.T) {
	r, sender := testReader(true)
	r.MatchedWriterAdd(remoteWriter, locatorList(7500), nil, guid.UnknownEntityId)

	heardFrom := guid.GUID{Prefix: guid.GuidPrefix{3}, EntityId: guid.EntityId{1, 0, 0, 2}}
	r.MatchedWriterAdd(heardFrom, locatorList(7501), nil, guid.UnknownEntityId)
	wp, _ := r.MatchedWriterLookup(heardFrom)
	wp.ReceivedHeartbeatCount = 1

	r.SendPreemptiveAckNack()

	require.Equal(t, 1, len(sender.sent), "only the writer never heard from should get a preemptive acknack")
}

func locatorList(port uint32) locator.List {
	loc := locator.Locator{Kind: locator.KindUDPv4, Port: port}
	loc.Address[15] = 1
	return locator.List{loc}
}
