package receiver

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/rtpscore/cache"
	"github.com/katzenpost/rtpscore/config"
	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/locator"
	"github.com/katzenpost/rtpscore/reader"
	"github.com/katzenpost/rtpscore/seqnum"
	"github.com/katzenpost/rtpscore/wire"
)

type nopSender struct{}

func (nopSender) Send(locator.Locator, []byte) error { return nil }
func (nopSender) Close() error                        { return nil }

func testLogger() *log.Logger { return log.New(io.Discard) }

var ownPrefix = guid.GuidPrefix{1}
var peerPrefix = guid.GuidPrefix{2}

func buildMessage(header wire.Header, subs ...func(*wire.Message)) []byte {
	msg := wire.Message{Header: header}
	for _, f := range subs {
		f(&msg)
	}
	return msg.Encode()
}

func TestReceiverRoutesDataToMatchedReader(t *testing.T) {
	rx := New(ownPrefix, nil, testLogger())

	writerGuid := guid.GUID{Prefix: peerPrefix, EntityId: guid.EntityId{1, 0, 0, 2}}
	readerGuid := guid.GUID{Prefix: ownPrefix, EntityId: guid.EntityId{1, 0, 0, 4}}

	hc := cache.New()
	rd := reader.New(readerGuid, wire.Version23, wire.VendorId{1, 1}, config.DefaultReaderConfig(true), hc, nopSender{}, testLogger())
	rd.MatchedWriterAdd(writerGuid, nil, nil, guid.UnknownEntityId)
	rx.RegisterReader(rd)

	order := wire.ByteOrder(wire.SubmessageHeader{Flags: wire.FlagEndianness})
	data := wire.Data{
		ReaderId:       guid.UnknownEntityId,
		WriterId:       writerGuid.EntityId,
		WriterSN:       seqnum.First,
		SerializedData: []byte("payload"),
	}
	body, flags := data.EncodeBody(order)

	raw := buildMessage(wire.Header{Version: wire.Version23, VendorId: wire.VendorId{1, 1}, GuidPrefix: peerPrefix},
		func(m *wire.Message) { m.Append(wire.KindData, true, flags, body) },
	)

	rx.HandleDatagram(raw)

	cc, ok := hc.Get(writerGuid, seqnum.First)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), cc.DataValue)
}

func TestReceiverDropsEntitySubmessageForWrongDestination(t *testing.T) {
	rx := New(ownPrefix, nil, testLogger())
	writerGuid := guid.GUID{Prefix: peerPrefix, EntityId: guid.EntityId{1, 0, 0, 2}}
	readerGuid := guid.GUID{Prefix: ownPrefix, EntityId: guid.EntityId{1, 0, 0, 4}}

	hc := cache.New()
	rd := reader.New(readerGuid, wire.Version23, wire.VendorId{1, 1}, config.DefaultReaderConfig(true), hc, nopSender{}, testLogger())
	rd.MatchedWriterAdd(writerGuid, nil, nil, guid.UnknownEntityId)
	rx.RegisterReader(rd)

	otherPrefix := guid.GuidPrefix{9, 9}
	order := wire.ByteOrder(wire.SubmessageHeader{Flags: wire.FlagEndianness})
	data := wire.Data{WriterId: writerGuid.EntityId, WriterSN: seqnum.First}
	dataBody, dataFlags := data.EncodeBody(order)
	dest := wire.InfoDestination{GuidPrefix: otherPrefix}
	destBody, destFlags := dest.EncodeBody(order)

	raw := buildMessage(wire.Header{Version: wire.Version23, VendorId: wire.VendorId{1, 1}, GuidPrefix: peerPrefix},
		func(m *wire.Message) { m.Append(wire.KindInfoDestination, true, destFlags, destBody) },
		func(m *wire.Message) { m.Append(wire.KindData, true, dataFlags, dataBody) },
	)

	rx.HandleDatagram(raw)

	_, ok := hc.Get(writerGuid, seqnum.First)
	require.False(t, ok)
}

func TestReceiverTreatsShortDDSPingAsBenign(t *testing.T) {
	rx := New(ownPrefix, nil, testLogger())
	ping := append([]byte("RTPS"), make([]byte, 5)...)
	ping = append(ping, []byte("DDSPING")...)
	require.NotPanics(t, func() { rx.HandleDatagram(ping) })
}
