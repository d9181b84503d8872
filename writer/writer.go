// Package writer implements the Writer Engine: it owns the
// authoritative sequence-number stream for one topic, publishes
// samples into its History Cache, drives Data/Heartbeat emission to
// every matched Reader Proxy, and consumes AckNacks.
package writer

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	channels "gopkg.in/eapache/channels.v1"

	"github.com/katzenpost/rtpscore/cache"
	"github.com/katzenpost/rtpscore/config"
	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/internal/worker"
	"github.com/katzenpost/rtpscore/locator"
	"github.com/katzenpost/rtpscore/metrics"
	"github.com/katzenpost/rtpscore/proxy"
	"github.com/katzenpost/rtpscore/seqnum"
	"github.com/katzenpost/rtpscore/transport"
	"github.com/katzenpost/rtpscore/wire"
)

// Sample is one application-supplied publish request. InstanceHandle
// is used verbatim when set; otherwise, if KeyFields is non-empty, the
// instance handle is derived from it via guid.InstanceKeyHash.
type Sample struct {
	InstanceHandle [16]byte
	KeyFields      []byte
	Data           []byte
	Representation wire.RepresentationIdentifier
	Dispose        bool
	Unregister     bool
}

// AckNackEvent is a received AckNack, tagged with the source prefix
// the Message Receiver observed it under.
type AckNackEvent struct {
	SourcePrefix guid.GuidPrefix
	AckNack      wire.AckNack
}

// Writer is the RTPS Writer Engine for one topic.
type Writer struct {
	worker.Worker

	log *log.Logger

	Guid       guid.GUID
	SourceVersion wire.ProtocolVersion
	SourceVendorId wire.VendorId
	LittleEndian bool

	cfg   config.WriterConfig
	cache *cache.HistoryCache
	sender transport.Sender

	mu               sync.Mutex
	lastSeq          seqnum.SequenceNumber
	heartbeatCount   uint32
	readerProxies    map[guid.GUID]*proxy.ReaderProxy

	publishCh *channels.InfiniteChannel
	ackNackCh chan AckNackEvent
}

// New creates a Writer Engine publishing under guid using cache as
// its History Cache and sender to transmit serialized messages.
func New(guid_ guid.GUID, version wire.ProtocolVersion, vendor wire.VendorId, cfg config.WriterConfig, hc *cache.HistoryCache, sender transport.Sender, logger *log.Logger) *Writer {
	w := &Writer{
		log:            logger.WithPrefix("writer"),
		Guid:           guid_,
		SourceVersion:  version,
		SourceVendorId: vendor,
		LittleEndian:   true,
		cfg:            cfg,
		cache:          hc,
		sender:         sender,
		readerProxies:  make(map[guid.GUID]*proxy.ReaderProxy),
		publishCh:      channels.NewInfiniteChannel(),
		ackNackCh:      make(chan AckNackEvent, 64),
	}
	return w
}

// Start launches the publish-ingress, heartbeat-tick, and
// cache-cleaning goroutines.
func (w *Writer) Start() {
	w.Go(w.publishLoop)
	w.Go(w.acknackLoop)
	if w.cfg.Reliable && w.cfg.HeartbeatPeriod > 0 {
		w.Go(w.heartbeatLoop)
	}
	w.Go(w.cacheCleaningLoop)
}

// Stop halts every goroutine and waits for them to drain.
func (w *Writer) Stop() {
	w.Halt()
	w.Wait()
}

// MatchedReaderAdd registers a newly matched Reader, marking every
// change currently in the history cache as unsent to it.
func (w *Writer) MatchedReaderAdd(remote guid.GUID, unicast, multicast locator.List, reliable bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rp := proxy.NewReaderProxy(remote, unicast, multicast, reliable)
	w.cache.Ascending(w.Guid, func(cc *cache.CacheChange) {
		rp.UnsentChangesSet(cc.SequenceNumber)
	})
	w.readerProxies[remote] = rp
}

// MatchedReaderRemove drops a previously matched Reader.
func (w *Writer) MatchedReaderRemove(remote guid.GUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.readerProxies, remote)
}

// MatchedReaderLookup returns the proxy for remote, if matched.
func (w *Writer) MatchedReaderLookup(remote guid.GUID) (*proxy.ReaderProxy, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rp, ok := w.readerProxies[remote]
	return rp, ok
}

// Publish enqueues a sample for publication; it never blocks the
// caller regardless of how far behind the publish loop has fallen.
func (w *Writer) Publish(s Sample) {
	w.publishCh.In() <- s
}

func (w *Writer) publishLoop() {
	out := w.publishCh.Out()
	for {
		select {
		case <-w.HaltCh():
			return
		case raw, ok := <-out:
			if !ok {
				return
			}
			w.insertToHistoryCache(raw.(Sample))
		}
	}
}

// insertToHistoryCache is the publish path: step 1-3 of the engine's
// publish contract. Transmission (step 4) happens on the next
// heartbeat tick, or immediately here in push mode.
func (w *Writer) insertToHistoryCache(s Sample) {
	w.mu.Lock()
	w.lastSeq++
	sn := w.lastSeq

	kind := cache.Alive
	switch {
	case s.Dispose:
		kind = cache.NotAliveDisposed
	case s.Unregister:
		kind = cache.NotAliveUnregistered
	}

	instance := s.InstanceHandle
	if instance == ([16]byte{}) && len(s.KeyFields) > 0 {
		instance = guid.InstanceKeyHash(s.KeyFields)
	}

	cc := &cache.CacheChange{
		Kind:           kind,
		WriterGuid:     w.Guid,
		InstanceHandle: instance,
		SequenceNumber: sn,
		DataValue:      s.Data,
		ReceivedAt:     time.Now(),
	}
	w.cache.Add(cc)
	if kind != cache.Alive {
		w.cache.MarkDisposed(instance)
	}

	for _, rp := range w.readerProxies {
		rp.UnsentChangesSet(sn)
	}
	proxies := make([]*proxy.ReaderProxy, 0, len(w.readerProxies))
	for _, rp := range w.readerProxies {
		proxies = append(proxies, rp)
	}
	pushMode := w.cfg.PushMode
	w.mu.Unlock()

	metrics.WriterPublishedTotal.WithLabelValues(w.Guid.String()).Inc()

	if pushMode {
		for _, rp := range proxies {
			w.transmit(rp, sn)
		}
	}
}

// transmit sends a single change to a reader proxy, per the engine's
// transmission contract: Header, InfoDestination, InfoTimestamp,
// Data, and for reliable writers a trailing Heartbeat.
func (w *Writer) transmit(rp *proxy.ReaderProxy, sn seqnum.SequenceNumber) {
	cc, ok := w.cache.Get(w.Guid, sn)
	if !ok {
		w.log.Warnf("transmit: sequence number %d absent from history cache", sn)
		rp.RemoveUnsent(sn)
		return
	}

	msg := w.buildMessage(rp, cc)
	w.sendTo(rp, msg.Encode())
	rp.RemoveUnsent(sn)
}

func (w *Writer) order() binary.ByteOrder {
	return wire.ByteOrder(wire.SubmessageHeader{Flags: boolFlag(w.LittleEndian)})
}

func (w *Writer) newMessage() wire.Message {
	return wire.Message{
		Header: wire.Header{
			Version:    w.SourceVersion,
			VendorId:   w.SourceVendorId,
			GuidPrefix: w.Guid.Prefix,
		},
	}
}

// nextHeartbeat builds a Heartbeat submessage for rp, bumping the
// shared heartbeat counter. Callers must not hold w.mu.
func (w *Writer) nextHeartbeat(rp *proxy.ReaderProxy) wire.Heartbeat {
	first := w.FirstSequenceNumber()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.heartbeatCount++
	return wire.Heartbeat{
		ReaderId: rp.RemoteReaderGuid.EntityId,
		WriterId: w.Guid.EntityId,
		First:    first,
		Last:     w.lastSeq,
		Count:    w.heartbeatCount,
	}
}

// FirstSequenceNumber returns the smallest sequence number this
// writer's history cache currently retains, falling back to
// seqnum.First if nothing has been published yet. Recomputed from the
// cache rather than cached on the Writer itself, so an eviction is
// reflected on the very next heartbeat.
func (w *Writer) FirstSequenceNumber() seqnum.SequenceNumber {
	if min, ok := w.cache.SeqNumMin(w.Guid); ok {
		return min
	}
	return seqnum.First
}

func (w *Writer) sendTo(rp *proxy.ReaderProxy, encoded []byte) {
	for _, loc := range rp.UnicastLocatorList {
		if err := w.sender.Send(loc, encoded); err != nil {
			w.log.Errorf("unicast send to %s failed: %s", loc, err)
		}
	}
	for _, loc := range rp.MulticastLocatorList {
		if loc.Kind != locator.KindUDPv4 {
			continue
		}
		if err := w.sender.Send(loc, encoded); err != nil {
			w.log.Errorf("multicast send to %s failed: %s", loc, err)
		}
	}
}

func (w *Writer) buildMessage(rp *proxy.ReaderProxy, cc *cache.CacheChange) wire.Message {
	msg := w.newMessage()
	order := w.order()

	dest := wire.InfoDestination{GuidPrefix: rp.RemoteReaderGuid.Prefix}
	body, flags := dest.EncodeBody(order)
	msg.Append(wire.KindInfoDestination, w.LittleEndian, flags, body)

	ts := wire.InfoTimestamp{Timestamp: time.Now()}
	body, flags = ts.EncodeBody(order)
	msg.Append(wire.KindInfoTimestamp, w.LittleEndian, flags, body)

	data := wire.Data{
		ReaderId:       rp.RemoteReaderGuid.EntityId,
		WriterId:       w.Guid.EntityId,
		WriterSN:       cc.SequenceNumber,
		Representation: w.representation(),
		SerializedData: cc.DataValue,
	}
	if cc.Kind != cache.Alive {
		data.SerializedData = nil
		statusByte := byte(0)
		if cc.Kind == cache.NotAliveDisposed {
			statusByte = wire.StatusInfoDisposed
		} else {
			statusByte = wire.StatusInfoUnregistered
		}
		data.InlineQos = wire.ParameterList{
			{Id: wire.PidKeyHash, Value: cc.InstanceHandle[:]},
			{Id: wire.PidStatusInfo, Value: []byte{statusByte, 0, 0, 0}},
		}
	}
	body, flags = data.EncodeBody(order)
	msg.Append(wire.KindData, w.LittleEndian, flags, body)

	if w.cfg.Reliable {
		hb := w.nextHeartbeat(rp)
		body, flags = hb.EncodeBody(order)
		msg.Append(wire.KindHeartbeat, w.LittleEndian, flags, body)
		metrics.WriterHeartbeatsSentTotal.WithLabelValues(w.Guid.String()).Inc()
	}

	return msg
}

func boolFlag(littleEndian bool) byte {
	if littleEndian {
		return wire.FlagEndianness
	}
	return 0
}

// representation picks the representation identifier for this
// writer's changes; built-in entities (e.g. kind 0xC2) use PL_CDR,
// everything else plain CDR.
func (w *Writer) representation() wire.RepresentationIdentifier {
	if w.Guid.EntityId.Kind().IsBuiltin() {
		return wire.RepresentationPLCDRLE
	}
	return wire.RepresentationCDRLE
}
