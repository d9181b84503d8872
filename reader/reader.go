// Package reader implements the Reader Engine: it matches Writer
// Proxies against remote Writers, ingests Data/Heartbeat/Gap
// submessages into the shared History Cache, and schedules AckNacks
// back to each matched Writer.
package reader

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/katzenpost/rtpscore/cache"
	"github.com/katzenpost/rtpscore/config"
	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/internal/timerqueue"
	"github.com/katzenpost/rtpscore/internal/worker"
	"github.com/katzenpost/rtpscore/locator"
	"github.com/katzenpost/rtpscore/metrics"
	"github.com/katzenpost/rtpscore/proxy"
	"github.com/katzenpost/rtpscore/transport"
	"github.com/katzenpost/rtpscore/wire"
)

// DataEvent is a Data submessage delivered from a matched Writer.
type DataEvent struct {
	SourcePrefix guid.GuidPrefix
	Data         wire.Data
}

// HeartbeatEvent is a Heartbeat submessage delivered from a matched
// Writer.
type HeartbeatEvent struct {
	SourcePrefix guid.GuidPrefix
	Heartbeat    wire.Heartbeat
}

// GapEvent is a Gap submessage delivered from a matched Writer.
type GapEvent struct {
	SourcePrefix guid.GuidPrefix
	Gap          wire.Gap
}

// Reader is the RTPS Reader Engine for one topic.
type Reader struct {
	worker.Worker

	log *log.Logger

	Guid           guid.GUID
	SourceVersion  wire.ProtocolVersion
	SourceVendorId wire.VendorId
	LittleEndian   bool

	cfg    config.ReaderConfig
	cache  *cache.HistoryCache
	sender transport.Sender
	timers *timerqueue.TimerQueue

	mu            sync.Mutex
	writerProxies map[guid.GUID]*proxy.WriterProxy
	ackNackCount  uint32
}

// New creates a Reader Engine ingesting into cache, identified by
// guid_, sending AckNacks via sender.
func New(guid_ guid.GUID, version wire.ProtocolVersion, vendor wire.VendorId, cfg config.ReaderConfig, hc *cache.HistoryCache, sender transport.Sender, logger *log.Logger) *Reader {
	r := &Reader{
		log:            logger.WithPrefix("reader"),
		Guid:           guid_,
		SourceVersion:  version,
		SourceVendorId: vendor,
		LittleEndian:   true,
		cfg:            cfg,
		cache:          hc,
		sender:         sender,
		writerProxies:  make(map[guid.GUID]*proxy.WriterProxy),
	}
	r.timers = timerqueue.NewTimerQueue(r.fireAckNack)
	return r
}

// Start launches the AckNack delivery timer.
func (r *Reader) Start() {
	r.timers.Start()
}

// Stop halts the AckNack delivery timer.
func (r *Reader) Stop() {
	r.timers.Halt()
	r.timers.Wait()
}

// MatchedWriterAdd registers a newly matched Writer.
func (r *Reader) MatchedWriterAdd(remote guid.GUID, unicast, multicast locator.List, group guid.EntityId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writerProxies[remote] = proxy.NewWriterProxy(remote, unicast, multicast, group)
}

// MatchedWriterAddVerified is MatchedWriterAdd preceded by an Ed25519
// authenticity check over remote's GUID bytes: publicKey/signature are
// a Writer's self-asserted identity proof, verified independently of
// (and in addition to) whatever the security-plugin transform already
// decoded. The proxy is not registered if verification fails.
func (r *Reader) MatchedWriterAddVerified(remote guid.GUID, unicast, multicast locator.List, group guid.EntityId, publicKey, signature []byte) error {
	remoteBytes := remote.Bytes()
	ok, err := guid.VerifyWriterIdentity(publicKey, remoteBytes[:], signature)
	if err != nil {
		return fmt.Errorf("reader: verifying writer identity for %s: %w", remote, err)
	}
	if !ok {
		return fmt.Errorf("reader: writer identity verification failed for %s", remote)
	}
	r.MatchedWriterAdd(remote, unicast, multicast, group)
	return nil
}

// MatchedWriterRemove drops a previously matched Writer.
func (r *Reader) MatchedWriterRemove(remote guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writerProxies, remote)
}

// MatchedWriterLookup returns the proxy for remote, if matched.
func (r *Reader) MatchedWriterLookup(remote guid.GUID) (*proxy.WriterProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.writerProxies[remote]
	return wp, ok
}

func (r *Reader) order() binary.ByteOrder {
	return wire.ByteOrder(wire.SubmessageHeader{Flags: boolFlag(r.LittleEndian)})
}

func boolFlag(littleEndian bool) byte {
	if littleEndian {
		return wire.FlagEndianness
	}
	return 0
}

// HandleData applies the Data-handling contract: insert the change
// into the history cache and mark it received on the owning writer
// proxy.
func (r *Reader) HandleData(event DataEvent) {
	writerGuid := guid.New(event.SourcePrefix, event.Data.WriterId)

	r.mu.Lock()
	wp, ok := r.writerProxies[writerGuid]
	r.mu.Unlock()
	if !ok {
		return
	}

	if wp.AlreadyReceived(event.Data.WriterSN) {
		metrics.ReceiverDroppedTotal.WithLabelValues("duplicate_data").Inc()
		return
	}

	now := time.Now()
	kind := cache.Alive
	disposed, unregistered := event.Data.IsDisposedOrUnregistered()
	switch {
	case disposed:
		kind = cache.NotAliveDisposed
	case unregistered:
		kind = cache.NotAliveUnregistered
	}

	var instance [16]byte
	if keyHash, ok := event.Data.KeyHash(); ok {
		copy(instance[:], keyHash)
	}

	cc := &cache.CacheChange{
		Kind:           kind,
		WriterGuid:     writerGuid,
		InstanceHandle: instance,
		SequenceNumber: event.Data.WriterSN,
		DataValue:      event.Data.SerializedData,
		ReceivedAt:     now,
	}
	r.cache.Add(cc)
	if kind != cache.Alive {
		r.cache.MarkDisposed(instance)
	}
	wp.ReceivedChangesAdd(event.Data.WriterSN, now)
	metrics.ReceiverSubmessagesTotal.WithLabelValues("data").Inc()
}

// HandleHeartbeat applies the Heartbeat-handling contract: record the
// advertised last sequence number, and schedule an AckNack after
// nack_response_delay if the writer requested a reply or changes are
// missing.
func (r *Reader) HandleHeartbeat(event HeartbeatEvent) {
	writerGuid := guid.New(event.SourcePrefix, event.Heartbeat.WriterId)

	r.mu.Lock()
	wp, ok := r.writerProxies[writerGuid]
	r.mu.Unlock()
	if !ok {
		return
	}

	wp.HbLastSeen = event.Heartbeat.Last
	wp.ReceivedHeartbeatCount++

	if !event.Heartbeat.Final || wp.ChangesAreMissing(event.Heartbeat.Last) {
		deadline := time.Now().Add(r.cfg.NackResponseDelay)
		r.timers.Push(uint64(deadline.UnixNano()), writerGuid)
	}
}

// HandleGap applies the Gap-handling contract: [0, gap_start) cleared
// by irrelevant_changes_up_to, then the declared range
// [gap_start, gap_list_base) and every sequence number explicitly
// listed in the gap's bitmap are marked irrelevant.
func (r *Reader) HandleGap(event GapEvent) {
	writerGuid := guid.New(event.SourcePrefix, event.Gap.WriterId)

	r.mu.Lock()
	wp, ok := r.writerProxies[writerGuid]
	r.mu.Unlock()
	if !ok {
		return
	}

	wp.IrrelevantChangesUpTo(event.Gap.GapStart)
	if event.Gap.GapList != nil {
		wp.MarkRangeIrrelevant(event.Gap.GapStart, event.Gap.GapList.Base)
		event.Gap.GapList.Each(wp.SetIrrelevantChange)
	}
	metrics.ReaderGapAppliedTotal.WithLabelValues(r.Guid.String()).Inc()
}

// SendPreemptiveAckNack sends a zero-sequence AckNack to every matched
// Writer this reader has not yet received a Heartbeat from, so a
// Writer running push-mode heartbeats without first being asked still
// discovers this reader quickly.
func (r *Reader) SendPreemptiveAckNack() {
	r.mu.Lock()
	pending := make([]guid.GUID, 0, len(r.writerProxies))
	for wg, wp := range r.writerProxies {
		if wp.ReceivedHeartbeatCount == 0 {
			pending = append(pending, wg)
		}
	}
	r.mu.Unlock()

	for _, wg := range pending {
		r.fireAckNack(wg)
	}
}

// fireAckNack is the timerqueue callback: value is the matched
// writer's guid. The proxy's current state is re-read at fire time,
// since it may have changed since the tick was scheduled.
func (r *Reader) fireAckNack(value interface{}) {
	writerGuid := value.(guid.GUID)

	r.mu.Lock()
	wp, ok := r.writerProxies[writerGuid]
	r.mu.Unlock()
	if !ok {
		return
	}

	missing := wp.MissingChanges(wp.HbLastSeen)
	base := wp.HbLastSeen + 1
	if len(missing) > 0 {
		base = missing[0]
	}

	set := wire.NewSequenceNumberSet(base)
	for _, sn := range missing {
		set.Add(sn)
	}

	r.mu.Lock()
	r.ackNackCount++
	count := r.ackNackCount
	r.mu.Unlock()
	wp.SentAckNackCount = count

	an := wire.AckNack{
		ReaderId:      r.Guid.EntityId,
		WriterId:      writerGuid.EntityId,
		ReaderSNState: set,
		Count:         count,
	}
	order := r.order()
	body, flags := an.EncodeBody(order)

	msg := wire.Message{
		Header: wire.Header{
			Version:    r.SourceVersion,
			VendorId:   r.SourceVendorId,
			GuidPrefix: r.Guid.Prefix,
		},
	}
	dest := wire.InfoDestination{GuidPrefix: writerGuid.Prefix}
	destBody, destFlags := dest.EncodeBody(order)
	msg.Append(wire.KindInfoDestination, r.LittleEndian, destFlags, destBody)
	msg.Append(wire.KindAckNack, r.LittleEndian, flags, body)
	encoded := msg.Encode()

	r.metricsMissing(writerGuid, len(missing))

	for _, loc := range wp.UnicastLocatorList {
		if err := r.sender.Send(loc, encoded); err != nil {
			r.log.Errorf("acknack send to %s failed: %s", loc, err)
		}
	}
}

func (r *Reader) metricsMissing(writerGuid guid.GUID, n int) {
	metrics.ReaderMissingChanges.WithLabelValues(r.Guid.String(), writerGuid.String()).Set(float64(n))
}
