// Package receiver implements the Message Receiver: the per-datagram
// state machine that turns a raw UDP payload into dispatched calls
// against the matched Reader and Writer engines of one participant.
package receiver

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/metrics"
	"github.com/katzenpost/rtpscore/reader"
	"github.com/katzenpost/rtpscore/transform"
	"github.com/katzenpost/rtpscore/wire"
	"github.com/katzenpost/rtpscore/writer"
)

// Receiver dispatches decoded submessages to the Readers and Writers
// of one participant.
type Receiver struct {
	log       *log.Logger
	ownPrefix guid.GuidPrefix
	transform transform.Transform

	mu              sync.RWMutex
	readers         map[guid.EntityId]*reader.Reader
	writers         map[guid.EntityId]*writer.Writer
	spdpReader      *reader.Reader
	statelessReader *reader.Reader

	livenessCh chan guid.GuidPrefix
}

// New creates a Receiver for the participant identified by ownPrefix.
// A nil xform installs the identity (no-op) security transform.
func New(ownPrefix guid.GuidPrefix, xform transform.Transform, logger *log.Logger) *Receiver {
	if xform == nil {
		xform = transform.Identity{}
	}
	return &Receiver{
		log:        logger.WithPrefix("receiver"),
		ownPrefix:  ownPrefix,
		transform:  xform,
		readers:    make(map[guid.EntityId]*reader.Reader),
		writers:    make(map[guid.EntityId]*writer.Writer),
		livenessCh: make(chan guid.GuidPrefix, 64),
	}
}

// LivenessCh delivers source prefixes observed publishing SPDP
// announcements, regardless of normal reader dedup.
func (r *Receiver) LivenessCh() <-chan guid.GuidPrefix {
	return r.livenessCh
}

// RegisterReader makes rd reachable by entity routing under its own
// entity id.
func (r *Receiver) RegisterReader(rd *reader.Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[rd.Guid.EntityId] = rd
	if rd.Guid.EntityId == guid.EntityIdSPDPBuiltinParticipantReader {
		r.spdpReader = rd
	}
	if rd.Guid.EntityId == guid.EntityIdP2PBuiltinParticipantStatelessReader {
		r.statelessReader = rd
	}
}

// RegisterWriter makes wr reachable for AckNack/NackFrag forwarding
// under its own entity id.
func (r *Receiver) RegisterWriter(wr *writer.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[wr.Guid.EntityId] = wr
}

// receiverState holds the per-datagram interpreter bookkeeping that
// InfoTimestamp/InfoSource/InfoReply/InfoDestination submessages
// mutate as they're encountered.
type receiverState struct {
	destGuidPrefix   guid.GuidPrefix
	sourceGuidPrefix guid.GuidPrefix
	sourceVersion    wire.ProtocolVersion
	sourceVendorId   wire.VendorId
	sourceTimestamp  *time.Time
}

func newReceiverState(ownPrefix guid.GuidPrefix, h wire.Header) *receiverState {
	return &receiverState{
		destGuidPrefix:   ownPrefix,
		sourceGuidPrefix: h.GuidPrefix,
		sourceVersion:    h.Version,
		sourceVendorId:   h.VendorId,
	}
}

// secureState is the three-state per-submessage security machine
// described for the inner dispatch layer.
type secureState int

const (
	secureNone secureState = iota
	securePrefix
	secureSubmessage
)

type secureMachine struct {
	state      secureState
	prefixBody []byte
	buffered   wire.RawSubmessage
}

func (m *secureMachine) reset() {
	m.state = secureNone
	m.prefixBody = nil
	m.buffered = wire.RawSubmessage{}
}

// HandleDatagram processes one received UDP payload.
func (r *Receiver) HandleDatagram(b []byte) {
	if wire.IsRTPSPing(b) {
		return
	}
	msg, err := wire.DecodeMessage(b)
	if err != nil {
		r.log.Warnf("malformed datagram: %s", err)
		metrics.ReceiverDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}
	r.processMessage(msg, b)
}

func (r *Receiver) processMessage(msg wire.Message, raw []byte) {
	if len(msg.Submessages) > 0 && msg.Submessages[0].Header.Kind == wire.KindSecureRTPSPrefix {
		decoded, err := r.transform.DecodeRTPSMessage(raw, msg.Header.GuidPrefix)
		if err != nil {
			r.log.Warnf("secure rtps message decode failed: %s", err)
			metrics.ReceiverDroppedTotal.WithLabelValues("secure_decode").Inc()
			return
		}
		decodedMsg, err := wire.DecodeMessage(decoded)
		if err != nil {
			r.log.Warnf("secure rtps message malformed after decode: %s", err)
			metrics.ReceiverDroppedTotal.WithLabelValues("malformed").Inc()
			return
		}
		r.processMessage(decodedMsg, decoded)
		return
	}

	state := newReceiverState(r.ownPrefix, msg.Header)
	sec := &secureMachine{}
	for _, sm := range msg.Submessages {
		r.dispatchSubmessage(state, sec, sm)
	}
}

func (r *Receiver) dispatchSubmessage(st *receiverState, sec *secureMachine, sm wire.RawSubmessage) {
	switch sec.state {
	case secureNone:
		if sm.Header.Kind == wire.KindSecurePrefix {
			sec.state = securePrefix
			sec.prefixBody = sm.Body
			return
		}
		r.dispatchNormal(st, sm)

	case securePrefix:
		sec.state = secureSubmessage
		sec.buffered = sm

	case secureSubmessage:
		if sm.Header.Kind != wire.KindSecurePostfix {
			r.log.Warnf("out-of-sequence secure submessage, resetting")
			metrics.ReceiverDroppedTotal.WithLabelValues("secure_sequence").Inc()
			sec.reset()
			return
		}
		r.decodeSecureTriad(st, sec, sm)
		sec.reset()
	}
}

func (r *Receiver) decodeSecureTriad(st *receiverState, sec *secureMachine, postfix wire.RawSubmessage) {
	kind, err := r.transform.PreprocessSecureSubmsg(sec.prefixBody, sec.buffered.Body, postfix.Body)
	if err != nil {
		r.log.Warnf("secure submessage preprocess failed: %s", err)
		metrics.ReceiverDroppedTotal.WithLabelValues("secure_decode").Inc()
		return
	}

	inner := sec.buffered
	order := wire.ByteOrder(inner.Header)

	switch kind {
	case transform.SecureKindDatawriter:
		writerId, ok := peekDataWriterId(inner, order)
		if !ok {
			return
		}
		body, err := r.transform.DecodeDatawriterSubmessage(inner.Body, writerId)
		if err != nil {
			r.log.Warnf("datawriter submessage decode failed: %s", err)
			metrics.ReceiverDroppedTotal.WithLabelValues("secure_decode").Inc()
			return
		}
		inner.Body = body
		r.dispatchNormal(st, inner)

	case transform.SecureKindDatareader:
		readerId, ok := peekDataReaderId(inner, order)
		if !ok {
			return
		}
		body, err := r.transform.DecodeDatareaderSubmessage(inner.Body, readerId)
		if err != nil {
			r.log.Warnf("datareader submessage decode failed: %s", err)
			metrics.ReceiverDroppedTotal.WithLabelValues("secure_decode").Inc()
			return
		}
		inner.Body = body
		r.dispatchNormal(st, inner)

	default:
		r.dispatchNormal(st, inner)
	}
}

func peekDataWriterId(sm wire.RawSubmessage, order binary.ByteOrder) (guid.EntityId, bool) {
	if sm.Header.Kind != wire.KindData && sm.Header.Kind != wire.KindDataFrag {
		return guid.EntityId{}, false
	}
	d, err := wire.DecodeData(sm.Body, sm.Header.Flags, order)
	if err != nil {
		return guid.EntityId{}, false
	}
	return d.WriterId, true
}

func peekDataReaderId(sm wire.RawSubmessage, order binary.ByteOrder) (guid.EntityId, bool) {
	switch sm.Header.Kind {
	case wire.KindAckNack:
		an, err := wire.DecodeAckNack(sm.Body, sm.Header.Flags, order)
		if err != nil {
			return guid.EntityId{}, false
		}
		return an.ReaderId, true
	case wire.KindNackFrag:
		return guid.EntityId{}, false
	default:
		return guid.EntityId{}, false
	}
}

func (r *Receiver) dispatchNormal(st *receiverState, sm wire.RawSubmessage) {
	order := wire.ByteOrder(sm.Header)
	metrics.ReceiverSubmessagesTotal.WithLabelValues(sm.Header.Kind.String()).Inc()

	switch sm.Header.Kind {
	case wire.KindInfoTimestamp:
		ts, err := wire.DecodeInfoTimestamp(sm.Body, sm.Header.Flags, order)
		if err != nil {
			return
		}
		if ts.Invalidate {
			st.sourceTimestamp = nil
		} else {
			t := ts.Timestamp
			st.sourceTimestamp = &t
		}

	case wire.KindInfoSource:
		is, err := wire.DecodeInfoSource(sm.Body)
		if err != nil {
			return
		}
		st.sourceGuidPrefix = is.GuidPrefix
		st.sourceVersion = is.Version
		st.sourceTimestamp = nil

	case wire.KindInfoReply, wire.KindInfoReplyIP4:
		// Reply locators are decoded and then discarded: the receiver
		// state holds no reply locator lists, and InfoReply does not
		// change where any answer is sent.
		_, _ = wire.DecodeInfoReply(sm.Body, sm.Header.Flags, order)

	case wire.KindInfoDestination:
		id, err := wire.DecodeInfoDestination(sm.Body)
		if err != nil {
			return
		}
		if id.GuidPrefix == guid.UnknownPrefix {
			st.destGuidPrefix = r.ownPrefix
		} else {
			st.destGuidPrefix = id.GuidPrefix
		}

	case wire.KindData:
		r.dispatchData(st, sm, order)

	case wire.KindHeartbeat:
		r.dispatchHeartbeat(st, sm, order)

	case wire.KindGap:
		r.dispatchGap(st, sm, order)

	case wire.KindAckNack, wire.KindNackFrag:
		r.dispatchAckNack(st, sm, order)
	}
}

func (r *Receiver) destOK(st *receiverState) bool {
	return st.destGuidPrefix == r.ownPrefix || st.destGuidPrefix == guid.UnknownPrefix
}

func (r *Receiver) dispatchData(st *receiverState, sm wire.RawSubmessage, order binary.ByteOrder) {
	if !r.destOK(st) {
		return
	}
	d, err := wire.DecodeData(sm.Body, sm.Header.Flags, order)
	if err != nil {
		r.log.Warnf("malformed data submessage: %s", err)
		metrics.ReceiverDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}
	writerGuid := guid.New(st.sourceGuidPrefix, d.WriterId)

	if d.WriterId == guid.EntityIdSPDPBuiltinParticipantWriter {
		r.emitLiveness(st.sourceGuidPrefix)
	}

	event := reader.DataEvent{SourcePrefix: st.sourceGuidPrefix, Data: d}
	for _, rd := range r.route(d.ReaderId, writerGuid) {
		rd.HandleData(event)
	}
}

func (r *Receiver) dispatchHeartbeat(st *receiverState, sm wire.RawSubmessage, order binary.ByteOrder) {
	if !r.destOK(st) {
		return
	}
	hb, err := wire.DecodeHeartbeat(sm.Body, sm.Header.Flags, order)
	if err != nil {
		r.log.Warnf("malformed heartbeat submessage: %s", err)
		metrics.ReceiverDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}
	writerGuid := guid.New(st.sourceGuidPrefix, hb.WriterId)
	event := reader.HeartbeatEvent{SourcePrefix: st.sourceGuidPrefix, Heartbeat: hb}
	for _, rd := range r.route(hb.ReaderId, writerGuid) {
		rd.HandleHeartbeat(event)
	}
}

func (r *Receiver) dispatchGap(st *receiverState, sm wire.RawSubmessage, order binary.ByteOrder) {
	if !r.destOK(st) {
		return
	}
	gap, err := wire.DecodeGap(sm.Body, order)
	if err != nil {
		r.log.Warnf("malformed gap submessage: %s", err)
		metrics.ReceiverDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}
	writerGuid := guid.New(st.sourceGuidPrefix, gap.WriterId)
	event := reader.GapEvent{SourcePrefix: st.sourceGuidPrefix, Gap: gap}
	for _, rd := range r.route(gap.ReaderId, writerGuid) {
		rd.HandleGap(event)
	}
}

func (r *Receiver) dispatchAckNack(st *receiverState, sm wire.RawSubmessage, order binary.ByteOrder) {
	if !r.destOK(st) {
		return
	}
	if sm.Header.Kind == wire.KindNackFrag {
		// NackFrag carries no payload this core fragments; forwarding
		// it would require fragment-reassembly state out of scope here.
		return
	}
	an, err := wire.DecodeAckNack(sm.Body, sm.Header.Flags, order)
	if err != nil {
		r.log.Warnf("malformed acknack submessage: %s", err)
		metrics.ReceiverDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}

	r.mu.RLock()
	wr, ok := r.writers[an.WriterId]
	r.mu.RUnlock()
	if !ok {
		return
	}
	wr.IngestAckNack(writer.AckNackEvent{SourcePrefix: st.sourceGuidPrefix, AckNack: an})
}

// route resolves which local Readers should receive an entity
// submessage: a specific reader by id, or every Reader whose matched
// writer set contains writerGuid (plus the built-in SPDP/stateless
// readers for their respective writer traffic) when readerId is
// unknown.
func (r *Receiver) route(readerId guid.EntityId, writerGuid guid.GUID) []*reader.Reader {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if readerId != guid.UnknownEntityId {
		if rd, ok := r.readers[readerId]; ok {
			return []*reader.Reader{rd}
		}
		return nil
	}

	var out []*reader.Reader
	for _, rd := range r.readers {
		if _, ok := rd.MatchedWriterLookup(writerGuid); ok {
			out = append(out, rd)
		}
	}
	if writerGuid.EntityId == guid.EntityIdSPDPBuiltinParticipantWriter && r.spdpReader != nil {
		out = append(out, r.spdpReader)
	}
	if writerGuid.EntityId == guid.EntityIdP2PBuiltinParticipantStatelessWriter && r.statelessReader != nil {
		out = append(out, r.statelessReader)
	}
	return out
}

func (r *Receiver) emitLiveness(prefix guid.GuidPrefix) {
	select {
	case r.livenessCh <- prefix:
	default:
		r.log.Infof("liveness channel full, dropping signal from %s", prefix)
		metrics.ReceiverDroppedTotal.WithLabelValues("liveness_channel_full").Inc()
	}
}
