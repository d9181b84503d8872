package writer

import (
	"time"

	"github.com/katzenpost/rtpscore/metrics"
	"github.com/katzenpost/rtpscore/proxy"
	"github.com/katzenpost/rtpscore/seqnum"
	"github.com/katzenpost/rtpscore/wire"
)

func (w *Writer) heartbeatLoop() {
	ticker := time.NewTicker(w.cfg.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.HaltCh():
			return
		case <-ticker.C:
			w.heartbeatTick()
		}
	}
}

// heartbeatTick implements the periodic heartbeat contract: for every
// matched reader, flush its requested changes and then its unsent
// changes, each in ascending order; if it had neither, send a bare
// heartbeat anyway so a reader that missed earlier datagrams is
// prompted to negatively acknowledge.
func (w *Writer) heartbeatTick() {
	w.mu.Lock()
	proxies := make([]*proxy.ReaderProxy, 0, len(w.readerProxies))
	for _, rp := range w.readerProxies {
		proxies = append(proxies, rp)
	}
	w.mu.Unlock()

	for _, rp := range proxies {
		w.flushUnsentAndRequested(rp)
	}
}

func (w *Writer) flushUnsentAndRequested(rp *proxy.ReaderProxy) {
	requested := rp.RequestedChanges()
	for _, sn := range requested {
		w.transmit(rp, sn)
		metrics.WriterRetransmittedTotal.WithLabelValues(w.Guid.String()).Inc()
	}

	unsent := rp.UnsentChanges()
	for _, sn := range unsent {
		w.transmit(rp, sn)
	}

	if len(requested) == 0 && len(unsent) == 0 {
		w.sendBareHeartbeat(rp)
	}
}

func (w *Writer) sendBareHeartbeat(rp *proxy.ReaderProxy) {
	hb := w.nextHeartbeat(rp)
	body, flags := hb.EncodeBody(w.order())

	msg := w.newMessage()
	msg.Append(wire.KindHeartbeat, w.LittleEndian, flags, body)
	w.sendTo(rp, msg.Encode())
	metrics.WriterHeartbeatsSentTotal.WithLabelValues(w.Guid.String()).Inc()
}

// CanSendSome is a read-only readiness diagnostic: it reports whether
// the last published change has been acked by every matched reliable
// reader, i.e. whether this writer could call itself idle. Publication
// is never gated on it — Publish always enqueues regardless.
func (w *Writer) CanSendSome() bool {
	w.mu.Lock()
	last := w.lastSeq
	w.mu.Unlock()
	if last == 0 {
		return true
	}
	return w.IsAckedByAll(last)
}

// IsAckedByAll reports whether every matched reader proxy has
// acknowledged sn.
func (w *Writer) IsAckedByAll(sn seqnum.SequenceNumber) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, rp := range w.readerProxies {
		if !rp.SequenceIsAcked(sn) {
			return false
		}
	}
	return true
}
