package writer

import (
	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/seqnum"
)

// IngestAckNack feeds a received AckNack into the writer's processing
// loop. It never blocks: the channel is large enough to absorb a
// burst, and a full channel indicates a receiver pathology the
// heartbeat retransmit path will paper over anyway.
func (w *Writer) IngestAckNack(event AckNackEvent) {
	select {
	case w.ackNackCh <- event:
	default:
		w.log.Warnf("acknack queue full, dropping acknack from %s", event.SourcePrefix)
	}
}

func (w *Writer) acknackLoop() {
	for {
		select {
		case <-w.HaltCh():
			return
		case event := <-w.ackNackCh:
			w.handleAckNack(event)
		}
	}
}

// handleAckNack applies one AckNack per the engine's acknack-handling
// contract: ignored outright for best-effort writers, otherwise routed
// to the matched reader proxy named by the acknack's reader_id under
// the source participant's prefix. A non-empty requested set adds
// negative acknowledgements (filtered to sequence numbers still in the
// history cache); an empty one is a pure positive acknowledgement.
func (w *Writer) handleAckNack(event AckNackEvent) {
	if !w.cfg.Reliable {
		return
	}

	readerGuid := guid.New(event.SourcePrefix, event.AckNack.ReaderId)

	w.mu.Lock()
	rp, ok := w.readerProxies[readerGuid]
	w.mu.Unlock()
	if !ok {
		return
	}

	state := event.AckNack.ReaderSNState
	if state == nil {
		return
	}

	var requestedAny bool
	var requested []seqnum.SequenceNumber
	state.Each(func(sn seqnum.SequenceNumber) {
		requestedAny = true
		if _, ok := w.cache.Get(w.Guid, sn); ok {
			requested = append(requested, sn)
		}
	})

	if requestedAny {
		rp.AddRequestedChanges(requested)
		return
	}

	rp.AckedChangesSet(state.Base)
}
