package writer

import (
	"time"

	"github.com/katzenpost/rtpscore/cache"
	"github.com/katzenpost/rtpscore/seqnum"
)

func (w *Writer) cacheCleaningLoop() {
	if w.cfg.CacheCleaningPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.CacheCleaningPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.HaltCh():
			return
		case <-ticker.C:
			w.cleanCache()
		}
	}
}

// cleanCache implements the retention contract: keep_all retains
// every change regardless of acknowledgement, keep_last evicts the
// oldest acked-by-all changes beyond the configured depth. With no
// matched readers every change counts as acked by all of them, so
// keep_last evicts down to the configured depth.
func (w *Writer) cleanCache() {
	if w.cfg.History.Kind != "keep_last" {
		return
	}

	w.mu.Lock()
	writerGuid := w.Guid
	depth := w.cfg.History.Depth
	w.mu.Unlock()

	var acked []seqnum.SequenceNumber
	w.cache.Ascending(writerGuid, func(cc *cache.CacheChange) {
		if w.IsAckedByAll(cc.SequenceNumber) {
			acked = append(acked, cc.SequenceNumber)
		}
	})
	w.cache.RemoveAllButKeepDepth(writerGuid, acked, depth)
}
