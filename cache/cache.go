// Package cache implements the History Cache: the ordered store of
// CacheChanges shared between a Writer (producer), a Reader (producer
// for data arriving from each matched remote Writer), and application
// code (consumer).
package cache

import (
	"sync"
	"time"

	"gitlab.com/yawning/avl.git"

	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/seqnum"
)

// ChangeKind tags what a CacheChange represents: a live sample, or a
// tombstone recording that an instance was disposed or unregistered.
type ChangeKind int

const (
	Alive ChangeKind = iota
	NotAliveDisposed
	NotAliveUnregistered
)

// CacheChange is one sample a Writer published, or a Reader received
// from a matched Writer, at a given sequence number.
type CacheChange struct {
	Kind           ChangeKind
	WriterGuid     guid.GUID
	InstanceHandle [16]byte
	SequenceNumber seqnum.SequenceNumber
	DataValue      []byte
	ReceivedAt     time.Time
}

func cmpBySeqNum(a, b interface{}) int {
	x, y := a.(*CacheChange).SequenceNumber, b.(*CacheChange).SequenceNumber
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// perWriter holds one writer's changes ordered ascending by sequence
// number in an AVL tree, so iteration yields ascending sequence
// numbers. SeqNumMin reads the first node; SeqNumMax and RemoveUpTo
// walk every entry the writer holds.
type perWriter struct {
	tree         *avl.Tree
	nodeBySeqNum map[seqnum.SequenceNumber]*avl.Node
}

func newPerWriter() *perWriter {
	return &perWriter{
		tree:         avl.New(cmpBySeqNum),
		nodeBySeqNum: make(map[seqnum.SequenceNumber]*avl.Node),
	}
}

// HistoryCache stores changes from one or more Writers, keyed by
// (writer_guid, sequence_number), plus a secondary index by instance
// handle for keyed disposal lookups and one by insertion instant for
// eviction bookkeeping.
type HistoryCache struct {
	mu          sync.RWMutex
	byWriter    map[guid.GUID]*perWriter
	byInstant   map[time.Time]*CacheChange
	byInstance  map[[16]byte]map[seqnum.SequenceNumber]*CacheChange
}

// New creates an empty HistoryCache.
func New() *HistoryCache {
	return &HistoryCache{
		byWriter:   make(map[guid.GUID]*perWriter),
		byInstant:  make(map[time.Time]*CacheChange),
		byInstance: make(map[[16]byte]map[seqnum.SequenceNumber]*CacheChange),
	}
}

func (c *HistoryCache) writerFor(w guid.GUID) *perWriter {
	pw, ok := c.byWriter[w]
	if !ok {
		pw = newPerWriter()
		c.byWriter[w] = pw
	}
	return pw
}

// Add inserts a change into the cache. Insertion must be monotonic in
// instant; it is the caller's responsibility to assign sequence
// numbers in ascending order per writer.
func (c *HistoryCache) Add(change *CacheChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pw := c.writerFor(change.WriterGuid)
	node := pw.tree.Insert(change)
	pw.nodeBySeqNum[change.SequenceNumber] = node
	c.byInstant[change.ReceivedAt] = change
	if c.byInstance[change.InstanceHandle] == nil {
		c.byInstance[change.InstanceHandle] = make(map[seqnum.SequenceNumber]*CacheChange)
	}
	c.byInstance[change.InstanceHandle][change.SequenceNumber] = change
}

// Get returns the change at (writerGuid, sn), if present.
func (c *HistoryCache) Get(writerGuid guid.GUID, sn seqnum.SequenceNumber) (*CacheChange, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pw, ok := c.byWriter[writerGuid]
	if !ok {
		return nil, false
	}
	node, ok := pw.nodeBySeqNum[sn]
	if !ok {
		return nil, false
	}
	return node.Value.(*CacheChange), true
}

// GetByInstant returns the change inserted at exactly instant, if any.
func (c *HistoryCache) GetByInstant(instant time.Time) (*CacheChange, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cc, ok := c.byInstant[instant]
	return cc, ok
}

// Remove deletes the change at (writerGuid, sn), returning it if
// present.
func (c *HistoryCache) Remove(writerGuid guid.GUID, sn seqnum.SequenceNumber) (*CacheChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(writerGuid, sn)
}

func (c *HistoryCache) removeLocked(writerGuid guid.GUID, sn seqnum.SequenceNumber) (*CacheChange, bool) {
	pw, ok := c.byWriter[writerGuid]
	if !ok {
		return nil, false
	}
	node, ok := pw.nodeBySeqNum[sn]
	if !ok {
		return nil, false
	}
	cc := node.Value.(*CacheChange)
	pw.tree.Remove(node)
	delete(pw.nodeBySeqNum, sn)
	delete(c.byInstant, cc.ReceivedAt)
	if byInstance := c.byInstance[cc.InstanceHandle]; byInstance != nil {
		delete(byInstance, sn)
		if len(byInstance) == 0 {
			delete(c.byInstance, cc.InstanceHandle)
		}
	}
	return cc, true
}

// RemoveUpTo removes every change of writerGuid whose sequence number
// is strictly less than smallest, returning the sequence numbers
// removed.
func (c *HistoryCache) RemoveUpTo(writerGuid guid.GUID, smallest seqnum.SequenceNumber) []seqnum.SequenceNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	pw, ok := c.byWriter[writerGuid]
	if !ok {
		return nil
	}
	var removed []seqnum.SequenceNumber
	for sn := range pw.nodeBySeqNum {
		if sn < smallest {
			removed = append(removed, sn)
		}
	}
	for _, sn := range removed {
		c.removeLocked(writerGuid, sn)
	}
	return removed
}

// RemoveAllButKeepDepth removes the oldest changes in candidates
// (assumed already acked by every matched reader proxy, ordered
// oldest-first by instant) so that at most depth of them remain.
func (c *HistoryCache) RemoveAllButKeepDepth(writerGuid guid.GUID, candidates []seqnum.SequenceNumber, depth int) []seqnum.SequenceNumber {
	if len(candidates) <= depth {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	toRemove := candidates[:len(candidates)-depth]
	for _, sn := range toRemove {
		c.removeLocked(writerGuid, sn)
	}
	return toRemove
}

// SeqNumMin returns the smallest sequence number writerGuid currently
// holds, and whether it holds anything.
func (c *HistoryCache) SeqNumMin(writerGuid guid.GUID) (seqnum.SequenceNumber, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pw, ok := c.byWriter[writerGuid]
	if !ok {
		return 0, false
	}
	it := pw.tree.Iterator(avl.Forward)
	node := it.First()
	if node == nil {
		return 0, false
	}
	return node.Value.(*CacheChange).SequenceNumber, true
}

// SeqNumMax returns the largest sequence number writerGuid currently
// holds, and whether it holds anything.
func (c *HistoryCache) SeqNumMax(writerGuid guid.GUID) (seqnum.SequenceNumber, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pw, ok := c.byWriter[writerGuid]
	if !ok {
		return 0, false
	}
	var last *avl.Node
	it := pw.tree.Iterator(avl.Forward)
	for node := it.First(); node != nil; node = it.Next() {
		last = node
	}
	if last == nil {
		return 0, false
	}
	return last.Value.(*CacheChange).SequenceNumber, true
}

// Len reports the number of changes writerGuid currently holds.
func (c *HistoryCache) Len(writerGuid guid.GUID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pw, ok := c.byWriter[writerGuid]
	if !ok {
		return 0
	}
	return pw.tree.Len()
}

// Ascending calls fn for every change of writerGuid in ascending
// sequence-number order. fn must not mutate the cache.
func (c *HistoryCache) Ascending(writerGuid guid.GUID, fn func(*CacheChange)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pw, ok := c.byWriter[writerGuid]
	if !ok {
		return
	}
	it := pw.tree.Iterator(avl.Forward)
	for node := it.First(); node != nil; node = it.Next() {
		fn(node.Value.(*CacheChange))
	}
}

// MarkDisposed removes every Alive change of the given instance
// across every writer in the cache. Changes that are not Alive,
// including a disposal tombstone already added via Add, are kept.
func (c *HistoryCache) MarkDisposed(instance [16]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byInstance := c.byInstance[instance]
	var toRemove []*CacheChange
	for _, cc := range byInstance {
		if cc.Kind == Alive {
			toRemove = append(toRemove, cc)
		}
	}
	for _, cc := range toRemove {
		c.removeLocked(cc.WriterGuid, cc.SequenceNumber)
	}
}
