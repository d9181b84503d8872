package cache

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/katzenpost/rtpscore/guid"
	"github.com/katzenpost/rtpscore/seqnum"
)

// Journal persists CacheChanges to a bbolt database so a Writer's
// history survives a process restart. It is optional: a Writer with
// no Journal simply keeps everything in memory.
type Journal struct {
	db     *bolt.DB
	bucket []byte
}

// OpenJournal opens (creating if necessary) a durable journal backed
// by the bbolt file at path, scoped to one writer's GUID.
func OpenJournal(path string, writer guid.GUID) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: opening journal: %w", err)
	}
	bucket := writer.Bytes()
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket[:])
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating journal bucket: %w", err)
	}
	return &Journal{db: db, bucket: bucket[:]}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func journalKey(sn seqnum.SequenceNumber) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(sn))
	return key
}

// Append durably records a change's kind and payload under its
// sequence number.
func (j *Journal) Append(cc *CacheChange) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(j.bucket)
		value := make([]byte, 1+16+len(cc.DataValue))
		value[0] = byte(cc.Kind)
		copy(value[1:17], cc.InstanceHandle[:])
		copy(value[17:], cc.DataValue)
		return b.Put(journalKey(cc.SequenceNumber), value)
	})
}

// RemoveUpTo deletes every journaled entry strictly below smallest.
func (j *Journal) RemoveUpTo(smallest seqnum.SequenceNumber) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(j.bucket)
		c := b.Cursor()
		bound := journalKey(smallest)
		var stale [][]byte
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) < binary.BigEndian.Uint64(bound); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Replay calls fn for every journaled change in ascending sequence
// order, for rebuilding an in-memory HistoryCache after a restart.
func (j *Journal) Replay(writerGuid guid.GUID, fn func(*CacheChange)) error {
	return j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(j.bucket)
		return b.ForEach(func(k, v []byte) error {
			if len(v) < 17 {
				return fmt.Errorf("cache: journal entry too short")
			}
			cc := &CacheChange{
				Kind:           ChangeKind(v[0]),
				WriterGuid:     writerGuid,
				SequenceNumber: seqnum.SequenceNumber(binary.BigEndian.Uint64(k)),
				DataValue:      append([]byte(nil), v[17:]...),
			}
			copy(cc.InstanceHandle[:], v[1:17])
			fn(cc)
			return nil
		})
	})
}
