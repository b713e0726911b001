package store

import (
	"fmt"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"github.com/xeptore/trackfetch/types"
)

const SnapshotVersion = 1

type Snapshot struct {
	Version int                `json:"version"`
	Entries []types.QueueEntry `json:"entries"`
}

// SaveSnapshot replaces the persisted queue in one transaction. Done entries
// are never persisted.
func (s *Store) SaveSnapshot(entries []types.QueueEntry) error {
	snap := Snapshot{Version: SnapshotVersion, Entries: make([]types.QueueEntry, 0, len(entries))}
	for _, e := range entries {
		if e.Status == types.StatusDone {
			continue
		}
		snap.Entries = append(snap.Entries, e)
	}

	b, err := json.Marshal(snap)
	if nil != err {
		return persistenceError("encode queue snapshot", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(queueBucketName).Put(snapshotKeyName, b)
	})
	if nil != err {
		return persistenceError("store queue snapshot", err)
	}

	return nil
}

// LoadSnapshot returns the persisted entries with done entries dropped. A
// missing snapshot yields an empty queue.
func (s *Store) LoadSnapshot() ([]types.QueueEntry, error) {
	var b []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(queueBucketName).Get(snapshotKeyName); nil != v {
			b = append([]byte(nil), v...)
		}
		return nil
	})
	if nil != err {
		return nil, persistenceError("load queue snapshot", err)
	}

	if len(b) == 0 {
		return nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); nil != err {
		return nil, persistenceError("decode queue snapshot", err)
	}

	if snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d is newer than supported %d", ErrPersistenceFailed, snap.Version, SnapshotVersion)
	}

	out := make([]types.QueueEntry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if e.Status == types.StatusDone {
			continue
		}
		out = append(out, e)
	}

	return out, nil
}
