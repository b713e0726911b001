package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"go.etcd.io/bbolt"
)

var (
	queueBucketName      = []byte("queue")
	snapshotKeyName      = []byte("snapshot")
	libraryBucketName    = []byte("library")
	collectionBucketName = []byte("collections")
)

var (
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrLocked            = errors.New("data directory is used by another process")
)

// Store owns the database file. An exclusive lock next to it keeps a second
// process from running the same queue.
type Store struct {
	db   *bbolt.DB
	lock *flock.Flock
}

func Open(path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if nil != err {
		return nil, fmt.Errorf("failed to acquire database lock: %v", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	opts := &bbolt.Options{ //nolint:exhaustruct
		NoFreelistSync: true,
		ReadOnly:       false,
		Timeout:        1 * time.Second,
		NoGrowSync:     false,
		FreelistType:   bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if nil != err {
		return nil, errors.Join(fmt.Errorf("failed to open database: %v", err), unlock(lock))
	}

	if err := createBuckets(db); nil != err {
		return nil, errors.Join(err, db.Close(), unlock(lock))
	}

	return &Store{db: db, lock: lock}, nil
}

func createBuckets(db *bbolt.DB) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{queueBucketName, libraryBucketName, collectionBucketName} {
			if _, err := tx.CreateBucketIfNotExists(name); nil != err {
				return fmt.Errorf("failed to create %s bucket: %v", name, err)
			}
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to create buckets: %v", err)
	}

	return nil
}

func (s *Store) Close() error {
	var errs []error
	if err := s.db.Close(); nil != err {
		errs = append(errs, fmt.Errorf("failed to close database: %v", err))
	}
	if err := unlock(s.lock); nil != err {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func unlock(lock *flock.Flock) error {
	if err := lock.Unlock(); nil != err {
		return fmt.Errorf("failed to release database lock: %v", err)
	}

	return nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %v", ErrPersistenceFailed, op, err)
}
