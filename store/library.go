package store

import (
	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"github.com/xeptore/trackfetch/types"
)

func (s *Store) Has(externalID string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = nil != tx.Bucket(libraryBucketName).Get([]byte(externalID))
		return nil
	})
	if nil != err {
		return false, persistenceError("look up library", err)
	}

	return found, nil
}

func (s *Store) Add(a types.Artifact) error {
	b, err := json.Marshal(a)
	if nil != err {
		return persistenceError("encode artifact", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(libraryBucketName).Put([]byte(a.ExternalID), b)
	})
	if nil != err {
		return persistenceError("store artifact", err)
	}

	return nil
}

func (s *Store) Get(externalID string) (*types.Artifact, error) {
	var b []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(libraryBucketName).Get([]byte(externalID)); nil != v {
			b = append([]byte(nil), v...)
		}
		return nil
	})
	if nil != err {
		return nil, persistenceError("load artifact", err)
	}

	if nil == b {
		return nil, nil
	}

	var a types.Artifact
	if err := json.Unmarshal(b, &a); nil != err {
		return nil, persistenceError("decode artifact", err)
	}

	return &a, nil
}

func (s *Store) Remove(externalID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(libraryBucketName).Delete([]byte(externalID))
	})
	if nil != err {
		return persistenceError("remove artifact", err)
	}

	return nil
}

// Artifacts returns every library record ordered by external id.
func (s *Store) Artifacts() ([]types.Artifact, error) {
	var out []types.Artifact
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(libraryBucketName).ForEach(func(_, v []byte) error {
			var a types.Artifact
			if err := json.Unmarshal(v, &a); nil != err {
				return err
			}
			out = append(out, a)
			return nil
		})
	})
	if nil != err {
		return nil, persistenceError("list artifacts", err)
	}

	return out, nil
}

func (s *Store) PutCollection(c types.Collection) error {
	b, err := json.Marshal(c)
	if nil != err {
		return persistenceError("encode collection", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(collectionBucketName).Put([]byte(c.ID), b)
	})
	if nil != err {
		return persistenceError("store collection", err)
	}

	return nil
}

func (s *Store) Collections() ([]types.Collection, error) {
	var out []types.Collection
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(collectionBucketName).ForEach(func(_, v []byte) error {
			var c types.Collection
			if err := json.Unmarshal(v, &c); nil != err {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if nil != err {
		return nil, persistenceError("list collections", err)
	}

	return out, nil
}
