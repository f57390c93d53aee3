package leasestore

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/cuemby/agentctl/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketLeases = []byte("leases")
	bucketLocks  = []byte("locks")
)

// BoltStore is the embedded, single-writer implementation of Store. bbolt's
// single-writer transaction serializes every Acquire/Release/Extend, which
// is what makes the compare-and-set/compare-and-delete semantics atomic
// without any extra locking of our own.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the lease database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "leases.db"), 0600, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, err, "open lease database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLeases); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketLocks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) AcquireLease(runID, nodeID string, ttlSeconds int) (bool, error) {
	if runID == "" || nodeID == "" {
		return false, apierrors.Validation("runId and nodeId are required")
	}
	if ttlSeconds <= 0 {
		return false, apierrors.Validation("ttlSeconds must be positive")
	}

	now := time.Now()
	acquired := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		existing, err := readLease(b, runID)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Expired(now) {
			return nil
		}
		lease := &types.Lease{RunID: runID, NodeID: nodeID, ExpiresAt: now.Add(time.Duration(ttlSeconds) * time.Second)}
		if err := putLease(b, lease); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

func (s *BoltStore) GetLease(runID string) (*types.Lease, error) {
	var lease *types.Lease
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		l, err := readLease(b, runID)
		if err != nil {
			return err
		}
		if l != nil && !l.Expired(time.Now()) {
			lease = l
		}
		return nil
	})
	return lease, err
}

func (s *BoltStore) ExtendLease(runID, nodeID string, additionalSeconds int) (bool, error) {
	if additionalSeconds <= 0 {
		return false, apierrors.Validation("additionalSeconds must be positive")
	}
	extended := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		existing, err := readLease(b, runID)
		if err != nil {
			return err
		}
		if existing == nil || existing.Expired(time.Now()) || existing.NodeID != nodeID {
			return nil
		}
		existing.ExpiresAt = existing.ExpiresAt.Add(time.Duration(additionalSeconds) * time.Second)
		if err := putLease(b, existing); err != nil {
			return err
		}
		extended = true
		return nil
	})
	return extended, err
}

func (s *BoltStore) ReleaseLease(runID, nodeID string) (bool, error) {
	released := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		existing, err := readLease(b, runID)
		if err != nil {
			return err
		}
		if existing == nil || existing.NodeID != nodeID {
			return nil
		}
		released = true
		return b.Delete([]byte(runID))
	})
	return released, err
}

func (s *BoltStore) AdminReleaseLease(runID string) (bool, error) {
	released := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		if b.Get([]byte(runID)) == nil {
			return nil
		}
		released = true
		return b.Delete([]byte(runID))
	})
	return released, err
}

func readLease(b *bolt.Bucket, runID string) (*types.Lease, error) {
	data := b.Get([]byte(runID))
	if data == nil {
		return nil, nil
	}
	var l types.Lease
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func putLease(b *bolt.Bucket, l *types.Lease) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return b.Put([]byte(l.RunID), data)
}

// --- Generic locks ---

func (s *BoltStore) AcquireLock(key, ownerID string, ttlSeconds int) (bool, error) {
	if key == "" || ownerID == "" {
		return false, apierrors.Validation("key and ownerId are required")
	}
	if ttlSeconds <= 0 {
		return false, apierrors.Validation("ttlSeconds must be positive")
	}

	now := time.Now()
	acquired := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		existing, err := readLock(b, key)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Expired(now) {
			return nil
		}
		lock := &types.Lock{Key: key, OwnerID: ownerID, ExpiresAt: now.Add(time.Duration(ttlSeconds) * time.Second)}
		if err := putLock(b, lock); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

func (s *BoltStore) ReleaseLock(key, ownerID string) (bool, error) {
	released := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		existing, err := readLock(b, key)
		if err != nil {
			return err
		}
		if existing == nil || existing.OwnerID != ownerID {
			return nil
		}
		released = true
		return b.Delete([]byte(key))
	})
	return released, err
}

func (s *BoltStore) ExtendLock(key, ownerID string, additionalSeconds int) (bool, error) {
	if additionalSeconds <= 0 {
		return false, apierrors.Validation("additionalSeconds must be positive")
	}
	extended := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		existing, err := readLock(b, key)
		if err != nil {
			return err
		}
		if existing == nil || existing.Expired(time.Now()) || existing.OwnerID != ownerID {
			return nil
		}
		existing.ExpiresAt = existing.ExpiresAt.Add(time.Duration(additionalSeconds) * time.Second)
		if err := putLock(b, existing); err != nil {
			return err
		}
		extended = true
		return nil
	})
	return extended, err
}

func (s *BoltStore) IsLocked(key string) (bool, error) {
	locked := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		existing, err := readLock(b, key)
		if err != nil {
			return err
		}
		locked = existing != nil && !existing.Expired(time.Now())
		return nil
	})
	return locked, err
}

func readLock(b *bolt.Bucket, key string) (*types.Lock, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return nil, nil
	}
	var l types.Lock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func putLock(b *bolt.Bucket, l *types.Lock) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return b.Put([]byte(l.Key), data)
}
