package dkimkey

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/relaykeys/internal/fault"
)

var (
	bucketKeys  = []byte("dkim_keys")
	bucketPairs = []byte("dkim_pairs")
)

// pairKey is the uniqueness index key: (account, domain, selector).
func pairKey(accountID, domain, selector string) []byte {
	return []byte(accountID + "/" + domain + "/" + selector)
}

// Storage persists DKIM key pairs in BoltDB. The pairs bucket indexes
// (account, domain, selector) so concurrent creates racing for the same
// pair produce exactly one winner.
type Storage struct {
	db *bolt.DB
}

// NewStorage creates the DKIM buckets if needed.
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketKeys, bucketPairs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

// Create stores a new key pair, failing with Conflict when the
// (domain, selector) pair already exists for the account.
func (s *Storage) Create(ctx context.Context, k *KeyPair) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pairs := tx.Bucket(bucketPairs)
		idx := pairKey(k.AccountID, k.Domain, k.Selector)
		if pairs.Get(idx) != nil {
			return fault.Newf(fault.Conflict, "key pair for %s with selector %q already exists", k.Domain, k.Selector)
		}

		data, err := json.Marshal(k)
		if err != nil {
			return fault.Wrap(fault.Internal, err, "failed to marshal key pair")
		}
		if err := tx.Bucket(bucketKeys).Put([]byte(k.ID), data); err != nil {
			return fault.Wrap(fault.Internal, err, "failed to store key pair")
		}
		return pairs.Put(idx, []byte(k.ID))
	})
}

// Get returns a key pair owned by the account.
func (s *Storage) Get(ctx context.Context, accountID, id string) (*KeyPair, error) {
	var key *KeyPair

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketKeys).Get([]byte(id))
		if data == nil {
			return nil
		}
		var k KeyPair
		if err := json.Unmarshal(data, &k); err != nil {
			return fault.Wrap(fault.Internal, err, "failed to unmarshal key pair")
		}
		if k.AccountID == accountID {
			key = &k
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fault.New(fault.NotFound, "key pair not found")
	}
	return key, nil
}

// List returns all key pairs owned by the account.
func (s *Storage) List(ctx context.Context, accountID string) ([]*KeyPair, error) {
	var keys []*KeyPair

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketKeys).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var key KeyPair
			if err := json.Unmarshal(v, &key); err != nil {
				continue
			}
			if key.AccountID == accountID {
				keys = append(keys, &key)
			}
		}
		return nil
	})

	return keys, err
}

// ListByDomain returns the account's key pairs for a single domain.
func (s *Storage) ListByDomain(ctx context.Context, accountID, domain string) ([]*KeyPair, error) {
	keys, err := s.List(ctx, accountID)
	if err != nil {
		return nil, err
	}
	filtered := keys[:0]
	for _, k := range keys {
		if k.Domain == domain {
			filtered = append(filtered, k)
		}
	}
	return filtered, nil
}

// All returns every stored key pair. Used by the expire sweep, which
// spans accounts.
func (s *Storage) All(ctx context.Context) ([]*KeyPair, error) {
	var keys []*KeyPair

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketKeys).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var key KeyPair
			if err := json.Unmarshal(v, &key); err != nil {
				continue
			}
			keys = append(keys, &key)
		}
		return nil
	})

	return keys, err
}

// Update commits a mutated key pair if the stored version still matches
// expectedVersion. A selector change moves the uniqueness index entry
// inside the same transaction, failing with Conflict if the target pair
// is taken.
func (s *Storage) Update(ctx context.Context, k *KeyPair, expectedVersion int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketKeys)
		data := bucket.Get([]byte(k.ID))
		if data == nil {
			return fault.New(fault.NotFound, "key pair not found")
		}

		var current KeyPair
		if err := json.Unmarshal(data, &current); err != nil {
			return fault.Wrap(fault.Internal, err, "failed to unmarshal key pair")
		}
		if current.Version != expectedVersion {
			return fault.New(fault.Conflict, "key pair changed concurrently")
		}

		oldIdx := pairKey(current.AccountID, current.Domain, current.Selector)
		newIdx := pairKey(k.AccountID, k.Domain, k.Selector)
		if string(oldIdx) != string(newIdx) {
			pairs := tx.Bucket(bucketPairs)
			if pairs.Get(newIdx) != nil {
				return fault.Newf(fault.Conflict, "key pair for %s with selector %q already exists", k.Domain, k.Selector)
			}
			if err := pairs.Delete(oldIdx); err != nil {
				return err
			}
			if err := pairs.Put(newIdx, []byte(k.ID)); err != nil {
				return err
			}
		}

		k.Version = expectedVersion + 1
		updated, err := json.Marshal(k)
		if err != nil {
			return fault.Wrap(fault.Internal, err, "failed to marshal key pair")
		}
		return bucket.Put([]byte(k.ID), updated)
	})
}

// Delete removes a key pair and its pair index entry. The active+verified
// confirmation check runs inside the write transaction so a verification
// landing between read and delete cannot bypass it.
func (s *Storage) Delete(ctx context.Context, accountID, id string, confirm bool) (*KeyPair, error) {
	var deleted *KeyPair

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketKeys)
		data := bucket.Get([]byte(id))
		if data == nil {
			return fault.New(fault.NotFound, "key pair not found")
		}

		var k KeyPair
		if err := json.Unmarshal(data, &k); err != nil {
			return fault.Wrap(fault.Internal, err, "failed to unmarshal key pair")
		}
		if k.AccountID != accountID {
			return fault.New(fault.NotFound, "key pair not found")
		}
		if k.Status == StatusActive && k.DNSVerified && !confirm {
			return fault.New(fault.PreconditionFailed, "key is active and verified, deletion requires confirmation")
		}

		if err := tx.Bucket(bucketPairs).Delete(pairKey(k.AccountID, k.Domain, k.Selector)); err != nil {
			return err
		}
		if err := bucket.Delete([]byte(id)); err != nil {
			return err
		}
		deleted = &k
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
