package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/relaykeys/internal/fault"
)

var (
	bucketCredentials = []byte("credentials")
	bucketUsernames   = []byte("credential_usernames")
)

// ErrUsernameTaken signals a username index collision. The registry
// retries generation when it sees this error.
var ErrUsernameTaken = errors.New("username already taken")

// Storage persists credentials in BoltDB. Usernames are kept in a
// separate index bucket to enforce global uniqueness inside the same
// write transaction that commits the entity.
type Storage struct {
	db *bolt.DB
}

// NewStorage creates the credential buckets if needed.
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCredentials, bucketUsernames} {
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

// Create stores a new credential. Exactly one of two concurrent creates
// racing for the same username wins; the loser gets ErrUsernameTaken.
func (s *Storage) Create(ctx context.Context, c *Credential) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		usernames := tx.Bucket(bucketUsernames)
		if usernames.Get([]byte(c.Username)) != nil {
			return fault.Wrap(fault.Conflict, ErrUsernameTaken, "username "+c.Username)
		}

		data, err := json.Marshal(c)
		if err != nil {
			return fault.Wrap(fault.Internal, err, "failed to marshal credential")
		}
		if err := tx.Bucket(bucketCredentials).Put([]byte(c.ID), data); err != nil {
			return fault.Wrap(fault.Internal, err, "failed to store credential")
		}
		return usernames.Put([]byte(c.Username), []byte(c.ID))
	})
}

// Get returns a credential owned by the account.
func (s *Storage) Get(ctx context.Context, accountID, id string) (*Credential, error) {
	var c *Credential

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get([]byte(id))
		if data == nil {
			return nil
		}
		var cred Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			return fault.Wrap(fault.Internal, err, "failed to unmarshal credential")
		}
		if cred.AccountID == accountID {
			c = &cred
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fault.New(fault.NotFound, "credential not found")
	}
	return c, nil
}

// GetByUsername returns a credential by its globally unique username.
func (s *Storage) GetByUsername(ctx context.Context, username string) (*Credential, error) {
	var c *Credential

	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketUsernames).Get([]byte(username))
		if id == nil {
			return nil
		}
		data := tx.Bucket(bucketCredentials).Get(id)
		if data == nil {
			return nil
		}
		var cred Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			return fault.Wrap(fault.Internal, err, "failed to unmarshal credential")
		}
		c = &cred
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fault.New(fault.NotFound, "credential not found")
	}
	return c, nil
}

// List returns all credentials owned by the account.
func (s *Storage) List(ctx context.Context, accountID string) ([]*Credential, error) {
	var creds []*Credential

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCredentials).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var cred Credential
			if err := json.Unmarshal(v, &cred); err != nil {
				continue
			}
			if cred.AccountID == accountID {
				creds = append(creds, &cred)
			}
		}
		return nil
	})

	return creds, err
}

// Count returns the number of credentials owned by the account.
func (s *Storage) Count(ctx context.Context, accountID string) (int, error) {
	creds, err := s.List(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return len(creds), nil
}

// Update commits a mutated credential if the stored version still
// matches expectedVersion. A mismatch means another writer got there
// first and the caller must re-read and retry.
func (s *Storage) Update(ctx context.Context, c *Credential, expectedVersion int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCredentials)
		data := bucket.Get([]byte(c.ID))
		if data == nil {
			return fault.New(fault.NotFound, "credential not found")
		}

		var current Credential
		if err := json.Unmarshal(data, &current); err != nil {
			return fault.Wrap(fault.Internal, err, "failed to unmarshal credential")
		}
		if current.Version != expectedVersion {
			return fault.New(fault.Conflict, "credential changed concurrently")
		}

		c.Version = expectedVersion + 1
		updated, err := json.Marshal(c)
		if err != nil {
			return fault.Wrap(fault.Internal, err, "failed to marshal credential")
		}
		return bucket.Put([]byte(c.ID), updated)
	})
}

// Delete removes a credential and its username index entry.
func (s *Storage) Delete(ctx context.Context, accountID, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCredentials)
		data := bucket.Get([]byte(id))
		if data == nil {
			return fault.New(fault.NotFound, "credential not found")
		}

		var cred Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			return fault.Wrap(fault.Internal, err, "failed to unmarshal credential")
		}
		if cred.AccountID != accountID {
			return fault.New(fault.NotFound, "credential not found")
		}

		if err := tx.Bucket(bucketUsernames).Delete([]byte(cred.Username)); err != nil {
			return err
		}
		return bucket.Delete([]byte(id))
	})
}
