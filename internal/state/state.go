// Package state persists handle-bound credentials and sessions in a bbolt
// file so they survive restarts. Only sealed blobs and session records are
// written; keys are stored as SHA-256 digests so raw handles and session
// ids never reach disk.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

// Bucket names.
const (
	HandlesBucket  = "handles"
	SessionsBucket = "sessions"
)

// keyHash returns the SHA-256 hex digest of a key.
func keyHash(key string) []byte {
	h := sha256.Sum256([]byte(key))
	dst := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(dst, h[:])

	return dst
}

// record is the on-disk form of a bucket entry.
type record struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// State wraps a bbolt database.
type State struct {
	db *bolt.DB
}

// LoadAt opens the state database at path, creating it and the handle and
// session buckets if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(HandlesBucket)); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists([]byte(SessionsBucket))

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Bucket returns a kv.Store view over the named bucket. The bucket is
// created on first write if LoadAt did not create it.
func (s *State) Bucket(name string) *Bucket {
	return &Bucket{db: s.db, name: []byte(name)}
}

// Bucket is an expiring key-value store backed by one bbolt bucket.
type Bucket struct {
	db   *bolt.DB
	name []byte
}

// Put stores value under key until expiresAt.
func (b *Bucket) Put(key string, value []byte, expiresAt time.Time) error {
	data, err := json.Marshal(record{Value: value, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(b.name)
		if err != nil {
			return err
		}

		return bk.Put(keyHash(key), data)
	})
}

// Get returns the value for key if present and unexpired. Expired records
// are deleted on read.
func (b *Bucket) Get(key string) ([]byte, error) {
	return b.read(key, false)
}

// Take returns and deletes the value for key in one transaction.
func (b *Bucket) Take(key string) ([]byte, error) {
	return b.read(key, true)
}

func (b *Bucket) read(key string, consume bool) ([]byte, error) {
	var value []byte

	// Returning an error from Update rolls back, so misses are reported
	// through value staying nil and the expired-record delete still commits.
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.name)
		if bk == nil {
			return nil
		}

		k := keyHash(key)

		raw := bk.Get(k)
		if raw == nil {
			return nil
		}

		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil || !time.Now().Before(rec.ExpiresAt) {
			return bk.Delete(k)
		}

		// Non-nil even for an empty value.
		value = append([]byte{}, rec.Value...)

		if consume {
			return bk.Delete(k)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.name, err)
	}

	if value == nil {
		return nil, apperrors.ErrNotFound
	}

	return value, nil
}

// Delete removes key.
func (b *Bucket) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.name)
		if bk == nil {
			return nil
		}

		return bk.Delete(keyHash(key))
	})
}

// Sweep removes records whose expiry is not after now.
func (b *Bucket) Sweep(now time.Time) (int, error) {
	removed := 0

	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.name)
		if bk == nil {
			return nil
		}

		var expired [][]byte

		err := bk.ForEach(func(k, v []byte) error {
			var rec record
			if json.Unmarshal(v, &rec) != nil || !now.Before(rec.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := bk.Delete(k); err != nil {
				return err
			}
		}

		removed = len(expired)

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweeping %s: %w", b.name, err)
	}

	return removed, nil
}

// Len returns the number of records in the bucket.
func (b *Bucket) Len() int {
	n := 0

	_ = b.db.View(func(tx *bolt.Tx) error {
		if bk := tx.Bucket(b.name); bk != nil {
			n = bk.Stats().KeyN
		}

		return nil
	})

	return n
}
