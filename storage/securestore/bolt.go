package securestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSecure = []byte("secure")

// BoltStore persists sealed values in a single BoltDB file. It suits devices
// where one file is easier to back up or wipe than a LevelDB directory.
type BoltStore struct {
	db *bolt.DB
	sealer
}

// OpenBolt opens (or creates) the secure store file at path.
func OpenBolt(path, passphrase string, options *bolt.Options) (*BoltStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("securestore: path required")
	}
	s, err := newSealer(passphrase)
	if err != nil {
		return nil, err
	}
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o700); err != nil {
		return nil, fmt.Errorf("create securestore directory: %w", err)
	}
	db, err := bolt.Open(trimmed, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open securestore: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSecure)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate securestore: %w", err)
	}
	return &BoltStore{db: db, sealer: s}, nil
}

// Close releases the Bolt file lock.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var sealed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSecure).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		sealed = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.unseal(key, sealed)
}

func (s *BoltStore) Put(_ context.Context, key string, value []byte) error {
	sealed, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSecure).Put([]byte(key), sealed); err != nil {
			return fmt.Errorf("store %s: %w", key, err)
		}
		return nil
	})
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecure).Delete([]byte(key))
	})
}
