package securestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
)

const keyPrefix = "secure:"

// LevelDBStore persists sealed values in a LevelDB directory.
type LevelDBStore struct {
	db *leveldb.DB
	sealer
}

// OpenLevelDB opens (or creates) the secure store at path.
func OpenLevelDB(path, passphrase string) (*LevelDBStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("securestore: path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve securestore path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open securestore: %w", err)
	}
	store, err := NewLevelDBStore(db, passphrase)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewLevelDBStore wraps an already opened database.
func NewLevelDBStore(db *leveldb.DB, passphrase string) (*LevelDBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("securestore: nil database")
	}
	s, err := newSealer(passphrase)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db, sealer: s}, nil
}

// Close releases the underlying LevelDB resources.
func (s *LevelDBStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *LevelDBStore) Get(_ context.Context, key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("securestore: not configured")
	}
	sealed, err := s.db.Get([]byte(keyPrefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return s.unseal(key, sealed)
}

func (s *LevelDBStore) Put(_ context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("securestore: not configured")
	}
	sealed, err := s.seal(key, value)
	if err != nil {
		return err
	}
	if err := s.db.Put([]byte(keyPrefix+key), sealed, nil); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (s *LevelDBStore) Delete(_ context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("securestore: not configured")
	}
	if err := s.db.Delete([]byte(keyPrefix+key), nil); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
