package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketApplied = "applied"
	bucketMeta    = "meta"

	metaKeyDirectory = "directory"
)

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/relayctl.db.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "relayctl.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketApplied, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

// ---- Applied rule set ------------------------------------------------------

func (s *bboltStore) AppliedPut(addr string, entry AppliedEntry) error {
	data, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal AppliedEntry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketApplied)).Put([]byte(addr), data)
	})
}

func (s *bboltStore) AppliedDelete(addr string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketApplied)).Delete([]byte(addr))
	})
}

func (s *bboltStore) AppliedList() (map[string]AppliedEntry, error) {
	result := make(map[string]AppliedEntry)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketApplied)).ForEach(func(k, v []byte) error {
			var entry AppliedEntry
			if err := msgpack.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal AppliedEntry for %s: %w", k, err)
			}
			result[string(k)] = entry
			return nil
		})
	})
	return result, err
}

// ---- Directory metadata ----------------------------------------------------

func (s *bboltStore) DirectoryMeta() (*DirectoryMeta, error) {
	var meta DirectoryMeta
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketMeta)).Get([]byte(metaKeyDirectory))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &meta)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &meta, nil
}

func (s *bboltStore) SetDirectoryMeta(meta DirectoryMeta) error {
	data, err := msgpack.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal DirectoryMeta: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte(metaKeyDirectory), data)
	})
}

// ---- Utility ---------------------------------------------------------------

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
