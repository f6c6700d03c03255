package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

const assetBucket = "assets"

// BoltBackend keeps the catalog in a single bbolt file.
type BoltBackend struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt catalog: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(assetBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

func (b *BoltBackend) Scan(after string, limit int) ([]Record, error) {
	ret := make([]Record, 0, limit)
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(assetBucket)).Cursor()

		var k, v []byte
		if after == "" {
			k, v = c.First()
		} else {
			k, v = c.Seek([]byte(after))
			if k != nil && string(k) == after {
				k, v = c.Next()
			}
		}
		for ; k != nil && len(ret) < limit; k, v = c.Next() {
			r, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("record %q: %w", k, err)
			}
			ret = append(ret, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (b *BoltBackend) Put(records []Record) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(assetBucket))
		for _, r := range records {
			data, err := encodeRecord(r)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(r.ID), data); err != nil {
				return fmt.Errorf("failed to put %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

func (b *BoltBackend) Delete(id string) (bool, error) {
	var existed bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(assetBucket))
		if bucket.Get([]byte(id)) == nil {
			return nil
		}
		existed = true
		return bucket.Delete([]byte(id))
	})
	return existed, err
}

func (b *BoltBackend) ForEach(fn func(id string) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(assetBucket)).ForEach(func(k, _ []byte) error {
			return fn(string(k))
		})
	})
}

func (b *BoltBackend) Count() (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(assetBucket)).Stats().KeyN
		return nil
	})
	return n, err
}
