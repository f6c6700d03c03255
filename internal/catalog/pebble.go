package catalog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

const assetPrefix = "asset:"

// PebbleBackend keeps the catalog in a pebble LSM directory. Keys are
// assetPrefix + id; ids are UTF-8 so 0xff bounds the key range.
//
// Pebble has no cheap key count, so the number of assets is counted once
// at open and kept current by Put and Delete.
type PebbleBackend struct {
	db *pebble.DB

	// mu serializes writes so count matches the key range.
	mu    sync.Mutex
	count int
}

func OpenPebble(path string) (*PebbleBackend, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble catalog: %w", err)
	}
	p := &PebbleBackend{db: db}
	err = p.ForEach(func(string) error {
		p.count++
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to count pebble catalog: %w", err)
	}
	return p, nil
}

func (p *PebbleBackend) Close() error {
	return p.db.Close()
}

func (p *PebbleBackend) key(id string) []byte {
	return []byte(assetPrefix + id)
}

func (p *PebbleBackend) iter(after string) (*pebble.Iterator, error) {
	lower := []byte(assetPrefix)
	if after != "" {
		// smallest key strictly greater than after
		lower = append(p.key(after), 0x00)
	}
	return p.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: []byte(assetPrefix + "\xff"),
	})
}

func (p *PebbleBackend) Scan(after string, limit int) ([]Record, error) {
	iter, err := p.iter(after)
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	ret := make([]Record, 0, limit)
	for iter.First(); iter.Valid() && len(ret) < limit; iter.Next() {
		r, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", iter.Key(), err)
		}
		ret = append(ret, r)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return ret, nil
}

func (p *PebbleBackend) Put(records []Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := p.db.NewBatch()
	defer batch.Close()

	added := make(map[string]struct{})
	for _, r := range records {
		data, err := encodeRecord(r)
		if err != nil {
			return err
		}
		if _, dup := added[r.ID]; !dup {
			exists, err := p.has(r.ID)
			if err != nil {
				return fmt.Errorf("failed to look up %s: %w", r.ID, err)
			}
			if !exists {
				added[r.ID] = struct{}{}
			}
		}
		if err := batch.Set(p.key(r.ID), data, pebble.NoSync); err != nil {
			return fmt.Errorf("failed to set %s: %w", r.ID, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	p.count += len(added)
	return nil
}

func (p *PebbleBackend) has(id string) (bool, error) {
	_, closer, err := p.db.Get(p.key(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func (p *PebbleBackend) Delete(id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	exists, err := p.has(id)
	if err != nil || !exists {
		return false, err
	}
	if err := p.db.Delete(p.key(id), pebble.Sync); err != nil {
		return false, err
	}
	p.count--
	return true, nil
}

func (p *PebbleBackend) ForEach(fn func(id string) error) error {
	iter, err := p.iter("")
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(string(iter.Key()[len(assetPrefix):])); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *PebbleBackend) Count() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count, nil
}
