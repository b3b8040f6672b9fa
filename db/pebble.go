package db

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// PebbleDB is a KVStore backed by Pebble. Writes are synced, the tangle itself
// gives no durability guarantees on top of that.
type PebbleDB struct {
	db *pebble.DB
}

func NewPebbleDB(path string) (*PebbleDB, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(32 << 20), // 32 MB cache
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 2,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", path)
	}
	return &PebbleDB{db: db}, nil
}

// Get copies the value since it is invalid after closer.Close()
func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	value, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	ret := make([]byte, len(value))
	copy(ret, value)
	return ret, nil
}

func (p *PebbleDB) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleDB) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleDB) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err = fn(iter.Key(), value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *PebbleDB) Close() error {
	return p.db.Close()
}

// prefixUpperBound returns the smallest key greater than every key with the prefix,
// nil when there is none
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
