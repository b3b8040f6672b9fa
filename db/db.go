package db

import (
	"github.com/pkg/errors"
)

const (
	EngineLevelDB = "leveldb"
	EnginePebble  = "pebble"
	EngineBadger  = "badger"
)

// ErrNotFound is returned by Get when the key is absent, whatever the engine
var ErrNotFound = errors.New("key not found")

// KVStore is the minimal key-value contract the repository needs from a storage engine
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// IteratePrefix calls fn for every key starting with prefix, in key order.
	// Key and value are only valid during the call.
	IteratePrefix(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Open opens (or creates) a store of the given engine at path
func Open(engine, path string) (KVStore, error) {
	switch engine {
	case EngineLevelDB, "":
		return NewLevelDB(path)
	case EnginePebble:
		return NewPebbleDB(path)
	case EngineBadger:
		return NewBadgerDB(path)
	default:
		return nil, errors.Errorf("unknown storage engine %q", engine)
	}
}

// IsSupportedEngine is used by config validation
func IsSupportedEngine(engine string) bool {
	switch engine {
	case EngineLevelDB, EnginePebble, EngineBadger:
		return true
	}
	return false
}
