package db

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func testKVStore(t *testing.T, s KVStore) {
	defer func() { require.NoError(t, s.Close()) }()

	_, err := s.Get([]byte("nope"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Put([]byte("a:1"), []byte("one")))
	require.NoError(t, s.Put([]byte("a:2"), []byte("two")))
	require.NoError(t, s.Put([]byte("b:1"), []byte("other")))

	v, err := s.Get([]byte("a:1"))
	require.NoError(t, err)
	require.Equal(t, "one", string(v))

	var keys []string
	err = s.IteratePrefix([]byte("a:"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a:1", "a:2"}, keys)

	require.NoError(t, s.Delete([]byte("a:1")))
	_, err = s.Get([]byte("a:1"))
	require.True(t, errors.Is(err, ErrNotFound))

	stop := fmt.Errorf("stop")
	err = s.IteratePrefix([]byte("b:"), func(key, value []byte) error {
		return stop
	})
	require.Equal(t, stop, err)
}

func TestLevelDB(t *testing.T) {
	s, err := NewMemLevelDB()
	require.NoError(t, err)
	testKVStore(t, s)
}

func TestLevelDBFile(t *testing.T) {
	s, err := Open(EngineLevelDB, t.TempDir())
	require.NoError(t, err)
	testKVStore(t, s)
}

func TestPebbleDB(t *testing.T) {
	s, err := Open(EnginePebble, t.TempDir())
	require.NoError(t, err)
	testKVStore(t, s)
}

func TestBadgerDB(t *testing.T) {
	s, err := NewMemBadgerDB()
	require.NoError(t, err)
	testKVStore(t, s)
}

func TestOpenUnknownEngine(t *testing.T) {
	_, err := Open("rocks", t.TempDir())
	require.Error(t, err)
	require.False(t, IsSupportedEngine("rocks"))
	require.True(t, IsSupportedEngine(EngineBadger))
}

func TestPrefixUpperBound(t *testing.T) {
	require.Equal(t, []byte("b"), prefixUpperBound([]byte("a")))
	require.Equal(t, []byte{0x01}, prefixUpperBound([]byte{0x00, 0xff}))
	require.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
