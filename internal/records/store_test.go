package records

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadger(t.TempDir(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutGetDelete(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("ns", "key", []byte("value")))

	got, err := store.Get("ns", "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, store.Delete("ns", "key"))

	_, err = store.Get("ns", "key")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetMissingKey(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get("ns", "absent")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNamespaceIsolation(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("a", "key", []byte("in-a")))
	require.NoError(t, store.Put("b", "key", []byte("in-b")))

	got, err := store.Get("a", "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("in-a"), got)

	var seen []string
	require.NoError(t, store.ForEach("a", func(key, value []byte) error {
		seen = append(seen, string(key)+"="+string(value))
		return nil
	}))
	assert.Equal(t, []string{"key=in-a"}, seen)
}

func TestForEachOrderedByKey(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("ns", "02", []byte("b")))
	require.NoError(t, store.Put("ns", "01", []byte("a")))
	require.NoError(t, store.Put("ns", "03", []byte("c")))

	var keys []string
	require.NoError(t, store.ForEach("ns", func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	}))
	assert.Equal(t, []string{"01", "02", "03"}, keys)
}

func TestValidationErrors(t *testing.T) {
	store := openTestStore(t)

	assert.Error(t, store.Put("", "key", nil))
	assert.Error(t, store.Put("ns", "", nil))
	_, err := store.Get("", "key")
	assert.Error(t, err)
	assert.Error(t, store.Delete("ns", ""))
	assert.Error(t, store.ForEach("", func(_, _ []byte) error { return nil }))
}

func TestOpenBadgerEncrypted(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	store, err := OpenBadger(t.TempDir(), base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Put("ns", "key", []byte("secret")))
	got, err := store.Get("ns", "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)
}

func TestOpenBadgerBadKey(t *testing.T) {
	_, err := OpenBadger(t.TempDir(), "!!!")
	require.Error(t, err)

	_, err = OpenBadger(t.TempDir(), base64.StdEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestOpenBadgerEmptyPath(t *testing.T) {
	_, err := OpenBadger("", "")
	require.Error(t, err)
}
