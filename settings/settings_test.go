package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := bbolt.Open(filepath.Join(dir, "settings.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	s, err := Open(db)
	require.NoError(t, err)

	require.NoError(t, s.Put("app_name", "pullsched"))
	val, ok, err := s.Get("app_name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"pullsched"`, string(val))
}

func TestGetMissingKey(t *testing.T) {
	db := openTestDB(t)
	s, err := Open(db)
	require.NoError(t, err)

	_, ok, err := s.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteRemovesKey(t *testing.T) {
	db := openTestDB(t)
	s, err := Open(db)
	require.NoError(t, err)

	require.NoError(t, s.Put("maintenance", true))
	require.NoError(t, s.Delete("maintenance"))
	_, ok, err := s.Get("maintenance")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllReturnsEveryKey(t *testing.T) {
	db := openTestDB(t)
	s, err := Open(db)
	require.NoError(t, err)

	require.NoError(t, s.Put("a", 1))
	require.NoError(t, s.Put("b", 2))
	all, err := s.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
