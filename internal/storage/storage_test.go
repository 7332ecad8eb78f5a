package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()

	_, found, err := s.Get(KeyAuthToken)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(KeyAuthToken, "tok-1"))
	require.NoError(t, s.Set(KeyAuthToken, "tok-2"))
	require.NoError(t, s.Set(KeyRefreshToken, "refresh"))

	value, found, err := s.Get(KeyAuthToken)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok-2", value)

	require.NoError(t, s.Remove(KeyAuthToken, KeyRefreshToken, "never-set"))

	_, found, err = s.Get(KeyRefreshToken)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	exerciseStorage(t, s)
	assert.Empty(t, s.Keys())
}

func TestSQLiteStorage(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	defer s.Close()

	exerciseStorage(t, s)
}

func TestSQLiteStorageSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeySession, `{"token":"abc"}`))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, found, err := reopened.Get(KeySession)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"token":"abc"}`, value)
}

func TestSQLiteStorageClosed(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = s.Get(KeyAuthToken)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set(KeyAuthToken, "x"), ErrClosed)
}
