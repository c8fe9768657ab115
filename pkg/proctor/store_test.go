package proctor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"))

	_, err := store.Get()
	assert.ErrorIs(t, err, ErrNoSession)

	sess := &Session{
		Token:           "exam-token",
		UserID:          1001,
		TestStudentID:   7,
		TestID:          uuid.New(),
		TestResponseID:  uuid.New(),
		StudentName:     "Alice",
		TestDuration:    30 * time.Minute,
		StartedAt:       time.Now().UTC().Truncate(time.Second),
		ServerClockSkew: 90 * time.Second,
	}
	require.NoError(t, store.Set(sess))

	got, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	require.NoError(t, store.Clear())
	_, err = store.Get()
	assert.ErrorIs(t, err, ErrNoSession)

	// Clearing an already-empty store is fine.
	assert.NoError(t, store.Clear())
}

func TestMemoryStoreCopies(t *testing.T) {
	store := NewMemoryStore()
	sess := &Session{Token: "a"}
	require.NoError(t, store.Set(sess))

	sess.Token = "mutated"
	got, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, "a", got.Token, "store keeps its own copy")
}
