package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(filepath.Join(t.TempDir(), "uploads"), "/files/")
	require.NoError(t, err)
	return l
}

func TestLocalStoreReturnsPrefixedURL(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	url, err := l.Store(ctx, "abc.mp3", bytes.NewReader([]byte("ID3data")), 7, "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "/files/abc.mp3", url)

	data, err := os.ReadFile(filepath.Join(l.Root(), "abc.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "ID3data", string(data))
}

func TestLocalStoreNeverOverwrites(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	_, err := l.Store(ctx, "abc.mp3", bytes.NewReader([]byte("first")), 5, "audio/mpeg")
	require.NoError(t, err)

	_, err = l.Store(ctx, "abc.mp3", bytes.NewReader([]byte("second")), 6, "audio/mpeg")
	assert.ErrorIs(t, err, ErrObjectExists)

	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "write", serr.Op)

	data, err := os.ReadFile(filepath.Join(l.Root(), "abc.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestLocalRejectsTraversalKeys(t *testing.T) {
	l := newTestLocal(t)
	for _, key := range []string{"", "../x.mp3", "a/b.mp3", ".hidden", "a\\b"} {
		_, err := l.Store(context.Background(), key, bytes.NewReader(nil), 0, "")
		assert.Error(t, err, "key %q", key)
	}
}

func TestLocalListSkipsTempDir(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	for _, k := range []string{"a.mp3", "b.wav"} {
		_, err := l.Store(ctx, k, bytes.NewReader([]byte("x")), 1, "")
		require.NoError(t, err)
	}

	objects, err := l.List(ctx)
	require.NoError(t, err)

	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
		assert.Equal(t, int64(1), o.Size)
		assert.False(t, o.CreatedAt.IsZero())
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"a.mp3", "b.wav"}, keys)
}

func TestLocalDeleteIsIdempotent(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	_, err := l.Store(ctx, "gone.mp3", bytes.NewReader([]byte("x")), 1, "")
	require.NoError(t, err)

	require.NoError(t, l.Delete(ctx, "gone.mp3"))
	require.NoError(t, l.Delete(ctx, "gone.mp3"))

	_, err = l.URL(ctx, "gone.mp3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPublicObjectURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/uploads/abc.mp3", publicObjectURL("https://cdn.example.com/", "uploads", "abc.mp3"))
}
