package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorsplit/internal/domain/upload"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "data", "uploads.json"))
	require.NoError(t, err)
	return l
}

func record(id string, at time.Time) *upload.Record {
	key := id + ".mp3"
	url := "/files/" + key
	return &upload.Record{
		ID:        id,
		Title:     "Demo " + id,
		Artist:    "Jane",
		Section:   "streams",
		FilePath:  &key,
		URL:       &url,
		CreatedAt: at,
	}
}

func TestAppendKeepsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(ctx, record("a", now)))
	require.NoError(t, l.Append(ctx, record("b", now.Add(time.Minute))))

	all, err := l.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "a", all[1].ID)
}

func TestFileIsIndentedJSONArray(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	require.NoError(t, l.Append(ctx, record("a", time.Now())))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "[\n  {\n    \"id\": \"a\"")

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "a.mp3", raw[0]["filePath"])
	assert.NotContains(t, raw[0], "file_path")
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	require.NoError(t, l.Append(ctx, record("a", time.Now())))

	got, err := l.Find(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Demo a", got.Title)

	_, err = l.Find(ctx, "missing")
	assert.ErrorIs(t, err, upload.ErrUploadNotFound)
}

func TestMissingFileIsEmpty(t *testing.T) {
	all, err := newLedger(t).All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestReadsLegacyFieldNames(t *testing.T) {
	l := newLedger(t)
	legacy := `[
  {"id": "old-1", "title": "", "file_name": "old-1.wav", "created_at": "2023-01-02T03:04:05Z"},
  {"id": "old-2", "title": "Kept", "artist": "Sam", "section": "streams", "file_path": "old-2.mp3"}
]`
	require.NoError(t, os.WriteFile(l.Path(), []byte(legacy), 0o644))

	all, err := l.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, "old-1.wav", *all[0].FilePath)
	assert.Equal(t, upload.DefaultTitle, all[0].Title)
	assert.Equal(t, upload.DefaultSection, all[0].Section)
	assert.Equal(t, 2023, all[0].CreatedAt.Year())

	assert.Equal(t, "old-2.mp3", *all[1].FilePath)
	assert.Equal(t, "Kept", all[1].Title)
}

func TestCorruptFileFailsAppend(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, os.WriteFile(l.Path(), []byte("{not json"), 0o644))

	err := l.Append(context.Background(), record("a", time.Now()))
	assert.Error(t, err)

	data, _ := os.ReadFile(l.Path())
	assert.Equal(t, "{not json", string(data))
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.Append(ctx, record(fmt.Sprintf("r%d", i), time.Now())))
		}(i)
	}
	wg.Wait()

	all, err := l.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 20)
}
