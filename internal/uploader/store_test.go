package uploader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	rec := &SessionRecord{
		VideoID:    "video-1",
		SessionID:  "session-1",
		FilePath:   "/data/movie.mp4",
		Size:       100,
		Mode:       "multipart",
		TotalParts: 4,
		PartURLs:   map[int]string{1: "u1", 2: "u2"},
		ETags:      map[int]string{1: "etag-1"},
		State:      StateActive,
		ExpiresAt:  time.Now().Add(time.Hour),
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.Save(rec))

	loaded, err := store.Load("/data/movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, "video-1", loaded.VideoID)
	assert.Equal(t, "etag-1", loaded.ETags[1])
	assert.Equal(t, 1, loaded.UploadedCount())
	assert.Equal(t, recordVersion, loaded.Version)
}

func TestStoreLoadUnknownPath(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("/nope/missing.mp4")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStorePruneDropsTerminalAndExpired(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	records := []*SessionRecord{
		{FilePath: "/a", VideoID: "a", State: StateActive, ExpiresAt: now.Add(time.Hour)},
		{FilePath: "/b", VideoID: "b", State: StateCompleted, ExpiresAt: now.Add(time.Hour)},
		{FilePath: "/c", VideoID: "c", State: StateCancelled, ExpiresAt: now.Add(time.Hour)},
		{FilePath: "/d", VideoID: "d", State: StatePaused, ExpiresAt: now.Add(-time.Minute)},
	}
	for _, rec := range records {
		require.NoError(t, store.Save(rec))
	}

	removed, err := store.Prune(now)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	remaining, err := store.List()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "a", remaining[0].VideoID)
}
