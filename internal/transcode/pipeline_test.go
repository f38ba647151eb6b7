package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/streamforge/backend/internal/logger"
	"github.com/streamforge/backend/internal/video"
)

const testBucket = "test-bucket"

// fakeStore records uploads instead of talking to an object store
type fakeStore struct {
	uploadedKeys []string
	buffers      map[string][]byte
}

func (f *fakeStore) Download(ctx context.Context, key, localPath string) error {
	return os.WriteFile(localPath, []byte("source media"), 0o644)
}

func (f *fakeStore) Upload(ctx context.Context, key, localPath, contentType string) error {
	if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("upload of missing file %s: %w", localPath, err)
	}
	f.uploadedKeys = append(f.uploadedKeys, key)
	return nil
}

func (f *fakeStore) PutBuffer(ctx context.Context, key string, data []byte, contentType string) error {
	if f.buffers == nil {
		f.buffers = make(map[string][]byte)
	}
	f.buffers[key] = data
	return nil
}

// fakeTranscoder writes placeholder artifacts where ffmpeg would
type fakeTranscoder struct {
	meta       *VideoMetadata
	segments   int
	thumbs     int
	encodeErr  error
	probeCalls int
}

func (f *fakeTranscoder) Probe(ctx context.Context, filePath string) (*VideoMetadata, error) {
	f.probeCalls++
	return f.meta, nil
}

func (f *fakeTranscoder) EncodeInitSegment(ctx context.Context, inputPath, outputPath string, q Quality) error {
	return os.WriteFile(outputPath, []byte("init"), 0o644)
}

func (f *fakeTranscoder) EncodeSegments(ctx context.Context, inputPath, outputDir string, q Quality) error {
	if f.encodeErr != nil {
		return f.encodeErr
	}
	for i := 1; i <= f.segments; i++ {
		name := filepath.Join(outputDir, fmt.Sprintf("seg_%d.m4s", i))
		if err := os.WriteFile(name, []byte("segment"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTranscoder) Thumbnails(ctx context.Context, inputPath, outputDir string) error {
	for i := 1; i <= f.thumbs; i++ {
		name := filepath.Join(outputDir, fmt.Sprintf("thumb_%03d.jpg", i))
		if err := os.WriteFile(name, []byte("jpeg"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type statusEvent struct {
	videoID string
	status  video.Status
	errMsg  string
}

type fakePublisher struct {
	events []statusEvent
}

func (f *fakePublisher) PublishStatus(ctx context.Context, videoID string, status video.Status, errMsg string) {
	f.events = append(f.events, statusEvent{videoID, status, errMsg})
}

func setupPipeline(t *testing.T, enc *fakeTranscoder) (*Pipeline, *gorm.DB, *fakeStore, *fakePublisher, string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&video.Video{}, &video.Segment{}))

	store := &fakeStore{}
	publisher := &fakePublisher{}
	tempDir := t.TempDir()
	cfg := &Config{SegmentSeconds: 4, ThumbnailInterval: 4}
	p := NewPipeline(db, store, enc, publisher, cfg, testBucket, tempDir, logger.NewNopLogger())
	return p, db, store, publisher, tempDir
}

func seedVideo(t *testing.T, db *gorm.DB, id string, status video.Status) string {
	t.Helper()
	sourceURL := "s3://" + testBucket + "/sources/" + id + "/movie.mp4"
	require.NoError(t, db.Create(&video.Video{
		ID:        id,
		Title:     "test",
		Status:    status,
		SourceURL: sourceURL,
	}).Error)
	return sourceURL
}

func TestRunProducesRenditionsAndManifest(t *testing.T) {
	enc := &fakeTranscoder{
		meta:     &VideoMetadata{Duration: 10, Width: 1280, Height: 720, Codec: "h264", Fps: 30},
		segments: 3,
		thumbs:   2,
	}
	p, db, store, publisher, tempDir := setupPipeline(t, enc)
	sourceURL := seedVideo(t, db, "video-1", video.StatusProcessing)

	require.NoError(t, p.Run(context.Background(), "video-1", sourceURL))

	var rec video.Video
	require.NoError(t, db.First(&rec, "id = ?", "video-1").Error)
	assert.Equal(t, video.StatusReady, rec.Status)
	assert.Equal(t, "processed/video-1/manifest.json", rec.ManifestURL)
	assert.Equal(t, 720, rec.Height)
	assert.Equal(t, float64(10), rec.Duration)
	require.NotNil(t, rec.ProcessedAt)

	// 720p source gets 360p and 720p, each with an init segment
	raw, ok := store.buffers["processed/video-1/manifest.json"]
	require.True(t, ok, "manifest must be uploaded")
	var manifest Manifest
	require.NoError(t, json.Unmarshal(raw, &manifest))
	require.Len(t, manifest.Qualities, 2)
	assert.Equal(t, "360p", manifest.Qualities[0].Quality)
	assert.Equal(t, "720p", manifest.Qualities[1].Quality)
	require.Len(t, manifest.Qualities[1].Segments, 3)
	assert.Equal(t, float64(8), manifest.Qualities[1].Segments[2].Start)
	assert.Equal(t, float64(2), manifest.Qualities[1].Segments[2].Duration)
	assert.Equal(t, 4, manifest.Thumbnails.Interval)

	// segment rows are written for the top rendition only
	var segments []video.Segment
	require.NoError(t, db.Where("video_id = ?", "video-1").Order("idx").Find(&segments).Error)
	require.Len(t, segments, 3)
	assert.Equal(t, "processed/video-1/720p/seg_1.m4s", segments[0].URL)

	assert.Contains(t, store.uploadedKeys, "processed/video-1/thumbnails/thumb_002.jpg")

	require.Len(t, publisher.events, 2)
	assert.Equal(t, video.StatusProcessing, publisher.events[0].status)
	assert.Equal(t, video.StatusReady, publisher.events[1].status)

	_, err := os.Stat(filepath.Join(tempDir, "video-1"))
	assert.True(t, os.IsNotExist(err), "work directory must be cleaned up")
}

func TestRunFailureMarksVideoAndCleansUp(t *testing.T) {
	enc := &fakeTranscoder{
		meta:      &VideoMetadata{Duration: 10, Width: 1280, Height: 720},
		encodeErr: errors.New("encoder exploded"),
	}
	p, db, _, publisher, tempDir := setupPipeline(t, enc)
	sourceURL := seedVideo(t, db, "video-1", video.StatusProcessing)

	err := p.Run(context.Background(), "video-1", sourceURL)
	require.Error(t, err)

	var rec video.Video
	require.NoError(t, db.First(&rec, "id = ?", "video-1").Error)
	assert.Equal(t, video.StatusFailed, rec.Status)
	assert.Contains(t, rec.LastError, "encoder exploded")

	last := publisher.events[len(publisher.events)-1]
	assert.Equal(t, video.StatusFailed, last.status)
	assert.Contains(t, last.errMsg, "encoder exploded")

	_, statErr := os.Stat(filepath.Join(tempDir, "video-1"))
	assert.True(t, os.IsNotExist(statErr), "work directory must be cleaned up on failure")
}

func TestRunsDoNotTouchTheAttemptCounter(t *testing.T) {
	enc := &fakeTranscoder{
		meta:      &VideoMetadata{Duration: 10, Width: 1280, Height: 720},
		encodeErr: errors.New("encoder exploded"),
	}
	p, db, _, _, _ := setupPipeline(t, enc)
	sourceURL := seedVideo(t, db, "video-1", video.StatusProcessing)

	// queue-level retries re-run the job; the counter belongs to the
	// explicit retry endpoint and must survive any number of runs
	for i := 0; i < 4; i++ {
		require.Error(t, p.Run(context.Background(), "video-1", sourceURL))
	}

	var rec video.Video
	require.NoError(t, db.First(&rec, "id = ?", "video-1").Error)
	assert.Equal(t, 0, rec.ProcessingAttempts)
	assert.LessOrEqual(t, rec.ProcessingAttempts, video.MaxProcessingAttempts)
}

func TestRunSkipsDeletedAndMissingVideos(t *testing.T) {
	enc := &fakeTranscoder{meta: &VideoMetadata{Width: 1280, Height: 720}}
	p, db, _, publisher, _ := setupPipeline(t, enc)

	require.NoError(t, p.Run(context.Background(), "ghost", "s3://"+testBucket+"/sources/ghost/movie.mp4"))

	sourceURL := seedVideo(t, db, "video-1", video.StatusDeleted)
	require.NoError(t, p.Run(context.Background(), "video-1", sourceURL))

	assert.Equal(t, 0, enc.probeCalls)
	assert.Empty(t, publisher.events)
}

func TestRunRefusesStaleJobOnSettledVideo(t *testing.T) {
	enc := &fakeTranscoder{meta: &VideoMetadata{Width: 1280, Height: 720}}
	p, db, _, publisher, _ := setupPipeline(t, enc)

	// a duplicate job delivered after the video settled must not drag it
	// back into processing
	for _, status := range []video.Status{video.StatusReady, video.StatusCancelled} {
		id := "video-" + string(status)
		sourceURL := seedVideo(t, db, id, status)
		require.NoError(t, p.Run(context.Background(), id, sourceURL))

		var rec video.Video
		require.NoError(t, db.First(&rec, "id = ?", id).Error)
		assert.Equal(t, status, rec.Status)
	}

	assert.Equal(t, 0, enc.probeCalls)
	assert.Empty(t, publisher.events)
}
