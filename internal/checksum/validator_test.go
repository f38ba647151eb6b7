package checksum

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/streamforge/backend/internal/apperrors"
	"github.com/streamforge/backend/internal/logger"
	"github.com/streamforge/backend/internal/video"
)

const testBucket = "test-bucket"

// memStore serves ranged reads from an in-memory object
type memStore struct {
	data []byte
}

func (m *memStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	if end >= int64(len(m.data)) {
		end = int64(len(m.data)) - 1
	}
	return io.NopCloser(bytes.NewReader(m.data[start : end+1])), nil
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

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func setupValidator(t *testing.T, object []byte) (*Validator, *gorm.DB, *fakePublisher) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&video.Video{}))

	publisher := &fakePublisher{}
	v := NewValidator(db, &memStore{data: object}, publisher, testBucket, logger.NewNopLogger())
	return v, db, publisher
}

func seedVideo(t *testing.T, db *gorm.DB, id string, status video.Status) {
	t.Helper()
	require.NoError(t, db.Create(&video.Video{
		ID:        id,
		Title:     "test",
		Status:    status,
		SourceURL: "s3://" + testBucket + "/sources/" + id + "/movie.mp4",
	}).Error)
}

func payloadFor(id string, object []byte, partSize int64) video.ValidatePayload {
	var parts []video.PartChecksum
	for offset, n := int64(0), 1; offset < int64(len(object)); offset, n = offset+partSize, n+1 {
		end := offset + partSize
		if end > int64(len(object)) {
			end = int64(len(object))
		}
		parts = append(parts, video.PartChecksum{
			PartNumber: n,
			Checksum:   digest(object[offset:end]),
			Size:       end - offset,
		})
	}
	return video.ValidatePayload{
		VideoID:   id,
		SourceURL: "s3://" + testBucket + "/sources/" + id + "/movie.mp4",
		Parts:     parts,
		PartSize:  partSize,
	}
}

func TestValidatorAcceptsMatchingChecksums(t *testing.T) {
	object := bytes.Repeat([]byte("abcdefgh"), 1000)
	v, db, publisher := setupValidator(t, object)
	seedVideo(t, db, "video-1", video.StatusProcessing)

	err := v.Run(context.Background(), payloadFor("video-1", object, 3000))
	require.NoError(t, err)

	var rec video.Video
	require.NoError(t, db.First(&rec, "id = ?", "video-1").Error)
	require.NotNil(t, rec.ChecksumValidatedAt)
	assert.Equal(t, video.StatusProcessing, rec.Status)
	assert.Empty(t, publisher.events)
}

func TestValidatorReportsEveryCorruptPart(t *testing.T) {
	object := bytes.Repeat([]byte("abcdefgh"), 1000)
	v, db, publisher := setupValidator(t, object)
	seedVideo(t, db, "video-1", video.StatusProcessing)

	payload := payloadFor("video-1", object, 2000)
	require.Len(t, payload.Parts, 4)
	payload.Parts[0].Checksum = "bogus"
	payload.Parts[2].Checksum = "bogus"

	err := v.Run(context.Background(), payload)
	var intErr *apperrors.IntegrityError
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, []int{1, 3}, intErr.FailedParts)
	assert.Contains(t, intErr.Error(), "parts 1, 3")

	var rec video.Video
	require.NoError(t, db.First(&rec, "id = ?", "video-1").Error)
	assert.Equal(t, video.StatusFailed, rec.Status)
	assert.Nil(t, rec.ChecksumValidatedAt)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, video.StatusFailed, publisher.events[0].status)
}

func TestValidatorSkipsMissingAndCancelledVideos(t *testing.T) {
	object := []byte("data")
	v, db, _ := setupValidator(t, object)

	// missing video: succeed so the queue does not retry
	err := v.Run(context.Background(), payloadFor("ghost", object, 4))
	assert.NoError(t, err)

	seedVideo(t, db, "video-1", video.StatusCancelled)
	payload := payloadFor("video-1", object, 4)
	payload.Parts[0].Checksum = "bogus"
	assert.NoError(t, v.Run(context.Background(), payload))
}

func TestValidatorHandlesSparseManifest(t *testing.T) {
	object := bytes.Repeat([]byte("abcdefgh"), 1000)
	v, db, _ := setupValidator(t, object)
	seedVideo(t, db, "video-1", video.StatusProcessing)

	// only parts 1 and 3 were ever recorded; part 3's range must still
	// start at 2 * partSize
	payload := payloadFor("video-1", object, 2000)
	payload.Parts = []video.PartChecksum{payload.Parts[0], payload.Parts[2]}

	require.NoError(t, v.Run(context.Background(), payload))

	var rec video.Video
	require.NoError(t, db.First(&rec, "id = ?", "video-1").Error)
	assert.Equal(t, video.StatusProcessing, rec.Status)
	require.NotNil(t, rec.ChecksumValidatedAt)
}

func TestValidatorUsesPartSizeWhenSizeOmitted(t *testing.T) {
	object := bytes.Repeat([]byte("xy"), 500)
	v, db, _ := setupValidator(t, object)
	seedVideo(t, db, "video-1", video.StatusProcessing)

	payload := payloadFor("video-1", object, 400)
	for i := range payload.Parts {
		payload.Parts[i].Size = 0
	}
	// last part is short; its digest covers only the remaining bytes,
	// which the ranged read clamps to
	require.NoError(t, v.Run(context.Background(), payload))
}
