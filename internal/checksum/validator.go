package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gorm.io/gorm"

	"github.com/streamforge/backend/internal/apperrors"
	"github.com/streamforge/backend/internal/logger"
	"github.com/streamforge/backend/internal/queue"
	"github.com/streamforge/backend/internal/storage"
	"github.com/streamforge/backend/internal/video"
)

// ObjectStore is the slice of the storage service the validator needs
type ObjectStore interface {
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
}

// Validator re-reads a stored source in ranged chunks and compares each
// chunk's SHA-256 digest against the checksums the client recorded before
// completing the upload
type Validator struct {
	db        *gorm.DB
	store     ObjectStore
	publisher video.StatusPublisher
	bucket    string
	logger    logger.Logger
}

// NewValidator creates a new checksum validator
func NewValidator(db *gorm.DB, store ObjectStore, publisher video.StatusPublisher, bucket string, log logger.Logger) *Validator {
	return &Validator{
		db:        db,
		store:     store,
		publisher: publisher,
		bucket:    bucket,
		logger:    log,
	}
}

// HandleJob is the queue handler for checksum validation jobs
func (v *Validator) HandleJob(ctx context.Context, job *queue.Job) error {
	var payload video.ValidatePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("invalid validation payload: %w", err)
	}
	return v.Run(ctx, payload)
}

// Run validates every part of one stored source. All parts are checked
// before reporting so the failure names every corrupt part, not just the
// first.
func (v *Validator) Run(ctx context.Context, payload video.ValidatePayload) error {
	var rec video.Video
	err := v.db.Where("id = ?", payload.VideoID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		v.logger.LogWarn("validation skipped, video not found", map[string]interface{}{"videoId": payload.VideoID})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load video: %w", err)
	}
	if rec.Status == video.StatusDeleted || rec.Status == video.StatusCancelled {
		return nil
	}

	key, err := storage.ParseSourceURL(payload.SourceURL, v.bucket)
	if err != nil {
		return apperrors.NewProcessingError("invalid source url", err)
	}

	var failed []int
	for _, part := range payload.Parts {
		size := part.Size
		if size <= 0 {
			size = payload.PartSize
		}
		// the byte range follows from the part number and the fixed part
		// size used at upload time, so a manifest with gaps still hashes
		// each recorded part at its true position
		start := int64(part.PartNumber-1) * payload.PartSize
		digest, err := v.hashRange(ctx, key, start, start+size-1)
		if err != nil {
			return apperrors.NewStorageError(
				fmt.Sprintf("failed to read part %d", part.PartNumber), err)
		}
		if digest != part.Checksum {
			failed = append(failed, part.PartNumber)
		}
	}

	if len(failed) > 0 {
		intErr := apperrors.NewIntegrityError("stored object does not match client checksums", failed)
		if dbErr := v.db.Model(&rec).Updates(map[string]interface{}{
			"status":     video.StatusFailed,
			"last_error": intErr.Error(),
		}).Error; dbErr != nil {
			v.logger.LogError(dbErr, fmt.Sprintf("failed to mark video %s failed", payload.VideoID))
		}
		v.publisher.PublishStatus(ctx, payload.VideoID, video.StatusFailed, intErr.Error())
		return intErr
	}

	now := time.Now()
	if err := v.db.Model(&rec).Update("checksum_validated_at", now).Error; err != nil {
		return fmt.Errorf("failed to record validation: %w", err)
	}
	v.logger.LogInfo("checksums validated", map[string]interface{}{
		"videoId": payload.VideoID,
		"parts":   len(payload.Parts),
	})
	return nil
}

func (v *Validator) hashRange(ctx context.Context, key string, start, end int64) (string, error) {
	body, err := v.store.GetRange(ctx, key, start, end)
	if err != nil {
		return "", err
	}
	defer body.Close()

	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
