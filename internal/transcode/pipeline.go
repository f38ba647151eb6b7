package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/streamforge/backend/internal/apperrors"
	"github.com/streamforge/backend/internal/logger"
	"github.com/streamforge/backend/internal/queue"
	"github.com/streamforge/backend/internal/storage"
	"github.com/streamforge/backend/internal/video"
)

// ObjectStore is the slice of the storage service the pipeline needs
type ObjectStore interface {
	Download(ctx context.Context, key, localPath string) error
	Upload(ctx context.Context, key, localPath, contentType string) error
	PutBuffer(ctx context.Context, key string, data []byte, contentType string) error
}

// Transcoder is the encoder surface the pipeline drives
type Transcoder interface {
	Probe(ctx context.Context, filePath string) (*VideoMetadata, error)
	EncodeInitSegment(ctx context.Context, inputPath, outputPath string, q Quality) error
	EncodeSegments(ctx context.Context, inputPath, outputDir string, q Quality) error
	Thumbnails(ctx context.Context, inputPath, outputDir string) error
}

// Pipeline turns an uploaded source into segmented renditions, thumbnails
// and a manifest
type Pipeline struct {
	db        *gorm.DB
	store     ObjectStore
	ffmpeg    Transcoder
	publisher video.StatusPublisher
	config    *Config
	bucket    string
	tempDir   string
	logger    logger.Logger
}

// NewPipeline creates a new transcode pipeline
func NewPipeline(db *gorm.DB, store ObjectStore, ffmpeg Transcoder, publisher video.StatusPublisher, config *Config, bucket, tempDir string, log logger.Logger) *Pipeline {
	return &Pipeline{
		db:        db,
		store:     store,
		ffmpeg:    ffmpeg,
		publisher: publisher,
		config:    config,
		bucket:    bucket,
		tempDir:   tempDir,
		logger:    log,
	}
}

// HandleJob is the queue handler for transcode jobs
func (p *Pipeline) HandleJob(ctx context.Context, job *queue.Job) error {
	var payload video.TranscodePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("invalid transcode payload: %w", err)
	}
	return p.Run(ctx, payload.VideoID, payload.SourceURL)
}

// Run processes one video end to end. A deleted video is skipped without
// error; any other failure marks the video failed and is returned so the
// queue can retry it.
func (p *Pipeline) Run(ctx context.Context, videoID, sourceURL string) error {
	var v video.Video
	err := p.db.Where("id = ?", videoID).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p.logger.LogWarn("transcode skipped, video not found", map[string]interface{}{"videoId": videoID})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load video: %w", err)
	}
	if v.Status == video.StatusDeleted {
		p.logger.LogInfo("transcode skipped, video deleted", map[string]interface{}{"videoId": videoID})
		return nil
	}

	if err := video.Transition(p.db, &v, video.StatusProcessing, nil); err != nil {
		if errors.Is(err, video.ErrConflict) {
			p.logger.LogInfo("transcode skipped, video not in a runnable state", map[string]interface{}{
				"videoId": videoID,
				"status":  string(v.Status),
			})
			return nil
		}
		return fmt.Errorf("failed to mark video processing: %w", err)
	}
	p.publisher.PublishStatus(ctx, videoID, video.StatusProcessing, "")

	workDir := filepath.Join(p.tempDir, videoID)
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			p.logger.LogWarn("failed to clean work directory", map[string]interface{}{
				"videoId": videoID,
				"error":   err.Error(),
			})
		}
	}()

	if err := p.process(ctx, &v, sourceURL, workDir); err != nil {
		p.markFailed(ctx, videoID, err)
		return err
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, v *video.Video, sourceURL, workDir string) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}

	key, err := storage.ParseSourceURL(sourceURL, p.bucket)
	if err != nil {
		return apperrors.NewProcessingError("invalid source url", err)
	}
	sourcePath := filepath.Join(workDir, "source"+filepath.Ext(key))
	if _, statErr := os.Stat(sourcePath); statErr != nil {
		if err := p.store.Download(ctx, key, sourcePath); err != nil {
			return apperrors.NewStorageError("failed to download source", err)
		}
	}

	meta, err := p.ffmpeg.Probe(ctx, sourcePath)
	if err != nil {
		return apperrors.NewProcessingError("failed to probe source", err)
	}

	ladder := p.config.Qualities
	if len(ladder) == 0 {
		ladder = DefaultQualities()
	}
	qualities := ApplicableQualities(ladder, meta.Height)

	manifest := Manifest{
		VideoID:  v.ID,
		Duration: meta.Duration,
		Width:    meta.Width,
		Height:   meta.Height,
	}

	var topSegments []video.Segment
	for _, q := range qualities {
		qm, segments, err := p.processQuality(ctx, v.ID, sourcePath, workDir, q, meta)
		if err != nil {
			return err
		}
		manifest.Qualities = append(manifest.Qualities, *qm)
		topSegments = segments
	}

	thumbCount, err := p.processThumbnails(ctx, v.ID, sourcePath, workDir)
	if err != nil {
		return err
	}
	if thumbCount > 0 {
		manifest.Thumbnails = ThumbnailsManifest{
			Pattern:  storage.ProcessedKey(v.ID, "thumbnails/thumb_%03d.jpg"),
			Interval: p.config.ThumbnailInterval,
		}
	}

	manifestKey := storage.ManifestKey(v.ID)
	body, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := p.store.PutBuffer(ctx, manifestKey, body, "application/json"); err != nil {
		return apperrors.NewStorageError("failed to upload manifest", err)
	}

	now := time.Now()
	err = p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", v.ID).Delete(&video.Segment{}).Error; err != nil {
			return err
		}
		if len(topSegments) > 0 {
			if err := tx.CreateInBatches(topSegments, 200).Error; err != nil {
				return err
			}
		}
		updates := map[string]interface{}{
			"status":       video.StatusReady,
			"manifest_url": manifestKey,
			"duration":     meta.Duration,
			"width":        meta.Width,
			"height":       meta.Height,
			"codec":        meta.Codec,
			"bitrate":      meta.Bitrate,
			"fps":          meta.Fps,
			"last_error":   "",
			"processed_at": now,
		}
		if thumbCount > 0 {
			updates["thumbnails"] = video.NewJSONColumn(&video.ThumbnailInfo{
				Pattern:  manifest.Thumbnails.Pattern,
				Interval: manifest.Thumbnails.Interval,
			})
		}
		return tx.Model(v).Updates(updates).Error
	})
	if err != nil {
		return fmt.Errorf("failed to record processed video: %w", err)
	}

	p.publisher.PublishStatus(ctx, v.ID, video.StatusReady, "")
	p.logger.LogInfo("transcode completed", map[string]interface{}{
		"videoId":    v.ID,
		"qualities":  len(qualities),
		"segments":   len(topSegments),
		"thumbnails": thumbCount,
		"duration":   meta.Duration,
	})
	return nil
}

// processQuality encodes one rendition and uploads its init and media
// segments. It returns the manifest entry and the segment rows for the
// rendition.
func (p *Pipeline) processQuality(ctx context.Context, videoID, sourcePath, workDir string, q Quality, meta *VideoMetadata) (*QualityManifest, []video.Segment, error) {
	qualityDir := filepath.Join(workDir, q.Name)
	if err := os.MkdirAll(qualityDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create quality directory: %w", err)
	}

	initPath := filepath.Join(qualityDir, "init.mp4")
	if err := p.ffmpeg.EncodeInitSegment(ctx, sourcePath, initPath, q); err != nil {
		return nil, nil, apperrors.NewProcessingError(
			fmt.Sprintf("failed to encode %s init segment", q.Name), err)
	}
	initKey := storage.InitSegmentKey(videoID, q.Name)
	if err := p.store.Upload(ctx, initKey, initPath, "video/mp4"); err != nil {
		return nil, nil, apperrors.NewStorageError(
			fmt.Sprintf("failed to upload %s init segment", q.Name), err)
	}

	if err := p.ffmpeg.EncodeSegments(ctx, sourcePath, qualityDir, q); err != nil {
		return nil, nil, apperrors.NewProcessingError(
			fmt.Sprintf("failed to encode %s segments", q.Name), err)
	}

	entries, err := os.ReadDir(qualityDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %s segments: %w", q.Name, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	names = SortSegments(names)
	if len(names) == 0 {
		return nil, nil, apperrors.NewProcessingError(
			fmt.Sprintf("encoder produced no %s segments", q.Name), nil)
	}

	segSeconds := float64(p.config.SegmentSeconds)
	qm := &QualityManifest{
		Quality:        q.Name,
		Height:         q.Height,
		Bitrate:        q.Bitrate,
		Codec:          "h264",
		InitSegmentURL: initKey,
	}
	segments := make([]video.Segment, 0, len(names))
	for _, name := range names {
		idx := SegmentIndex(name)
		segKey := storage.MediaSegmentKey(videoID, q.Name, idx)
		localPath := filepath.Join(qualityDir, name)
		if err := p.store.Upload(ctx, segKey, localPath, "video/iso.segment"); err != nil {
			return nil, nil, apperrors.NewStorageError(
				fmt.Sprintf("failed to upload segment %s/%s", q.Name, name), err)
		}

		start := float64(idx-1) * segSeconds
		duration := segSeconds
		if remaining := meta.Duration - start; remaining > 0 && remaining < duration {
			duration = remaining
		}
		var size int64
		if info, err := os.Stat(localPath); err == nil {
			size = info.Size()
		}

		qm.Segments = append(qm.Segments, SegmentInfo{
			URL:      segKey,
			Start:    start,
			Duration: duration,
			Index:    idx,
		})
		segments = append(segments, video.Segment{
			VideoID:  videoID,
			Idx:      idx,
			URL:      segKey,
			Start:    start,
			Duration: duration,
			Size:     size,
			Keyframe: true,
		})
	}
	return qm, segments, nil
}

func (p *Pipeline) processThumbnails(ctx context.Context, videoID, sourcePath, workDir string) (int, error) {
	thumbDir := filepath.Join(workDir, "thumbnails")
	if err := os.MkdirAll(thumbDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	if err := p.ffmpeg.Thumbnails(ctx, sourcePath, thumbDir); err != nil {
		return 0, apperrors.NewProcessingError("failed to extract thumbnails", err)
	}

	entries, err := os.ReadDir(thumbDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list thumbnails: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	names = SortThumbnails(names)

	for i, name := range names {
		key := storage.ThumbnailKey(videoID, i+1)
		if err := p.store.Upload(ctx, key, filepath.Join(thumbDir, name), "image/jpeg"); err != nil {
			return 0, apperrors.NewStorageError(
				fmt.Sprintf("failed to upload thumbnail %s", name), err)
		}
	}
	return len(names), nil
}

func (p *Pipeline) markFailed(ctx context.Context, videoID string, cause error) {
	if err := p.db.Model(&video.Video{}).Where("id = ?", videoID).Updates(map[string]interface{}{
		"status":     video.StatusFailed,
		"last_error": cause.Error(),
	}).Error; err != nil {
		p.logger.LogError(err, fmt.Sprintf("failed to mark video %s failed", videoID))
	}
	p.publisher.PublishStatus(ctx, videoID, video.StatusFailed, cause.Error())
}
