package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/streamforge/backend/internal/apperrors"
	"github.com/streamforge/backend/internal/logger"
	"github.com/streamforge/backend/internal/queue"
	"github.com/streamforge/backend/internal/storage"
)

// ErrNotFound is returned when a video does not exist or is deleted
var ErrNotFound = errors.New("video not found")

// ErrConflict is returned when an operation is not allowed in the video's
// current state
var ErrConflict = errors.New("operation not allowed in current state")

// Service implements the Orchestrator interface
type Service struct {
	db        *gorm.DB
	store     ObjectStore
	jobs      JobQueue
	publisher StatusPublisher
	config    *Config
	bucket    string
	logger    logger.Logger
	now       func() time.Time
}

// NewService creates a new upload orchestrator
func NewService(db *gorm.DB, store ObjectStore, jobs JobQueue, publisher StatusPublisher, config *Config, bucket string, log logger.Logger) *Service {
	return &Service{
		db:        db,
		store:     store,
		jobs:      jobs,
		publisher: publisher,
		config:    config,
		bucket:    bucket,
		logger:    log,
		now:       time.Now,
	}
}

func priorityFor(name string) (int, error) {
	switch name {
	case "", "normal":
		return queue.PriorityNormal, nil
	case "high":
		return queue.PriorityHigh, nil
	case "low":
		return queue.PriorityLow, nil
	}
	return 0, apperrors.NewValidationError("priority", fmt.Sprintf("unknown priority %q", name))
}

// Initiate creates the video record and hands back a transfer plan. Files at
// or under the multipart threshold get a single signed PUT; larger files get
// a multipart session with one signed URL per part.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if req.Size <= 0 {
		return nil, apperrors.NewValidationError("size", "size must be positive")
	}
	if req.Size > s.config.MaxFileSize {
		return nil, apperrors.NewValidationError("size",
			fmt.Sprintf("size %d exceeds maximum %d", req.Size, s.config.MaxFileSize))
	}
	priority, err := priorityFor(req.Priority)
	if err != nil {
		return nil, err
	}

	videoID := uuid.New().String()
	key := storage.SourceKey(videoID, req.Filename)
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	v := &Video{
		ID:         videoID,
		Title:      req.Title,
		Status:     StatusPendingUpload,
		SourceURL:  storage.SourceURL(s.bucket, key),
		SourceSize: req.Size,
		Priority:   priority,
	}

	now := s.now()
	expiresAt := now.Add(s.config.URLTTL)
	resp := &InitiateResponse{
		VideoID:   videoID,
		ExpiresAt: expiresAt,
	}

	if req.Size <= s.config.MultipartThreshold {
		uploadURL, err := s.store.SignPut(ctx, key, contentType, req.Checksum, s.config.URLTTL)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to sign upload url", err)
		}
		resp.Mode = UploadModeSingle
		resp.UploadURL = uploadURL

		session := &UploadSession{
			ID:        uuid.New().String(),
			VideoID:   videoID,
			Status:    SessionActive,
			ExpiresAt: expiresAt,
		}
		if err := s.createUpload(v, session); err != nil {
			return nil, err
		}
		resp.SessionID = session.ID
		return resp, nil
	}

	totalParts := int((req.Size + s.config.PartSize - 1) / s.config.PartSize)
	if totalParts > s.config.MaxParts {
		return nil, apperrors.NewValidationError("size",
			fmt.Sprintf("file requires %d parts, maximum is %d", totalParts, s.config.MaxParts))
	}

	uploadID, err := s.store.CreateMultipart(ctx, key, contentType)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create multipart upload", err)
	}

	partURLs, err := s.signParts(ctx, key, uploadID, partRange(1, totalParts))
	if err != nil {
		abortErr := s.store.AbortMultipart(ctx, key, uploadID)
		if abortErr != nil {
			s.logger.LogWarn("failed to abort multipart upload after signing error",
				map[string]interface{}{"videoId": videoID, "error": abortErr.Error()})
		}
		return nil, err
	}

	session := &UploadSession{
		ID:                uuid.New().String(),
		VideoID:           videoID,
		MultipartUploadID: uploadID,
		TotalParts:        totalParts,
		Status:            SessionActive,
		ExpiresAt:         expiresAt,
	}
	if err := s.createUpload(v, session); err != nil {
		abortErr := s.store.AbortMultipart(ctx, key, uploadID)
		if abortErr != nil {
			s.logger.LogWarn("failed to abort multipart upload after db error",
				map[string]interface{}{"videoId": videoID, "error": abortErr.Error()})
		}
		return nil, err
	}

	resp.Mode = UploadModeMultipart
	resp.SessionID = session.ID
	resp.PartSize = s.config.PartSize
	resp.TotalParts = totalParts
	resp.PartURLs = partURLs

	s.logger.LogInfo("multipart upload initiated", map[string]interface{}{
		"videoId":    videoID,
		"size":       req.Size,
		"totalParts": totalParts,
	})
	return resp, nil
}

func (s *Service) createUpload(v *Video, session *UploadSession) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			return fmt.Errorf("failed to create video: %w", err)
		}
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("failed to create upload session: %w", err)
		}
		return nil
	})
}

func partRange(from, to int) []int {
	nums := make([]int, 0, to-from+1)
	for n := from; n <= to; n++ {
		nums = append(nums, n)
	}
	return nums
}

func (s *Service) signParts(ctx context.Context, key, uploadID string, partNumbers []int) ([]PartURL, error) {
	urls := make([]PartURL, 0, len(partNumbers))
	for _, n := range partNumbers {
		u, err := s.store.SignPartPut(ctx, key, uploadID, n, s.config.URLTTL)
		if err != nil {
			return nil, apperrors.NewStorageError(
				fmt.Sprintf("failed to sign url for part %d", n), err)
		}
		urls = append(urls, PartURL{PartNumber: n, URL: u})
	}
	return urls, nil
}

// RefreshURLs re-signs every part URL of an in-flight multipart upload with
// a fresh expiry. The part count is recomputed from the recorded source size
// rather than trusted from the client.
func (s *Service) RefreshURLs(ctx context.Context, videoID string) (*RefreshURLsResponse, error) {
	v, session, err := s.loadUpload(videoID)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusPendingUpload && v.Status != StatusUploading {
		return nil, ErrConflict
	}
	if session.MultipartUploadID == "" {
		return nil, apperrors.NewValidationError("videoId", "upload is not multipart")
	}

	key, err := storage.ParseSourceURL(v.SourceURL, s.bucket)
	if err != nil {
		return nil, apperrors.NewStorageError("invalid source url", err)
	}
	totalParts := int((v.SourceSize + s.config.PartSize - 1) / s.config.PartSize)
	urls, err := s.signParts(ctx, key, session.MultipartUploadID, partRange(1, totalParts))
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.config.URLTTL)
	if err := s.db.Model(session).Update("expires_at", expiresAt).Error; err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	return &RefreshURLsResponse{PartURLs: urls, ExpiresAt: expiresAt}, nil
}

// RecordChecksums merges the submitted part checksums into the video's
// manifest by part number, so a validation job can verify the stored object
// after completion. Re-submitting a part overwrites its prior entry.
func (s *Service) RecordChecksums(ctx context.Context, videoID string, req ChecksumsRequest) error {
	v, _, err := s.loadUpload(videoID)
	if err != nil {
		return err
	}
	if v.Status != StatusPendingUpload && v.Status != StatusUploading {
		return ErrConflict
	}
	if len(req.Parts) == 0 {
		return apperrors.NewValidationError("parts", "at least one part checksum is required")
	}
	for _, p := range req.Parts {
		if p.PartNumber < 1 {
			return apperrors.NewValidationError("parts",
				fmt.Sprintf("part number %d must be positive", p.PartNumber))
		}
		if p.Checksum == "" {
			return apperrors.NewValidationError("parts",
				fmt.Sprintf("part %d has an empty checksum", p.PartNumber))
		}
	}

	merged := make(map[int]PartChecksum, len(v.PartChecksums.Data)+len(req.Parts))
	for _, p := range v.PartChecksums.Data {
		merged[p.PartNumber] = p
	}
	for _, p := range req.Parts {
		merged[p.PartNumber] = p
	}
	parts := make([]PartChecksum, 0, len(merged))
	for _, p := range merged {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	return s.db.Model(v).Update("part_checksums", NewJSONColumn(parts)).Error
}

// Complete finalizes the transfer and queues processing. For multipart
// uploads the submitted parts must cover 1..totalParts in order, each with
// the entity tag the store returned; for single uploads the object must
// exist in the store.
func (s *Service) Complete(ctx context.Context, videoID string, req CompleteRequest) (*Video, error) {
	v, session, err := s.loadUpload(videoID)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusPendingUpload && v.Status != StatusUploading {
		return nil, ErrConflict
	}

	key, err := storage.ParseSourceURL(v.SourceURL, s.bucket)
	if err != nil {
		return nil, apperrors.NewStorageError("invalid source url", err)
	}

	if session.MultipartUploadID != "" {
		if err := validateParts(req.Parts, session.TotalParts); err != nil {
			return nil, err
		}
		completed := make([]storage.CompletedPart, len(req.Parts))
		for i, p := range req.Parts {
			completed[i] = storage.CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag}
		}
		if err := s.store.CompleteMultipart(ctx, key, session.MultipartUploadID, completed); err != nil {
			s.markFailed(ctx, v, session, fmt.Sprintf("multipart finalize failed: %v", err))
			return nil, apperrors.NewStorageError("failed to complete multipart upload", err)
		}
	} else {
		exists, err := s.store.Exists(ctx, key)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to check uploaded object", err)
		}
		if !exists {
			return nil, apperrors.NewValidationError("videoId", "uploaded object not found in store")
		}
	}

	now := s.now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := Transition(tx, v, StatusProcessing, map[string]interface{}{
			"last_error": "",
		}); err != nil {
			return err
		}
		return tx.Model(session).Updates(map[string]interface{}{
			"status":         SessionCompleted,
			"uploaded_parts": NewJSONColumn(req.Parts),
			"completed_at":   now,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finalize upload: %w", err)
	}

	if err := s.enqueueProcessing(ctx, v); err != nil {
		return nil, err
	}
	s.publisher.PublishStatus(ctx, v.ID, StatusProcessing, "")

	s.logger.LogInfo("upload completed", map[string]interface{}{
		"videoId": v.ID,
		"parts":   len(req.Parts),
	})
	return v, nil
}

// markFailed records a finalize failure on the video and its session. The
// write itself is best effort since the caller is already returning an error.
func (s *Service) markFailed(ctx context.Context, v *Video, session *UploadSession, msg string) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := Transition(tx, v, StatusFailed, map[string]interface{}{
			"last_error": msg,
		}); err != nil {
			return err
		}
		return tx.Model(session).Update("status", SessionFailed).Error
	})
	if err != nil {
		s.logger.LogError(err, "failed to record upload failure")
		return
	}
	v.LastError = msg
	s.publisher.PublishStatus(ctx, v.ID, StatusFailed, msg)
}

func validateParts(parts []UploadedPart, totalParts int) error {
	if len(parts) == 0 {
		return apperrors.NewValidationError("parts", "multipart completion requires the uploaded parts")
	}
	if len(parts) != totalParts {
		return apperrors.NewValidationError("parts",
			fmt.Sprintf("expected %d parts, got %d", totalParts, len(parts)))
	}
	for i, p := range parts {
		if p.PartNumber != i+1 {
			return apperrors.NewValidationError("parts",
				fmt.Sprintf("parts must be contiguous from 1, got %d at position %d", p.PartNumber, i))
		}
		if p.ETag == "" {
			return apperrors.NewValidationError("parts",
				fmt.Sprintf("part %d is missing its entity tag", p.PartNumber))
		}
	}
	return nil
}

func (s *Service) enqueueProcessing(ctx context.Context, v *Video) error {
	if parts := v.PartChecksums.Data; len(parts) > 0 {
		job, err := NewValidateJob(v.ID, v.SourceURL, parts, s.config.PartSize)
		if err != nil {
			return fmt.Errorf("failed to build validation job: %w", err)
		}
		if _, err := s.jobs.Enqueue(ctx, job); err != nil {
			return apperrors.NewProcessingError("failed to enqueue checksum validation", err)
		}
	}
	job, err := NewTranscodeJob(v.ID, v.SourceURL, v.Priority)
	if err != nil {
		return fmt.Errorf("failed to build transcode job: %w", err)
	}
	added, err := s.jobs.Enqueue(ctx, job)
	if err != nil {
		return apperrors.NewProcessingError("failed to enqueue transcode", err)
	}
	if !added {
		s.logger.LogWarn("transcode job already pending", map[string]interface{}{"videoId": v.ID})
	}
	return nil
}

// Abort cancels an upload that has not completed. The multipart upload is
// aborted in the store and any queued jobs for the video are removed.
func (s *Service) Abort(ctx context.Context, videoID string) (*Video, error) {
	v, session, err := s.loadUpload(videoID)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusPendingUpload && v.Status != StatusUploading {
		return nil, ErrConflict
	}

	if session.MultipartUploadID != "" {
		key, err := storage.ParseSourceURL(v.SourceURL, s.bucket)
		if err == nil {
			if abortErr := s.store.AbortMultipart(ctx, key, session.MultipartUploadID); abortErr != nil {
				s.logger.LogWarn("failed to abort multipart upload", map[string]interface{}{
					"videoId": videoID,
					"error":   abortErr.Error(),
				})
			}
		}
	}

	if removed, err := s.jobs.RemoveByGroup(ctx, videoID); err != nil {
		s.logger.LogWarn("failed to remove queued jobs", map[string]interface{}{
			"videoId": videoID,
			"error":   err.Error(),
		})
	} else if removed > 0 {
		s.logger.LogInfo("removed queued jobs for cancelled upload", map[string]interface{}{
			"videoId": videoID,
			"removed": removed,
		})
	}

	now := s.now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := Transition(tx, v, StatusCancelled, map[string]interface{}{
			"cancelled_at": now,
		}); err != nil {
			return err
		}
		return tx.Model(session).Update("status", SessionFailed).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel upload: %w", err)
	}
	v.CancelledAt = &now
	s.publisher.PublishStatus(ctx, v.ID, StatusCancelled, "")
	return v, nil
}

// Retry re-queues processing for a failed video at high priority and counts
// the attempt. Checksum validation is re-queued too when a manifest was
// recorded but never passed. Queue-level retries of a single job do not
// touch the counter; only this endpoint does.
func (s *Service) Retry(ctx context.Context, videoID string) (*Video, error) {
	v, err := s.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusFailed {
		return nil, ErrConflict
	}
	if v.ProcessingAttempts >= MaxProcessingAttempts {
		return nil, apperrors.NewProcessingError(
			fmt.Sprintf("video has exhausted its %d processing attempts", MaxProcessingAttempts), nil)
	}
	if v.SourceURL == "" {
		return nil, apperrors.NewValidationError("videoId", "video has no recorded source to reprocess")
	}

	if err := Transition(s.db, v, StatusProcessing, map[string]interface{}{
		"last_error":          "",
		"processing_attempts": gorm.Expr("processing_attempts + 1"),
	}); err != nil {
		return nil, fmt.Errorf("failed to reset video for retry: %w", err)
	}
	v.LastError = ""
	v.ProcessingAttempts++

	if parts := v.PartChecksums.Data; len(parts) > 0 && v.ChecksumValidatedAt == nil {
		vjob, err := NewValidateJob(v.ID, v.SourceURL, parts, s.config.PartSize)
		if err != nil {
			return nil, fmt.Errorf("failed to build validation job: %w", err)
		}
		if _, err := s.jobs.Enqueue(ctx, vjob); err != nil {
			return nil, apperrors.NewProcessingError("failed to enqueue checksum validation", err)
		}
	}

	job, err := NewTranscodeJob(v.ID, v.SourceURL, queue.PriorityHigh)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcode job: %w", err)
	}
	if _, err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, apperrors.NewProcessingError("failed to enqueue transcode", err)
	}
	s.publisher.PublishStatus(ctx, v.ID, StatusProcessing, "")
	return v, nil
}

// Get returns a video by ID, excluding soft-deleted records
func (s *Service) Get(ctx context.Context, videoID string) (*Video, error) {
	var v Video
	err := s.db.Where("id = ? AND status <> ?", videoID, StatusDeleted).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load video: %w", err)
	}
	return &v, nil
}

// GetDetail returns a video together with its manifest document. The
// manifest is only present once processing has finished; a store failure
// degrades to the bare record rather than failing the request.
func (s *Service) GetDetail(ctx context.Context, videoID string) (*DetailResponse, error) {
	v, err := s.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	detail := &DetailResponse{Video: v}
	if v.Status == StatusReady && v.ManifestURL != "" {
		var manifest json.RawMessage
		if err := s.store.GetJSON(ctx, storage.ManifestKey(v.ID), &manifest); err != nil {
			s.logger.LogWarn("failed to load manifest document", map[string]interface{}{
				"videoId": v.ID,
				"error":   err.Error(),
			})
		} else {
			detail.Manifest = manifest
		}
	}
	return detail, nil
}

// GetStatus returns the polling view of one video
func (s *Service) GetStatus(ctx context.Context, videoID string) (*StatusResponse, error) {
	v, err := s.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{
		VideoID:     v.ID,
		Title:       v.Title,
		Status:      v.Status,
		LastError:   v.LastError,
		Attempts:    v.ProcessingAttempts,
		ManifestURL: v.ManifestURL,
		ProcessedAt: v.ProcessedAt,
	}, nil
}

// List pages videos newest first, optionally filtered by status
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	q := s.db.Model(&Video{}).Where("status <> ?", StatusDeleted)
	if opts.Status != "" {
		if !opts.Status.IsValid() {
			return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown status %q", opts.Status))
		}
		q = q.Where("status = ?", opts.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count videos: %w", err)
	}
	var videos []Video
	if err := q.Order("created_at DESC").Limit(opts.Limit).Offset(opts.Offset).Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	return &ListResponse{Videos: videos, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// Delete soft-deletes a video. Queued jobs are removed and the stored
// source object is deleted best effort.
func (s *Service) Delete(ctx context.Context, videoID string) error {
	v, err := s.Get(ctx, videoID)
	if err != nil {
		return err
	}

	if _, err := s.jobs.RemoveByGroup(ctx, videoID); err != nil {
		s.logger.LogWarn("failed to remove queued jobs", map[string]interface{}{
			"videoId": videoID,
			"error":   err.Error(),
		})
	}

	now := s.now()
	if err := Transition(s.db, v, StatusDeleted, map[string]interface{}{
		"deleted_at": now,
	}); err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}

	if key, parseErr := storage.ParseSourceURL(v.SourceURL, s.bucket); parseErr == nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.LogWarn("failed to delete source object", map[string]interface{}{
				"videoId": videoID,
				"error":   delErr.Error(),
			})
		}
	}

	s.publisher.PublishStatus(ctx, videoID, StatusDeleted, "")
	return nil
}

func (s *Service) loadUpload(videoID string) (*Video, *UploadSession, error) {
	var v Video
	err := s.db.Where("id = ? AND status <> ?", videoID, StatusDeleted).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load video: %w", err)
	}

	var session UploadSession
	err = s.db.Where("video_id = ?", videoID).Order("created_at DESC").First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load upload session: %w", err)
	}
	return &v, &session, nil
}
