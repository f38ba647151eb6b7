package video

import (
	"time"

	"gorm.io/gorm"
)

// Status represents the lifecycle state of a video
type Status string

const (
	StatusPendingUpload Status = "pending_upload"
	StatusUploading     Status = "uploading"
	StatusProcessing    Status = "processing"
	StatusReady         Status = "ready"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
	StatusDeleted       Status = "deleted"
)

// IsValid checks if the status is a valid video status
func (s Status) IsValid() bool {
	switch s {
	case StatusPendingUpload, StatusUploading, StatusProcessing, StatusReady,
		StatusFailed, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows a transition.
// `deleted` is absorbing and reachable from every non-deleted state;
// `cancelled` only while the upload is still in flight; `failed` returns to
// `processing` through an explicit retry.
func (s Status) CanTransitionTo(next Status) bool {
	if s == StatusDeleted {
		return false
	}
	if next == StatusDeleted {
		return true
	}
	switch s {
	case StatusPendingUpload:
		return next == StatusUploading || next == StatusProcessing ||
			next == StatusCancelled || next == StatusFailed
	case StatusUploading:
		return next == StatusProcessing || next == StatusCancelled || next == StatusFailed
	case StatusProcessing:
		return next == StatusReady || next == StatusFailed
	case StatusFailed:
		return next == StatusProcessing
	case StatusReady, StatusCancelled:
		return false
	}
	return false
}

// Transition applies a guarded status change together with any extra column
// updates, refusing edges the state machine does not allow. Writing the
// current status again is a no-op edge and always passes.
func Transition(tx *gorm.DB, v *Video, next Status, extra map[string]interface{}) error {
	if next != v.Status && !v.Status.CanTransitionTo(next) {
		return ErrConflict
	}
	updates := map[string]interface{}{"status": next}
	for k, val := range extra {
		updates[k] = val
	}
	if err := tx.Model(v).Updates(updates).Error; err != nil {
		return err
	}
	v.Status = next
	return nil
}

// MaxProcessingAttempts bounds video-level retries
const MaxProcessingAttempts = 3

// PartChecksum is one entry of the client-submitted checksum manifest
type PartChecksum struct {
	PartNumber int    `json:"partNumber"`
	Checksum   string `json:"checksum"`
	Size       int64  `json:"size"`
}

// UploadedPart records the entity tag the store returned for one part
type UploadedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"eTag"`
}

// ThumbnailInfo describes the periodic thumbnails of a processed video
type ThumbnailInfo struct {
	Pattern  string `json:"pattern,omitempty"`
	Interval int    `json:"interval,omitempty"`
}

// Video is the durable aggregate for one media asset
type Video struct {
	ID     string `gorm:"primaryKey" json:"id"`
	Title  string `gorm:"not null" json:"title"`
	Status Status `gorm:"type:string;not null;default:'pending_upload';index" json:"status"`

	SourceURL  string `gorm:"not null" json:"sourceUrl"`
	SourceSize int64  `gorm:"not null" json:"sourceSize"`
	Priority   int    `gorm:"default:5" json:"priority"`

	PartChecksums       JSONColumn[[]PartChecksum] `gorm:"type:text" json:"partChecksums,omitempty"`
	ChecksumValidatedAt *time.Time                 `json:"checksumValidatedAt,omitempty"`

	ManifestURL string                     `json:"manifestUrl,omitempty"`
	Thumbnails  JSONColumn[*ThumbnailInfo] `gorm:"type:text" json:"thumbnails,omitempty"`

	Duration float64 `json:"duration,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Codec    string  `json:"codec,omitempty"`
	Bitrate  int     `json:"bitrate,omitempty"`
	Fps      int     `json:"fps,omitempty"`

	ProcessingAttempts int    `gorm:"default:0" json:"processingAttempts"`
	LastError          string `json:"lastError,omitempty"`

	CreatedAt   time.Time  `gorm:"not null;index" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updatedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	DeletedAt   *time.Time `gorm:"index" json:"deletedAt,omitempty"`
}

// BeforeCreate hook to default the status before saving
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.Status == "" {
		v.Status = StatusPendingUpload
	}
	return nil
}

// Segment is one media chunk of one quality rendition. Rows are written in
// one batch insert per completed transcode, never individually.
type Segment struct {
	VideoID  string  `gorm:"primaryKey" json:"videoId"`
	Idx      int     `gorm:"primaryKey;autoIncrement:false" json:"idx"`
	URL      string  `gorm:"not null" json:"url"`
	Start    float64 `gorm:"not null" json:"start"`
	Duration float64 `gorm:"not null" json:"duration"`
	Size     int64   `json:"size,omitempty"`
	Keyframe bool    `gorm:"default:false" json:"keyframe"`
}

// UploadSessionStatus represents the status of a multipart upload session
type UploadSessionStatus string

const (
	SessionActive    UploadSessionStatus = "active"
	SessionCompleted UploadSessionStatus = "completed"
	SessionFailed    UploadSessionStatus = "failed"
	SessionExpired   UploadSessionStatus = "expired"
)

// UploadSession is the server-resident record of one multipart transfer
type UploadSession struct {
	ID                string                     `gorm:"primaryKey" json:"id"`
	VideoID           string                     `gorm:"not null;index" json:"videoId"`
	MultipartUploadID string                     `json:"multipartUploadId,omitempty"`
	TotalParts        int                        `json:"totalParts,omitempty"`
	UploadedParts     JSONColumn[[]UploadedPart] `gorm:"type:text" json:"uploadedParts,omitempty"`
	Status            UploadSessionStatus        `gorm:"type:string;not null;default:'active';index" json:"status"`
	ExpiresAt         time.Time                  `gorm:"not null;index" json:"expiresAt"`
	CreatedAt         time.Time                  `gorm:"not null" json:"createdAt"`
	CompletedAt       *time.Time                 `json:"completedAt,omitempty"`
}
