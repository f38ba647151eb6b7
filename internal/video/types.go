package video

import (
	"encoding/json"
	"time"
)

// Config holds the upload planning limits
type Config struct {
	MaxFileSize        int64         `mapstructure:"maxFileSize"`
	MultipartThreshold int64         `mapstructure:"multipartThreshold"`
	PartSize           int64         `mapstructure:"partSize"`
	MaxParts           int           `mapstructure:"maxParts"`
	URLTTL             time.Duration `mapstructure:"urlTTL"`
}

// UploadMode selects the transfer plan for one upload
type UploadMode string

const (
	UploadModeSingle    UploadMode = "single"
	UploadModeMultipart UploadMode = "multipart"
)

// InitiateRequest is the body of POST /uploads
type InitiateRequest struct {
	Title       string `json:"title" binding:"required"`
	Filename    string `json:"filename" binding:"required"`
	Size        int64  `json:"size" binding:"required"`
	ContentType string `json:"contentType"`
	Checksum    string `json:"checksum,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// PartURL is one signed part upload target
type PartURL struct {
	PartNumber int    `json:"partNumber"`
	URL        string `json:"url"`
}

// InitiateResponse describes the transfer plan handed back to the client
type InitiateResponse struct {
	VideoID   string     `json:"videoId"`
	SessionID string     `json:"sessionId,omitempty"`
	Mode      UploadMode `json:"mode"`

	// single mode
	UploadURL string `json:"uploadUrl,omitempty"`

	// multipart mode
	PartSize   int64     `json:"partSize,omitempty"`
	TotalParts int       `json:"totalParts,omitempty"`
	PartURLs   []PartURL `json:"partUrls,omitempty"`

	ExpiresAt time.Time `json:"expiresAt"`
}

// RefreshURLsResponse carries the full set of re-signed part URLs
type RefreshURLsResponse struct {
	PartURLs  []PartURL `json:"partUrls"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChecksumsRequest submits part checksums before completion. Entries are
// merged into the video's manifest by part number, so the same part can be
// re-submitted after a retry.
type ChecksumsRequest struct {
	Parts []PartChecksum `json:"parts" binding:"required"`
}

// CompleteRequest finishes an upload. Parts is required for multipart
// transfers and must cover part numbers 1..totalParts with the entity tags
// the store returned.
type CompleteRequest struct {
	Parts []UploadedPart `json:"parts,omitempty"`
}

// DetailResponse is the detail view of one video. Once processing has
// finished it carries the manifest document alongside the record.
type DetailResponse struct {
	*Video
	Manifest json.RawMessage `json:"manifest,omitempty"`
}

// StatusResponse is the lightweight polling view of one video
type StatusResponse struct {
	VideoID     string     `json:"videoId"`
	Title       string     `json:"title"`
	Status      Status     `json:"status"`
	LastError   string     `json:"lastError,omitempty"`
	Attempts    int        `json:"attempts"`
	ManifestURL string     `json:"manifestUrl,omitempty"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// ListOptions filters and pages the video listing
type ListOptions struct {
	Status Status
	Limit  int
	Offset int
}

// ListResponse pages videos newest first
type ListResponse struct {
	Videos []Video `json:"videos"`
	Total  int64   `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}
