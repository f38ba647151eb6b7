package uploader

import (
	"errors"
	"time"
)

// SessionState is the client-side lifecycle of one transfer
type SessionState string

const (
	StateActive    SessionState = "active"
	StatePaused    SessionState = "paused"
	StateCompleted SessionState = "completed"
	StateCancelled SessionState = "cancelled"
	StateFailed    SessionState = "failed"
)

// Terminal reports whether the state can never progress again
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// ErrPaused is returned when a transfer stops at a part boundary because
// Pause was requested
var ErrPaused = errors.New("transfer paused")

// recordVersion guards against loading records written by an incompatible
// build
const recordVersion = 1

// PartChecksum mirrors the checksum manifest entry on the wire
type PartChecksum struct {
	PartNumber int    `json:"partNumber"`
	Checksum   string `json:"checksum"`
	Size       int64  `json:"size"`
}

// UploadedPart mirrors the completion entry on the wire
type UploadedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"eTag"`
}

// SessionRecord is the durable state of one transfer, persisted after every
// part so an interrupted process can resume where it stopped
type SessionRecord struct {
	Version   int    `json:"version"`
	VideoID   string `json:"videoId"`
	SessionID string `json:"sessionId"`

	FilePath    string `json:"filePath"`
	Title       string `json:"title"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`

	Mode       string         `json:"mode"`
	UploadURL  string         `json:"uploadUrl,omitempty"`
	PartSize   int64          `json:"partSize,omitempty"`
	TotalParts int            `json:"totalParts,omitempty"`
	PartURLs   map[int]string `json:"partUrls,omitempty"`

	ETags        map[int]string `json:"eTags,omitempty"`
	Checksums    []PartChecksum `json:"checksums,omitempty"`
	FileChecksum string         `json:"fileChecksum,omitempty"`

	State     SessionState `json:"state"`
	LastError string       `json:"lastError,omitempty"`
	ExpiresAt time.Time    `json:"expiresAt"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// UploadedCount reports how many parts have completed
func (r *SessionRecord) UploadedCount() int {
	return len(r.ETags)
}

// Options configures the transfer manager
type Options struct {
	// MaxAttempts bounds retries per part, including the first try
	MaxAttempts int
	// RetryDelay is the base of the linear backoff between part attempts
	RetryDelay time.Duration
	// OnProgress, when set, is called after every completed part
	OnProgress func(uploaded, total int)
}

func (o *Options) withDefaults() Options {
	out := Options{MaxAttempts: 3, RetryDelay: time.Second}
	if o != nil {
		if o.MaxAttempts > 0 {
			out.MaxAttempts = o.MaxAttempts
		}
		if o.RetryDelay > 0 {
			out.RetryDelay = o.RetryDelay
		}
		out.OnProgress = o.OnProgress
	}
	return out
}
