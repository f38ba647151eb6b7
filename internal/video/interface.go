package video

import (
	"context"
	"time"

	"github.com/streamforge/backend/internal/queue"
	"github.com/streamforge/backend/internal/storage"
)

// Orchestrator drives the upload lifecycle and hands finished uploads to
// the processing queue
type Orchestrator interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	RefreshURLs(ctx context.Context, videoID string) (*RefreshURLsResponse, error)
	RecordChecksums(ctx context.Context, videoID string, req ChecksumsRequest) error
	Complete(ctx context.Context, videoID string, req CompleteRequest) (*Video, error)
	Abort(ctx context.Context, videoID string) (*Video, error)
	Retry(ctx context.Context, videoID string) (*Video, error)
	Get(ctx context.Context, videoID string) (*Video, error)
	GetDetail(ctx context.Context, videoID string) (*DetailResponse, error)
	GetStatus(ctx context.Context, videoID string) (*StatusResponse, error)
	List(ctx context.Context, opts ListOptions) (*ListResponse, error)
	Delete(ctx context.Context, videoID string) error
}

// ObjectStore is the slice of the storage service the orchestrator needs
type ObjectStore interface {
	SignPut(ctx context.Context, key, contentType, checksumSHA256 string, ttl time.Duration) (string, error)
	CreateMultipart(ctx context.Context, key, contentType string) (string, error)
	SignPartPut(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) error
	AbortMultipart(ctx context.Context, key, uploadID string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	GetJSON(ctx context.Context, key string, out interface{}) error
}

// JobQueue is the slice of the queue the orchestrator needs
type JobQueue interface {
	Enqueue(ctx context.Context, job *queue.Job) (bool, error)
	RemoveByGroup(ctx context.Context, groupID string) (int, error)
}

// StatusPublisher fans out authoritative status transitions
type StatusPublisher interface {
	PublishStatus(ctx context.Context, videoID string, status Status, errMsg string)
}
