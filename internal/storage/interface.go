package storage

import (
	"context"
	"io"
	"time"
)

// Service defines the narrow object store surface the rest of the system uses.
// Every URL it returns is pre-authorized and time limited.
type Service interface {
	SignPut(ctx context.Context, key, contentType string, checksumSHA256 string, ttl time.Duration) (string, error)
	SignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	PutBuffer(ctx context.Context, key string, data []byte, contentType string) error
	GetJSON(ctx context.Context, key string, out interface{}) error
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
	Download(ctx context.Context, key, localPath string) error
	Upload(ctx context.Context, key, localPath, contentType string) error

	CreateMultipart(ctx context.Context, key, contentType string) (string, error)
	SignPartPut(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipart(ctx context.Context, key, uploadID string) error
}
