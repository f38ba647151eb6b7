package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Service implements the Service interface against an S3-compatible store
type S3Service struct {
	client *minio.Client
	core   *minio.Core
	bucket string
	logger Logger
}

// NewS3Service creates a new object store service instance
func NewS3Service(cfg *S3Config, logger Logger) (*S3Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %v", err)
	}

	return &S3Service{
		client: client,
		core:   &minio.Core{Client: client},
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// SignPut returns a pre-signed PUT URL for a whole-object upload. When a
// base64 SHA-256 checksum is supplied the store verifies it on receipt.
func (s *S3Service) SignPut(ctx context.Context, key, contentType, checksumSHA256 string, ttl time.Duration) (string, error) {
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	if checksumSHA256 != "" {
		headers.Set("x-amz-checksum-sha256", checksumSHA256)
	}

	u, err := s.client.PresignHeader(ctx, http.MethodPut, s.bucket, key, ttl, url.Values{}, headers)
	if err != nil {
		return "", fmt.Errorf("failed to presign PUT for %s: %v", key, err)
	}
	return u.String(), nil
}

// SignGet returns a pre-signed GET URL
func (s *S3Service) SignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign GET for %s: %v", key, err)
	}
	return u.String(), nil
}

// Exists reports whether an object is present
func (s *S3Service) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %v", key, err)
	}
	return true, nil
}

// Delete removes an object
func (s *S3Service) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %v", key, err)
	}
	return nil
}

// PutBuffer uploads an in-memory buffer
func (s *S3Service) PutBuffer(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %v", key, err)
	}
	return nil
}

// GetJSON fetches an object and decodes it as JSON
func (s *S3Service) GetJSON(ctx context.Context, key string, out interface{}) error {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to get %s: %v", key, err)
	}
	defer obj.Close()

	if err := json.NewDecoder(obj).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %v", key, err)
	}
	return nil
}

// GetRange streams the inclusive byte range [start, end] of an object
func (s *S3Service) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end); err != nil {
		return nil, fmt.Errorf("invalid byte range for %s: %v", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get range of %s: %v", key, err)
	}
	return obj, nil
}

// Download fetches an object to a local file
func (s *S3Service) Download(ctx context.Context, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %v", err)
	}
	if err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download %s: %v", key, err)
	}
	return nil
}

// Upload stores a local file under the given key
func (s *S3Service) Upload(ctx context.Context, key, localPath, contentType string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %v", key, err)
	}
	return nil
}

// CreateMultipart starts a multipart upload and returns its remote id
func (s *S3Service) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload for %s: %v", key, err)
	}
	return uploadID, nil
}

// SignPartPut returns a pre-signed PUT URL for one part of a multipart upload
func (s *S3Service) SignPartPut(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("uploadId", uploadID)
	params.Set("partNumber", strconv.Itoa(partNumber))

	u, err := s.client.Presign(ctx, http.MethodPut, s.bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign part %d for %s: %v", partNumber, key, err)
	}
	return u.String(), nil
}

// CompleteMultipart finalizes a multipart upload from its part tags
func (s *S3Service) CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completeParts = append(completeParts, minio.CompletePart{
			PartNumber: p.PartNumber,
			ETag:       p.ETag,
		})
	}

	_, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload for %s: %v", key, err)
	}
	return nil
}

// AbortMultipart abandons a multipart upload, discarding stored parts
func (s *S3Service) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := s.core.AbortMultipartUpload(ctx, s.bucket, key, uploadID); err != nil {
		return fmt.Errorf("failed to abort multipart upload for %s: %v", key, err)
	}
	return nil
}
