package storage

import (
	"fmt"
	"path"
	"strings"
)

// Key scheme for every object one video owns. Keys are deterministic per
// video so retried jobs overwrite rather than duplicate.

// SourceKey returns the object key for a video's uploaded source file
func SourceKey(videoID, filename string) string {
	return fmt.Sprintf("sources/%s/%s", videoID, path.Base(filename))
}

// ManifestKey returns the object key for a video's manifest document
func ManifestKey(videoID string) string {
	return fmt.Sprintf("processed/%s/manifest.json", videoID)
}

// InitSegmentKey returns the object key for one quality's initialization segment
func InitSegmentKey(videoID, quality string) string {
	return fmt.Sprintf("processed/%s/%s/init.mp4", videoID, quality)
}

// MediaSegmentKey returns the object key for one media segment of one quality
func MediaSegmentKey(videoID, quality string, seq int) string {
	return fmt.Sprintf("processed/%s/%s/seg_%d.m4s", videoID, quality, seq)
}

// ThumbnailKey returns the object key for one periodic thumbnail
func ThumbnailKey(videoID string, seq int) string {
	return fmt.Sprintf("processed/%s/thumbnails/thumb_%03d.jpg", videoID, seq)
}

// ProcessedKey returns the object key for any other processed artifact
func ProcessedKey(videoID, relPath string) string {
	return fmt.Sprintf("processed/%s/%s", videoID, relPath)
}

// SourceURL renders the canonical s3:// location stored on the video record
func SourceURL(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// ParseSourceURL extracts the object key from an s3://bucket/key location
func ParseSourceURL(sourceURL, bucket string) (string, error) {
	prefix := fmt.Sprintf("s3://%s/", bucket)
	if !strings.HasPrefix(sourceURL, prefix) {
		return "", fmt.Errorf("source url %q is not in bucket %q", sourceURL, bucket)
	}
	key := strings.TrimPrefix(sourceURL, prefix)
	if key == "" {
		return "", fmt.Errorf("source url %q has no object key", sourceURL)
	}
	return key, nil
}
