package uploader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager drives one resumable transfer at a time. Pause stops the loop at
// the next part boundary; Cancel aborts immediately, including a part PUT
// already in flight.
type Manager struct {
	client *Client
	store  *Store
	http   *http.Client
	opts   Options
	log    *logrus.Logger

	paused atomic.Bool

	mu         sync.Mutex
	cancelRun  context.CancelFunc
	activePath string
}

// NewManager creates a transfer manager
func NewManager(client *Client, store *Store, opts *Options, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		client: client,
		store:  store,
		http:   &http.Client{Timeout: 5 * time.Minute},
		opts:   opts.withDefaults(),
		log:    log,
	}
}

// Start begins a new transfer for a local file. If a resumable record for
// the same path already exists it is resumed instead of starting over.
func (m *Manager) Start(ctx context.Context, filePath, title, priority string) (*SessionRecord, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	if rec, err := m.store.Load(absPath); err == nil && !rec.State.Terminal() {
		m.log.WithField("videoId", rec.VideoID).Info("Resuming existing session")
		return m.resume(ctx, rec)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", absPath)
	}

	// best effort: the whole-file checksum is advisory, a failure to
	// compute it must not block the transfer
	fileChecksum, err := hashFile(absPath)
	if err != nil {
		m.log.WithError(err).Warn("Failed to checksum file, continuing without")
		fileChecksum = ""
	}

	contentType := mime.TypeByExtension(filepath.Ext(absPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	plan, err := m.client.Initiate(ctx, InitiateRequest{
		Title:       title,
		Filename:    filepath.Base(absPath),
		Size:        info.Size(),
		ContentType: contentType,
		Checksum:    fileChecksum,
		Priority:    priority,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initiate upload: %w", err)
	}

	rec := &SessionRecord{
		VideoID:      plan.VideoID,
		SessionID:    plan.SessionID,
		FilePath:     absPath,
		Title:        title,
		Size:         info.Size(),
		ContentType:  contentType,
		Mode:         plan.Mode,
		UploadURL:    plan.UploadURL,
		PartSize:     plan.PartSize,
		TotalParts:   plan.TotalParts,
		PartURLs:     partURLMap(plan.PartURLs),
		ETags:        make(map[int]string),
		FileChecksum: fileChecksum,
		State:        StateActive,
		ExpiresAt:    plan.ExpiresAt,
		CreatedAt:    time.Now(),
	}
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"videoId": rec.VideoID,
		"mode":    rec.Mode,
		"size":    rec.Size,
		"parts":   rec.TotalParts,
	}).Info("Upload session created")

	return m.run(ctx, rec)
}

// Resume continues an interrupted transfer for a local file
func (m *Manager) Resume(ctx context.Context, filePath string) (*SessionRecord, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	rec, err := m.store.Load(absPath)
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		return nil, fmt.Errorf("session for %s already %s", absPath, rec.State)
	}
	return m.resume(ctx, rec)
}

func (m *Manager) resume(ctx context.Context, rec *SessionRecord) (*SessionRecord, error) {
	rec.State = StateActive
	rec.LastError = ""
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}
	return m.run(ctx, rec)
}

// Pause requests a stop at the next part boundary. The in-flight part
// finishes and is recorded before the loop returns ErrPaused.
func (m *Manager) Pause() {
	m.paused.Store(true)
}

// Cancel aborts the transfer immediately and tells the control plane to
// abandon the upload
func (m *Manager) Cancel(ctx context.Context, filePath string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	m.mu.Lock()
	if m.activePath == absPath && m.cancelRun != nil {
		m.cancelRun()
	}
	m.mu.Unlock()

	rec, err := m.store.Load(absPath)
	if err != nil {
		return err
	}
	if rec.State.Terminal() {
		return fmt.Errorf("session for %s already %s", absPath, rec.State)
	}

	if err := m.client.Abort(ctx, rec.VideoID); err != nil {
		m.log.WithError(err).Warn("Failed to abort upload server side")
	}
	rec.State = StateCancelled
	return m.store.Save(rec)
}

func (m *Manager) run(parent context.Context, rec *SessionRecord) (*SessionRecord, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m.mu.Lock()
	m.cancelRun = cancel
	m.activePath = rec.FilePath
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelRun = nil
		m.activePath = ""
		m.mu.Unlock()
	}()

	m.paused.Store(false)

	var err error
	if rec.Mode == "multipart" {
		err = m.runMultipart(ctx, rec)
	} else {
		err = m.runSingle(ctx, rec)
	}

	switch {
	case err == nil:
		rec.State = StateCompleted
	case err == ErrPaused:
		rec.State = StatePaused
	case ctx.Err() != nil:
		// cancelled mid flight; Cancel already persisted the state
		return rec, ctx.Err()
	default:
		rec.State = StateFailed
		rec.LastError = err.Error()
	}
	if saveErr := m.store.Save(rec); saveErr != nil {
		m.log.WithError(saveErr).Warn("Failed to persist session record")
	}
	return rec, err
}

func (m *Manager) runSingle(ctx context.Context, rec *SessionRecord) error {
	file, err := os.Open(rec.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind file: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, rec.UploadURL, file)
		if err != nil {
			return fmt.Errorf("failed to build upload request: %w", err)
		}
		req.ContentLength = rec.Size
		req.Header.Set("Content-Type", rec.ContentType)
		if rec.FileChecksum != "" {
			req.Header.Set("x-amz-checksum-sha256", rec.FileChecksum)
		}

		resp, err := m.http.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return m.client.Complete(ctx, rec.VideoID, nil)
			}
			lastErr = fmt.Errorf("upload rejected with status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < m.opts.MaxAttempts {
			m.backoff(ctx, attempt)
		}
	}
	return fmt.Errorf("upload failed after %d attempts: %w", m.opts.MaxAttempts, lastErr)
}

func (m *Manager) runMultipart(ctx context.Context, rec *SessionRecord) error {
	file, err := os.Open(rec.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, rec.PartSize)
	for n := 1; n <= rec.TotalParts; n++ {
		if _, done := rec.ETags[n]; done {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.paused.Load() {
			m.log.WithFields(logrus.Fields{
				"videoId":  rec.VideoID,
				"uploaded": rec.UploadedCount(),
				"total":    rec.TotalParts,
			}).Info("Transfer paused")
			return ErrPaused
		}

		offset := int64(n-1) * rec.PartSize
		size, err := file.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read part %d: %w", n, err)
		}
		chunk := buf[:size]

		m.recordChecksum(rec, n, chunk)

		etag, err := m.uploadPart(ctx, rec, n, chunk)
		if err != nil {
			return err
		}
		rec.ETags[n] = etag
		if err := m.store.Save(rec); err != nil {
			return err
		}
		if m.opts.OnProgress != nil {
			m.opts.OnProgress(rec.UploadedCount(), rec.TotalParts)
		}
	}

	if err := m.client.RecordChecksums(ctx, rec.VideoID, rec.Checksums); err != nil {
		return fmt.Errorf("failed to record checksums: %w", err)
	}

	parts := make([]UploadedPart, 0, len(rec.ETags))
	for n, etag := range rec.ETags {
		parts = append(parts, UploadedPart{PartNumber: n, ETag: etag})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	if err := m.client.Complete(ctx, rec.VideoID, parts); err != nil {
		return fmt.Errorf("failed to complete upload: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"videoId": rec.VideoID,
		"parts":   len(parts),
	}).Info("Upload completed")
	return nil
}

func (m *Manager) recordChecksum(rec *SessionRecord, partNumber int, chunk []byte) {
	for _, c := range rec.Checksums {
		if c.PartNumber == partNumber {
			return
		}
	}
	sum := sha256.Sum256(chunk)
	rec.Checksums = append(rec.Checksums, PartChecksum{
		PartNumber: partNumber,
		Checksum:   base64.StdEncoding.EncodeToString(sum[:]),
		Size:       int64(len(chunk)),
	})
	sort.Slice(rec.Checksums, func(i, j int) bool {
		return rec.Checksums[i].PartNumber < rec.Checksums[j].PartNumber
	})
}

// uploadPart PUTs one chunk to its signed URL. A denied or locally expired
// URL triggers a refresh before the next attempt. The store must return an
// entity tag; a missing tag fails the attempt rather than completing with
// an unverifiable part.
func (m *Manager) uploadPart(ctx context.Context, rec *SessionRecord, partNumber int, chunk []byte) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		if time.Now().After(rec.ExpiresAt) {
			if err := m.refreshURLs(ctx, rec); err != nil {
				return "", err
			}
		}

		etag, retryable, err := m.putChunk(ctx, rec.PartURLs[partNumber], chunk)
		if err == nil {
			return etag, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !retryable {
			break
		}
		if isDenied(err) {
			if refreshErr := m.refreshURLs(ctx, rec); refreshErr != nil {
				return "", refreshErr
			}
		}
		if attempt < m.opts.MaxAttempts {
			m.log.WithFields(logrus.Fields{
				"videoId": rec.VideoID,
				"part":    partNumber,
				"attempt": attempt,
				"error":   err.Error(),
			}).Warn("Part upload failed, retrying")
			m.backoff(ctx, attempt)
		}
	}
	return "", fmt.Errorf("part %d failed after %d attempts: %w", partNumber, m.opts.MaxAttempts, lastErr)
}

type deniedError struct{ status int }

func (e *deniedError) Error() string {
	return fmt.Sprintf("store denied request with status %d", e.status)
}

func isDenied(err error) bool {
	_, ok := err.(*deniedError)
	return ok
}

func (m *Manager) putChunk(ctx context.Context, url string, chunk []byte) (etag string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(chunk))
	if err != nil {
		return "", false, fmt.Errorf("failed to build part request: %w", err)
	}
	req.ContentLength = int64(len(chunk))

	resp, err := m.http.Do(req)
	if err != nil {
		return "", true, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		etag := trimETag(resp.Header.Get("ETag"))
		if etag == "" {
			return "", true, fmt.Errorf("store returned no entity tag")
		}
		return etag, false, nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return "", true, &deniedError{status: resp.StatusCode}
	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("store failed with status %d", resp.StatusCode)
	default:
		return "", false, fmt.Errorf("store rejected part with status %d", resp.StatusCode)
	}
}

func (m *Manager) refreshURLs(ctx context.Context, rec *SessionRecord) error {
	if rec.UploadedCount() == rec.TotalParts {
		return nil
	}

	resp, err := m.client.RefreshURLs(ctx, rec.VideoID)
	if err != nil {
		return fmt.Errorf("failed to refresh part urls: %w", err)
	}
	for _, p := range resp.PartURLs {
		rec.PartURLs[p.PartNumber] = p.URL
	}
	rec.ExpiresAt = resp.ExpiresAt
	return m.store.Save(rec)
}

// backoff waits attempt * RetryDelay, returning early on cancellation
func (m *Manager) backoff(ctx context.Context, attempt int) {
	t := time.NewTimer(time.Duration(attempt) * m.opts.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func trimETag(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}
	return etag
}

func partURLMap(urls []PartURL) map[int]string {
	out := make(map[int]string, len(urls))
	for _, u := range urls {
		out[u.PartNumber] = u.URL
	}
	return out
}

var hashFile = func(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
