package video

import (
	"encoding/json"

	"github.com/streamforge/backend/internal/queue"
)

// Job kinds dispatched to the processing worker pool
const (
	JobKindTranscode = "transcode"
	JobKindValidate  = "validate-checksums"
)

// TranscodePayload is the payload of a transcode job
type TranscodePayload struct {
	VideoID   string `json:"videoId"`
	SourceURL string `json:"sourceUrl"`
}

// ValidatePayload is the payload of a checksum validation job
type ValidatePayload struct {
	VideoID   string         `json:"videoId"`
	SourceURL string         `json:"sourceUrl"`
	Parts     []PartChecksum `json:"parts"`
	PartSize  int64          `json:"partSize"`
}

// NewTranscodeJob builds a transcode job. The job ID is the video ID so a
// second submission for the same video is dropped while one is pending.
func NewTranscodeJob(videoID, sourceURL string, priority int) (*queue.Job, error) {
	payload, err := json.Marshal(TranscodePayload{VideoID: videoID, SourceURL: sourceURL})
	if err != nil {
		return nil, err
	}
	return &queue.Job{
		ID:       videoID,
		Kind:     JobKindTranscode,
		GroupID:  videoID,
		Payload:  payload,
		Priority: priority,
	}, nil
}

// NewValidateJob builds a checksum validation job
func NewValidateJob(videoID, sourceURL string, parts []PartChecksum, partSize int64) (*queue.Job, error) {
	payload, err := json.Marshal(ValidatePayload{
		VideoID:   videoID,
		SourceURL: sourceURL,
		Parts:     parts,
		PartSize:  partSize,
	})
	if err != nil {
		return nil, err
	}
	return &queue.Job{
		ID:       "validate:" + videoID,
		Kind:     JobKindValidate,
		GroupID:  videoID,
		Payload:  payload,
		Priority: queue.PriorityLow,
	}, nil
}
