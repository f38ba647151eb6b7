package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/streamforge/backend/internal/logger"
)

// FFmpeg wraps the ffmpeg and ffprobe binaries
type FFmpeg struct {
	config *Config
	logger logger.Logger
}

// Fallback resolution when the probe reports no usable video dimensions
const (
	defaultProbeWidth  = 1920
	defaultProbeHeight = 1080
)

// NewFFmpeg creates a new encoder wrapper
func NewFFmpeg(config *Config, log logger.Logger) *FFmpeg {
	return &FFmpeg{config: config, logger: log}
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// Probe extracts metadata from a media file
func (f *FFmpeg) Probe(ctx context.Context, filePath string) (*VideoMetadata, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", filePath)
	}

	cmd := exec.CommandContext(ctx, f.config.ProbePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	output, err := cmd.Output()
	if err != nil {
		f.logger.LogError(err, fmt.Sprintf("ffprobe failed: path=%s", filePath))
		return nil, fmt.Errorf("failed to probe media file: %w", err)
	}

	meta, defaulted, err := parseProbeOutput(output)
	if err != nil {
		return nil, err
	}
	if defaulted {
		f.logger.LogWarn("probe reported no video dimensions, using defaults", map[string]interface{}{
			"path":   filePath,
			"width":  defaultProbeWidth,
			"height": defaultProbeHeight,
		})
	}
	return meta, nil
}

// parseProbeOutput maps ffprobe JSON to metadata. Audio-only files and
// files whose video stream reports no dimensions fall back to 1080p so the
// ladder still has something to rank against; defaulted reports when that
// happened.
func parseProbeOutput(output []byte) (meta *VideoMetadata, defaulted bool, err error) {
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, false, fmt.Errorf("failed to parse probe output: %w", err)
	}

	meta = &VideoMetadata{}
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			meta.Duration = d
		}
	}
	if probe.Format.BitRate != "" {
		if br, err := strconv.Atoi(probe.Format.BitRate); err == nil {
			meta.Bitrate = br
		}
	}
	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		meta.Width = stream.Width
		meta.Height = stream.Height
		meta.Codec = stream.CodecName
		meta.Fps = parseFrameRate(stream.AvgFrameRate)
		break
	}
	if meta.Width == 0 || meta.Height == 0 {
		meta.Width = defaultProbeWidth
		meta.Height = defaultProbeHeight
		defaulted = true
	}
	return meta, defaulted, nil
}

// parseFrameRate converts ffprobe's "num/den" rational to rounded fps
func parseFrameRate(rate string) int {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return int(num/den + 0.5)
}

// EncodeInitSegment writes the fragmented MP4 initialization segment for one
// quality. A near-zero duration keeps the output to the moov header; the
// actual media lands in the numbered segments.
func (f *FFmpeg) EncodeInitSegment(ctx context.Context, inputPath, outputPath string, q Quality) error {
	args := []string{
		"-y",
		"-i", inputPath,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-c:v", "libx264",
		"-preset", f.config.Preset,
		"-crf", strconv.Itoa(f.config.CRF),
		"-b:v", q.Bitrate,
		"-vf", scaleFilter(q.Height),
		"-c:a", "aac",
		"-b:a", q.AudioBitrate,
		"-movflags", "empty_moov+default_base_moof",
		"-t", "0.1",
		outputPath,
	}
	return f.run(ctx, args)
}

// EncodeSegments transcodes one quality into numbered 4-second media
// segments under outputDir, named seg_<n>.m4s starting at 1
func (f *FFmpeg) EncodeSegments(ctx context.Context, inputPath, outputDir string, q Quality) error {
	gop := f.config.SegmentSeconds * 12
	args := []string{
		"-y",
		"-i", inputPath,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-c:v", "libx264",
		"-preset", f.config.Preset,
		"-crf", strconv.Itoa(f.config.CRF),
		"-b:v", q.Bitrate,
		"-vf", scaleFilter(q.Height),
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", q.AudioBitrate,
		"-f", "segment",
		"-segment_time", strconv.Itoa(f.config.SegmentSeconds),
		"-segment_format_options", "movflags=frag_keyframe+empty_moov+default_base_moof",
		"-reset_timestamps", "1",
		"-segment_start_number", "1",
		filepath.Join(outputDir, "seg_%d.m4s"),
	}
	return f.run(ctx, args)
}

// Thumbnails extracts one JPEG every interval seconds, numbered from 1
func (f *FFmpeg) Thumbnails(ctx context.Context, inputPath, outputDir string) error {
	args := []string{
		"-y",
		"-i", inputPath,
		"-vf", fmt.Sprintf("fps=1/%d,scale=320:-1", f.config.ThumbnailInterval),
		"-q:v", "2",
		filepath.Join(outputDir, "thumb_%03d.jpg"),
	}
	return f.run(ctx, args)
}

// scaleFilter scales to the target height, keeping aspect and an even width
func scaleFilter(height int) string {
	return fmt.Sprintf("scale=-2:%d", height)
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.config.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > 2048 {
			tail = tail[len(tail)-2048:]
		}
		f.logger.LogError(err, fmt.Sprintf("ffmpeg failed: %s", tail))
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail)
	}
	return nil
}
