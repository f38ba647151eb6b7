package transcode

// Quality is one rung of the output ladder
type Quality struct {
	Name         string `mapstructure:"name" json:"name"`
	Height       int    `mapstructure:"height" json:"height"`
	Bitrate      string `mapstructure:"bitrate" json:"bitrate"`
	AudioBitrate string `mapstructure:"audioBitrate" json:"audioBitrate"`
}

// Config holds the encoder settings
type Config struct {
	Path              string    `mapstructure:"path"`
	ProbePath         string    `mapstructure:"probePath"`
	Preset            string    `mapstructure:"preset"`
	CRF               int       `mapstructure:"crf"`
	SegmentSeconds    int       `mapstructure:"segmentSeconds"`
	ThumbnailInterval int       `mapstructure:"thumbnailInterval"`
	Qualities         []Quality `mapstructure:"qualities"`
}

// DefaultQualities is the standard output ladder, smallest first
func DefaultQualities() []Quality {
	return []Quality{
		{Name: "360p", Height: 360, Bitrate: "800k", AudioBitrate: "96k"},
		{Name: "720p", Height: 720, Bitrate: "2500k", AudioBitrate: "128k"},
		{Name: "1080p", Height: 1080, Bitrate: "5000k", AudioBitrate: "192k"},
	}
}

// VideoMetadata is the probe summary recorded on the video
type VideoMetadata struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	Bitrate  int
	Fps      int
}

// Manifest is the playback document written alongside the processed
// renditions
type Manifest struct {
	VideoID    string             `json:"videoId"`
	Duration   float64            `json:"duration"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Qualities  []QualityManifest  `json:"qualities"`
	Thumbnails ThumbnailsManifest `json:"thumbnails"`
}

// QualityManifest describes one rendition's segments
type QualityManifest struct {
	Quality        string        `json:"quality"`
	Height         int           `json:"height"`
	Bitrate        string        `json:"bitrate"`
	Codec          string        `json:"codec"`
	InitSegmentURL string        `json:"initSegmentUrl"`
	Segments       []SegmentInfo `json:"segments"`
}

// SegmentInfo is one addressable media segment
type SegmentInfo struct {
	URL      string  `json:"url"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Index    int     `json:"index"`
}

// ThumbnailsManifest describes the periodic thumbnails
type ThumbnailsManifest struct {
	Pattern  string `json:"pattern"`
	Interval int    `json:"interval"`
}
