package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplicableQualitiesExcludesUpscaling(t *testing.T) {
	ladder := DefaultQualities()

	tests := []struct {
		name         string
		sourceHeight int
		want         []string
	}{
		{"1080p source gets full ladder", 1080, []string{"360p", "720p", "1080p"}},
		{"720p source drops 1080p", 720, []string{"360p", "720p"}},
		{"719p source drops 720p and above", 719, []string{"360p"}},
		{"4k source gets full ladder", 2160, []string{"360p", "720p", "1080p"}},
		{"exact 360p source keeps 360p", 360, []string{"360p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplicableQualities(ladder, tt.sourceHeight)
			names := make([]string, len(got))
			for i, q := range got {
				names[i] = q.Name
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestApplicableQualitiesFallsBackToSmallestRung(t *testing.T) {
	got := ApplicableQualities(DefaultQualities(), 144)
	assert.Len(t, got, 1)
	assert.Equal(t, "360p", got[0].Name)
}

func TestApplicableQualitiesSortsUnorderedLadder(t *testing.T) {
	ladder := []Quality{
		{Name: "1080p", Height: 1080},
		{Name: "360p", Height: 360},
		{Name: "720p", Height: 720},
	}
	got := ApplicableQualities(ladder, 1080)
	assert.Equal(t, "360p", got[0].Name)
	assert.Equal(t, "1080p", got[2].Name)
}

func TestSegmentIndex(t *testing.T) {
	assert.Equal(t, 1, SegmentIndex("seg_1.m4s"))
	assert.Equal(t, 42, SegmentIndex("seg_42.m4s"))
	assert.Equal(t, -1, SegmentIndex("init.mp4"))
	assert.Equal(t, -1, SegmentIndex("seg_.m4s"))
	assert.Equal(t, -1, SegmentIndex("seg_1.mp4"))
	assert.Equal(t, -1, SegmentIndex("xseg_1.m4s"))
}

func TestSortSegmentsIsNumericNotLexicographic(t *testing.T) {
	names := []string{"seg_10.m4s", "seg_2.m4s", "seg_1.m4s", "init.mp4", "seg_21.m4s"}
	sorted := SortSegments(names)
	assert.Equal(t, []string{"seg_1.m4s", "seg_2.m4s", "seg_10.m4s", "seg_21.m4s"}, sorted)
}

func TestSortThumbnailsIsNumericNotLexicographic(t *testing.T) {
	names := []string{"thumb_1000.jpg", "thumb_101.jpg", "thumb_002.jpg", "source.mp4", "thumb_999.jpg"}
	sorted := SortThumbnails(names)
	assert.Equal(t, []string{"thumb_002.jpg", "thumb_101.jpg", "thumb_999.jpg", "thumb_1000.jpg"}, sorted)

	assert.Equal(t, 7, ThumbnailIndex("thumb_007.jpg"))
	assert.Equal(t, -1, ThumbnailIndex("thumb_.jpg"))
	assert.Equal(t, -1, ThumbnailIndex("thumb_1.png"))
}

func TestParseFrameRateRejectsGarbage(t *testing.T) {
	assert.Equal(t, 30, parseFrameRate("30/1"))
	assert.Equal(t, 24, parseFrameRate("24000/1001"))
	assert.Equal(t, 0, parseFrameRate("0/0"))
	assert.Equal(t, 0, parseFrameRate("garbage"))
}
