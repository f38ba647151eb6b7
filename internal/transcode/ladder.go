package transcode

import (
	"regexp"
	"sort"
	"strconv"
)

// ApplicableQualities filters the ladder to rungs that do not upscale the
// source. A source smaller than every rung still gets the smallest rung so
// no video produces zero renditions.
func ApplicableQualities(ladder []Quality, sourceHeight int) []Quality {
	sorted := make([]Quality, len(ladder))
	copy(sorted, ladder)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Height < sorted[j].Height })

	var out []Quality
	for _, q := range sorted {
		if q.Height <= sourceHeight {
			out = append(out, q)
		}
	}
	if len(out) == 0 && len(sorted) > 0 {
		out = sorted[:1]
	}
	return out
}

var segmentNameRe = regexp.MustCompile(`^seg_(\d+)\.m4s$`)

// SegmentIndex extracts the numeric index from a segment filename, or -1
// when the name does not match
func SegmentIndex(name string) int {
	m := segmentNameRe.FindStringSubmatch(name)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// SortSegments orders segment filenames by numeric index. Lexicographic
// order would put seg_10 before seg_2.
func SortSegments(names []string) []string {
	return sortByIndex(names, SegmentIndex)
}

var thumbNameRe = regexp.MustCompile(`^thumb_(\d+)\.jpg$`)

// ThumbnailIndex extracts the numeric index from a thumbnail filename, or
// -1 when the name does not match
func ThumbnailIndex(name string) int {
	m := thumbNameRe.FindStringSubmatch(name)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// SortThumbnails orders thumbnail filenames by numeric index. The zero
// padding in thumb_%03d only holds up to 999; past that, lexicographic
// order puts thumb_1000 before thumb_101.
func SortThumbnails(names []string) []string {
	return sortByIndex(names, ThumbnailIndex)
}

func sortByIndex(names []string, index func(string) int) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if index(n) >= 0 {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return index(out[i]) < index(out[j])
	})
	return out
}
