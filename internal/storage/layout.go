package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Layout derives every path under the storage root. Nothing is stored
// about a video's files beyond the root; the tree shape is the truth.
//
//	<root>/videos/<userID>/<videoID>/segments/segment_NNN.mp4
//	<root>/videos/<userID>/<videoID>/frames/frame_NNN.jpg
//	<root>/videos/<userID>/<videoID>/{stitched_720p,final_720p,final_480p}.mp4
//	<root>/videos/<userID>/<videoID>/{audio.mp3,thumbnail.jpg}
//	<root>/cache/segments/<hash>.mp4 (+ manifest.json)
//	<root>/temp/processing/...
type Layout struct {
	root    string
	baseURL string
}

func NewLayout(root, baseURL string) *Layout {
	return &Layout{
		root:    filepath.Clean(root),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (l *Layout) Root() string { return l.root }

func (l *Layout) VideoDir(userID, videoID string) string {
	return filepath.Join(l.root, "videos", userID, videoID)
}

func (l *Layout) SegmentsDir(userID, videoID string) string {
	return filepath.Join(l.VideoDir(userID, videoID), "segments")
}

func (l *Layout) FramesDir(userID, videoID string) string {
	return filepath.Join(l.VideoDir(userID, videoID), "frames")
}

// SegmentPath numbers segments from 1, zero-padded to three digits.
func (l *Layout) SegmentPath(userID, videoID string, n int) string {
	return filepath.Join(l.SegmentsDir(userID, videoID), fmt.Sprintf("segment_%03d.mp4", n))
}

func (l *Layout) FramePath(userID, videoID string, n int) string {
	return filepath.Join(l.FramesDir(userID, videoID), fmt.Sprintf("frame_%03d.jpg", n))
}

func (l *Layout) StitchedPath(userID, videoID string) string {
	return filepath.Join(l.VideoDir(userID, videoID), "stitched_720p.mp4")
}

func (l *Layout) Final720Path(userID, videoID string) string {
	return filepath.Join(l.VideoDir(userID, videoID), "final_720p.mp4")
}

func (l *Layout) Final480Path(userID, videoID string) string {
	return filepath.Join(l.VideoDir(userID, videoID), "final_480p.mp4")
}

func (l *Layout) AudioPath(userID, videoID string) string {
	return filepath.Join(l.VideoDir(userID, videoID), "audio.mp3")
}

func (l *Layout) ThumbnailPath(userID, videoID string) string {
	return filepath.Join(l.VideoDir(userID, videoID), "thumbnail.jpg")
}

func (l *Layout) CacheDir() string {
	return filepath.Join(l.root, "cache", "segments")
}

func (l *Layout) TempDir() string {
	return filepath.Join(l.root, "temp", "processing")
}

// CreateVideoTree makes the per-video directories.
func (l *Layout) CreateVideoTree(userID, videoID string) error {
	for _, dir := range []string{
		l.SegmentsDir(userID, videoID),
		l.FramesDir(userID, videoID),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ExistingSegments lists on-disk segment files sorted ascending by
// segment number.
func (l *Layout) ExistingSegments(userID, videoID string) ([]string, error) {
	pattern := filepath.Join(l.SegmentsDir(userID, videoID), "segment_*.mp4")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// DeleteVideoTree removes everything the video owns.
func (l *Layout) DeleteVideoTree(userID, videoID string) error {
	dir := l.VideoDir(userID, videoID)
	// Refuse to delete outside the root on a malformed id.
	if !strings.HasPrefix(dir, filepath.Join(l.root, "videos")+string(filepath.Separator)) {
		return fmt.Errorf("refusing to delete %s", dir)
	}
	return os.RemoveAll(dir)
}

func (l *Layout) FileSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

// EstimateDiskSpace approximates bytes a run will need: ~10 MB per
// nominal segment-second at 1080p plus stitched/final/audio copies.
func (l *Layout) EstimateDiskSpace(segmentCount, segmentDuration int) int64 {
	const bytesPerSecond = 10 << 20
	segments := int64(segmentCount) * int64(segmentDuration) * bytesPerSecond
	// stitched + final 720 + final 480 roughly another full copy.
	return segments * 2
}

// PublicURL maps a final artifact path to the URL the HTTP layer
// serves it from. Working files (segments, frames, stitched
// intermediate) have no public URL.
func (l *Layout) PublicURL(path string) string {
	rel, err := filepath.Rel(l.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 || parts[0] != "videos" {
		return ""
	}
	videoID := parts[2]
	switch parts[3] {
	case "final_720p.mp4":
		return l.baseURL + "/files/" + videoID + "/video?quality=720p"
	case "final_480p.mp4":
		return l.baseURL + "/files/" + videoID + "/video?quality=480p"
	case "thumbnail.jpg":
		return l.baseURL + "/files/" + videoID + "/thumbnail"
	case "audio.mp3":
		return l.baseURL + "/files/" + videoID + "/audio"
	default:
		return ""
	}
}

// Stats sums the on-disk footprint of the videos tree.
func (l *Layout) Stats() (fileCount int, totalBytes int64) {
	_ = filepath.Walk(filepath.Join(l.root, "videos"), func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		fileCount++
		totalBytes += info.Size()
		return nil
	})
	return fileCount, totalBytes
}
