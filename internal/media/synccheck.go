package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
)

type SyncReport struct {
	InSync         bool    `json:"in_sync"`
	VideoDuration  float64 `json:"video_duration"`
	AudioDuration  float64 `json:"audio_duration"`
	Diff           float64 `json:"diff"`
	Recommendation string  `json:"recommendation"`
}

type MergedReport struct {
	HasVideo   bool    `json:"has_video"`
	HasAudio   bool    `json:"has_audio"`
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	Duration   float64 `json:"duration"`
}

type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// SyncVerifier compares and reconciles audio/video durations before
// the merge phase.
type SyncVerifier struct {
	tool Toolchain
	log  *slog.Logger
}

func NewSyncVerifier(tool Toolchain, logger *slog.Logger) *SyncVerifier {
	return &SyncVerifier{tool: tool, log: logger}
}

// Verify compares durations within tolerance (2s by default).
func (s *SyncVerifier) Verify(ctx context.Context, videoPath, audioPath string, tolerance float64) (SyncReport, error) {
	if tolerance <= 0 {
		tolerance = 2
	}
	video, err := s.tool.Probe(ctx, videoPath)
	if err != nil {
		return SyncReport{}, fmt.Errorf("probe video: %w", err)
	}
	audio, err := s.tool.ProbeMedia(ctx, audioPath)
	if err != nil {
		return SyncReport{}, fmt.Errorf("probe audio: %w", err)
	}

	diff := audio.Duration - video.Duration
	report := SyncReport{
		VideoDuration: video.Duration,
		AudioDuration: audio.Duration,
		Diff:          diff,
		InSync:        math.Abs(diff) <= tolerance,
	}
	switch {
	case report.InSync:
		report.Recommendation = "none"
	case diff > 0:
		report.Recommendation = "speed up or trim audio to match video"
	default:
		report.Recommendation = "pad audio with silence to match video"
	}
	return report, nil
}

// AdjustAudio fits the track to targetDuration. Within half a second
// the bytes are copied untouched; a shorter track is padded with
// silence; a longer one is tempo-scaled.
func (s *SyncVerifier) AdjustAudio(ctx context.Context, audioPath string, targetDuration float64, out string) error {
	info, err := s.tool.ProbeMedia(ctx, audioPath)
	if err != nil {
		return fmt.Errorf("probe audio: %w", err)
	}
	diff := info.Duration - targetDuration

	if math.Abs(diff) <= 0.5 {
		return copyBytes(audioPath, out)
	}
	if diff < 0 {
		s.log.Info("audio_pad", "audio", info.Duration, "target", targetDuration)
		return s.tool.PadAudio(ctx, audioPath, out, targetDuration)
	}
	factor := info.Duration / targetDuration
	s.log.Info("audio_tempo", "audio", info.Duration, "target", targetDuration, "factor", factor)
	return s.tool.TempoAudio(ctx, audioPath, out, factor)
}

// VerifyMerged inspects the muxed output for both streams.
func (s *SyncVerifier) VerifyMerged(ctx context.Context, path string) (MergedReport, error) {
	streams, err := s.tool.ProbeStreams(ctx, path)
	if err != nil {
		return MergedReport{}, err
	}
	info, err := s.tool.ProbeMedia(ctx, path)
	if err != nil {
		return MergedReport{}, err
	}
	report := MergedReport{Duration: info.Duration}
	for _, st := range streams {
		switch st.CodecType {
		case "video":
			report.HasVideo = true
			report.VideoCodec = st.CodecName
		case "audio":
			report.HasAudio = true
			report.AudioCodec = st.CodecName
		}
	}
	return report, nil
}

// Validate flags outputs a viewer would reject. Low resolution and
// very short durations are warnings, not errors.
func (s *SyncVerifier) Validate(ctx context.Context, path string) ValidationResult {
	result := ValidationResult{IsValid: true, Errors: []string{}, Warnings: []string{}}

	if _, err := os.Stat(path); err != nil {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("file missing: %v", err))
		return result
	}
	info, err := s.tool.Probe(ctx, path)
	if err != nil {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("probe failed: %v", err))
		return result
	}
	if info.Duration <= 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "zero duration")
	}
	if info.Width < 480 || info.Height < 270 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("resolution %dx%d below 480x270", info.Width, info.Height))
	}
	if info.Duration > 0 && info.Duration < 10 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("duration %.1fs under 10s", info.Duration))
	}
	return result
}

func copyBytes(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
