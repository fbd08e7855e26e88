package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ToolchainError carries the child process stderr so a failed run's
// errorMessage says what ffmpeg actually complained about.
type ToolchainError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *ToolchainError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolchainError) Unwrap() error { return e.Err }

type VideoInfo struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	Codec    string  `json:"codec"`
}

type MediaInfo struct {
	Duration   float64 `json:"duration"`
	Format     string  `json:"format"`
	Bitrate    int     `json:"bitrate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
}

type StreamInfo struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

// Toolchain is the pipeline's view of the media binaries. All calls
// block until the child exits.
type Toolchain interface {
	ExtractLastFrame(ctx context.Context, video, imageOut string) error
	ExtractFrameAt(ctx context.Context, video string, ts float64, imageOut string) error
	GenerateThumbnail(ctx context.Context, video, imageOut string, ts float64) error
	Probe(ctx context.Context, video string) (VideoInfo, error)
	ProbeMedia(ctx context.Context, path string) (MediaInfo, error)
	ProbeStreams(ctx context.Context, path string) ([]StreamInfo, error)
	ConcatSimple(ctx context.Context, segments []string, out string) error
	StitchCrossfade(ctx context.Context, segments []string, out string, fadeDuration, segmentDuration float64) error
	MergeAV(ctx context.Context, video, audio, out string, trimToShortest bool) error
	Transcode(ctx context.Context, in, out string, width, height int) error
	PadAudio(ctx context.Context, in, out string, targetDuration float64) error
	TempoAudio(ctx context.Context, in, out string, factor float64) error
}

// FFmpeg shells out to ffmpeg/ffprobe.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	log     *slog.Logger
}

func NewFFmpeg(ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpeg: ffmpegPath, ffprobe: ffprobePath, log: logger}
}

func (f *FFmpeg) run(ctx context.Context, op string, args ...string) error {
	cmd := exec.CommandContext(ctx, f.ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &ToolchainError{Op: op, Stderr: tail(string(output), 2048), Err: err}
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func (f *FFmpeg) ExtractLastFrame(ctx context.Context, video, imageOut string) error {
	if err := os.MkdirAll(filepath.Dir(imageOut), 0o755); err != nil {
		return err
	}
	return f.run(ctx, "extract last frame",
		"-sseof", "-0.1",
		"-i", video,
		"-frames:v", "1",
		"-q:v", "2",
		"-y", imageOut,
	)
}

func (f *FFmpeg) ExtractFrameAt(ctx context.Context, video string, ts float64, imageOut string) error {
	if err := os.MkdirAll(filepath.Dir(imageOut), 0o755); err != nil {
		return err
	}
	return f.run(ctx, "extract frame",
		"-ss", formatSeconds(ts),
		"-i", video,
		"-frames:v", "1",
		"-q:v", "2",
		"-y", imageOut,
	)
}

func (f *FFmpeg) GenerateThumbnail(ctx context.Context, video, imageOut string, ts float64) error {
	if ts <= 0 {
		ts = 2
	}
	return f.run(ctx, "generate thumbnail",
		"-ss", formatSeconds(ts),
		"-i", video,
		"-frames:v", "1",
		"-vf", "scale=1280:720:force_original_aspect_ratio=decrease,pad=1280:720:(ow-iw)/2:(oh-ih)/2",
		"-y", imageOut,
	)
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Channels   int    `json:"channels"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

func (f *FFmpeg) probe(ctx context.Context, path string) (probeOutput, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-of", "json",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = tail(string(exitErr.Stderr), 2048)
		}
		return probeOutput{}, &ToolchainError{Op: "probe", Stderr: stderr, Err: err}
	}
	var out probeOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return probeOutput{}, &ToolchainError{Op: "probe", Err: fmt.Errorf("parse ffprobe output: %w", err)}
	}
	return out, nil
}

func (f *FFmpeg) Probe(ctx context.Context, video string) (VideoInfo, error) {
	out, err := f.probe(ctx, video)
	if err != nil {
		return VideoInfo{}, err
	}
	info := VideoInfo{}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Width = s.Width
		info.Height = s.Height
		info.Codec = s.CodecName
		info.FPS = parseFrameRate(s.RFrameRate)
		break
	}
	return info, nil
}

func (f *FFmpeg) ProbeMedia(ctx context.Context, path string) (MediaInfo, error) {
	out, err := f.probe(ctx, path)
	if err != nil {
		return MediaInfo{}, err
	}
	info := MediaInfo{Format: out.Format.FormatName}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	info.Bitrate, _ = strconv.Atoi(out.Format.BitRate)
	for _, s := range out.Streams {
		if s.CodecType == "audio" {
			info.Channels = s.Channels
			info.SampleRate, _ = strconv.Atoi(s.SampleRate)
			break
		}
	}
	return info, nil
}

func (f *FFmpeg) ProbeStreams(ctx context.Context, path string) ([]StreamInfo, error) {
	out, err := f.probe(ctx, path)
	if err != nil {
		return nil, err
	}
	streams := make([]StreamInfo, 0, len(out.Streams))
	for _, s := range out.Streams {
		streams = append(streams, StreamInfo{CodecType: s.CodecType, CodecName: s.CodecName})
	}
	return streams, nil
}

// ConcatSimple joins segments losslessly through a concat list file.
func (f *FFmpeg) ConcatSimple(ctx context.Context, segments []string, out string) error {
	if len(segments) == 0 {
		return &ToolchainError{Op: "concat", Err: fmt.Errorf("no segments")}
	}
	listFile := out + ".concat.txt"
	var lines []string
	for _, seg := range segments {
		abs, err := filepath.Abs(seg)
		if err != nil {
			abs = seg
		}
		lines = append(lines, fmt.Sprintf("file '%s'", abs))
	}
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return err
	}
	defer os.Remove(listFile)
	return f.run(ctx, "concat",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-y", out,
	)
}

// StitchCrossfade chains xfade filters across the segments. Offsets
// come from probed durations, not the nominal segment length: a short
// last scene or provider variance would otherwise desync the graph.
func (f *FFmpeg) StitchCrossfade(ctx context.Context, segments []string, out string, fadeDuration, segmentDuration float64) error {
	if len(segments) == 0 {
		return &ToolchainError{Op: "stitch", Err: fmt.Errorf("no segments")}
	}
	if fadeDuration <= 0 {
		fadeDuration = 0.5
	}
	if len(segments) == 1 {
		return f.run(ctx, "stitch",
			"-i", segments[0],
			"-c:v", "libx264",
			"-preset", "medium",
			"-crf", "23",
			"-pix_fmt", "yuv420p",
			"-an",
			"-y", out,
		)
	}

	durations := make([]float64, len(segments))
	for i, seg := range segments {
		info, err := f.Probe(ctx, seg)
		if err != nil || info.Duration <= 0 {
			durations[i] = segmentDuration
			continue
		}
		durations[i] = info.Duration
	}

	args := []string{}
	for _, seg := range segments {
		args = append(args, "-i", seg)
	}

	var filter strings.Builder
	prev := "[0:v]"
	elapsed := 0.0
	for i := 1; i < len(segments); i++ {
		elapsed += durations[i-1]
		offset := elapsed - float64(i)*fadeDuration
		label := fmt.Sprintf("[vx%d]", i)
		if i == len(segments)-1 {
			label = "[vout]"
		}
		fmt.Fprintf(&filter, "%s[%d:v]xfade=transition=fade:duration=%s:offset=%s%s;",
			prev, i, formatSeconds(fadeDuration), formatSeconds(offset), label)
		prev = label
	}

	args = append(args,
		"-filter_complex", strings.TrimSuffix(filter.String(), ";"),
		"-map", "[vout]",
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-y", out,
	)
	return f.run(ctx, "stitch", args...)
}

// MergeAV muxes the stitched video with the narration track: video
// stream copied, audio encoded to AAC 192k.
func (f *FFmpeg) MergeAV(ctx context.Context, video, audio, out string, trimToShortest bool) error {
	args := []string{
		"-i", video,
		"-i", audio,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-map", "0:v:0",
		"-map", "1:a:0",
	}
	if trimToShortest {
		args = append(args, "-shortest")
	}
	args = append(args, "-y", out)
	return f.run(ctx, "merge av", args...)
}

func (f *FFmpeg) Transcode(ctx context.Context, in, out string, width, height int) error {
	return f.run(ctx, "transcode",
		"-i", in,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "copy",
		"-y", out,
	)
}

// PadAudio extends the track with silence out to targetDuration.
func (f *FFmpeg) PadAudio(ctx context.Context, in, out string, targetDuration float64) error {
	return f.run(ctx, "pad audio",
		"-i", in,
		"-af", fmt.Sprintf("apad=whole_dur=%s", formatSeconds(targetDuration)),
		"-y", out,
	)
}

// TempoAudio scales playback speed by factor. atempo only accepts
// [0.5, 2.0] per instance, so larger ratios chain instances.
func (f *FFmpeg) TempoAudio(ctx context.Context, in, out string, factor float64) error {
	if factor <= 0 {
		return &ToolchainError{Op: "tempo audio", Err: fmt.Errorf("invalid tempo factor %f", factor)}
	}
	var parts []string
	for factor > 2.0 {
		parts = append(parts, "atempo=2.0")
		factor /= 2.0
	}
	for factor < 0.5 {
		parts = append(parts, "atempo=0.5")
		factor /= 0.5
	}
	parts = append(parts, fmt.Sprintf("atempo=%s", strconv.FormatFloat(factor, 'f', 4, 64)))
	return f.run(ctx, "tempo audio",
		"-i", in,
		"-af", strings.Join(parts, ","),
		"-y", out,
	)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func parseFrameRate(v string) float64 {
	parts := strings.SplitN(v, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	fps, _ := strconv.ParseFloat(v, 64)
	return fps
}
