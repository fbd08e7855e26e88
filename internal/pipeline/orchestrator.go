package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rahvis/VideoForge/internal/cache"
	"github.com/rahvis/VideoForge/internal/events"
	"github.com/rahvis/VideoForge/internal/lock"
	"github.com/rahvis/VideoForge/internal/media"
	"github.com/rahvis/VideoForge/internal/metrics"
	"github.com/rahvis/VideoForge/internal/model"
	"github.com/rahvis/VideoForge/internal/provider"
	"github.com/rahvis/VideoForge/internal/recovery"
	"github.com/rahvis/VideoForge/internal/retry"
	"github.com/rahvis/VideoForge/internal/storage"
	"github.com/rahvis/VideoForge/internal/store"
)

// Provider resolution is fixed; outputs are transcoded down from it.
const (
	genWidth  = 1920
	genHeight = 1080
)

// Progress floors per phase. Within generating, progress interpolates
// from 5 to 70 across the segments.
const (
	progressDecomposing = 0
	progressGenerating  = 5
	progressStitching   = 70
	progressAudio       = 80
	progressMerging     = 90
	progressTranscoding = 95
	progressDone        = 100
)

type Options struct {
	SegmentDuration   int
	MaxSegmentRetries int
	PollingInterval   time.Duration
	SegmentTimeout    time.Duration
	VideoTimeout      time.Duration
	ParallelSegments  bool
	MaxConcurrentJobs int
	CrossfadeDuration float64
	RetryBaseDelay    time.Duration
	VoiceID           string
	VoiceName         string
	TTSModel          string
	VoiceSettings     provider.VoiceSettings
}

func (o *Options) defaults() {
	if o.SegmentDuration <= 0 {
		o.SegmentDuration = 12
	}
	if o.MaxSegmentRetries <= 0 {
		o.MaxSegmentRetries = 3
	}
	if o.PollingInterval <= 0 {
		o.PollingInterval = 10 * time.Second
	}
	if o.SegmentTimeout <= 0 {
		o.SegmentTimeout = 15 * time.Minute
	}
	if o.VideoTimeout <= 0 {
		o.VideoTimeout = 30 * time.Minute
	}
	if o.MaxConcurrentJobs <= 0 {
		o.MaxConcurrentJobs = 1
	}
	if o.CrossfadeDuration <= 0 {
		o.CrossfadeDuration = 0.5
	}
}

// Orchestrator drives a video run through the six phases under the
// processing lock. One run advances at a time per deployment.
type Orchestrator struct {
	store      *store.Store
	lock       *lock.Manager
	layout     *storage.Layout
	cache      *cache.SegmentCache
	tool       media.Toolchain
	sync       *media.SyncVerifier
	storyboard provider.Storyboard
	video      provider.VideoSegments
	narration  provider.Narration
	hub        *events.Hub
	log        *slog.Logger
	opts       Options
	policy     retry.Policy

	queue chan string

	// stateMu serializes run-document mutation + persist; only parallel
	// segment mode has more than one writer.
	stateMu sync.Mutex

	mu      sync.Mutex
	running bool
}

func New(
	st *store.Store,
	lockMgr *lock.Manager,
	layout *storage.Layout,
	segCache *cache.SegmentCache,
	tool media.Toolchain,
	syncVerifier *media.SyncVerifier,
	storyboard provider.Storyboard,
	video provider.VideoSegments,
	narration provider.Narration,
	hub *events.Hub,
	logger *slog.Logger,
	opts Options,
) *Orchestrator {
	opts.defaults()
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = opts.MaxSegmentRetries
	if opts.RetryBaseDelay > 0 {
		policy.BaseDelay = opts.RetryBaseDelay
	}
	return &Orchestrator{
		store:      st,
		lock:       lockMgr,
		layout:     layout,
		cache:      segCache,
		tool:       tool,
		sync:       syncVerifier,
		storyboard: storyboard,
		video:      video,
		narration:  narration,
		hub:        hub,
		log:        logger,
		opts:       opts,
		policy:     policy,
		queue:      make(chan string, 64),
	}
}

// StartWorker consumes the run queue one video at a time. Runs are
// strictly serial: the worker finishes one before popping the next.
func (o *Orchestrator) StartWorker(stop <-chan struct{}) {
	go func() {
		for {
			select {
			case <-stop:
				return
			case videoID := <-o.queue:
				o.Process(videoID)
			}
		}
	}()
}

// Busy reports whether this process is currently driving a run.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Submit enqueues a run for the worker. A full queue is refused, not
// blocked on; the caller sees the run fail immediately.
func (o *Orchestrator) Submit(videoID string) {
	select {
	case o.queue <- videoID:
	default:
		if v, err := o.store.GetVideo(videoID); err == nil {
			o.failRun(&v, "processing queue full")
		}
	}
}

// Process drives one run to a terminal state. The lock is released on
// every exit path, including panics.
func (o *Orchestrator) Process(videoID string) {
	v, err := o.store.GetVideo(videoID)
	if err != nil {
		o.log.Error("run_load_failed", "video_id", videoID, "error", err)
		return
	}

	acquired, err := o.lock.Acquire(model.LockMetadata{
		VideoID:             v.ID,
		UserID:              v.UserID,
		TargetDuration:      v.TargetDuration,
		EstimatedCompletion: time.Now().UTC().Add(o.opts.VideoTimeout),
	})
	if err != nil || !acquired {
		// Acquire never blocks; a lost race is a refusal, not a queue.
		o.failRun(&v, "processing lock busy")
		return
	}

	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
	metrics.ActiveRun.Set(1)

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("run_panic", "video_id", v.ID, "panic", fmt.Sprint(r))
			o.failRun(&v, fmt.Sprintf("internal error: %v", r))
		}
		o.lock.Release()
		metrics.ActiveRun.Set(0)
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), o.opts.VideoTimeout)
	defer cancel()

	o.run(ctx, &v)
}

// phase order; resume enters partway through.
var phaseOrder = []model.VideoStatus{
	model.StatusDecomposing,
	model.StatusGenerating,
	model.StatusStitching,
	model.StatusAudio,
	model.StatusMerging,
	model.StatusTranscoding,
}

func (o *Orchestrator) run(ctx context.Context, v *model.Video) {
	start := 0
	if v.CurrentPhase != "" {
		for i, p := range phaseOrder {
			if string(p) == v.CurrentPhase {
				start = i
				break
			}
		}
	}

	if err := o.layout.CreateVideoTree(v.UserID, v.ID); err != nil {
		o.failRun(v, fmt.Sprintf("storage: %v", err))
		return
	}

	for _, phase := range phaseOrder[start:] {
		if o.checkCancel(v) {
			return
		}
		phaseStart := time.Now()
		var err error
		switch phase {
		case model.StatusDecomposing:
			err = o.phaseDecompose(ctx, v)
		case model.StatusGenerating:
			err = o.phaseGenerate(ctx, v)
		case model.StatusStitching:
			err = o.phaseStitch(ctx, v)
		case model.StatusAudio:
			err = o.phaseAudio(ctx, v)
		case model.StatusMerging:
			err = o.phaseMerge(ctx, v)
		case model.StatusTranscoding:
			err = o.phaseTranscode(ctx, v)
		}
		metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(phaseStart).Seconds())
		if err != nil {
			if err == errCancelled {
				o.failCancelled(v)
				return
			}
			o.failRun(v, err.Error())
			return
		}
	}

	o.complete(v)
}

var errCancelled = fmt.Errorf("cancelled")

// enterPhase persists the phase transition before any work happens, so
// a crash mid-phase leaves a resumable checkpoint.
func (o *Orchestrator) enterPhase(v *model.Video, status model.VideoStatus, progress int) error {
	v.Status = status
	v.CurrentPhase = string(status)
	if v.Progress < progress {
		v.Progress = progress
	}
	if err := o.persist(v); err != nil {
		return err
	}
	o.hub.Publish(v.ID, model.EventPhaseStarted, map[string]any{
		"phase":    string(status),
		"progress": v.Progress,
	})
	o.log.Info("phase_started", "video_id", v.ID, "phase", status, "progress", v.Progress)
	return nil
}

func (o *Orchestrator) persist(v *model.Video) error {
	return o.mutate(v, nil)
}

// mutate applies fn to the run document and writes it out under one
// lock, so a concurrent segment goroutine never sees a half-written
// document marshalled.
func (o *Orchestrator) mutate(v *model.Video, fn func()) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if fn != nil {
		fn()
	}
	if err := o.store.UpdateVideo(*v); err != nil {
		return fmt.Errorf("persist run state: %w", err)
	}
	return nil
}

func (o *Orchestrator) publishProgress(v *model.Video) {
	o.hub.Publish(v.ID, model.EventProgress, map[string]any{
		"progress":        v.Progress,
		"phase":           v.CurrentPhase,
		"current_segment": v.CurrentSegment,
	})
}

func (o *Orchestrator) checkCancel(v *model.Video) bool {
	if o.store.IsCancelRequested(v.ID) {
		o.failCancelled(v)
		return true
	}
	return false
}

func (o *Orchestrator) failCancelled(v *model.Video) {
	v.Status = model.StatusFailed
	v.ErrorMessage = "cancelled"
	if err := o.persist(v); err != nil {
		o.log.Error("persist_cancel_failed", "video_id", v.ID, "error", err)
	}
	o.hub.Publish(v.ID, model.EventRunFailed, map[string]any{"error": "cancelled"})
	metrics.RunsTotal.WithLabelValues("cancelled").Inc()
	o.log.Info("run_cancelled", "video_id", v.ID)
}

func (o *Orchestrator) failRun(v *model.Video, reason string) {
	v.Status = model.StatusFailed
	v.ErrorMessage = reason
	if err := o.persist(v); err != nil {
		o.log.Error("persist_failure_failed", "video_id", v.ID, "error", err)
	}
	o.hub.Publish(v.ID, model.EventRunFailed, map[string]any{"error": reason})
	metrics.RunsTotal.WithLabelValues("failed").Inc()
	o.log.Error("run_failed", "video_id", v.ID, "reason", reason)
}

func (o *Orchestrator) complete(v *model.Video) {
	v.Progress = progressDone
	v.Status = model.StatusCompleted
	v.CurrentPhase = ""
	v.CompletedAt = time.Now().UTC()
	if err := o.persist(v); err != nil {
		o.log.Error("persist_completion_failed", "video_id", v.ID, "error", err)
		return
	}
	o.hub.Publish(v.ID, model.EventRunCompleted, map[string]any{
		"actual_duration": v.ActualDuration,
	})
	metrics.RunsTotal.WithLabelValues("completed").Inc()
	o.log.Info("run_completed", "video_id", v.ID, "duration", v.ActualDuration)
}

// ---- decomposing: 0 -> 5 ----

func (o *Orchestrator) phaseDecompose(ctx context.Context, v *model.Video) error {
	if err := o.enterPhase(v, model.StatusDecomposing, progressDecomposing); err != nil {
		return err
	}

	if v.EnhancedPrompt == "" {
		result, err := o.storyboard.Enhance(ctx, v.OriginalPrompt, v.TargetDuration)
		if err != nil {
			// Enhance is soft: the original prompt drives generation.
			result = provider.EnhanceResult{
				EnhancedPrompt: v.OriginalPrompt,
				Title:          provider.DeriveTitle(v.OriginalPrompt),
			}
		}
		v.EnhancedPrompt = result.EnhancedPrompt
		if v.Title == "" {
			v.Title = result.Title
		}
	}

	if len(v.Scenes) == v.SegmentCount && v.SegmentCount > 0 {
		// Caller supplied the storyboard; skip the model, keep shape honest.
		v.Scenes = provider.NormalizeScenes(v.Scenes, v.EnhancedPrompt, v.TargetDuration, v.SegmentDuration)
	} else {
		scenes, err := o.storyboard.Decompose(ctx, v.EnhancedPrompt, v.TargetDuration, v.SegmentDuration)
		if err != nil {
			o.log.Warn("decompose_fallback", "video_id", v.ID, "error", err)
			scenes = provider.FallbackScenes(v.EnhancedPrompt, v.TargetDuration, v.SegmentDuration)
		}
		v.Scenes = scenes
	}

	v.Progress = progressGenerating
	return o.persist(v)
}

// ---- generating: 5 -> 70 ----

func (o *Orchestrator) phaseGenerate(ctx context.Context, v *model.Video) error {
	if err := o.enterPhase(v, model.StatusGenerating, progressGenerating); err != nil {
		return err
	}
	if o.opts.ParallelSegments && o.opts.MaxConcurrentJobs > 1 {
		return o.generateParallel(ctx, v)
	}
	return o.generateSequential(ctx, v)
}

func (o *Orchestrator) generateSequential(ctx context.Context, v *model.Video) error {
	startAt := v.CurrentSegment
	if startAt < 1 {
		startAt = 1
	}

	continuityHint := ""
	if startAt > 1 {
		// Resuming: the hint is the last completed segment's frame.
		prev := &v.Segments[startAt-2]
		if prev.LastFramePath != "" {
			continuityHint = prev.LastFramePath
		}
	}

	for i := startAt; i <= v.SegmentCount; i++ {
		if o.store.IsCancelRequested(v.ID) {
			return errCancelled
		}
		seg := &v.Segments[i-1]
		if seg.Status == model.SegmentCompleted {
			continuityHint = seg.LastFramePath
			continue
		}
		scene := v.Scenes[i-1]

		v.CurrentSegment = i
		seg.Status = model.SegmentGenerating
		seg.StartedAt = time.Now().UTC()
		if err := o.persist(v); err != nil {
			return err
		}
		o.hub.Publish(v.ID, model.EventSegmentStatus, map[string]any{
			"segment": i, "status": string(seg.Status),
		})

		if err := o.produceSegment(ctx, v, seg, scene, continuityHint); err != nil {
			if err == errCancelled {
				return err
			}
			seg.Status = model.SegmentFailed
			seg.Error = err.Error()
			if perr := o.persist(v); perr != nil {
				return perr
			}
			o.hub.Publish(v.ID, model.EventSegmentStatus, map[string]any{
				"segment": i, "status": string(seg.Status), "error": seg.Error,
			})
			return fmt.Errorf("segment %d failed: %v", i, err)
		}

		// Last frame feeds the next segment's continuity hint; the final
		// segment has no successor.
		if i < v.SegmentCount {
			framePath := o.layout.FramePath(v.UserID, v.ID, i)
			if err := o.tool.ExtractLastFrame(ctx, seg.FilePath, framePath); err != nil {
				o.log.Warn("frame_extract_failed", "video_id", v.ID, "segment", i, "error", err)
			} else {
				seg.LastFramePath = framePath
			}
			continuityHint = seg.LastFramePath
		}

		seg.Status = model.SegmentCompleted
		seg.CompletedAt = time.Now().UTC()
		v.Progress = segmentProgress(i, v.SegmentCount)
		if err := o.persist(v); err != nil {
			return err
		}
		o.hub.Publish(v.ID, model.EventSegmentStatus, map[string]any{
			"segment": i, "status": string(seg.Status),
		})
		o.publishProgress(v)
		o.lock.Extend()
	}
	return nil
}

// generateParallel trades continuity for throughput: batches of up to
// MaxConcurrentJobs segments run at once, with no last-frame hint.
// Only enabled explicitly.
func (o *Orchestrator) generateParallel(ctx context.Context, v *model.Video) error {
	batch := o.opts.MaxConcurrentJobs
	for lo := 1; lo <= v.SegmentCount; lo += batch {
		if o.store.IsCancelRequested(v.ID) {
			return errCancelled
		}
		hi := lo + batch - 1
		if hi > v.SegmentCount {
			hi = v.SegmentCount
		}

		var wg sync.WaitGroup
		errs := make([]error, hi-lo+1)
		for i := lo; i <= hi; i++ {
			seg := &v.Segments[i-1]
			if seg.Status == model.SegmentCompleted {
				continue
			}
			seg.Status = model.SegmentGenerating
			seg.StartedAt = time.Now().UTC()
		}
		if err := o.persist(v); err != nil {
			return err
		}

		for i := lo; i <= hi; i++ {
			if v.Segments[i-1].Status == model.SegmentCompleted {
				continue
			}
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				errs[n-lo] = o.produceSegment(ctx, v, &v.Segments[n-1], v.Scenes[n-1], "")
			}(i)
		}
		wg.Wait()

		for i := lo; i <= hi; i++ {
			seg := &v.Segments[i-1]
			if seg.Status == model.SegmentCompleted {
				continue
			}
			if err := errs[i-lo]; err != nil {
				seg.Status = model.SegmentFailed
				seg.Error = err.Error()
				_ = o.persist(v)
				return fmt.Errorf("segment %d failed: %v", i, err)
			}
			seg.Status = model.SegmentCompleted
			seg.CompletedAt = time.Now().UTC()
		}
		v.CurrentSegment = hi
		v.Progress = segmentProgress(hi, v.SegmentCount)
		if err := o.persist(v); err != nil {
			return err
		}
		o.publishProgress(v)
		o.lock.Extend()
	}
	return nil
}

// produceSegment fills seg.FilePath from the cache or the provider,
// retrying transient failures per the policy.
func (o *Orchestrator) produceSegment(ctx context.Context, v *model.Video, seg *model.Segment, scene model.Scene, continuityHint string) error {
	target := o.layout.SegmentPath(v.UserID, v.ID, seg.SegmentNumber)

	if o.cache.CopyTo(scene.ScenePrompt, seg.SegmentNumber, target) {
		if err := o.mutate(v, func() { seg.FilePath = target }); err != nil {
			return err
		}
		metrics.SegmentsGeneratedTotal.WithLabelValues("cache").Inc()
		o.log.Info("segment_cache_hit", "video_id", v.ID, "segment", seg.SegmentNumber)
		return nil
	}

	nSeconds := int(scene.EndTime - scene.StartTime)
	if nSeconds <= 0 {
		nSeconds = v.SegmentDuration
	}

	var lastErr error
	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		if o.store.IsCancelRequested(v.ID) {
			return errCancelled
		}
		err := o.generateOnce(ctx, v, seg, scene, continuityHint, nSeconds, target)
		if err == nil {
			if perr := o.mutate(v, func() { seg.FilePath = target }); perr != nil {
				return perr
			}
			metrics.SegmentsGeneratedTotal.WithLabelValues("provider").Inc()
			if info, perr := o.tool.Probe(ctx, target); perr == nil {
				if _, cerr := o.cache.Store(scene.ScenePrompt, seg.SegmentNumber, target, info.Duration); cerr != nil {
					o.log.Warn("cache_store_failed", "segment", seg.SegmentNumber, "error", cerr)
				}
			} else if _, cerr := o.cache.Store(scene.ScenePrompt, seg.SegmentNumber, target, 0); cerr != nil {
				o.log.Warn("cache_store_failed", "segment", seg.SegmentNumber, "error", cerr)
			}
			return nil
		}

		lastErr = err
		if !retry.Retryable(err) || attempt >= o.policy.MaxAttempts {
			break
		}
		metrics.SegmentRetriesTotal.Inc()
		if perr := o.mutate(v, func() { seg.RetryCount++ }); perr != nil {
			return perr
		}
		delay := o.policy.Delay(attempt)
		o.log.Warn("segment_retry",
			"video_id", v.ID, "segment", seg.SegmentNumber,
			"attempt", attempt, "backoff", delay, "error", err)
		if !o.sleepWithCancel(v.ID, delay) {
			return errCancelled
		}
	}
	return lastErr
}

// generateOnce runs one start/poll/download cycle against the
// provider. The jobId is persisted as soon as the provider returns it
// so a crash leaves a resumable hint.
func (o *Orchestrator) generateOnce(ctx context.Context, v *model.Video, seg *model.Segment, scene model.Scene, continuityHint string, nSeconds int, target string) error {
	jobID, err := o.video.Start(ctx, scene.ScenePrompt, genWidth, genHeight, nSeconds, continuityHint)
	if err != nil {
		return err
	}
	if err := o.mutate(v, func() { seg.JobID = jobID }); err != nil {
		return err
	}

	deadline := time.Now().Add(o.opts.SegmentTimeout)
	for {
		result, err := o.video.Poll(ctx, jobID)
		if err != nil {
			return err
		}
		switch result.State {
		case provider.JobSucceeded:
			if len(result.GenerationIDs) == 0 {
				return fmt.Errorf("job %s succeeded without generations", jobID)
			}
			data, err := o.video.FetchContent(ctx, result.GenerationIDs[0])
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return os.WriteFile(target, data, 0o644)
		case provider.JobFailed:
			msg := result.Error
			if msg == "" {
				msg = "generation failed"
			}
			return &provider.Error{
				Code:            "GENERATION_FAILED",
				Retryable:       true,
				UserMessage:     "Segment generation failed",
				InternalMessage: msg,
			}
		}
		if time.Now().After(deadline) {
			return &provider.Error{
				Code:            "SEGMENT_TIMEOUT",
				Retryable:       true,
				UserMessage:     "Segment generation timed out",
				InternalMessage: fmt.Sprintf("job %s exceeded %s", jobID, o.opts.SegmentTimeout),
			}
		}
		if !o.sleepWithCancel(v.ID, o.opts.PollingInterval) {
			return errCancelled
		}
	}
}

// ---- stitching: 70 -> 80 ----

func (o *Orchestrator) phaseStitch(ctx context.Context, v *model.Video) error {
	if err := o.enterPhase(v, model.StatusStitching, progressStitching); err != nil {
		return err
	}
	segments, err := o.layout.ExistingSegments(v.UserID, v.ID)
	if err != nil {
		return fmt.Errorf("enumerate segments: %w", err)
	}
	if len(segments) != v.SegmentCount {
		return fmt.Errorf("expected %d segments on disk, found %d", v.SegmentCount, len(segments))
	}

	out := o.layout.StitchedPath(v.UserID, v.ID)
	if err := o.tool.StitchCrossfade(ctx, segments, out, o.opts.CrossfadeDuration, float64(v.SegmentDuration)); err != nil {
		return err
	}
	v.Files.Stitched720 = o.fileRef(ctx, out, "mp4")

	v.Progress = progressAudio
	return o.persist(v)
}

// ---- audio: 80 -> 90 ----

func (o *Orchestrator) phaseAudio(ctx context.Context, v *model.Video) error {
	if err := o.enterPhase(v, model.StatusAudio, progressAudio); err != nil {
		return err
	}

	script := scriptFromScenes(v.Scenes)
	if script == "" {
		written, err := o.storyboard.WriteNarration(ctx, v.EnhancedPrompt, v.Scenes, v.TargetDuration)
		if err != nil || strings.TrimSpace(written) == "" {
			o.log.Warn("narration_script_fallback", "video_id", v.ID, "error", err)
			written = fallbackScript(v)
		}
		script = written
	}
	o.log.Info("narration_script",
		"video_id", v.ID,
		"words", len(strings.Fields(script)),
		"estimated_duration", provider.EstimateNarrationDuration(script),
		"target_duration", v.TargetDuration)

	voiceID := v.Metadata.VoiceID
	voiceName := v.Metadata.VoiceName
	if voiceID == "" {
		voiceID = o.opts.VoiceID
		voiceName = o.opts.VoiceName
	}
	audio, err := o.narration.Synthesize(ctx, script, voiceID, o.opts.TTSModel, o.opts.VoiceSettings)
	if err != nil {
		return fmt.Errorf("synthesize narration: %w", err)
	}

	audioPath := o.layout.AudioPath(v.UserID, v.ID)
	if err := os.WriteFile(audioPath, audio, 0o644); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}

	ref := &model.FileRef{
		Path:   audioPath,
		URL:    o.layout.PublicURL(audioPath),
		Format: "mp3",
	}
	if size, ok := o.layout.FileSize(audioPath); ok {
		ref.Size = size
	}
	if d := media.MP3Duration(audio); d > 0 {
		ref.Duration = d.Seconds()
	}
	v.Files.Audio = ref
	v.Metadata.VoiceID = voiceID
	v.Metadata.VoiceName = voiceName

	v.Progress = progressMerging
	return o.persist(v)
}

// ---- merging: 90 -> 95 ----

func (o *Orchestrator) phaseMerge(ctx context.Context, v *model.Video) error {
	if err := o.enterPhase(v, model.StatusMerging, progressMerging); err != nil {
		return err
	}

	stitched := o.layout.StitchedPath(v.UserID, v.ID)
	audioPath := o.layout.AudioPath(v.UserID, v.ID)

	audioIn := audioPath
	report, err := o.sync.Verify(ctx, stitched, audioPath, 2)
	if err != nil {
		o.log.Warn("sync_verify_failed", "video_id", v.ID, "error", err)
	} else if !report.InSync {
		o.log.Info("sync_adjust",
			"video_id", v.ID,
			"video", report.VideoDuration,
			"audio", report.AudioDuration,
			"recommendation", report.Recommendation)
		adjusted := filepath.Join(filepath.Dir(audioPath), "audio_adjusted.mp3")
		if err := o.sync.AdjustAudio(ctx, audioPath, report.VideoDuration, adjusted); err != nil {
			o.log.Warn("sync_adjust_failed", "video_id", v.ID, "error", err)
		} else {
			audioIn = adjusted
		}
	}

	final := o.layout.Final720Path(v.UserID, v.ID)
	if err := o.tool.MergeAV(ctx, stitched, audioIn, final, true); err != nil {
		return err
	}

	thumb := o.layout.ThumbnailPath(v.UserID, v.ID)
	if err := o.tool.GenerateThumbnail(ctx, final, thumb, 2); err != nil {
		o.log.Warn("thumbnail_failed", "video_id", v.ID, "error", err)
	} else {
		v.Files.Thumbnail = o.fileRef(ctx, thumb, "jpg")
	}

	info, err := o.tool.Probe(ctx, final)
	if err != nil {
		return fmt.Errorf("probe final: %w", err)
	}
	v.ActualDuration = info.Duration
	v.Metadata.Width = info.Width
	v.Metadata.Height = info.Height
	v.Metadata.FPS = info.FPS
	v.Metadata.Codec = info.Codec
	v.Files.Final720 = o.fileRef(ctx, final, "mp4")

	if merged, err := o.sync.VerifyMerged(ctx, final); err == nil {
		if !merged.HasAudio || !merged.HasVideo {
			o.log.Warn("merge_stream_missing",
				"video_id", v.ID, "has_video", merged.HasVideo, "has_audio", merged.HasAudio)
		}
	}

	v.Progress = progressTranscoding
	return o.persist(v)
}

// ---- transcoding: 95 -> 100 ----

func (o *Orchestrator) phaseTranscode(ctx context.Context, v *model.Video) error {
	if err := o.enterPhase(v, model.StatusTranscoding, progressTranscoding); err != nil {
		return err
	}
	final720 := o.layout.Final720Path(v.UserID, v.ID)
	final480 := o.layout.Final480Path(v.UserID, v.ID)
	if err := o.tool.Transcode(ctx, final720, final480, 854, 480); err != nil {
		return err
	}
	v.Files.Final480 = o.fileRef(ctx, final480, "mp4")
	return o.persist(v)
}

// ---- helpers ----

func (o *Orchestrator) fileRef(ctx context.Context, path, format string) *model.FileRef {
	ref := &model.FileRef{
		Path:   path,
		URL:    o.layout.PublicURL(path),
		Format: format,
	}
	if size, ok := o.layout.FileSize(path); ok {
		ref.Size = size
	}
	if format == "mp4" {
		if info, err := o.tool.Probe(ctx, path); err == nil {
			ref.Duration = info.Duration
		}
	}
	return ref
}

// segmentProgress maps a completed segment count into the 5..70 band.
func segmentProgress(completed, total int) int {
	if total <= 0 {
		return progressGenerating
	}
	return int(math.Round(5 + 65*(float64(completed)-0.5)/float64(total)))
}

// scriptFromScenes joins per-scene narration; empty when any scene
// lacks text, which sends the orchestrator to WriteNarration.
func scriptFromScenes(scenes []model.Scene) string {
	parts := make([]string, 0, len(scenes))
	for _, s := range scenes {
		if strings.TrimSpace(s.NarrationText) == "" {
			return ""
		}
		parts = append(parts, strings.TrimSpace(s.NarrationText))
	}
	return strings.Join(parts, " ")
}

func fallbackScript(v *model.Video) string {
	parts := make([]string, 0, len(v.Scenes))
	for _, s := range v.Scenes {
		parts = append(parts, s.ScenePrompt)
	}
	return strings.Join(parts, ". ")
}

// sleepWithCancel waits d, returning false early when the run has been
// cancelled.
func (o *Orchestrator) sleepWithCancel(videoID string, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if o.store.IsCancelRequested(videoID) {
			return false
		}
		remaining := time.Until(deadline)
		step := 100 * time.Millisecond
		if remaining < step {
			step = remaining
		}
		time.Sleep(step)
	}
	return true
}

// ---- recovery ----

// RecoverOnStart sweeps expired locks and replans unfinished runs:
// resumable runs are rewound to their checkpoint, the rest are marked
// failed. Pending runs that never entered a phase are skipped: they are
// left as they are and not queued.
func (o *Orchestrator) RecoverOnStart() {
	if n, err := o.store.SweepLocks(); err == nil && n > 0 {
		o.log.Info("startup_lock_sweep", "expired", n)
	}
	runs, err := o.store.ListUnfinished()
	if err != nil {
		o.log.Error("recovery_list_failed", "error", err)
		return
	}
	for _, v := range runs {
		if v.Status == model.StatusPending && v.CurrentPhase == "" {
			continue
		}
		o.recoverRun(v)
	}
}

func (o *Orchestrator) recoverRun(v model.Video) {
	onDisk, err := o.layout.ExistingSegments(v.UserID, v.ID)
	if err != nil {
		o.log.Error("recovery_disk_scan_failed", "video_id", v.ID, "error", err)
		return
	}
	plan := recovery.Decide(v, len(onDisk))
	if !plan.Resumable {
		v.Status = model.StatusFailed
		v.ErrorMessage = "processing interrupted"
		if err := o.store.UpdateVideo(v); err != nil {
			o.log.Error("recovery_fail_mark_failed", "video_id", v.ID, "error", err)
		}
		o.log.Info("recovery_marked_failed", "video_id", v.ID, "reason", plan.Reason)
		return
	}
	restored := recovery.Apply(v, plan)
	if err := o.store.UpdateVideo(restored); err != nil {
		o.log.Error("recovery_apply_failed", "video_id", v.ID, "error", err)
		return
	}
	o.log.Info("recovery_planned",
		"video_id", v.ID, "phase", plan.Phase, "next_segment", plan.NextSegment, "reason", plan.Reason)
	o.Submit(v.ID)
}

// StartStaleSweeper periodically claims runs that stalled without a
// crash-restart (e.g. the process lost its lock mid-run).
func (o *Orchestrator) StartStaleSweeper(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.sweepStale()
			}
		}
	}()
}

func (o *Orchestrator) sweepStale() {
	runs, err := o.store.ListUnfinished()
	if err != nil {
		o.log.Error("stale_sweep_list_failed", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, v := range runs {
		if recovery.Stale(v, now) {
			o.log.Warn("stale_run_detected", "video_id", v.ID, "status", v.Status)
			o.recoverRun(v)
		}
	}
}
