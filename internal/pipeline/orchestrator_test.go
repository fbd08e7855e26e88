package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rahvis/VideoForge/internal/cache"
	"github.com/rahvis/VideoForge/internal/events"
	"github.com/rahvis/VideoForge/internal/lock"
	"github.com/rahvis/VideoForge/internal/media"
	"github.com/rahvis/VideoForge/internal/model"
	"github.com/rahvis/VideoForge/internal/provider"
	"github.com/rahvis/VideoForge/internal/storage"
	"github.com/rahvis/VideoForge/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool fabricates media operations: every output is a real file on
// disk, durations come from the filename.
type fakeTool struct {
	segmentDur float64
	finalDur   float64
	audioDur   float64
}

func newFakeTool() *fakeTool {
	return &fakeTool{segmentDur: 12, finalDur: 60, audioDur: 60}
}

func (f *fakeTool) durationFor(path string) float64 {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "segment_"):
		return f.segmentDur
	case strings.HasPrefix(base, "audio"):
		return f.audioDur
	default:
		return f.finalDur
	}
}

func (f *fakeTool) write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("fake:"+filepath.Base(path)), 0o644)
}

func (f *fakeTool) ExtractLastFrame(_ context.Context, _, out string) error { return f.write(out) }
func (f *fakeTool) ExtractFrameAt(_ context.Context, _ string, _ float64, out string) error {
	return f.write(out)
}
func (f *fakeTool) GenerateThumbnail(_ context.Context, _, out string, _ float64) error {
	return f.write(out)
}

func (f *fakeTool) Probe(_ context.Context, path string) (media.VideoInfo, error) {
	return media.VideoInfo{
		Duration: f.durationFor(path),
		Width:    1280, Height: 720, FPS: 30, Codec: "h264",
	}, nil
}

func (f *fakeTool) ProbeMedia(_ context.Context, path string) (media.MediaInfo, error) {
	return media.MediaInfo{Duration: f.durationFor(path), Format: "mp3"}, nil
}

func (f *fakeTool) ProbeStreams(context.Context, string) ([]media.StreamInfo, error) {
	return []media.StreamInfo{
		{CodecType: "video", CodecName: "h264"},
		{CodecType: "audio", CodecName: "aac"},
	}, nil
}

func (f *fakeTool) ConcatSimple(_ context.Context, _ []string, out string) error {
	return f.write(out)
}
func (f *fakeTool) StitchCrossfade(_ context.Context, _ []string, out string, _, _ float64) error {
	return f.write(out)
}
func (f *fakeTool) MergeAV(_ context.Context, _, _, out string, _ bool) error { return f.write(out) }
func (f *fakeTool) Transcode(_ context.Context, _, out string, _, _ int) error {
	return f.write(out)
}
func (f *fakeTool) PadAudio(_ context.Context, _, out string, _ float64) error {
	return f.write(out)
}
func (f *fakeTool) TempoAudio(_ context.Context, _, out string, _ float64) error {
	return f.write(out)
}

type fixture struct {
	st     *store.Store
	orch   *Orchestrator
	layout *storage.Layout
	video  *provider.MockVideoSegments
	tool   *fakeTool
	hub    *events.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	layout := storage.NewLayout(filepath.Join(dir, "uploads"), "http://localhost:8080")
	segCache, err := cache.New(layout.CacheDir(), time.Hour, 32, slog.Default())
	require.NoError(t, err)

	tool := newFakeTool()
	videoProv := provider.NewMockVideoSegments()
	hub := events.NewHub()

	orch := New(st, lock.NewManager(st, time.Minute, slog.Default()), layout, segCache,
		tool, media.NewSyncVerifier(tool, slog.Default()),
		provider.MockStoryboard{}, videoProv, provider.NewMockNarration(),
		hub, slog.Default(),
		Options{
			SegmentDuration:   12,
			MaxSegmentRetries: 3,
			PollingInterval:   5 * time.Millisecond,
			SegmentTimeout:    5 * time.Second,
			VideoTimeout:      time.Minute,
			RetryBaseDelay:    5 * time.Millisecond,
		})

	return &fixture{st: st, orch: orch, layout: layout, video: videoProv, tool: tool, hub: hub}
}

func (f *fixture) createVideo(t *testing.T, prompt string, duration int) model.Video {
	t.Helper()
	segDur := model.SegmentDurationFor(duration, 12)
	count := model.SegmentCountFor(duration, segDur)
	now := time.Now().UTC()
	v := model.Video{
		ID:              uuid.NewString(),
		UserID:          "user-1",
		OriginalPrompt:  prompt,
		TargetDuration:  duration,
		SegmentDuration: segDur,
		SegmentCount:    count,
		Status:          model.StatusPending,
		Segments:        make([]model.Segment, count),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range v.Segments {
		v.Segments[i] = model.Segment{SegmentNumber: i + 1, Status: model.SegmentPending}
	}
	require.NoError(t, f.st.CreateVideo(v))
	return v
}

func (f *fixture) lockFree(t *testing.T) bool {
	t.Helper()
	lockRow, err := f.st.GetLock(lock.Key)
	require.NoError(t, err)
	return !lockRow.IsLocked
}

func TestHappyPath60Seconds(t *testing.T) {
	f := newFixture(t)
	v := f.createVideo(t, "A majestic eagle soaring", 60)
	require.Equal(t, 5, v.SegmentCount)

	f.orch.Process(v.ID)

	got, err := f.st.GetVideo(v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Files.Final720)
	require.NotNil(t, got.Files.Final480)
	require.NotNil(t, got.Files.Stitched720)
	require.NotNil(t, got.Files.Audio)
	assert.FileExists(t, got.Files.Final720.Path)
	assert.FileExists(t, got.Files.Final480.Path)
	assert.InDelta(t, 60.0, got.ActualDuration, 2.0)
	assert.False(t, got.CompletedAt.IsZero())
	assert.Equal(t, "h264", got.Metadata.Codec)

	for i, seg := range got.Segments {
		assert.Equal(t, model.SegmentCompleted, seg.Status)
		assert.FileExists(t, seg.FilePath)
		if i < len(got.Segments)-1 {
			assert.FileExists(t, seg.LastFramePath, "segment %d keeps its continuity frame", i+1)
		} else {
			assert.Empty(t, seg.LastFramePath, "final segment has no successor")
		}
	}

	assert.True(t, f.lockFree(t), "lock released after completion")
}

func TestFiveSecondVideoSingleSegment(t *testing.T) {
	f := newFixture(t)
	v := f.createVideo(t, "a single splash of water", 5)
	require.Equal(t, 1, v.SegmentCount)
	require.Equal(t, 5, v.SegmentDuration)

	f.orch.Process(v.ID)
	got, err := f.st.GetVideo(v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
}

func TestFlakySegmentRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	// MockStoryboard derives scene prompts containing "Scene i of N".
	f.video.FailuresFor("Scene 3 of 5", 2)
	v := f.createVideo(t, "a desert caravan at dusk", 60)

	f.orch.Process(v.ID)

	got, err := f.st.GetVideo(v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Segments[2].RetryCount)
	for i, seg := range got.Segments {
		if i != 2 {
			assert.Zero(t, seg.RetryCount, "segment %d must not accumulate retries", i+1)
		}
	}
}

func TestHardFailedSegmentFailsRun(t *testing.T) {
	f := newFixture(t)
	f.video.FatalFor("Scene 5 of 5")
	v := f.createVideo(t, "a city skyline timelapse", 60)

	f.orch.Process(v.ID)

	got, err := f.st.GetVideo(v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "segment 5")
	assert.Nil(t, got.Files.Final720, "no partial artifact is published")
	assert.NoFileExists(t, f.layout.Final720Path(got.UserID, got.ID))
	assert.True(t, f.lockFree(t), "lock released after failure")
}

func TestTransientExhaustionFailsRun(t *testing.T) {
	f := newFixture(t)
	f.video.FailuresFor("Scene 2 of 5", 10)
	v := f.createVideo(t, "waves breaking on a reef", 60)

	f.orch.Process(v.ID)

	got, err := f.st.GetVideo(v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "segment 2")
	assert.Equal(t, model.SegmentFailed, got.Segments[1].Status)
	// First failure at attempt 1 and 2 increments the counter; the
	// third attempt fails without another increment.
	assert.Equal(t, 2, got.Segments[1].RetryCount)
}

func TestCancellationBetweenSegments(t *testing.T) {
	f := newFixture(t)
	f.video.PollsToComplete = 1000 // keep every segment in flight
	v := f.createVideo(t, "slow burning candle", 60)

	done := make(chan struct{})
	go func() {
		f.orch.Process(v.ID)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	ok, err := f.st.RequestCancel(v.ID)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	got, err := f.st.GetVideo(v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "cancelled", got.ErrorMessage)
	assert.True(t, f.lockFree(t), "lock released after cancel")
}

func TestCacheHitSkipsProvider(t *testing.T) {
	f := newFixture(t)
	first := f.createVideo(t, "an identical prompt", 24)
	f.orch.Process(first.ID)
	require.Equal(t, model.StatusCompleted, mustGet(t, f, first.ID).Status)
	callsAfterFirst := f.video.StartCalls()
	assert.Equal(t, 2, callsAfterFirst)

	second := f.createVideo(t, "an identical prompt", 24)
	f.orch.Process(second.ID)
	got := mustGet(t, f, second.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, callsAfterFirst, f.video.StartCalls(),
		"second run serves every segment from the cache")
	for _, seg := range got.Segments {
		assert.FileExists(t, seg.FilePath)
	}
}

func TestResumeFromSegmentThree(t *testing.T) {
	f := newFixture(t)
	v := f.createVideo(t, "northern lights over a fjord", 60)

	// Simulate a crash after segments 1 and 2 landed on disk.
	v.Scenes = provider.FallbackScenes(v.OriginalPrompt, 60, 12)
	v.EnhancedPrompt = v.OriginalPrompt
	require.NoError(t, f.layout.CreateVideoTree(v.UserID, v.ID))
	for i := 1; i <= 2; i++ {
		segPath := f.layout.SegmentPath(v.UserID, v.ID, i)
		require.NoError(t, os.MkdirAll(filepath.Dir(segPath), 0o755))
		require.NoError(t, os.WriteFile(segPath, []byte("seg"), 0o644))
		framePath := f.layout.FramePath(v.UserID, v.ID, i)
		require.NoError(t, os.MkdirAll(filepath.Dir(framePath), 0o755))
		require.NoError(t, os.WriteFile(framePath, []byte("frame"), 0o644))
		v.Segments[i-1].Status = model.SegmentCompleted
		v.Segments[i-1].FilePath = segPath
		v.Segments[i-1].LastFramePath = framePath
	}
	v.Status = model.StatusPending
	v.CurrentPhase = string(model.StatusGenerating)
	v.CurrentSegment = 3
	v.Progress = 30
	require.NoError(t, f.st.UpdateVideo(v))

	f.orch.Process(v.ID)

	got := mustGet(t, f, v.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 3, f.video.StartCalls(), "only segments 3..5 hit the provider")
}

func TestRecoverOnStartRewindsInterruptedRun(t *testing.T) {
	f := newFixture(t)
	v := f.createVideo(t, "a glacier calving", 60)
	v.Scenes = provider.FallbackScenes(v.OriginalPrompt, 60, 12)
	require.NoError(t, f.layout.CreateVideoTree(v.UserID, v.ID))
	for i := 1; i <= 2; i++ {
		segPath := f.layout.SegmentPath(v.UserID, v.ID, i)
		require.NoError(t, os.WriteFile(segPath, []byte("seg"), 0o644))
		v.Segments[i-1].Status = model.SegmentCompleted
		v.Segments[i-1].FilePath = segPath
	}
	v.Status = model.StatusGenerating
	v.CurrentSegment = 3
	require.NoError(t, f.st.UpdateVideo(v))

	f.orch.RecoverOnStart()

	got := mustGet(t, f, v.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, string(model.StatusGenerating), got.CurrentPhase)
	assert.Equal(t, 3, got.CurrentSegment)
	require.Len(t, got.Scenes, 5, "scenes survive recovery")
	assert.Equal(t, model.SegmentCompleted, got.Segments[0].Status)
	assert.Equal(t, model.SegmentCompleted, got.Segments[1].Status)
}

func TestLockRefusalFailsRun(t *testing.T) {
	f := newFixture(t)
	ok, err := f.st.AcquireLock(lock.Key, "someone-else", model.LockMetadata{}, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	v := f.createVideo(t, "a blocked run", 24)
	f.orch.Process(v.ID)

	got := mustGet(t, f, v.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "busy")
}

func TestProgressMonotonicAcrossEvents(t *testing.T) {
	f := newFixture(t)
	v := f.createVideo(t, "time lapse of clouds", 60)

	_, sub, unsubscribe := f.hub.Subscribe(v.ID, 512)
	defer unsubscribe()

	f.orch.Process(v.ID)

	last := -1
	for {
		select {
		case evt := <-sub:
			if p, ok := evt.Payload["progress"]; ok {
				val := int(asFloat(p))
				assert.GreaterOrEqual(t, val, last, "progress regressed in %s event", evt.Type)
				last = val
			}
		default:
			assert.GreaterOrEqual(t, last, 0)
			return
		}
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return -1
	}
}

func mustGet(t *testing.T, f *fixture, id string) model.Video {
	t.Helper()
	v, err := f.st.GetVideo(id)
	require.NoError(t, err)
	return v
}

func TestSegmentProgressBand(t *testing.T) {
	assert.Equal(t, 12, segmentProgress(1, 5))
	assert.Equal(t, 64, segmentProgress(5, 5))
	for i := 2; i <= 5; i++ {
		assert.Greater(t, segmentProgress(i, 5), segmentProgress(i-1, 5))
	}
	assert.LessOrEqual(t, segmentProgress(10, 10), 70)
}

func TestFallbackScriptWhenScenesLackNarration(t *testing.T) {
	scenes := []model.Scene{
		{SceneNumber: 1, NarrationText: "First."},
		{SceneNumber: 2},
	}
	assert.Empty(t, scriptFromScenes(scenes))

	scenes[1].NarrationText = "Second."
	assert.Equal(t, "First. Second.", scriptFromScenes(scenes))
}

func TestQueueSerialization(t *testing.T) {
	f := newFixture(t)
	stop := make(chan struct{})
	defer close(stop)
	f.orch.StartWorker(stop)

	ids := make([]string, 3)
	for i := range ids {
		v := f.createVideo(t, fmt.Sprintf("queued run %d", i), 24)
		ids[i] = v.ID
		f.orch.Submit(v.ID)
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		done := 0
		for _, id := range ids {
			if mustGet(t, f, id).Status == model.StatusCompleted {
				done++
			}
		}
		if done == len(ids) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("queued runs did not all complete")
}
