package recovery

import (
	"testing"
	"time"

	"github.com/rahvis/VideoForge/internal/model"

	"github.com/stretchr/testify/assert"
)

func runWith(status model.VideoStatus, completed, total int) model.Video {
	v := model.Video{
		Status:       status,
		SegmentCount: total,
		Segments:     make([]model.Segment, total),
	}
	for i := range v.Segments {
		v.Segments[i] = model.Segment{SegmentNumber: i + 1, Status: model.SegmentPending}
		if i < completed {
			v.Segments[i].Status = model.SegmentCompleted
		}
	}
	return v
}

func TestGeneratingResumesAfterPrefix(t *testing.T) {
	v := runWith(model.StatusGenerating, 2, 5)
	plan := Decide(v, 2)
	assert.True(t, plan.Resumable)
	assert.Equal(t, model.StatusGenerating, plan.Phase)
	assert.Equal(t, 3, plan.NextSegment)
}

func TestGeneratingWithHoleResumesAtHole(t *testing.T) {
	v := runWith(model.StatusGenerating, 4, 5)
	v.Segments[1].Status = model.SegmentFailed
	plan := Decide(v, 4)
	assert.Equal(t, 2, plan.NextSegment, "prefix stops at the first non-completed segment")
}

func TestStitchingWithAllSegmentsRestartsStitch(t *testing.T) {
	v := runWith(model.StatusStitching, 5, 5)
	plan := Decide(v, 5)
	assert.True(t, plan.Resumable)
	assert.Equal(t, model.StatusStitching, plan.Phase)
}

func TestStitchingWithMissingSegmentsFallsBack(t *testing.T) {
	v := runWith(model.StatusStitching, 3, 5)
	plan := Decide(v, 3)
	assert.Equal(t, model.StatusGenerating, plan.Phase)
	assert.Equal(t, 4, plan.NextSegment)
}

func TestLatePhasesResumeFromAudioWhenStitched(t *testing.T) {
	for _, status := range []model.VideoStatus{model.StatusAudio, model.StatusMerging, model.StatusTranscoding} {
		v := runWith(status, 5, 5)
		v.Files.Stitched720 = &model.FileRef{Path: "/x/stitched_720p.mp4"}
		plan := Decide(v, 5)
		assert.True(t, plan.Resumable, "status %s", status)
		assert.Equal(t, model.StatusAudio, plan.Phase, "status %s", status)
	}
}

func TestLatePhaseWithoutStitchedFallsBackToStitch(t *testing.T) {
	v := runWith(model.StatusMerging, 5, 5)
	plan := Decide(v, 5)
	assert.Equal(t, model.StatusStitching, plan.Phase)
}

func TestTerminalStatesNotRecoverable(t *testing.T) {
	for _, status := range []model.VideoStatus{model.StatusCompleted, model.StatusFailed, model.StatusPending} {
		v := runWith(status, 0, 5)
		assert.False(t, Decide(v, 0).Resumable, "status %s", status)
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	v := runWith(model.StatusGenerating, 3, 5)
	first := Decide(v, 3)
	second := Decide(v, 3)
	assert.Equal(t, first, second)
}

func TestApplyRewindsRun(t *testing.T) {
	v := runWith(model.StatusGenerating, 2, 5)
	v.Segments[2].Status = model.SegmentGenerating
	v.Segments[2].JobID = "job-abc"
	v.ErrorMessage = "interrupted"
	v.CancelRequested = true

	plan := Decide(v, 2)
	restored := Apply(v, plan)

	assert.Equal(t, model.StatusPending, restored.Status)
	assert.Equal(t, string(model.StatusGenerating), restored.CurrentPhase)
	assert.Equal(t, 3, restored.CurrentSegment)
	assert.Empty(t, restored.ErrorMessage)
	assert.False(t, restored.CancelRequested)
	assert.Equal(t, model.SegmentPending, restored.Segments[2].Status)
	assert.Empty(t, restored.Segments[2].JobID)
	assert.Equal(t, model.SegmentCompleted, restored.Segments[0].Status, "completed prefix untouched")
}

func TestStale(t *testing.T) {
	now := time.Now().UTC()
	v := model.Video{Status: model.StatusGenerating, UpdatedAt: now.Add(-time.Hour)}
	assert.True(t, Stale(v, now))

	v.UpdatedAt = now.Add(-time.Minute)
	assert.False(t, Stale(v, now))

	v.Status = model.StatusCompleted
	v.UpdatedAt = now.Add(-time.Hour)
	assert.False(t, Stale(v, now))
}
