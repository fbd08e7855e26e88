package recovery

import (
	"fmt"
	"time"

	"github.com/rahvis/VideoForge/internal/model"
)

// Plan says how to treat a run found in a non-terminal state after a
// crash or restart.
type Plan struct {
	Resumable bool
	// Phase to re-enter when resumable: generating, stitching or audio.
	Phase model.VideoStatus
	// NextSegment is the 1-based segment to generate next (generating
	// phase only).
	NextSegment int
	Reason      string
}

// StaleAfter is how long a non-terminal run may sit untouched before
// the sweep treats it as interrupted.
const StaleAfter = 30 * time.Minute

// Decide inspects the persisted run plus the on-disk segment count and
// picks a resume point. It is pure: running it twice on the same input
// yields the same plan.
func Decide(v model.Video, diskSegments int) Plan {
	switch v.Status {
	case model.StatusGenerating:
		return resumeGenerating(v)

	case model.StatusStitching:
		if diskSegments >= v.SegmentCount && allSegmentsCompleted(v) {
			return Plan{
				Resumable: true,
				Phase:     model.StatusStitching,
				Reason:    "all segments on disk, restart stitch",
			}
		}
		return resumeGenerating(v)

	case model.StatusAudio, model.StatusMerging, model.StatusTranscoding:
		if v.Files.Stitched720 != nil {
			return Plan{
				Resumable: true,
				Phase:     model.StatusAudio,
				Reason:    "stitched file exists, resume from audio",
			}
		}
		if diskSegments >= v.SegmentCount && allSegmentsCompleted(v) {
			return Plan{
				Resumable: true,
				Phase:     model.StatusStitching,
				Reason:    "stitched file missing, restart stitch",
			}
		}
		return resumeGenerating(v)

	case model.StatusDecomposing:
		// Nothing durable produced yet; start the pipeline over.
		return Plan{
			Resumable:   true,
			Phase:       model.StatusDecomposing,
			NextSegment: 1,
			Reason:      "interrupted before any segment, restart",
		}

	default:
		return Plan{Reason: fmt.Sprintf("status %s is not recoverable", v.Status)}
	}
}

// resumeGenerating finds the largest completed prefix and resumes at
// the segment after it.
func resumeGenerating(v model.Video) Plan {
	prefix := 0
	for _, s := range v.Segments {
		if s.Status != model.SegmentCompleted {
			break
		}
		prefix++
	}
	return Plan{
		Resumable:   true,
		Phase:       model.StatusGenerating,
		NextSegment: prefix + 1,
		Reason:      fmt.Sprintf("%d of %d segments completed, resume at %d", prefix, v.SegmentCount, prefix+1),
	}
}

func allSegmentsCompleted(v model.Video) bool {
	if len(v.Segments) < v.SegmentCount {
		return false
	}
	for _, s := range v.Segments {
		if s.Status != model.SegmentCompleted {
			return false
		}
	}
	return true
}

// Apply rewrites the run so the orchestrator can pick it up again:
// status back to pending, resume point recorded, stale error cleared.
// Segments past the completed prefix are reset to pending.
func Apply(v model.Video, plan Plan) model.Video {
	v.Status = model.StatusPending
	v.CurrentPhase = string(plan.Phase)
	v.CurrentSegment = plan.NextSegment
	v.ErrorMessage = ""
	v.CancelRequested = false
	if plan.Phase == model.StatusGenerating {
		for i := range v.Segments {
			if v.Segments[i].SegmentNumber >= plan.NextSegment && v.Segments[i].Status != model.SegmentCompleted {
				v.Segments[i].Status = model.SegmentPending
				v.Segments[i].JobID = ""
				v.Segments[i].Error = ""
			}
		}
	}
	return v
}

// Stale reports whether a non-terminal, non-pending run has been idle
// long enough for the sweep to claim it. Pending runs are never stale.
func Stale(v model.Video, now time.Time) bool {
	return !v.Status.Terminal() && v.Status != model.StatusPending &&
		now.Sub(v.UpdatedAt) > StaleAfter
}
