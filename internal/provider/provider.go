package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/rahvis/VideoForge/internal/model"
)

// Error is the typed failure every adapter returns. Retry dispatches
// on Retryable instead of parsing message text.
type Error struct {
	Code            string
	Retryable       bool
	UserMessage     string
	InternalMessage string
}

func (e *Error) Error() string {
	if e.InternalMessage != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.InternalMessage)
	}
	return e.Code
}

// EnhanceResult is the storyboard author's rewrite of a raw prompt.
type EnhanceResult struct {
	EnhancedPrompt    string   `json:"enhanced_prompt"`
	Title             string   `json:"title"`
	Keywords          []string `json:"keywords,omitempty"`
	EstimatedDuration int      `json:"estimated_duration,omitempty"`
}

// Storyboard writes the creative plan: enhanced prompt, scene
// decomposition, narration script.
type Storyboard interface {
	Enhance(ctx context.Context, prompt string, targetDuration int) (EnhanceResult, error)
	Decompose(ctx context.Context, prompt string, targetDuration, segmentDuration int) ([]model.Scene, error)
	WriteNarration(ctx context.Context, prompt string, scenes []model.Scene, targetDuration int) (string, error)
}

type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

type PollResult struct {
	State         JobState
	GenerationIDs []string
	Error         string
}

// VideoSegments drives the text-to-video model's async job API. The
// continuity hint is best effort: providers that cannot condition on
// it get it folded into the prompt, or ignore it entirely.
type VideoSegments interface {
	Start(ctx context.Context, scenePrompt string, width, height, nSeconds int, continuityHint string) (string, error)
	Poll(ctx context.Context, jobID string) (PollResult, error)
	FetchContent(ctx context.Context, generationID string) ([]byte, error)
}

type VoiceSettings struct {
	Stability float64 `json:"stability"`
	Clarity   float64 `json:"clarity"`
}

// Narration synthesizes speech for the assembled script.
type Narration interface {
	Synthesize(ctx context.Context, script, voiceID, modelID string, settings VoiceSettings) ([]byte, error)
}

// SceneBreak separates scenes inside a narration script.
const SceneBreak = "[SCENE BREAK]"

// EstimateNarrationDuration approximates spoken length at 2.5 words
// per second.
func EstimateNarrationDuration(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) / 2.5))
}

// FallbackScenes builds the degenerate decomposition used when the
// storyboard provider fails: every scene repeats the prompt.
func FallbackScenes(prompt string, targetDuration, segmentDuration int) []model.Scene {
	count := model.SegmentCountFor(targetDuration, segmentDuration)
	scenes := make([]model.Scene, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i * segmentDuration)
		end := start + float64(segmentDuration)
		if end > float64(targetDuration) {
			end = float64(targetDuration)
		}
		scenes = append(scenes, model.Scene{
			SceneNumber:    i + 1,
			ScenePrompt:    fmt.Sprintf("%s — Scene %d of %d", prompt, i+1, count),
			StartTime:      start,
			EndTime:        end,
			TransitionType: model.TransitionCrossfade,
		})
	}
	return scenes
}

// NormalizeScenes repairs whatever the model returned into the shape
// the pipeline requires: ordered numbering, contiguous times, bounded
// prompt lengths, a known transition.
func NormalizeScenes(scenes []model.Scene, prompt string, targetDuration, segmentDuration int) []model.Scene {
	count := model.SegmentCountFor(targetDuration, segmentDuration)
	if len(scenes) != count {
		return FallbackScenes(prompt, targetDuration, segmentDuration)
	}
	for i := range scenes {
		scenes[i].SceneNumber = i + 1
		if strings.TrimSpace(scenes[i].ScenePrompt) == "" {
			scenes[i].ScenePrompt = fmt.Sprintf("%s - Scene %d of %d", prompt, i+1, count)
		}
		if len(scenes[i].ScenePrompt) > 2000 {
			scenes[i].ScenePrompt = scenes[i].ScenePrompt[:2000]
		}
		if len(scenes[i].NarrationText) > 500 {
			scenes[i].NarrationText = scenes[i].NarrationText[:500]
		}
		if scenes[i].TransitionType != model.TransitionCut {
			scenes[i].TransitionType = model.TransitionCrossfade
		}
		scenes[i].StartTime = float64(i * segmentDuration)
		scenes[i].EndTime = scenes[i].StartTime + float64(segmentDuration)
		if scenes[i].EndTime > float64(targetDuration) {
			scenes[i].EndTime = float64(targetDuration)
		}
	}
	return scenes
}

func classifyStatus(code string, status int, body string) *Error {
	retryable := status == http.StatusTooManyRequests ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
	return &Error{
		Code:            code,
		Retryable:       retryable,
		UserMessage:     "Upstream provider error",
		InternalMessage: fmt.Sprintf("status %d: %s", status, truncate(body, 512)),
	}
}

func netError(code string, err error) *Error {
	return &Error{
		Code:            code,
		Retryable:       true,
		UserMessage:     "Upstream provider unreachable",
		InternalMessage: err.Error(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
