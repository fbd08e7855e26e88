package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rahvis/VideoForge/internal/model"

	"github.com/google/uuid"
)

// MockStoryboard answers without a model. Used when no storyboard API
// key is configured, and by tests.
type MockStoryboard struct{}

func (MockStoryboard) Enhance(_ context.Context, prompt string, targetDuration int) (EnhanceResult, error) {
	return EnhanceResult{
		EnhancedPrompt:    "Cinematic, natural light, smooth camera motion: " + prompt,
		Title:             DeriveTitle(prompt),
		Keywords:          strings.Fields(prompt),
		EstimatedDuration: targetDuration,
	}, nil
}

func (MockStoryboard) Decompose(_ context.Context, prompt string, targetDuration, segmentDuration int) ([]model.Scene, error) {
	scenes := FallbackScenes(prompt, targetDuration, segmentDuration)
	for i := range scenes {
		scenes[i].NarrationText = fmt.Sprintf("Part %d of the story about %s.", i+1, DeriveTitle(prompt))
	}
	return scenes, nil
}

func (MockStoryboard) WriteNarration(_ context.Context, prompt string, scenes []model.Scene, _ int) (string, error) {
	parts := make([]string, 0, len(scenes))
	for _, s := range scenes {
		if s.NarrationText != "" {
			parts = append(parts, s.NarrationText)
		} else {
			parts = append(parts, fmt.Sprintf("Scene %d of %s.", s.SceneNumber, DeriveTitle(prompt)))
		}
	}
	return strings.Join(parts, " "+SceneBreak+" "), nil
}

type mockJob struct {
	prompt       string
	polls        int
	generationID string
}

// MockVideoSegments simulates the async job API in memory. Jobs
// complete after PollsToComplete polls. FailuresFor injects retryable
// failures for prompts containing a substring; FatalFor injects a
// non-retryable one.
type MockVideoSegments struct {
	PollsToComplete int
	Content         []byte

	mu          sync.Mutex
	jobs        map[string]*mockJob
	failures    map[string]int
	fatal       map[string]bool
	startCalls  int
	failedSoFar map[string]int
}

func NewMockVideoSegments() *MockVideoSegments {
	return &MockVideoSegments{
		PollsToComplete: 1,
		Content:         []byte("mock-mp4-segment"),
		jobs:            map[string]*mockJob{},
		failures:        map[string]int{},
		fatal:           map[string]bool{},
		failedSoFar:     map[string]int{},
	}
}

// FailuresFor makes Start fail with a retryable error n times for any
// prompt containing substr.
func (m *MockVideoSegments) FailuresFor(substr string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[substr] = n
}

func (m *MockVideoSegments) FatalFor(substr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fatal[substr] = true
}

func (m *MockVideoSegments) StartCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCalls
}

func (m *MockVideoSegments) Start(_ context.Context, scenePrompt string, _, _, _ int, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls++
	for substr := range m.fatal {
		if strings.Contains(scenePrompt, substr) {
			return "", &Error{
				Code:            "QUOTA_EXHAUSTED",
				Retryable:       false,
				UserMessage:     "Provider quota exhausted",
				InternalMessage: "mock fatal failure",
			}
		}
	}
	for substr, n := range m.failures {
		if strings.Contains(scenePrompt, substr) && m.failedSoFar[substr] < n {
			m.failedSoFar[substr]++
			return "", &Error{
				Code:            "UPSTREAM_TIMEOUT",
				Retryable:       true,
				UserMessage:     "Upstream timeout",
				InternalMessage: fmt.Sprintf("mock transient failure %d/%d", m.failedSoFar[substr], n),
			}
		}
	}
	id := "job-" + uuid.NewString()[:8]
	m.jobs[id] = &mockJob{prompt: scenePrompt, generationID: "gen-" + uuid.NewString()[:8]}
	return id, nil
}

func (m *MockVideoSegments) Poll(_ context.Context, jobID string) (PollResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return PollResult{State: JobFailed, Error: "unknown job"}, nil
	}
	job.polls++
	if job.polls < m.PollsToComplete {
		return PollResult{State: JobRunning}, nil
	}
	return PollResult{State: JobSucceeded, GenerationIDs: []string{job.generationID}}, nil
}

func (m *MockVideoSegments) FetchContent(_ context.Context, _ string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.Content...), nil
}

// MockNarration returns a fixed mp3-shaped payload.
type MockNarration struct {
	Audio []byte
}

func NewMockNarration() *MockNarration {
	return &MockNarration{Audio: []byte("mock-mp3-narration")}
}

func (m *MockNarration) Synthesize(_ context.Context, script, _, _ string, _ VoiceSettings) ([]byte, error) {
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("empty narration script")
	}
	return append([]byte(nil), m.Audio...), nil
}
