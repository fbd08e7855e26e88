package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rahvis/VideoForge/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackScenes(t *testing.T) {
	scenes := FallbackScenes("a storm at sea", 60, 12)
	require.Len(t, scenes, 5)
	assert.Equal(t, 1, scenes[0].SceneNumber)
	assert.Contains(t, scenes[2].ScenePrompt, "Scene 3 of 5")
	assert.Equal(t, model.TransitionCrossfade, scenes[0].TransitionType)
	assert.InDelta(t, 48.0, scenes[4].StartTime, 0.001)
	assert.InDelta(t, 60.0, scenes[4].EndTime, 0.001)
}

func TestFallbackScenesShortLastScene(t *testing.T) {
	scenes := FallbackScenes("p", 50, 12)
	require.Len(t, scenes, 5)
	assert.InDelta(t, 50.0, scenes[4].EndTime, 0.001, "last scene truncates to target duration")
}

func TestNormalizeScenesRepairsShape(t *testing.T) {
	scenes := []model.Scene{
		{SceneNumber: 9, ScenePrompt: "first", TransitionType: "wipe"},
		{SceneNumber: 1, ScenePrompt: "", NarrationText: strings.Repeat("n", 600)},
	}
	out := NormalizeScenes(scenes, "base prompt", 24, 12)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].SceneNumber)
	assert.Equal(t, 2, out[1].SceneNumber)
	assert.Equal(t, model.TransitionCrossfade, out[0].TransitionType, "unknown transition defaults to crossfade")
	assert.Contains(t, out[1].ScenePrompt, "Scene 2 of 2")
	assert.Len(t, out[1].NarrationText, 500)
	assert.InDelta(t, 12.0, out[1].StartTime, 0.001)
}

func TestNormalizeScenesWrongCountFallsBack(t *testing.T) {
	out := NormalizeScenes([]model.Scene{{ScenePrompt: "only one"}}, "base", 60, 12)
	require.Len(t, out, 5)
	assert.Contains(t, out[0].ScenePrompt, "base")
}

func TestEstimateNarrationDuration(t *testing.T) {
	assert.Equal(t, 4, EstimateNarrationDuration("one two three four five six seven eight nine ten"))
	assert.Equal(t, 1, EstimateNarrationDuration("hello"))
	assert.Equal(t, 0, EstimateNarrationDuration("  "))
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "A majestic eagle soaring", DeriveTitle("A majestic eagle soaring"))
	long := DeriveTitle("one two three four five six seven eight nine ten")
	assert.Equal(t, "one two three four five six seven eight", long)
	assert.Equal(t, "Untitled video", DeriveTitle(""))
}

func TestExtractJSON(t *testing.T) {
	fenced := "```json\n{\"a\": 1}\n```"
	assert.Equal(t, `{"a": 1}`, extractJSON(fenced))
	assert.Equal(t, `{"a": 1}`, extractJSON(`{"a": 1}`))
}

func TestVideoSegmentClientFlow(t *testing.T) {
	var gotPrompt string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPrompt, _ = req["prompt"].(string)
		json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": "queued"})
	})
	mux.HandleFunc("GET /jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": "job-1", "status": "succeeded",
			"generations": []map[string]string{{"id": "gen-1"}},
		})
	})
	mux.HandleFunc("GET /generations/gen-1/content/video", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp4-bytes"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewVideoSegmentClient(server.URL, "key", "sora", slog.Default())
	ctx := context.Background()

	jobID, err := client.Start(ctx, "an eagle", 1920, 1080, 12, "frame_001.jpg")
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Contains(t, gotPrompt, "an eagle")
	assert.Contains(t, gotPrompt, "frame_001.jpg", "continuity hint folded into prompt")

	result, err := client.Poll(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, result.State)
	require.Len(t, result.GenerationIDs, 1)

	data, err := client.FetchContent(ctx, result.GenerationIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(data))
}

func TestVideoSegmentClientRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewVideoSegmentClient(server.URL, "key", "sora", slog.Default())
	_, err := client.Start(context.Background(), "p", 1920, 1080, 12, "")
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.True(t, pErr.Retryable)
}

func TestNarrationClient(t *testing.T) {
	var gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotText, _ = req["text"].(string)
		w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	client := NewNarrationClient(server.URL, "key", slog.Default())
	audio, err := client.Synthesize(context.Background(),
		"Hello. "+SceneBreak+" World.", "voice-1", "model-1", VoiceSettings{})
	require.NoError(t, err)
	assert.Equal(t, "mp3-bytes", string(audio))
	assert.NotContains(t, gotText, SceneBreak, "scene markers are stripped before synthesis")
}

func TestMockVideoSegmentsFailureInjection(t *testing.T) {
	m := NewMockVideoSegments()
	m.FailuresFor("flaky", 2)
	ctx := context.Background()

	_, err := m.Start(ctx, "a flaky scene", 1920, 1080, 12, "")
	require.Error(t, err)
	_, err = m.Start(ctx, "a flaky scene", 1920, 1080, 12, "")
	require.Error(t, err)
	jobID, err := m.Start(ctx, "a flaky scene", 1920, 1080, 12, "")
	require.NoError(t, err)

	result, err := m.Poll(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, result.State)
}
