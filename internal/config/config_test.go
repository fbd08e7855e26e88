package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.SegmentDuration)
	assert.Equal(t, 3, cfg.MaxSegmentRetries)
	assert.Equal(t, 1, cfg.MaxConcurrentJobs)
	assert.False(t, cfg.ParallelSegments)
	assert.Equal(t, 32, cfg.CacheHashLength)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SEGMENT_DURATION", "10")
	t.Setenv("MAX_SEGMENT_RETRIES", "5")
	t.Setenv("POLLING_INTERVAL_MS", "2500ms")
	t.Setenv("MAX_CONCURRENT_JOBS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.SegmentDuration)
	assert.Equal(t, 5, cfg.MaxSegmentRetries)
	assert.Equal(t, "2.5s", cfg.PollingInterval.String())
	assert.Equal(t, 1, cfg.MaxConcurrentJobs, "concurrency clamps to at least 1")
}

func TestDurationBoundsClamped(t *testing.T) {
	t.Setenv("MIN_VIDEO_DURATION", "1")
	t.Setenv("MAX_VIDEO_DURATION", "600")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MinVideoDuration)
	assert.Equal(t, 120, cfg.MaxVideoDuration)
}

func TestLoadVoices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
voices:
  - id: voice-calm
    name: Calm Narrator
    stability: 0.6
    clarity: 0.8
  - id: voice-bright
    name: Bright Host
`), 0o644))

	cat, err := LoadVoices(path)
	require.NoError(t, err)
	require.Len(t, cat.Voices, 2)

	voice, ok := cat.Find("voice-calm")
	assert.True(t, ok)
	assert.Equal(t, "Calm Narrator", voice.Name)
	assert.InDelta(t, 0.6, voice.Stability, 0.001)

	_, ok = cat.Find("missing")
	assert.False(t, ok)
}

func TestLoadVoicesMissingFile(t *testing.T) {
	cat, err := LoadVoices(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cat.Voices)
}

func TestLoadVoicesBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	require.NoError(t, os.WriteFile(path, []byte("voices: [unclosed"), 0o644))
	_, err := LoadVoices(path)
	assert.Error(t, err)
}
