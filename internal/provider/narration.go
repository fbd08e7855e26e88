package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// NarrationClient synthesizes speech through an ElevenLabs-style TTS
// API. The response body is the mp3.
type NarrationClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

func NewNarrationClient(baseURL, apiKey string, logger *slog.Logger) *NarrationClient {
	return &NarrationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 3 * time.Minute},
		log:     logger,
	}
}

type ttsRequest struct {
	Text          string      `json:"text"`
	ModelID       string      `json:"model_id"`
	VoiceSettings ttsSettings `json:"voice_settings"`
}

type ttsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (c *NarrationClient) Synthesize(ctx context.Context, script, voiceID, modelID string, settings VoiceSettings) ([]byte, error) {
	// Scene markers are storyboard structure, not speech.
	text := strings.TrimSpace(strings.ReplaceAll(script, SceneBreak, " "))
	if text == "" {
		return nil, fmt.Errorf("empty narration script")
	}
	if settings.Stability == 0 {
		settings.Stability = 0.5
	}
	if settings.Clarity == 0 {
		settings.Clarity = 0.75
	}
	raw, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: modelID,
		VoiceSettings: ttsSettings{
			Stability:       settings.Stability,
			SimilarityBoost: settings.Clarity,
		},
	})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, netError("TTS_UNREACHABLE", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus("TTS_HTTP", resp.StatusCode, string(body))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, netError("TTS_READ", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts returned empty audio")
	}
	return audio, nil
}
