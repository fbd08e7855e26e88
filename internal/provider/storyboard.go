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

	"github.com/rahvis/VideoForge/internal/model"
)

// StoryboardClient talks to a chat-completions style LLM API.
type StoryboardClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	log     *slog.Logger
}

func NewStoryboardClient(baseURL, apiKey, modelName string, logger *slog.Logger) *StoryboardClient {
	return &StoryboardClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   modelName,
		http:    &http.Client{Timeout: 90 * time.Second},
		log:     logger,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *StoryboardClient) complete(ctx context.Context, system, user string, wantJSON bool) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
	}
	if wantJSON {
		reqBody.ResponseFormat = &respFormat{Type: "json_object"}
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", netError("STORYBOARD_UNREACHABLE", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("STORYBOARD_HTTP", resp.StatusCode, string(body))
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Enhance rewrites the prompt for cinematic generation. Failures are
// soft: the caller gets the original prompt back with a derived title.
func (c *StoryboardClient) Enhance(ctx context.Context, prompt string, targetDuration int) (EnhanceResult, error) {
	fallback := EnhanceResult{
		EnhancedPrompt:    prompt,
		Title:             DeriveTitle(prompt),
		EstimatedDuration: targetDuration,
	}
	system := "You are a video director. Rewrite the user's idea as a vivid, concrete " +
		"text-to-video prompt. Respond with JSON: " +
		`{"enhanced_prompt": string, "title": string (max 60 chars), "keywords": [string], "estimated_duration": number}`
	user := fmt.Sprintf("Idea: %s\nTarget duration: %d seconds.", prompt, targetDuration)

	content, err := c.complete(ctx, system, user, true)
	if err != nil {
		c.log.Warn("enhance_failed", "error", err)
		return fallback, nil
	}
	var result EnhanceResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		c.log.Warn("enhance_parse_failed", "error", err)
		return fallback, nil
	}
	if strings.TrimSpace(result.EnhancedPrompt) == "" {
		result.EnhancedPrompt = prompt
	}
	if strings.TrimSpace(result.Title) == "" {
		result.Title = fallback.Title
	}
	if result.EstimatedDuration <= 0 {
		result.EstimatedDuration = targetDuration
	}
	return result, nil
}

type decomposeResponse struct {
	Scenes []struct {
		SceneNumber       int    `json:"scene_number"`
		ScenePrompt       string `json:"scene_prompt"`
		VisualDescription string `json:"visual_description"`
		ContinuityNotes   string `json:"continuity_notes"`
		NarrationText     string `json:"narration_text"`
		TransitionType    string `json:"transition_type"`
	} `json:"scenes"`
}

// Decompose splits the prompt into one scene per segment. The result
// is normalized; a hard failure is returned to the caller, which falls
// back to FallbackScenes.
func (c *StoryboardClient) Decompose(ctx context.Context, prompt string, targetDuration, segmentDuration int) ([]model.Scene, error) {
	count := model.SegmentCountFor(targetDuration, segmentDuration)
	system := fmt.Sprintf("You are a storyboard writer. Split the video concept into exactly %d scenes "+
		"of %d seconds each, visually continuous. Respond with JSON: "+
		`{"scenes": [{"scene_number": n, "scene_prompt": string, "visual_description": string, `+
		`"continuity_notes": string, "narration_text": string (max 500 chars), `+
		`"transition_type": "crossfade"|"cut"}]}`, count, segmentDuration)
	user := fmt.Sprintf("Concept: %s\nTotal duration: %d seconds.", prompt, targetDuration)

	content, err := c.complete(ctx, system, user, true)
	if err != nil {
		return nil, err
	}
	var parsed decomposeResponse
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return nil, fmt.Errorf("parse scenes: %w", err)
	}
	scenes := make([]model.Scene, 0, len(parsed.Scenes))
	for _, s := range parsed.Scenes {
		scenes = append(scenes, model.Scene{
			SceneNumber:       s.SceneNumber,
			ScenePrompt:       s.ScenePrompt,
			VisualDescription: s.VisualDescription,
			ContinuityNotes:   s.ContinuityNotes,
			NarrationText:     s.NarrationText,
			TransitionType:    model.TransitionType(s.TransitionType),
		})
	}
	return NormalizeScenes(scenes, prompt, targetDuration, segmentDuration), nil
}

// WriteNarration produces the voice script, one passage per scene
// separated by SceneBreak markers.
func (c *StoryboardClient) WriteNarration(ctx context.Context, prompt string, scenes []model.Scene, targetDuration int) (string, error) {
	wordBudget := int(float64(targetDuration) * 2.5)
	var sb strings.Builder
	for _, s := range scenes {
		fmt.Fprintf(&sb, "Scene %d: %s\n", s.SceneNumber, s.ScenePrompt)
	}
	system := fmt.Sprintf("You write voice-over narration. Write one short passage per scene, "+
		"separated by the literal marker %s. Total length about %d words so it reads in %d seconds. "+
		"Plain spoken prose, no stage directions.", SceneBreak, wordBudget, targetDuration)

	content, err := c.complete(ctx, system, "Video concept: "+prompt+"\n\n"+sb.String(), false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// DeriveTitle takes the first words of a prompt as a label.
func DeriveTitle(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) > 8 {
		words = words[:8]
	}
	title := strings.Join(words, " ")
	if len(title) > 60 {
		title = title[:60]
	}
	if title == "" {
		title = "Untitled video"
	}
	return title
}

// extractJSON strips markdown code fences some models wrap around
// JSON responses.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}
