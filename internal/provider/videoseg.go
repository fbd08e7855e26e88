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

// VideoSegmentClient drives an async text-to-video job API: submit a
// generation job, poll it, download the finished clip.
type VideoSegmentClient struct {
	baseURL    string
	apiKey     string
	deployment string
	http       *http.Client
	log        *slog.Logger
}

func NewVideoSegmentClient(baseURL, apiKey, deployment string, logger *slog.Logger) *VideoSegmentClient {
	return &VideoSegmentClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		deployment: deployment,
		http:       &http.Client{Timeout: 2 * time.Minute},
		log:        logger,
	}
}

type startJobRequest struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	NSeconds int    `json:"n_seconds"`
}

type jobResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Generations []struct {
		ID string `json:"id"`
	} `json:"generations"`
	FailureReason string `json:"failure_reason"`
}

// Start submits a generation job. A continuity hint (the previous
// segment's closing frame description or path) is appended as a text
// annotation; models without image conditioning simply read it as
// prompt text.
func (c *VideoSegmentClient) Start(ctx context.Context, scenePrompt string, width, height, nSeconds int, continuityHint string) (string, error) {
	prompt := scenePrompt
	if continuityHint != "" {
		prompt = fmt.Sprintf("%s\n\nContinue seamlessly from the previous shot: %s", scenePrompt, continuityHint)
	}
	raw, err := json.Marshal(startJobRequest{
		Model:    c.deployment,
		Prompt:   prompt,
		Width:    width,
		Height:   height,
		NSeconds: nSeconds,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", netError("VIDEO_START_UNREACHABLE", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", classifyStatus("VIDEO_START_HTTP", resp.StatusCode, string(body))
	}
	var job jobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return "", fmt.Errorf("decode job response: %w", err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("job response missing id")
	}
	return job.ID, nil
}

func (c *VideoSegmentClient) Poll(ctx context.Context, jobID string) (PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return PollResult{}, err
	}
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return PollResult{}, netError("VIDEO_POLL_UNREACHABLE", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return PollResult{}, classifyStatus("VIDEO_POLL_HTTP", resp.StatusCode, string(body))
	}
	var job jobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return PollResult{}, fmt.Errorf("decode job status: %w", err)
	}

	result := PollResult{Error: job.FailureReason}
	for _, g := range job.Generations {
		result.GenerationIDs = append(result.GenerationIDs, g.ID)
	}
	switch strings.ToLower(job.Status) {
	case "queued", "pending", "preprocessing":
		result.State = JobPending
	case "running", "processing", "in_progress":
		result.State = JobRunning
	case "succeeded", "completed":
		result.State = JobSucceeded
	case "failed", "cancelled", "canceled":
		result.State = JobFailed
	default:
		result.State = JobRunning
	}
	return result, nil
}

func (c *VideoSegmentClient) FetchContent(ctx context.Context, generationID string) ([]byte, error) {
	url := fmt.Sprintf("%s/generations/%s/content/video", c.baseURL, generationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, netError("VIDEO_FETCH_UNREACHABLE", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus("VIDEO_FETCH_HTTP", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}
