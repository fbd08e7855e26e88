package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rahvis/VideoForge/internal/model"
	"github.com/rahvis/VideoForge/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type createVideoRequest struct {
	Prompt         string        `json:"prompt" binding:"required"`
	OriginalPrompt string        `json:"original_prompt"`
	Duration       int           `json:"duration" binding:"required"`
	VoiceID        string        `json:"voice_id"`
	Scenes         []model.Scene `json:"scenes"`
}

func (s *Server) createVideo(c *gin.Context) {
	var req createVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "prompt and duration required", false, nil)
		return
	}
	if req.Duration < s.cfg.MinVideoDuration || req.Duration > s.cfg.MaxVideoDuration {
		writeError(c, http.StatusBadRequest, "INVALID_DURATION",
			fmt.Sprintf("duration must be between %d and %d seconds", s.cfg.MinVideoDuration, s.cfg.MaxVideoDuration),
			false, map[string]any{"duration": req.Duration})
		return
	}
	voiceName := ""
	if req.VoiceID != "" && len(s.voices.Voices) > 0 {
		voice, ok := s.voices.Find(req.VoiceID)
		if !ok {
			writeError(c, http.StatusBadRequest, "UNKNOWN_VOICE", "voice_id is not in the catalog", false, nil)
			return
		}
		voiceName = voice.Name
	}

	// One run at a time per deployment: refuse while the lock is held.
	held, _, err := s.lock.Held()
	if err != nil {
		writeError(c, http.StatusInternalServerError, "LOCK_CHECK_FAILED", "Could not check processing lock", true, nil)
		return
	}
	if held {
		writeError(c, http.StatusServiceUnavailable, "BUSY",
			"A video is already processing, try again later", true, nil)
		return
	}

	userID := userIDFromContext(c)
	originalPrompt := req.OriginalPrompt
	if originalPrompt == "" {
		originalPrompt = req.Prompt
	}

	segDur := model.SegmentDurationFor(req.Duration, s.cfg.SegmentDuration)
	count := model.SegmentCountFor(req.Duration, segDur)
	now := time.Now().UTC()

	v := model.Video{
		ID:              uuid.NewString(),
		UserID:          userID,
		OriginalPrompt:  originalPrompt,
		Title:           "",
		TargetDuration:  req.Duration,
		SegmentDuration: segDur,
		SegmentCount:    count,
		Scenes:          req.Scenes,
		Status:          model.StatusPending,
		Segments:        make([]model.Segment, count),
		Metadata:        model.VideoMetadata{VoiceID: req.VoiceID, VoiceName: voiceName},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Prompt != originalPrompt {
		// Caller already ran enhancement; keep their rewrite.
		v.EnhancedPrompt = req.Prompt
	}
	for i := range v.Segments {
		v.Segments[i] = model.Segment{SegmentNumber: i + 1, Status: model.SegmentPending}
	}

	if err := s.store.CreateVideo(v); err != nil {
		writeError(c, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create video", true, nil)
		return
	}
	s.hub.Publish(v.ID, model.EventRunCreated, map[string]any{"segment_count": count})
	s.orch.Submit(v.ID)

	writeData(c, http.StatusCreated, gin.H{
		"id":              v.ID,
		"title":           v.Title,
		"target_duration": v.TargetDuration,
		"segment_count":   v.SegmentCount,
		"status":          v.Status,
	})
}

// loadOwnedVideo fetches the video and enforces ownership; nil result
// means the response has been written.
func (s *Server) loadOwnedVideo(c *gin.Context) *model.Video {
	v, err := s.store.GetVideo(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "VIDEO_NOT_FOUND", "Video not found", false, nil)
			return nil
		}
		writeError(c, http.StatusInternalServerError, "LOAD_FAILED", "Failed to load video", true, nil)
		return nil
	}
	if v.UserID != userIDFromContext(c) {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "No access to video", false, nil)
		return nil
	}
	return &v
}

func (s *Server) listVideos(c *gin.Context) {
	videos, err := s.store.ListVideos(userIDFromContext(c))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "LIST_FAILED", "Failed to list videos", true, nil)
		return
	}
	writeData(c, http.StatusOK, gin.H{"videos": videos, "total": len(videos)})
}

func (s *Server) getVideo(c *gin.Context) {
	v := s.loadOwnedVideo(c)
	if v == nil {
		return
	}
	writeData(c, http.StatusOK, v)
}

func (s *Server) getVideoStatus(c *gin.Context) {
	v := s.loadOwnedVideo(c)
	if v == nil {
		return
	}
	writeData(c, http.StatusOK, gin.H{
		"status":             v.Status,
		"progress":           v.Progress,
		"current_phase":      v.CurrentPhase,
		"current_segment":    v.CurrentSegment,
		"segment_count":      v.SegmentCount,
		"completed_segments": v.CompletedSegments(),
		"failed_segments":    v.FailedSegments(),
		"error_message":      v.ErrorMessage,
		"is_processing":      v.Status.Processing(),
	})
}

func (s *Server) getVideoSegments(c *gin.Context) {
	v := s.loadOwnedVideo(c)
	if v == nil {
		return
	}
	type segmentView struct {
		SegmentNumber int                 `json:"segment_number"`
		Status        model.SegmentStatus `json:"status"`
		Progress      int                 `json:"progress"`
		RetryCount    int                 `json:"retry_count"`
		Error         string              `json:"error,omitempty"`
	}
	views := make([]segmentView, 0, len(v.Segments))
	for _, seg := range v.Segments {
		progress := 0
		switch seg.Status {
		case model.SegmentCompleted:
			progress = 100
		case model.SegmentGenerating:
			progress = 50
		}
		views = append(views, segmentView{
			SegmentNumber: seg.SegmentNumber,
			Status:        seg.Status,
			Progress:      progress,
			RetryCount:    seg.RetryCount,
			Error:         seg.Error,
		})
	}
	writeData(c, http.StatusOK, gin.H{"segments": views})
}

func (s *Server) cancelVideo(c *gin.Context) {
	v := s.loadOwnedVideo(c)
	if v == nil {
		return
	}
	if v.Status.Terminal() {
		writeError(c, http.StatusConflict, "ALREADY_TERMINAL", "Video already finished", false, nil)
		return
	}
	cancelled, err := s.store.RequestCancel(v.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "CANCEL_FAILED", "Failed to cancel video", true, nil)
		return
	}
	writeData(c, http.StatusOK, gin.H{"cancelled": cancelled})
}

func (s *Server) deleteVideo(c *gin.Context) {
	v := s.loadOwnedVideo(c)
	if v == nil {
		return
	}
	if !v.Status.Terminal() {
		writeError(c, http.StatusConflict, "STILL_PROCESSING",
			"Cancel the video before deleting it", false, nil)
		return
	}
	if err := s.layout.DeleteVideoTree(v.UserID, v.ID); err != nil {
		writeError(c, http.StatusInternalServerError, "DELETE_FILES_FAILED", "Failed to delete files", true, nil)
		return
	}
	if err := s.store.DeleteVideo(v.ID); err != nil {
		writeError(c, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete video", true, nil)
		return
	}
	s.hub.Drop(v.ID)
	writeData(c, http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) streamVideoEvents(c *gin.Context) {
	v := s.loadOwnedVideo(c)
	if v == nil {
		return
	}

	fromSeq := int64(0)
	if raw := c.GetHeader("Last-Event-ID"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			fromSeq = n
		}
	}

	backlog := s.hub.Replay(v.ID, fromSeq)
	_, sub, unsubscribe := s.hub.Subscribe(v.ID, 128)
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "SSE_UNSUPPORTED", "Streaming unsupported", false, nil)
		return
	}
	for _, evt := range backlog {
		writeSSE(c, evt)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			writeSSE(c, evt)
			flusher.Flush()
			if evt.Type == model.EventRunCompleted || evt.Type == model.EventRunFailed {
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, ": ping %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

func writeSSE(c *gin.Context, evt model.RunEvent) {
	payload, _ := json.Marshal(evt)
	fmt.Fprintf(c.Writer, "id: %d\n", evt.Seq)
	fmt.Fprintf(c.Writer, "event: %s\n", evt.Type)
	fmt.Fprintf(c.Writer, "data: %s\n\n", string(payload))
}

// serveVideoFile streams a finished rendition; gin's File uses
// http.ServeFile underneath, so range requests work.
func (s *Server) serveVideoFile(c *gin.Context) {
	v := s.loadOwnedVideo(c)
	if v == nil {
		return
	}
	var ref *model.FileRef
	switch c.DefaultQuery("quality", "720p") {
	case "720p":
		ref = v.Files.Final720
	case "480p":
		ref = v.Files.Final480
	default:
		writeError(c, http.StatusBadRequest, "INVALID_QUALITY", "quality must be 720p or 480p", false, nil)
		return
	}
	if ref == nil {
		writeError(c, http.StatusNotFound, "FILE_NOT_READY", "Rendition not available", false, nil)
		return
	}
	c.Header("Content-Type", "video/mp4")
	c.File(ref.Path)
}

func (s *Server) serveAudio(c *gin.Context) {
	v := s.loadOwnedVideo(c)
	if v == nil {
		return
	}
	if v.Files.Audio == nil {
		writeError(c, http.StatusNotFound, "FILE_NOT_READY", "Audio not available", false, nil)
		return
	}
	c.Header("Content-Type", "audio/mpeg")
	c.File(v.Files.Audio.Path)
}

func (s *Server) serveThumbnail(c *gin.Context) {
	v := s.loadOwnedVideo(c)
	if v == nil {
		return
	}
	if v.Files.Thumbnail == nil {
		writeError(c, http.StatusNotFound, "FILE_NOT_READY", "Thumbnail not available", false, nil)
		return
	}
	c.Header("Content-Type", "image/jpeg")
	c.File(v.Files.Thumbnail.Path)
}
