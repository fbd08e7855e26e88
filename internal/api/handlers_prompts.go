package api

import (
	"net/http"

	"github.com/rahvis/VideoForge/internal/model"
	"github.com/rahvis/VideoForge/internal/provider"

	"github.com/gin-gonic/gin"
)

type promptRequest struct {
	Prompt   string `json:"prompt" binding:"required"`
	Duration int    `json:"duration"`
}

func (s *Server) enhancePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "prompt required", false, nil)
		return
	}
	if req.Duration <= 0 {
		req.Duration = s.cfg.MaxVideoDuration
	}
	result, err := s.storyboard.Enhance(c.Request.Context(), req.Prompt, req.Duration)
	if err != nil {
		// Enhance degrades to the input; surface that instead of a 5xx.
		result = provider.EnhanceResult{
			EnhancedPrompt:    req.Prompt,
			Title:             provider.DeriveTitle(req.Prompt),
			EstimatedDuration: req.Duration,
		}
	}
	writeData(c, http.StatusOK, result)
}

func (s *Server) decomposePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "prompt required", false, nil)
		return
	}
	if req.Duration < s.cfg.MinVideoDuration || req.Duration > s.cfg.MaxVideoDuration {
		writeError(c, http.StatusBadRequest, "INVALID_DURATION", "duration out of range", false, nil)
		return
	}
	segDur := model.SegmentDurationFor(req.Duration, s.cfg.SegmentDuration)
	scenes, err := s.storyboard.Decompose(c.Request.Context(), req.Prompt, req.Duration, segDur)
	if err != nil {
		scenes = provider.FallbackScenes(req.Prompt, req.Duration, segDur)
	}
	writeData(c, http.StatusOK, gin.H{"scenes": scenes})
}
