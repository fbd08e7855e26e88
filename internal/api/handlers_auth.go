package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "email and password required", false, nil)
		return
	}
	user, token, err := s.auth.Login(strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		writeUnauthorized(c)
		return
	}
	writeData(c, http.StatusOK, gin.H{
		"user":           user,
		"access_token":   token.AccessToken,
		"expires_in_sec": token.ExpiresInSec,
	})
}

func (s *Server) me(c *gin.Context) {
	user, err := s.store.GetUserByID(userIDFromContext(c))
	if err != nil {
		writeUnauthorized(c)
		return
	}
	writeData(c, http.StatusOK, user)
}

func (s *Server) listVoices(c *gin.Context) {
	writeData(c, http.StatusOK, gin.H{"voices": s.voices.Voices})
}
