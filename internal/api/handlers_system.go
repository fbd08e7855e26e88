package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) systemStatus(c *gin.Context) {
	held, lockRow, err := s.lock.Held()
	if err != nil {
		writeError(c, http.StatusInternalServerError, "STATUS_FAILED", "Failed to read lock state", true, nil)
		return
	}
	processing, err := s.store.CountProcessing()
	if err != nil {
		writeError(c, http.StatusInternalServerError, "STATUS_FAILED", "Failed to count runs", true, nil)
		return
	}
	fileCount, totalBytes := s.layout.Stats()
	writeData(c, http.StatusOK, gin.H{
		"lock": gin.H{
			"is_locked":  held,
			"locked_by":  lockRow.LockedBy,
			"locked_at":  lockRow.LockedAt,
			"expires_at": lockRow.ExpiresAt,
			"metadata":   lockRow.Metadata,
		},
		"processing_runs": processing,
		"storage": gin.H{
			"file_count":  fileCount,
			"total_bytes": totalBytes,
		},
		"cache": s.cache.Stats(),
	})
}
