// internal/web/purge_handlers.go
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (s *Server) setupPurgeRoutes(api *gin.RouterGroup) {
	api.POST("/purge", s.purgeOrphaned)
}

// POST /api/purge - release loops and status of hosts missing from the repository
func (s *Server) purgeOrphaned(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	purged, err := s.engine.Purger().PurgeOrphaned(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to purge orphaned hosts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge orphaned hosts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"purged":    purged,
		"timestamp": time.Now(),
	})
}
