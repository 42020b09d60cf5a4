// internal/web/notification_handlers.go - notification settings and test endpoint
package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"hostmonitor/internal/notifications"
)

// NotificationSettings is the read-only view of the alerting configuration.
type NotificationSettings struct {
	Enabled         bool                     `json:"enabled"`
	OfflineReminder string                   `json:"offline_reminder"`
	Pushover        PushoverSettingsResponse `json:"pushover"`
}

type PushoverSettingsResponse struct {
	Enabled    bool     `json:"enabled"`
	APIToken   string   `json:"api_token"`
	UserKey    string   `json:"user_key"`
	Priority   int      `json:"priority"`
	Sound      string   `json:"sound"`
	Device     string   `json:"device,omitempty"`
	Title      string   `json:"title"`
	Template   string   `json:"template"`
	OnlyOn     []string `json:"only_on"`
	Throttle   bool     `json:"throttle_enabled"`
	WindowMin  int      `json:"throttle_window_minutes"`
	MaxPerHost int      `json:"throttle_max_per_host"`
	MaxTotal   int      `json:"throttle_max_total"`
}

type TestNotificationRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) setupNotificationRoutes(api *gin.RouterGroup) {
	n := api.Group("/notifications")
	{
		n.GET("/settings", s.getNotificationSettings)
		n.POST("/test", s.sendTestNotification)
	}
}

// GET /api/notifications/settings
func (s *Server) getNotificationSettings(c *gin.Context) {
	cfg := s.config.Notifications
	p := cfg.Pushover

	c.JSON(http.StatusOK, gin.H{"data": NotificationSettings{
		Enabled:         cfg.Enabled,
		OfflineReminder: s.config.Monitoring.OfflineReminder.String(),
		Pushover: PushoverSettingsResponse{
			Enabled:    p.Enabled,
			APIToken:   maskToken(p.APIToken),
			UserKey:    maskToken(p.UserKey),
			Priority:   p.Priority,
			Sound:      p.Sound,
			Device:     p.Device,
			Title:      p.Title,
			Template:   p.Template,
			OnlyOn:     p.OnlyOn,
			Throttle:   p.Throttle.Enabled,
			WindowMin:  int(p.Throttle.Window.Minutes()),
			MaxPerHost: p.Throttle.MaxPerHost,
			MaxTotal:   p.Throttle.MaxTotal,
		},
	}})
}

// POST /api/notifications/test
func (s *Server) sendTestNotification(c *gin.Context) {
	var req TestNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.sender == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Notifications are not enabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	// Sent as a reminder so only_on filters that allow reminders let it through.
	msg := notifications.Message{
		Kind:      notifications.KindReminder,
		Host:      "test",
		Text:      req.Message,
		Timestamp: time.Now(),
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		logrus.WithError(err).Error("Failed to send test notification")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send test notification: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Test notification sent",
		"timestamp": time.Now(),
	})
}

func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
