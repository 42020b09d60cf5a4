// internal/web/handlers.go
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"hostmonitor/internal/database"
	"hostmonitor/internal/monitoring"
)

type HostRequest struct {
	Name      string                 `json:"name" binding:"required"`
	Hostname  string                 `json:"hostname"`
	IPAddress string                 `json:"ip_address"`
	Group     string                 `json:"group"`
	Type      database.HostType      `json:"type"`
	Methods   []database.CheckMethod `json:"methods"`
}

func (r *HostRequest) apply(host *database.Host) {
	host.Name = r.Name
	host.Hostname = r.Hostname
	host.IPAddress = r.IPAddress
	host.Group = r.Group
	host.Type = r.Type
	host.Methods = r.Methods
}

// HostResponse is a stored host together with its live status.
type HostResponse struct {
	database.Host
	Status     monitoring.HostStatus `json:"status"`
	Monitored  bool                  `json:"monitored"`
	Aggregated *monitoring.HostState `json:"aggregated,omitempty"`
}

func (s *Server) hostResponse(host database.Host) HostResponse {
	resp := HostResponse{
		Host:      host,
		Status:    monitoring.StatusUnknown,
		Monitored: s.engine.Running(host.ID) > 0,
	}
	if st, ok := s.engine.Aggregator().Get(host.ID); ok {
		resp.Status = st.Status
		resp.Aggregated = &st
	}
	return resp
}

// isConfigError matches the errors caused by an invalid host definition.
func isConfigError(err error) bool {
	return errors.Is(err, monitoring.ErrUnknownMethod) ||
		errors.Is(err, database.ErrPortRequired) ||
		errors.Is(err, database.ErrInvalidPort) ||
		errors.Is(err, database.ErrMissingName) ||
		errors.Is(err, database.ErrMissingTarget)
}

// GET /api/hosts
func (s *Server) getHosts(c *gin.Context) {
	filters := database.HostFilters{
		Group: c.Query("group"),
		Type:  database.HostType(c.Query("type")),
	}

	hosts, err := s.store.ListHosts(c.Request.Context(), filters)
	if err != nil {
		logrus.WithError(err).Error("Failed to get hosts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get hosts"})
		return
	}

	response := make([]HostResponse, 0, len(hosts))
	for _, host := range hosts {
		response = append(response, s.hostResponse(host))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  response,
		"count": len(response),
	})
}

// GET /api/hosts/:id
func (s *Server) getHost(c *gin.Context) {
	host, ok := s.lookupHost(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.hostResponse(*host)})
}

// POST /api/hosts
func (s *Server) createHost(c *gin.Context) {
	var req HostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	host := &database.Host{}
	req.apply(host)
	if err := s.engine.ValidateHost(host); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.store.AddHost(c.Request.Context(), host)
	s.recordDB("add_host", err)
	if err != nil {
		logrus.WithError(err).Error("Failed to create host")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create host"})
		return
	}

	if s.engine.IsRunning() {
		if err := s.engine.StartMonitoring(host); err != nil {
			logrus.WithError(err).WithField("host", host.Name).Error("Failed to start monitoring")
		}
	}

	logrus.WithFields(logrus.Fields{
		"host_id": host.ID,
		"name":    host.Name,
	}).Info("Host created")

	c.JSON(http.StatusCreated, gin.H{"data": s.hostResponse(*host)})
}

// PUT /api/hosts/:id
func (s *Server) updateHost(c *gin.Context) {
	host, ok := s.lookupHost(c)
	if !ok {
		return
	}

	var req HostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.apply(host)
	if err := s.engine.ValidateHost(host); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	monitored := s.engine.Running(host.ID) > 0

	err := s.store.UpdateHost(c.Request.Context(), host)
	s.recordDB("update_host", err)
	if errors.Is(err, database.ErrHostNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Host not found"})
		return
	}
	if err != nil {
		logrus.WithError(err).Error("Failed to update host")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update host"})
		return
	}

	// Any edit restarts the whole host; loops never pick up changes in place.
	if monitored || s.engine.IsRunning() {
		if err := s.engine.StartMonitoring(host); err != nil {
			logrus.WithError(err).WithField("host", host.Name).Error("Failed to restart monitoring")
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": s.hostResponse(*host)})
}

// DELETE /api/hosts/:id
func (s *Server) deleteHost(c *gin.Context) {
	id := c.Param("id")

	if err := s.engine.RemoveHost(c.Request.Context(), id); err != nil {
		logrus.WithError(err).WithField("host_id", id).Error("Failed to delete host")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete host"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Host deleted"})
}

// POST /api/hosts/:id/check
func (s *Server) checkHost(c *gin.Context) {
	host, ok := s.lookupHost(c)
	if !ok {
		return
	}

	timeout := s.config.Monitoring.CheckTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	results, err := s.engine.CheckOnce(ctx, host)
	switch {
	case err == nil:
	case isConfigError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Check timed out"})
		return
	default:
		logrus.WithError(err).WithField("host", host.Name).Error("Check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  results,
		"count": len(results),
	})
}

// GET /api/status
func (s *Server) getStatus(c *gin.Context) {
	states := s.engine.Aggregator().Snapshot()
	if status := c.Query("status"); status != "" {
		filtered := states[:0]
		for _, st := range states {
			if string(st.Status) == status {
				filtered = append(filtered, st)
			}
		}
		states = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   states,
		"count":  len(states),
		"counts": s.engine.Aggregator().Counts(),
	})
}

// GET /api/events?since=N
func (s *Server) getEvents(c *gin.Context) {
	var since int64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
			return
		}
		since = v
	}

	events := s.engine.Events().Since(since)
	if hostID := c.Query("host"); hostID != "" {
		filtered := events[:0]
		for _, ev := range events {
			if ev.HostID == hostID {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  events,
		"count": len(events),
	})
}

// POST /api/monitoring/start
func (s *Server) startMonitoring(c *gin.Context) {
	resp := gin.H{"running": true, "timestamp": time.Now()}
	if err := s.engine.Start(s.ctx); err != nil {
		logrus.WithError(err).Warn("Monitoring started with errors")
		resp["error"] = err.Error()
	}
	resp["active_loops"] = s.engine.ActiveLoops()
	c.JSON(http.StatusOK, resp)
}

// POST /api/monitoring/stop
func (s *Server) stopMonitoring(c *gin.Context) {
	s.engine.Stop()
	c.JSON(http.StatusOK, gin.H{
		"running":   false,
		"timestamp": time.Now(),
	})
}

func (s *Server) lookupHost(c *gin.Context) (*database.Host, bool) {
	id := c.Param("id")
	host, err := s.store.GetHost(c.Request.Context(), id)
	if errors.Is(err, database.ErrHostNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Host not found"})
		return nil, false
	}
	if err != nil {
		logrus.WithError(err).WithField("host_id", id).Error("Failed to get host")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get host"})
		return nil, false
	}
	return host, true
}

func (s *Server) recordDB(op string, err error) {
	if s.metrics != nil {
		s.metrics.RecordDatabaseOperation(op, err)
	}
}
