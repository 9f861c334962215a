package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v2"

	"github.com/dougsko/asiod/pkg/asio"
	"github.com/dougsko/asiod/pkg/engine"
	"github.com/dougsko/asiod/pkg/logging"
	"github.com/dougsko/asiod/pkg/storage"
)

// errorStatus maps adapter errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, asio.ErrInvalidDevice):
		return http.StatusNotFound
	case errors.Is(err, asio.ErrInvalidChannelCount),
		errors.Is(err, asio.ErrInvalidBufferSize),
		errors.Is(err, asio.ErrDriverRejectedRate):
		return http.StatusBadRequest
	case errors.Is(err, asio.ErrBadStreamState),
		errors.Is(err, asio.ErrUnsupportedWhileRunning),
		errors.Is(err, asio.ErrDeviceBusy),
		errors.Is(err, engine.ErrNoStream):
		return http.StatusConflict
	case errors.Is(err, asio.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func deviceParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid device id %q", c.Param("id"))})
		return 0, false
	}
	return id, true
}

// handleGetStatus returns stream status via socket
func (d *ASIODaemon) handleGetStatus(c *gin.Context) {
	status, err := d.socketClient.GetStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// handleGetDevices lists the loaded drivers via socket
func (d *ASIODaemon) handleGetDevices(c *gin.Context) {
	devices, err := d.socketClient.GetDevices()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetGeometry returns a device's legal buffer sizes
func (d *ASIODaemon) handleGetGeometry(c *gin.Context) {
	id, ok := deviceParam(c)
	if !ok {
		return
	}

	g, err := d.coreEngine.Geometry(id)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	sizes := g.Sizes(256)
	c.JSON(http.StatusOK, gin.H{
		"geometry": g,
		"sizes":    sizes,
	})
}

// handleGetChannelName returns the driver's name for a native channel
func (d *ASIODaemon) handleGetChannelName(c *gin.Context) {
	id, ok := deviceParam(c)
	if !ok {
		return
	}
	dir, err := asio.ParseDirection(c.Param("dir"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid channel index %q", c.Param("index"))})
		return
	}

	name, err := d.coreEngine.ChannelName(id, dir, index)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device":    id,
		"direction": dir,
		"index":     index,
		"name":      name,
	})
}

// handleShowControlPanel opens a driver's control panel via socket
func (d *ASIODaemon) handleShowControlPanel(c *gin.Context) {
	id, ok := deviceParam(c)
	if !ok {
		return
	}

	if err := d.socketClient.ShowControlPanel(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStartStream starts the stream
func (d *ASIODaemon) handleStartStream(c *gin.Context) {
	if err := d.coreEngine.StartStream(); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

// handleStopStream stops the stream
func (d *ASIODaemon) handleStopStream(c *gin.Context) {
	if err := d.coreEngine.StopStream(); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// handleRestartStream closes and reopens the stream
func (d *ASIODaemon) handleRestartStream(c *gin.Context) {
	if err := d.coreEngine.Restart("web request"); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reopened"})
}

// handleSetSampleRate changes the stream's sample rate
func (d *ASIODaemon) handleSetSampleRate(c *gin.Context) {
	var req struct {
		SampleRate float64 `json:"sample_rate" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.coreEngine.SetSampleRate(req.SampleRate); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"sample_rate": req.SampleRate,
	})
}

// handleInject posts a raw driver message via socket
func (d *ASIODaemon) handleInject(c *gin.Context) {
	var req struct {
		Code       int     `json:"code" binding:"required"`
		Value      int     `json:"value"`
		SampleRate float64 `json:"sample_rate"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := d.socketClient.Inject(req.Code, req.Value, req.SampleRate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "delivered",
		"reply":  reply,
	})
}

// handleGetEvents returns journaled driver events, or the engine's recent
// list when no journal is configured
func (d *ASIODaemon) handleGetEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		limit = 50
	}

	if d.store == nil {
		events, err := d.socketClient.GetEvents(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"events": events,
			"count":  len(events),
		})
		return
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		offset = 0
	}
	query := storage.EventQuery{
		Limit:     limit,
		Offset:    offset,
		Kind:      c.Query("kind"),
		ResetOnly: c.Query("reset_only") == "true",
	}
	if s := c.Query("device"); s != "" {
		device, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid device %q", s)})
			return
		}
		query.Device = &device
	}
	if s := c.Query("session"); s != "" {
		session, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid session %q", s)})
			return
		}
		query.SessionID = session
	}
	if s := c.Query("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid since %q", s)})
			return
		}
		query.Since = &since
	}

	events, err := d.store.GetEvents(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to get events: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// handleGetEventStats returns journal statistics
func (d *ASIODaemon) handleGetEventStats(c *gin.Context) {
	if d.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event journal not configured"})
		return
	}

	stats, err := d.store.GetEventStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to get event stats: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":   stats,
		"handler": d.coreEngine.HandlerCounts(),
	})
}

// handleCleanupEvents triggers manual trimming of the journal
func (d *ASIODaemon) handleCleanupEvents(c *gin.Context) {
	if d.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event journal not configured"})
		return
	}

	if err := d.store.CleanupOldEvents(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to cleanup events: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// handleGetSessions lists journaled stream sessions
func (d *ASIODaemon) handleGetSessions(c *gin.Context) {
	if d.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event journal not configured"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		limit = 20
	}

	sessions, err := d.store.GetSessions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to get sessions: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleGetMonitor returns the current levels and spectrum
func (d *ASIODaemon) handleGetMonitor(c *gin.Context) {
	snap := d.coreEngine.Monitor().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"snapshot":       snap,
		"peak_frequency": snap.Spectrum.PeakFrequency(),
	})
}

// handleGetConfig returns the current configuration
func (d *ASIODaemon) handleGetConfig(c *gin.Context) {
	// Round trip through YAML so field names match the config file
	yamlData, err := d.config.Marshal()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to marshal config: %v", err),
		})
		return
	}

	var yamlConfig interface{}
	if err := yaml.Unmarshal(yamlData, &yamlConfig); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to unmarshal config: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, convertYamlToJson(yamlConfig))
}

// convertYamlToJson converts YAML map[interface{}]interface{} to JSON-compatible map[string]interface{}
func convertYamlToJson(i interface{}) interface{} {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m2 := map[string]interface{}{}
		for k, v := range x {
			m2[fmt.Sprint(k)] = convertYamlToJson(v)
		}
		return m2
	case []interface{}:
		for i, v := range x {
			x[i] = convertYamlToJson(v)
		}
	}
	return i
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEventsWebSocket streams engine notifications to the client
func (d *ASIODaemon) handleEventsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn("web", fmt.Sprintf("WebSocket upgrade failed: %v", err))
		return
	}
	defer conn.Close()

	notifications, cancel := d.coreEngine.Subscribe(64)
	defer cancel()

	logging.Info("web", "Event WebSocket client connected")
	closed := watchClose(conn)

	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if err := conn.WriteJSON(n); err != nil {
				logging.Debug("web", fmt.Sprintf("WebSocket write error: %v", err))
				return
			}
		case <-closed:
			logging.Info("web", "Event WebSocket client disconnected")
			return
		case <-d.ctx.Done():
			return
		}
	}
}

// handleMonitorWebSocket sends level and spectrum snapshots at 10Hz
func (d *ASIODaemon) handleMonitorWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn("web", fmt.Sprintf("WebSocket upgrade failed: %v", err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	closed := watchClose(conn)

	for {
		select {
		case <-ticker.C:
			snap := d.coreEngine.Monitor().Snapshot()
			data := map[string]interface{}{
				"type":        "monitor",
				"timestamp":   snap.Timestamp,
				"sample_rate": snap.Spectrum.SampleRate,
				"levels":      snap.Levels,
				"spectrum": map[string]interface{}{
					"bins":      snap.Spectrum.Spectrum,
					"freq_step": snap.Spectrum.FreqStep,
				},
			}
			if err := conn.WriteJSON(data); err != nil {
				logging.Debug("web", fmt.Sprintf("WebSocket write error: %v", err))
				return
			}
		case <-closed:
			return
		case <-d.ctx.Done():
			return
		}
	}
}

// watchClose reads from conn until it fails, then closes the returned channel
func watchClose(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}
