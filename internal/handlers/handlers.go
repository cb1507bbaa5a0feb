package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victormalit/mutsynchub/internal/scheduler"
	"github.com/victormalit/mutsynchub/internal/store"
	"github.com/victormalit/mutsynchub/internal/websocket"
	"github.com/victormalit/mutsynchub/pkg/ctxkeys"
	"github.com/victormalit/mutsynchub/pkg/logging"
	"github.com/victormalit/mutsynchub/pkg/middleware"
)

// Handlers contains the HTTP handlers for the service
type Handlers struct {
	gateway   *websocket.Gateway
	schedules *scheduler.Service
	logger    logging.Logger
	startTime time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(gateway *websocket.Gateway, schedules *scheduler.Service, logger logging.Logger) *Handlers {
	return &Handlers{
		gateway:   gateway,
		schedules: schedules,
		logger:    logger,
		startTime: time.Now(),
	}
}

// HandleWebSocket serves WebSocket connections
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	h.gateway.ServeWS(c.Writer, c.Request)
}

// HandleStats exposes gateway statistics for operators
func (h *Handlers) HandleStats(c *gin.Context) {
	stats := h.gateway.GetStats()
	stats["uptime"] = time.Since(h.startTime).String()
	c.JSON(http.StatusOK, stats)
}

// HandleNotFound provides a custom 404 handler
func (h *Handlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":   "not_found",
		"message": "Endpoint not found",
	})
}

// requireOrgAccess checks that the caller's tenant claim matches the org in
// the URL. Service-to-service callers bypass the tenant match.
func (h *Handlers) requireOrgAccess(c *gin.Context, orgID string) bool {
	if c.GetString(string(ctxkeys.KeyAuthType)) == "service" {
		return true
	}
	tenantID := c.GetString(string(ctxkeys.KeyTenantID))
	if tenantID != orgID {
		h.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"org_id":    orgID,
			"path":      c.FullPath(),
		}).Warn("Cross-tenant request rejected")
		c.JSON(http.StatusForbidden, gin.H{"error": "organization access denied"})
		return false
	}
	return true
}

type scheduleRequest struct {
	Frequency string `json:"frequency" binding:"required"`
	Interval  *int   `json:"interval,omitempty"`
}

type scheduleResponse struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"orgId"`
	Frequency string    `json:"frequency"`
	Interval  *int      `json:"interval,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toScheduleResponse(sched *store.Schedule) scheduleResponse {
	resp := scheduleResponse{
		ID:        sched.ID,
		OrgID:     sched.OrgID,
		Frequency: sched.Frequency,
		CreatedAt: sched.CreatedAt,
		UpdatedAt: sched.UpdatedAt,
	}
	if sched.Interval.Valid {
		v := int(sched.Interval.Int64)
		resp.Interval = &v
	}
	return resp
}

func (h *Handlers) writeScheduleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrTierForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrUnsupportedFrequency),
		errors.Is(err, scheduler.ErrIntervalRequired),
		errors.Is(err, scheduler.ErrIntervalNotAllowed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
	default:
		middleware.GetContextLogger(c, h.logger).WithError(err).Error("Schedule operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// HandleCreateSchedule creates an analytics schedule for an organization
func (h *Handlers) HandleCreateSchedule(c *gin.Context) {
	orgID := c.Param("orgId")
	if !h.requireOrgAccess(c, orgID) {
		return
	}

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(string(ctxkeys.KeyUserID))
	sched, err := h.schedules.Create(c.Request.Context(), orgID, userID, scheduler.Frequency(req.Frequency), req.Interval)
	if err != nil {
		h.writeScheduleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toScheduleResponse(sched))
}

// HandleListSchedules lists an organization's analytics schedules
func (h *Handlers) HandleListSchedules(c *gin.Context) {
	orgID := c.Param("orgId")
	if !h.requireOrgAccess(c, orgID) {
		return
	}

	schedules, err := h.schedules.List(c.Request.Context(), orgID)
	if err != nil {
		h.writeScheduleError(c, err)
		return
	}

	out := make([]scheduleResponse, 0, len(schedules))
	for i := range schedules {
		out = append(out, toScheduleResponse(&schedules[i]))
	}
	c.JSON(http.StatusOK, gin.H{"schedules": out})
}

// HandleUpdateSchedule changes a schedule's frequency
func (h *Handlers) HandleUpdateSchedule(c *gin.Context) {
	orgID := c.Param("orgId")
	if !h.requireOrgAccess(c, orgID) {
		return
	}

	scheduleID := c.Param("scheduleId")
	sched, err := h.schedules.Get(c.Request.Context(), scheduleID)
	if err != nil {
		h.writeScheduleError(c, err)
		return
	}
	if sched.OrgID != orgID {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(string(ctxkeys.KeyUserID))
	updated, err := h.schedules.Update(c.Request.Context(), scheduleID, userID, scheduler.Frequency(req.Frequency), req.Interval)
	if err != nil {
		h.writeScheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(updated))
}

// HandleDeleteSchedule removes a schedule and cancels its timer
func (h *Handlers) HandleDeleteSchedule(c *gin.Context) {
	orgID := c.Param("orgId")
	if !h.requireOrgAccess(c, orgID) {
		return
	}

	scheduleID := c.Param("scheduleId")
	sched, err := h.schedules.Get(c.Request.Context(), scheduleID)
	if err != nil {
		h.writeScheduleError(c, err)
		return
	}
	if sched.OrgID != orgID {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}

	userID := c.GetString(string(ctxkeys.KeyUserID))
	if err := h.schedules.Delete(c.Request.Context(), scheduleID, userID); err != nil {
		h.writeScheduleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type orgBroadcastRequest struct {
	Event   string          `json:"event" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// HandleBroadcastToOrg lets backend collaborators without Kafka access push a
// broadcast into an organization room.
func (h *Handlers) HandleBroadcastToOrg(c *gin.Context) {
	orgID := c.Param("orgId")

	var req orgBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var payload websocket.OrgPayload
	switch req.Event {
	case websocket.EventDataUpdate:
		var p websocket.DataUpdate
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		payload = p
	case websocket.EventAnalyticsEvent:
		var p websocket.AnalyticsEvent
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if p.OrgID == "" {
			p.OrgID = orgID
		}
		payload = p
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event: " + req.Event})
		return
	}

	if err := h.gateway.BroadcastToOrg(orgID, payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "broadcast"})
}

// HandleBroadcastToStream pushes a data update into a stream room.
func (h *Handlers) HandleBroadcastToStream(c *gin.Context) {
	streamID := c.Param("streamId")

	var payload websocket.DataUpdate
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if payload.StreamID == "" {
		payload.StreamID = streamID
	}

	if err := h.gateway.BroadcastToStream(streamID, payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "broadcast"})
}
