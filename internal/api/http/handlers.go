// Package http exposes the multiplexer's control surface as a loopback
// HTTP API: create, list, switch, and destroy sessions, plus input/output
// plumbing and runtime stats. It is a control plane, not session
// transport; the PTYs stay local.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shmux/shmux/internal/mux"
	"github.com/shmux/shmux/internal/pty"
	"github.com/shmux/shmux/internal/shared/id"
	"github.com/shmux/shmux/internal/state"
)

// Handlers contains all control API handlers.
type Handlers struct {
	mgr   *mux.Manager
	store *state.Store
}

// NewHandlers creates a new handler set.
func NewHandlers(mgr *mux.Manager, store *state.Store) *Handlers {
	return &Handlers{mgr: mgr, store: store}
}

// Root handles health check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "shmux",
		"version": "0.3.0",
	})
}

// Health handles detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.mgr.Count(),
		"state":    h.store.Stats(),
	})
}

// CreateSession spawns a new shell session.
func (h *Handlers) CreateSession(c *gin.Context) {
	sid, err := h.mgr.CreateSession()
	if err != nil {
		switch {
		case errors.Is(err, pty.ErrAllocation):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":  "pty_allocation_failure",
				"detail": err.Error(),
			})
		case errors.Is(err, mux.ErrSessionLimit):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": sid.String()})
}

// ListSessions lists all registered sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	active, _ := h.mgr.Active()
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.mgr.List(),
		"active":   active.String(),
	})
}

// ForegroundSession hands terminal control to a session.
func (h *Handlers) ForegroundSession(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	if err := h.mgr.SwitchActive(sid); err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": sid.String(), "state": "foreground"})
}

// DestroySession tears a session down.
func (h *Handlers) DestroySession(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	if err := h.mgr.DestroySession(sid); err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": sid.String(), "state": "destroyed"})
}

type inputRequest struct {
	Data string `json:"data" binding:"required"`
}

// RouteInput forwards raw bytes to the foreground session.
func (h *Handlers) RouteInput(c *gin.Context) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := h.mgr.RouteInput([]byte(req.Data))
	if err != nil {
		if errors.Is(err, mux.ErrNoForeground) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"written": n})
}

// SessionInput forwards raw bytes to a specific session.
func (h *Handlers) SessionInput(c *gin.Context) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sid := id.SessionID(c.Param("id"))
	n, err := h.mgr.WriteInput(sid, []byte(req.Data))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"written": n})
}

// SessionOutput drains a session's scrollback buffer.
func (h *Handlers) SessionOutput(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	out, err := h.mgr.ReadOutput(sid)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": string(out)})
}

// SessionHistory returns a session's input history.
func (h *Handlers) SessionHistory(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	history, err := h.mgr.History(sid)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

type resizeRequest struct {
	Cols int `json:"cols" binding:"required"`
	Rows int `json:"rows" binding:"required"`
}

// ResizeSession changes a session's terminal geometry.
func (h *Handlers) ResizeSession(c *gin.Context) {
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sid := id.SessionID(c.Param("id"))
	if err := h.mgr.Resize(sid, req.Cols, req.Rows); err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cols": req.Cols, "rows": req.Rows})
}

// StateStats reports shared runtime state statistics.
func (h *Handlers) StateStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state": h.store.Stats(),
		"guard": h.store.GuardCounts(),
	})
}

func (h *Handlers) sessionError(c *gin.Context, err error) {
	if errors.Is(err, mux.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
