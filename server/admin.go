package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// adminGuard requires "Authorization: Bearer <admin_key>". An empty key
// disables the admin routes.
func (a *API) adminGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.cfg.AdminKey == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "admin disabled"})
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.AdminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

type roomConfig struct {
	Step *float64 `json:"step,omitempty"`
}

func (a *API) room(c *gin.Context) (*Room, bool) {
	name := c.Query("map")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing map"})
		return nil, false
	}
	return a.rooms.GetOrCreateRoom(name), true
}

// handleGetConfig returns the room's movement settings.
// GET /admin/config?map=main
func (a *API) handleGetConfig(c *gin.Context) {
	room, ok := a.room(c)
	if !ok {
		return
	}
	step := room.Step()
	c.JSON(http.StatusOK, roomConfig{Step: &step})
}

// handlePostConfig updates the given fields live.
// POST /admin/config?map=main {"step": 4}
func (a *API) handlePostConfig(c *gin.Context) {
	room, ok := a.room(c)
	if !ok {
		return
	}
	var body roomConfig
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Step != nil {
		if *body.Step <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "step must be positive"})
			return
		}
		room.SetStep(*body.Step)
	}
	a.log.Info("room config updated", zap.String("map", room.Map), zap.Float64("step", room.Step()))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleMetrics reports counters plus per-room occupancy and tick.
func (a *API) handleMetrics(c *gin.Context) {
	rooms := make(map[string]any)
	for _, r := range a.rooms.Rooms() {
		rooms[r.Map] = gin.H{"players": r.Count(), "tick": r.TickSeq(), "step": r.Step()}
	}
	c.JSON(http.StatusOK, gin.H{
		"connections": a.dispatcher.Clients(),
		"players":     a.rooms.Count(),
		"rooms":       rooms,
		"metrics":     a.metrics.Snapshot(),
	})
}
