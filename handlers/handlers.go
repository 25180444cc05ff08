// Package handlers exposes the engine's read API.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wry5560/PolyHermes-sub002/api"
	"github.com/wry5560/PolyHermes-sub002/storage"
	"github.com/wry5560/PolyHermes-sub002/syncer"
)

// Handler handles HTTP requests.
type Handler struct {
	store  storage.EngineStore
	engine *syncer.Engine
	pool   *api.NodePool
}

// NewHandler creates a new handler.
func NewHandler(store storage.EngineStore, engine *syncer.Engine, pool *api.NodePool) *Handler {
	return &Handler{
		store:  store,
		engine: engine,
		pool:   pool,
	}
}

// GetOpenLots returns the open buy lots for a config.
func (h *Handler) GetOpenLots(c *gin.Context) {
	configID, ok := configIDParam(c)
	if !ok {
		return
	}

	lots, err := h.store.ListOpenLots(c.Request.Context(), configID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load lots"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"configId": configID,
		"lots":     lots,
		"count":    len(lots),
	})
}

// GetMatchHistory returns recent sell matches for a config, newest first.
func (h *Handler) GetMatchHistory(c *gin.Context) {
	configID, ok := configIDParam(c)
	if !ok {
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	matches, err := h.store.ListMatchHistory(c.Request.Context(), configID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load matches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"configId": configID,
		"matches":  matches,
		"count":    len(matches),
	})
}

// GetMatchDetails returns the lot slices consumed by one sell match.
func (h *Handler) GetMatchDetails(c *gin.Context) {
	matchID := c.Param("matchID")
	if matchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "match ID required"})
		return
	}

	details, err := h.store.ListMatchDetails(c.Request.Context(), matchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load match details"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"matchId": matchID,
		"details": details,
	})
}

// GetEngineHealth reports pipeline counters and RPC endpoint health.
func (h *Handler) GetEngineHealth(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"metrics": h.engine.Metrics().Snapshot(),
	}
	if h.pool != nil {
		resp["rpcEndpoints"] = h.pool.HealthSnapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// EnableConfig switches a replication config on.
func (h *Handler) EnableConfig(c *gin.Context) {
	h.setConfigEnabled(c, true)
}

// DisableConfig switches a replication config off.
func (h *Handler) DisableConfig(c *gin.Context) {
	h.setConfigEnabled(c, false)
}

func (h *Handler) setConfigEnabled(c *gin.Context, enabled bool) {
	configID, ok := configIDParam(c)
	if !ok {
		return
	}

	cfg, err := h.store.GetConfig(c.Request.Context(), configID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load config"})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "config not found"})
		return
	}

	if err := h.store.SetConfigEnabled(c.Request.Context(), configID, enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update config"})
		return
	}

	if enabled {
		h.engine.OnConfigEnabled(configID)
	} else {
		h.engine.OnConfigDisabled(configID)
	}

	c.JSON(http.StatusOK, gin.H{
		"configId": configID,
		"enabled":  enabled,
	})
}

func configIDParam(c *gin.Context) (int64, bool) {
	raw := c.Param("configID")
	if raw == "" {
		raw = c.Param("id")
	}
	configID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || configID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config ID"})
		return 0, false
	}
	return configID, true
}
