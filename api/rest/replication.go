package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mizutama/loreforge/server/query"
	"github.com/mizutama/loreforge/server/replication"
)

// ReplicationHandler controls the local replication manager. Credentials come
// from the stored preferences; the start request only supplies intent.
type ReplicationHandler struct {
	manager *replication.Manager
	prefs   *query.Preferences
}

// NewReplicationHandler creates a new ReplicationHandler.
func NewReplicationHandler(m *replication.Manager, prefs *query.Preferences) *ReplicationHandler {
	return &ReplicationHandler{manager: m, prefs: prefs}
}

// Status handles GET /api/sync/status.
func (h *ReplicationHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active":   h.manager.IsActive(),
		"endpoint": h.manager.Endpoint(),
	})
}

// Start handles POST /api/sync/start. Endpoint and credentials are read from
// preferences, which also flips sync_enabled on so sync resumes on restart.
func (h *ReplicationHandler) Start(c *gin.Context) {
	prefs, err := h.prefs.Get()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if prefs.SyncEndpoint == "" || prefs.SyncUsername == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sync endpoint and credentials must be configured first"})
		return
	}

	err = h.manager.Start(prefs.SyncEndpoint, replication.Credentials{
		Username: prefs.SyncUsername,
		Password: prefs.SyncPassword,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	enabled := true
	if _, err := h.prefs.Update(query.PreferencesPatch{SyncEnabled: &enabled}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "endpoint": prefs.SyncEndpoint})
}

// Stop handles POST /api/sync/stop. Stopping when inactive is a no-op.
func (h *ReplicationHandler) Stop(c *gin.Context) {
	h.manager.Stop()
	enabled := false
	if _, err := h.prefs.Update(query.PreferencesPatch{SyncEnabled: &enabled}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": false})
}
