package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mizutama/loreforge/server/query"
)

// PreferencesHandler exposes the settings singleton.
type PreferencesHandler struct {
	prefs *query.Preferences
}

// NewPreferencesHandler creates a new PreferencesHandler.
func NewPreferencesHandler(prefs *query.Preferences) *PreferencesHandler {
	return &PreferencesHandler{prefs: prefs}
}

// Get handles GET /api/preferences. First access materializes the default.
func (h *PreferencesHandler) Get(c *gin.Context) {
	prefs, err := h.prefs.Get()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, prefs)
}

// Update handles PATCH /api/preferences. Absent fields keep their value.
func (h *PreferencesHandler) Update(c *gin.Context) {
	var patch query.PreferencesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prefs, err := h.prefs.Update(patch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, prefs)
}
