package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mizutama/loreforge/server/audit"
	mw "github.com/mizutama/loreforge/server/middleware"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/query"
)

// CharacterHandler exposes the local character collection over REST.
type CharacterHandler struct {
	chars *query.Characters
	audit *audit.Service
}

// NewCharacterHandler creates a new CharacterHandler.
func NewCharacterHandler(chars *query.Characters, aud *audit.Service) *CharacterHandler {
	return &CharacterHandler{chars: chars, audit: aud}
}

// List handles GET /api/characters. Filter parameters arrive as query
// strings; none means "all".
func (h *CharacterHandler) List(c *gin.Context) {
	var criteria query.CharacterCriteria
	if err := c.ShouldBindQuery(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chars, err := h.chars.Query(criteria)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"characters": chars})
}

// Get handles GET /api/characters/:id.
func (h *CharacterHandler) Get(c *gin.Context) {
	char, err := h.chars.GetByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if char == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}
	c.JSON(http.StatusOK, char)
}

// Create handles POST /api/characters. The body is the character document;
// the store assigns the ID and timestamps.
func (h *CharacterHandler) Create(c *gin.Context) {
	start := time.Now()
	var char model.Character
	if err := c.ShouldBindJSON(&char); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if char.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	created, err := h.chars.Create(&char)
	h.record(c, "create", charID(created), err, start)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Update handles PUT /api/characters/:id. The body is the full document.
func (h *CharacterHandler) Update(c *gin.Context) {
	start := time.Now()
	var char model.Character
	if err := c.ShouldBindJSON(&char); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	char.ID = c.Param("id")

	updated, err := h.chars.Update(&char)
	h.record(c, "update", char.ID, err, start)
	if errors.Is(err, query.ErrCharacterNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Delete handles DELETE /api/characters/:id. Deleting an absent ID still
// returns 200: the end state is the same.
func (h *CharacterHandler) Delete(c *gin.Context) {
	start := time.Now()
	id := c.Param("id")
	err := h.chars.Delete(id)
	h.record(c, "delete", id, err, start)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *CharacterHandler) record(c *gin.Context, action, docID string, err error, start time.Time) {
	if h.audit == nil {
		return
	}
	h.audit.Record(audit.Entry{
		TraceID:    mw.GetTraceID(c),
		Collection: "characters",
		DocID:      docID,
		Action:     action,
		Err:        err,
		IP:         c.ClientIP(),
		Duration:   time.Since(start),
	})
}

func charID(char *model.Character) string {
	if char == nil {
		return ""
	}
	return char.ID
}
