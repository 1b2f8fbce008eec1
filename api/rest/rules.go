package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/query"
)

// RulesHandler exposes the imported rules collections over REST.
type RulesHandler struct {
	rules *query.Rules
}

// NewRulesHandler creates a new RulesHandler.
func NewRulesHandler(rules *query.Rules) *RulesHandler {
	return &RulesHandler{rules: rules}
}

// List handles GET /api/rules/:category.
func (h *RulesHandler) List(c *gin.Context) {
	tag := c.Param("category")
	if !model.ValidCategory(tag) {
		c.JSON(http.StatusBadRequest, gin.H{"error": model.ErrUnknownCategory(tag).Error()})
		return
	}
	rules, err := h.rules.ListByCategory(tag)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// Get handles GET /api/rules/:category/:id. The category segment is
// validated but lookup is by ID alone; IDs are globally unique.
func (h *RulesHandler) Get(c *gin.Context) {
	tag := c.Param("category")
	if !model.ValidCategory(tag) {
		c.JSON(http.StatusBadRequest, gin.H{"error": model.ErrUnknownCategory(tag).Error()})
		return
	}
	rule, err := h.rules.GetByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if rule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Search handles POST /api/rules/search with a criteria body.
func (h *RulesHandler) Search(c *gin.Context) {
	var criteria query.RuleCriteria
	if err := c.ShouldBindJSON(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if criteria.Category != "" && !model.ValidCategory(criteria.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": model.ErrUnknownCategory(criteria.Category).Error()})
		return
	}
	rules, err := h.rules.Search(criteria)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// Count handles GET /api/rules/:category/count.
func (h *RulesHandler) Count(c *gin.Context) {
	tag := c.Param("category")
	if !model.ValidCategory(tag) {
		c.JSON(http.StatusBadRequest, gin.H{"error": model.ErrUnknownCategory(tag).Error()})
		return
	}
	n, err := h.rules.CountByCategory(tag)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": tag, "count": n})
}
