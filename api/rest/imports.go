package rest

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mizutama/loreforge/server/audit"
	"github.com/mizutama/loreforge/server/importer"
	mw "github.com/mizutama/loreforge/server/middleware"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/store"
	"go.uber.org/zap"
)

// ImportHandler triggers and reports on bulk content imports. Runs are
// asynchronous; progress streams over SSE.
type ImportHandler struct {
	store    *store.Store
	importer *importer.Importer
	audit    *audit.Service
	logger   *zap.Logger
	running  atomic.Bool
}

// NewImportHandler creates a new ImportHandler.
func NewImportHandler(st *store.Store, im *importer.Importer, aud *audit.Service, logger *zap.Logger) *ImportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportHandler{store: st, importer: im, audit: aud, logger: logger}
}

// Status handles GET /api/import/status.
func (h *ImportHandler) Status(c *gin.Context) {
	loaded, at, err := h.store.DataLoaded()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	resp := gin.H{
		"loaded":  loaded,
		"running": h.running.Load(),
	}
	if loaded {
		resp["loaded_at"] = at
	}
	c.JSON(http.StatusOK, resp)
}

// Trigger handles POST /api/import. Starts the core import in the background
// unless data is already loaded or a run is in flight.
func (h *ImportHandler) Trigger(c *gin.Context) {
	loaded, _, err := h.store.DataLoaded()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if loaded {
		c.JSON(http.StatusOK, gin.H{"message": "data already loaded"})
		return
	}
	h.start(c, false)
}

// Reimport handles POST /api/import/reimport. Clears the loaded flag and the
// rules collection, then runs the core import again. Characters and
// preferences are untouched.
func (h *ImportHandler) Reimport(c *gin.Context) {
	h.start(c, true)
}

type optionalImportRequest struct {
	Categories []string `json:"categories" binding:"required,min=1"`
}

// Optional handles POST /api/import/optional for non-essential categories.
func (h *ImportHandler) Optional(c *gin.Context) {
	var req optionalImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, tag := range req.Categories {
		if !model.ValidCategory(tag) {
			c.JSON(http.StatusBadRequest, gin.H{"error": model.ErrUnknownCategory(tag).Error()})
			return
		}
	}
	if !h.running.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "import already running"})
		return
	}

	categories := req.Categories
	go func() {
		defer h.running.Store(false)
		n, err := h.importer.ImportOptional(context.Background(), categories)
		if err != nil {
			h.logger.Error("optional import failed", zap.Error(err))
			return
		}
		h.logger.Info("optional import finished", zap.Int("records", n))
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "import started"})
}

func (h *ImportHandler) start(c *gin.Context, wipe bool) {
	if !h.running.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "import already running"})
		return
	}

	if wipe {
		db, err := h.store.DB()
		if err != nil {
			h.running.Store(false)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not ready"})
			return
		}
		if err := h.store.ClearDataLoaded(); err != nil {
			h.running.Store(false)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if err := db.Where("1 = 1").Delete(&model.Rule{}).Error; err != nil {
			h.running.Store(false)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}

	traceID := mw.GetTraceID(c)
	ip := c.ClientIP()
	go func() {
		defer h.running.Store(false)
		start := time.Now()
		n, err := h.importer.ImportAllCore(context.Background())
		if h.audit != nil {
			h.audit.Record(audit.Entry{
				TraceID:    traceID,
				Collection: "rules",
				Action:     "import",
				Detail:     gin.H{"records": n, "reimport": wipe},
				Err:        err,
				IP:         ip,
				Duration:   time.Since(start),
			})
		}
		if err != nil {
			h.logger.Error("core import failed", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "import started"})
}
