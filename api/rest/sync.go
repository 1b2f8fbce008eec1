package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mizutama/loreforge/server/audit"
	mw "github.com/mizutama/loreforge/server/middleware"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/store"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncHandler is the server side of replication: it stores each account's
// documents as opaque replicas and applies last-write-wins on push.
type SyncHandler struct {
	store  *store.Store
	audit  *audit.Service
	logger *zap.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(st *store.Store, aud *audit.Service, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{store: st, audit: aud, logger: logger}
}

type syncDoc struct {
	DocID     string          `json:"doc_id"`
	UpdatedAt int64           `json:"updated_at_ms"`
	Deleted   bool            `json:"deleted"`
	Doc       json.RawMessage `json:"doc,omitempty"`
}

type pullRequest struct {
	SinceMs int64 `json:"since_ms"`
}

// Pull handles POST /api/sync/pull. Returns every replica the account has
// that the server received after the cursor, plus the server clock for the
// next cursor.
func (h *SyncHandler) Pull(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req pullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db, err := h.store.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not ready"})
		return
	}

	// Snapshot the clock before the query so a write landing mid-request is
	// picked up by the next pull instead of slipping between cursors. The
	// cursor travels as whole milliseconds, so the server works in the same
	// resolution.
	serverTime := time.Now().Truncate(time.Millisecond)

	since := time.UnixMilli(req.SinceMs)
	var replicas []model.Replica
	err = db.Where("account_id = ? AND received_at > ?", accountID, since).
		Order("received_at ASC").
		Find(&replicas).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	docs := make([]syncDoc, 0, len(replicas))
	for _, r := range replicas {
		docs = append(docs, syncDoc{
			DocID:     r.DocID,
			UpdatedAt: r.UpdatedAt.UnixMilli(),
			Deleted:   r.Deleted,
			Doc:       json.RawMessage(r.Doc),
		})
	}

	h.touchAccount(db, accountID, c.ClientIP())
	if h.audit != nil {
		h.audit.Record(audit.Entry{
			TraceID:    mw.GetTraceID(c),
			Collection: "characters",
			Action:     "sync_pull",
			Detail:     gin.H{"account_id": accountID, "count": len(docs)},
			IP:         c.ClientIP(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"docs":           docs,
		"server_time_ms": serverTime.UnixMilli(),
	})
}

type pushRequest struct {
	Docs []syncDoc `json:"docs"`
}

// Push handles POST /api/sync/push. Each document is applied only if its
// client timestamp is strictly newer than the stored replica's; equal or
// older uploads are acknowledged but discarded.
func (h *SyncHandler) Push(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db, err := h.store.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not ready"})
		return
	}

	applied := 0
	for _, doc := range req.Docs {
		if doc.DocID == "" {
			continue
		}
		ok, err := h.applyDoc(db, accountID, doc)
		if err != nil {
			h.logger.Warn("sync push apply failed",
				zap.Int64("account_id", accountID),
				zap.String("doc_id", doc.DocID),
				zap.Error(err))
			continue
		}
		if ok {
			applied++
		}
	}

	h.touchAccount(db, accountID, c.ClientIP())
	if h.audit != nil {
		h.audit.Record(audit.Entry{
			TraceID:    mw.GetTraceID(c),
			Collection: "characters",
			Action:     "sync_push",
			Detail:     gin.H{"account_id": accountID, "received": len(req.Docs), "applied": applied},
			IP:         c.ClientIP(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

func (h *SyncHandler) applyDoc(db *gorm.DB, accountID int64, doc syncDoc) (bool, error) {
	incoming := time.UnixMilli(doc.UpdatedAt)

	var existing model.Replica
	err := db.Where("account_id = ? AND doc_id = ?", accountID, doc.DocID).
		First(&existing).Error
	if err == nil && !incoming.After(existing.UpdatedAt) {
		return false, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	row := model.Replica{
		AccountID:  accountID,
		DocID:      doc.DocID,
		UpdatedAt:  incoming,
		Deleted:    doc.Deleted,
		Doc:        datatypes.JSON(doc.Doc),
		ReceivedAt: time.Now().Truncate(time.Millisecond),
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "doc_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

// touchAccount records the last sync contact, best-effort.
func (h *SyncHandler) touchAccount(db *gorm.DB, accountID int64, ip string) {
	now := time.Now()
	_ = db.Model(&model.SyncAccount{}).Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"last_sync_at": now,
			"last_sync_ip": ip,
		}).Error
}
