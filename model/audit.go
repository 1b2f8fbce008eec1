package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records document writes, imports, and sync batches.
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_audit_trace;size:36" json:"trace_id"`
	Collection string         `gorm:"size:32;not null" json:"collection"`
	DocID      string         `gorm:"index:idx_audit_doc;size:64" json:"doc_id"`
	Action     string         `gorm:"size:32;not null" json:"action"` // create|update|delete|import|sync_push|sync_pull
	Detail     datatypes.JSON `json:"detail"`
	Error      string         `gorm:"type:text" json:"error"`
	IP         string         `gorm:"size:45" json:"ip"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
