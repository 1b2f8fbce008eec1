package model

import (
	"time"

	"gorm.io/datatypes"
)

// Replica is how the sync server stores a client's character document: an
// opaque JSON payload keyed by (account, doc), plus the fields needed for
// last-write-wins. The server never interprets the document beyond its
// timestamp — the local store stays the owner.
type Replica struct {
	AccountID int64  `gorm:"primaryKey;autoIncrement:false" json:"account_id"`
	DocID     string `gorm:"primaryKey;size:64" json:"doc_id"`
	// UpdatedAt is the client-supplied document timestamp, not a server clock;
	// gorm must not re-stamp it on save.
	UpdatedAt time.Time      `gorm:"index:idx_replicas_updated;autoUpdateTime:false" json:"updated_at"`
	Deleted   bool           `json:"deleted"`
	Doc       datatypes.JSON `json:"doc"`
	// ReceivedAt is the server clock, used only for the pull cursor.
	ReceivedAt time.Time `gorm:"index:idx_replicas_received" json:"received_at"`
}

func (Replica) TableName() string { return "sync_replicas" }
