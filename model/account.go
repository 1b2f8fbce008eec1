package model

import "time"

// SyncAccount is an account on the sync server side. Replication clients
// register once, then log in to obtain a JWT for pull/push.
type SyncAccount struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash string     `gorm:"size:64;not null" json:"-"`
	Status       int        `gorm:"default:1" json:"status"` // 0=disabled 1=normal
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastSyncAt   *time.Time `json:"last_sync_at"`
	LastSyncIP   string     `gorm:"size:45" json:"last_sync_ip"`
}

func (SyncAccount) TableName() string { return "sync_accounts" }
