package model

// AppFlag is a simple persisted key-value flag, outside the three document
// collections. Holds the data-loaded marker and replication cursors.
type AppFlag struct {
	Key   string `gorm:"primaryKey;size:64" json:"key"`
	Value string `gorm:"size:256" json:"value"`
}

func (AppFlag) TableName() string { return "app_flags" }
