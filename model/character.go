package model

import (
	"time"

	"gorm.io/datatypes"
)

// CharacterSchemaVersion is stamped on new characters so future releases can
// migrate old documents forward.
const CharacterSchemaVersion = 1

// Character is one user-authored character build. It is owned by the local
// store; a remote copy is a replica, never a second owner.
//
// CreatedAt/UpdatedAt carry autoCreateTime:false/autoUpdateTime:false: gorm
// stamps those field names by convention otherwise, and replication must be
// able to write a document while preserving the remote timestamps
// (last-write-wins depends on it). The query layer assigns them explicitly.
type Character struct {
	ID           string `gorm:"primaryKey;size:64" json:"id"`
	Name         string `gorm:"size:128;not null" json:"name"`
	Level        int    `gorm:"index:idx_chars_level;default:1" json:"level"`
	AncestryID   string `gorm:"size:64" json:"ancestry_id"`
	BackgroundID string `gorm:"size:64" json:"background_id"`
	ClassID      string `gorm:"index:idx_chars_class;size:64" json:"class_id"`
	// Abilities maps ability name to score, e.g. {"str":14,"dex":12,...}.
	Abilities datatypes.JSON `json:"abilities"`
	HP        int            `json:"hp"`
	MaxHP     int            `json:"max_hp"`
	TempHP    int            `json:"temp_hp"`
	// Skills maps skill name to {"rank":int,"modifier":int}.
	Skills datatypes.JSON `json:"skills"`
	// Feats is a list of {"id","name","level","type"} entries.
	Feats        datatypes.JSON `json:"feats"`
	Spellcasting datatypes.JSON `json:"spellcasting,omitempty"`
	Equipment    datatypes.JSON `json:"equipment"`
	// Currency holds {"gp":int,"sp":int,"cp":int}.
	Currency      datatypes.JSON `json:"currency"`
	Notes         string         `gorm:"type:text" json:"notes"`
	SchemaVersion int            `json:"schema_version"`
	CreatedAt     time.Time      `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"index:idx_chars_updated;autoUpdateTime:false" json:"updated_at"`
}

func (Character) TableName() string { return "characters" }

// Tombstone records a character deletion so replicas can propagate it.
// Last-write-wins applies between a tombstone and an update: a later update
// resurrects the document.
type Tombstone struct {
	DocID     string    `gorm:"primaryKey;size:64" json:"doc_id"`
	DeletedAt time.Time `gorm:"index:idx_tombstones_deleted" json:"deleted_at"`
}

func (Tombstone) TableName() string { return "character_tombstones" }
