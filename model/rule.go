package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Rule record categories. The set is closed: importer and query layer reject
// anything outside it.
const (
	CategoryAncestry   = "ancestry"
	CategoryBackground = "background"
	CategoryClass      = "class"
	CategoryFeat       = "feat"
	CategorySpell      = "spell"
	CategoryEquipment  = "equipment"
	CategoryAction     = "action"
	CategoryCreature   = "creature"
	CategoryCondition  = "condition"
	CategoryDeity      = "deity"
)

// Categories lists every valid rule category.
var Categories = []string{
	CategoryAncestry, CategoryBackground, CategoryClass, CategoryFeat,
	CategorySpell, CategoryEquipment, CategoryAction, CategoryCreature,
	CategoryCondition, CategoryDeity,
}

// CoreCategories are the categories needed to build a character; ImportAllCore
// imports exactly these.
var CoreCategories = []string{
	CategoryAncestry, CategoryBackground, CategoryClass, CategoryFeat,
	CategorySpell, CategoryEquipment, CategoryAction, CategoryCondition,
	CategoryDeity,
}

// ValidCategory reports whether tag is a known rule category.
func ValidCategory(tag string) bool {
	for _, c := range Categories {
		if c == tag {
			return true
		}
	}
	return false
}

// ErrUnknownCategory wraps an invalid category tag; programmer misuse,
// surfaced loudly.
func ErrUnknownCategory(tag string) error {
	return fmt.Errorf("model: unknown rule category %q", tag)
}

// Rule is one immutable piece of static game content (an ancestry, class,
// feat, spell...). The System payload keeps the category-specific rules data
// opaque; Level and Traits are extracted into columns at import time so the
// common filters hit indexes instead of JSON.
type Rule struct {
	ID       string `gorm:"primaryKey;size:64" json:"id"`
	Category string `gorm:"index:idx_rules_category;index:idx_rules_category_level,priority:1;size:32;not null" json:"category"`
	Name     string `gorm:"index:idx_rules_name;size:128;not null" json:"name"`
	// Level extracted from system.level.value (0 when the category has none).
	Level int `gorm:"index:idx_rules_category_level,priority:2" json:"level"`
	// Traits is the record's trait list normalized to "|t1|t2|" for LIKE
	// filtering; the authoritative list stays inside System.
	Traits     string         `gorm:"size:512" json:"-"`
	System     datatypes.JSON `json:"system"`
	Img        string         `gorm:"size:256" json:"img,omitempty"`
	Folder     string         `gorm:"size:64" json:"folder,omitempty"`
	Sort       int            `json:"sort,omitempty"`
	Flags      datatypes.JSON `json:"flags,omitempty"`
	ImportedAt time.Time      `gorm:"autoCreateTime" json:"imported_at"`
}

func (Rule) TableName() string { return "rules" }

// NormalizeTraits builds the "|a|b|" filter column from a trait list.
func NormalizeTraits(traits []string) string {
	if len(traits) == 0 {
		return ""
	}
	s := "|"
	for _, t := range traits {
		s += t + "|"
	}
	return s
}
