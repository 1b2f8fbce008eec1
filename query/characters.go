package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrCharacterNotFound is returned by Update when the target does not exist.
// GetByID never returns it; a missing document there is (nil, nil).
var ErrCharacterNotFound = errors.New("query: character not found")

// Characters provides CRUD and filtered queries over the character
// collection. Every mutation is a full-document read-modify-write, publishes
// a store write event, and maintains the tombstone table for replication.
type Characters struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewCharacters creates the character query service.
func NewCharacters(st *store.Store, logger *zap.Logger) *Characters {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Timestamps travel the sync wire as whole milliseconds; stamping with a
	// sub-ms component would leave documents forever above the ms push cursor.
	return &Characters{store: st, logger: logger, now: func() time.Time {
		return time.Now().Truncate(time.Millisecond)
	}}
}

// ListAll returns every character, most recently touched first.
func (q *Characters) ListAll() ([]model.Character, error) {
	db, err := q.store.DB()
	if err != nil {
		return nil, err
	}
	var chars []model.Character
	if err := db.Order("updated_at DESC").Find(&chars).Error; err != nil {
		return nil, err
	}
	return chars, nil
}

// GetByID returns the character, or (nil, nil) when it does not exist.
func (q *Characters) GetByID(id string) (*model.Character, error) {
	db, err := q.store.DB()
	if err != nil {
		return nil, err
	}
	var char model.Character
	if err := db.First(&char, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &char, nil
}

// Create persists a new character. Caller-supplied identifier, timestamps and
// schema version are ignored: the store assigns them.
func (q *Characters) Create(char *model.Character) (*model.Character, error) {
	db, err := q.store.DB()
	if err != nil {
		return nil, err
	}
	now := q.now()
	char.ID = newCharacterID(now)
	char.SchemaVersion = model.CharacterSchemaVersion
	char.CreatedAt = now
	char.UpdatedAt = now
	if char.Level <= 0 {
		char.Level = 1
	}
	if err := db.Create(char).Error; err != nil {
		return nil, err
	}
	// A re-created ID cancels any stale tombstone.
	db.Delete(&model.Tombstone{}, "doc_id = ?", char.ID)
	q.store.NotifyWrite(store.WriteEvent{
		Collection: "characters", DocID: char.ID, Action: "create", UpdatedAt: now,
	})
	return char, nil
}

// Update replaces the full document. The last-modified timestamp always
// advances strictly, even within one clock tick, so last-write-wins ordering
// and "strictly later updated_at" both hold.
func (q *Characters) Update(char *model.Character) (*model.Character, error) {
	db, err := q.store.DB()
	if err != nil {
		return nil, err
	}
	var existing model.Character
	if err := db.First(&existing, "id = ?", char.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCharacterNotFound
		}
		return nil, err
	}

	now := q.now()
	if !now.After(existing.UpdatedAt) {
		now = existing.UpdatedAt.Add(time.Millisecond)
	}
	char.CreatedAt = existing.CreatedAt
	char.SchemaVersion = existing.SchemaVersion
	char.UpdatedAt = now

	if err := db.Save(char).Error; err != nil {
		return nil, err
	}
	q.store.NotifyWrite(store.WriteEvent{
		Collection: "characters", DocID: char.ID, Action: "update", UpdatedAt: now,
	})
	return char, nil
}

// Delete removes the character outright and records a tombstone so replicas
// learn about the deletion. Deleting an absent ID is a no-op.
func (q *Characters) Delete(id string) error {
	db, err := q.store.DB()
	if err != nil {
		return err
	}
	result := db.Delete(&model.Character{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}
	now := q.now()
	ts := &model.Tombstone{DocID: id, DeletedAt: now}
	if err := db.Save(ts).Error; err != nil {
		q.logger.Warn("tombstone write failed", zap.String("doc_id", id), zap.Error(err))
	}
	q.store.NotifyWrite(store.WriteEvent{
		Collection: "characters", DocID: id, Action: "delete", UpdatedAt: now,
	})
	return nil
}

// CharacterCriteria filters the character query. Level and the range bounds
// are pointers so zero values stay expressible; combining is logical AND.
type CharacterCriteria struct {
	Level    *int   `json:"level,omitempty" form:"level"`
	MinLevel *int   `json:"min_level,omitempty" form:"min_level"`
	MaxLevel *int   `json:"max_level,omitempty" form:"max_level"`
	ClassID  string `json:"class_id,omitempty" form:"class_id"`
	Limit    int    `json:"limit,omitempty" form:"limit"`
	Offset   int    `json:"offset,omitempty" form:"offset"`
}

// Query returns matching characters, most recently touched first.
func (q *Characters) Query(c CharacterCriteria) ([]model.Character, error) {
	db, err := q.store.DB()
	if err != nil {
		return nil, err
	}
	tx := db.Model(&model.Character{})
	if c.Level != nil {
		tx = tx.Where("level = ?", *c.Level)
	}
	if c.MinLevel != nil {
		tx = tx.Where("level >= ?", *c.MinLevel)
	}
	if c.MaxLevel != nil {
		tx = tx.Where("level <= ?", *c.MaxLevel)
	}
	if c.ClassID != "" {
		tx = tx.Where("class_id = ?", c.ClassID)
	}
	if c.Limit > 0 {
		tx = tx.Limit(c.Limit)
	}
	if c.Offset > 0 {
		tx = tx.Offset(c.Offset)
	}
	var chars []model.Character
	if err := tx.Order("updated_at DESC").Find(&chars).Error; err != nil {
		return nil, err
	}
	return chars, nil
}

// newCharacterID composes creation time and a random suffix: unique without
// coordination, and roughly sortable by creation.
func newCharacterID(now time.Time) string {
	return fmt.Sprintf("char-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
