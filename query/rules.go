package query

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/mizutama/loreforge/server/cache"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const countCacheTTL = time.Minute

// Rules provides typed reads over the rules collection. Rules are immutable
// after import, so counts are memoized in the cache with a short TTL.
type Rules struct {
	store  *store.Store
	cache  cache.Cache
	logger *zap.Logger
}

// NewRules creates the rules query service. c may be nil (no memoization).
func NewRules(st *store.Store, c cache.Cache, logger *zap.Logger) *Rules {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rules{store: st, cache: c, logger: logger}
}

// ListByCategory returns every record with the given tag, name ascending,
// case-insensitive.
func (q *Rules) ListByCategory(tag string) ([]model.Rule, error) {
	if !model.ValidCategory(tag) {
		return nil, model.ErrUnknownCategory(tag)
	}
	db, err := q.store.DB()
	if err != nil {
		return nil, err
	}
	var rules []model.Rule
	if err := db.Where("category = ?", tag).
		Order("LOWER(name) ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// GetByID returns the record, or (nil, nil) when it does not exist. Only
// genuine I/O failures surface as errors.
func (q *Rules) GetByID(id string) (*model.Rule, error) {
	db, err := q.store.DB()
	if err != nil {
		return nil, err
	}
	var rule model.Rule
	if err := db.First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// RuleCriteria combines search filters with logical AND. Zero values mean
// "no filter"; Level uses a pointer so level 0 remains expressible.
type RuleCriteria struct {
	Category     string   `json:"category,omitempty" form:"category"`
	Level        *int     `json:"level,omitempty" form:"level"`
	Traits       []string `json:"traits,omitempty" form:"traits"` // any-of membership
	NameContains string   `json:"name,omitempty" form:"name"`     // case-insensitive substring
	Limit        int      `json:"limit,omitempty" form:"limit"`
	Offset       int      `json:"offset,omitempty" form:"offset"`
}

// Search returns matching records sorted by name ascending. An empty result
// is a valid result, not an error.
func (q *Rules) Search(c RuleCriteria) ([]model.Rule, error) {
	db, err := q.store.DB()
	if err != nil {
		return nil, err
	}
	tx := db.Model(&model.Rule{})
	if c.Category != "" {
		if !model.ValidCategory(c.Category) {
			return nil, model.ErrUnknownCategory(c.Category)
		}
		tx = tx.Where("category = ?", c.Category)
	}
	if c.Level != nil {
		tx = tx.Where("level = ?", *c.Level)
	}
	if len(c.Traits) > 0 {
		traits := db.Session(&gorm.Session{NewDB: true})
		for i, t := range c.Traits {
			pattern := "%|" + t + "|%"
			if i == 0 {
				traits = traits.Where("traits LIKE ?", pattern)
			} else {
				traits = traits.Or("traits LIKE ?", pattern)
			}
		}
		tx = tx.Where(traits)
	}
	if c.NameContains != "" {
		tx = tx.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(c.NameContains)+"%")
	}
	if c.Limit > 0 {
		tx = tx.Limit(c.Limit)
	}
	if c.Offset > 0 {
		tx = tx.Offset(c.Offset)
	}
	var rules []model.Rule
	if err := tx.Order("LOWER(name) ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// CountByCategory returns the record count for a tag without materializing
// documents (SELECT count(*) only).
func (q *Rules) CountByCategory(tag string) (int64, error) {
	if !model.ValidCategory(tag) {
		return 0, model.ErrUnknownCategory(tag)
	}

	cacheKey := "rules:count:" + tag
	if q.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		cached, err := q.cache.Get(ctx, cacheKey)
		cancel()
		if err == nil && cached != "" {
			if n, perr := strconv.ParseInt(cached, 10, 64); perr == nil {
				return n, nil
			}
		}
	}

	db, err := q.store.DB()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.Model(&model.Rule{}).Where("category = ?", tag).Count(&n).Error; err != nil {
		return 0, err
	}

	if q.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = q.cache.Set(ctx, cacheKey, strconv.FormatInt(n, 10), countCacheTTL)
		cancel()
	}
	return n, nil
}
