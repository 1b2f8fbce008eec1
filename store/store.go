// Package store owns the local document store: lifecycle, collection access,
// persisted flags, and the write-event channel that feeds replication.
//
// The handle is an explicitly constructed object passed to its consumers;
// there is no package-level state. Reset hooks let the replication manager
// cancel itself before the collections are destroyed, so an in-flight sync
// can never resurrect deleted data.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/mizutama/loreforge/server/cache"
	"github.com/mizutama/loreforge/server/config"
	dbadapter "github.com/mizutama/loreforge/server/db"
	"github.com/mizutama/loreforge/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotInitialized is returned by accessors called before Initialize.
// Programmer misuse: fail loudly, never retry internally.
var ErrNotInitialized = errors.New("store: not initialized, call Initialize first")

// WriteChannel is the pubsub channel carrying WriteEvents.
const WriteChannel = "store:writes"

// FlagDataLoaded gates whether ImportAllCore re-runs on launch.
const FlagDataLoaded = "data:loaded"

// WriteEvent is published after every successful character write. Local
// persistence is synchronous and required; consumers of these events (the
// replication manager, SSE) are best-effort.
type WriteEvent struct {
	Collection string    `json:"collection"`
	DocID      string    `json:"doc_id"`
	Action     string    `json:"action"` // create|update|delete
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is the process-wide document store handle.
type Store struct {
	mu          sync.Mutex
	cfg         config.DatabaseConfig
	db          *gorm.DB
	pubsub      cache.PubSub
	logger      *zap.Logger
	initialized bool
	resetHooks  []func()
}

// Open creates an uninitialized Store handle. pubsub may be nil (write events
// are then dropped), which keeps unit tests lightweight.
func Open(cfg config.DatabaseConfig, pubsub cache.PubSub, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{cfg: cfg, pubsub: pubsub, logger: logger}
}

// Initialize opens (or creates) the underlying database and migrates all
// collections and their secondary indices. Idempotent: calling it twice is a
// no-op, never a failure or a duplicate migration.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	db, err := dbadapter.Open(s.cfg)
	if err != nil {
		return err
	}
	if err := model.AutoMigrate(db); err != nil {
		return err
	}
	s.db = db
	s.initialized = true
	s.logger.Info("store initialized", zap.String("mode", s.cfg.Mode))
	return nil
}

// DB returns the underlying database, or ErrNotInitialized.
func (s *Store) DB() (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

// OnReset registers a hook run at the start of Reset, before any data is
// destroyed. The replication manager registers its Stop here.
func (s *Store) OnReset(fn func()) {
	s.mu.Lock()
	s.resetHooks = append(s.resetHooks, fn)
	s.mu.Unlock()
}

// Reset destroys and recreates all collections. Used by tests and forced
// re-import after a ruleset version bump.
func (s *Store) Reset() error {
	s.mu.Lock()
	hooks := make([]func(), len(s.resetHooks))
	copy(hooks, s.resetHooks)
	db := s.db
	initialized := s.initialized
	s.mu.Unlock()

	if !initialized {
		return ErrNotInitialized
	}
	for _, fn := range hooks {
		fn()
	}
	if err := model.DropAll(db); err != nil {
		return err
	}
	return model.AutoMigrate(db)
}

// Shutdown releases the underlying connection without destroying persisted
// data. The handle can be re-initialized afterwards.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	s.db = nil
	s.initialized = false
	return err
}

// ---- persisted key-value flags ----

// SetFlag upserts a flag value.
func (s *Store) SetFlag(key, value string) error {
	db, err := s.DB()
	if err != nil {
		return err
	}
	flag := &model.AppFlag{Key: key, Value: value}
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(flag).Error
}

// GetFlag returns the flag value, or "" when the flag is absent.
func (s *Store) GetFlag(key string) (string, error) {
	db, err := s.DB()
	if err != nil {
		return "", err
	}
	var flag model.AppFlag
	if err := db.First(&flag, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return flag.Value, nil
}

// ClearFlag removes a flag; clearing an absent flag is a no-op.
func (s *Store) ClearFlag(key string) error {
	db, err := s.DB()
	if err != nil {
		return err
	}
	return db.Delete(&model.AppFlag{}, "key = ?", key).Error
}

type dataLoadedFlag struct {
	Loaded bool      `json:"loaded"`
	At     time.Time `json:"at"`
}

// MarkDataLoaded sets the persisted data-loaded flag with a timestamp.
func (s *Store) MarkDataLoaded(at time.Time) error {
	raw, err := json.Marshal(dataLoadedFlag{Loaded: true, At: at.UTC()})
	if err != nil {
		return err
	}
	return s.SetFlag(FlagDataLoaded, string(raw))
}

// DataLoaded reports whether the core import has completed, and when.
func (s *Store) DataLoaded() (bool, time.Time, error) {
	val, err := s.GetFlag(FlagDataLoaded)
	if err != nil || val == "" {
		return false, time.Time{}, err
	}
	var f dataLoadedFlag
	if err := json.Unmarshal([]byte(val), &f); err != nil {
		// A corrupt flag just forces a re-import.
		return false, time.Time{}, nil
	}
	return f.Loaded, f.At, nil
}

// ClearDataLoaded forces the core import to run again on next launch.
func (s *Store) ClearDataLoaded() error {
	return s.ClearFlag(FlagDataLoaded)
}

// ---- write events ----

// NotifyWrite publishes a write event on WriteChannel. Best-effort: a full
// subscriber buffer or missing pubsub never fails the write that caused it.
func (s *Store) NotifyWrite(ev WriteEvent) {
	if s.pubsub == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.pubsub.Publish(ctx, WriteChannel, string(raw)); err != nil {
		s.logger.Warn("write event publish failed",
			zap.String("doc_id", ev.DocID), zap.Error(err))
	}
}
