// Package replication keeps the local character collection in sync with a
// remote sync server: live, bidirectional, restartable, with last-write-wins
// conflict resolution on the document's updated_at timestamp.
//
// Known limitation, by contract: LWW is driven by client clocks. Concurrent
// field-level edits on two devices are not merged — the later write fully
// overwrites the earlier one, and skewed clocks can pick the "wrong" winner.
// Equal timestamps are treated as already converged.
package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mizutama/loreforge/server/cache"
	"github.com/mizutama/loreforge/server/config"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventsChannel is the pubsub channel carrying sync lifecycle events for SSE.
const EventsChannel = "sync:events"

// Flag keys for the replication cursors.
const (
	flagLastPull = "sync:last_pull_ms"
	flagLastPush = "sync:last_push_ms"
)

// errMalformedDoc marks a pulled document that can never apply (undecodable
// payload). Malformed documents are skipped; any other apply failure is
// transient and aborts the cycle so the pull cursor does not advance past an
// unapplied revision.
var errMalformedDoc = errors.New("replication: malformed document")

// Event types, in the order a healthy handler cycles through them.
type EventType string

const (
	EventActive EventType = "active" // sync resumed after new changes
	EventPaused EventType = "paused" // local and remote converged
	EventChange EventType = "change" // a batch of documents transferred
	EventError  EventType = "error"  // non-fatal; handler keeps retrying
)

// Event is one lifecycle notification. Events are reported, never thrown:
// a panicking observer is recovered and logged.
type Event struct {
	Type      EventType `json:"type"`
	Direction string    `json:"direction,omitempty"` // push | pull
	Count     int       `json:"count,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// EventFunc observes replication lifecycle events.
type EventFunc func(Event)

// Manager owns the single active replication handler. Starting a new handler
// always cancels the previous one first: two concurrent handlers against
// possibly different endpoints would corrupt conflict resolution.
type Manager struct {
	// startMu serializes the whole cancel-then-install sequence of Start and
	// Stop; mu alone only guards field access, so without it two concurrent
	// Starts could each install a handler and leak the overwritten one.
	startMu sync.Mutex

	mu      sync.Mutex
	store   *store.Store
	pubsub  cache.PubSub
	cfg     config.SyncConfig
	logger  *zap.Logger
	onEvent EventFunc

	endpoint string
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates the manager and registers it with the store so Reset cancels
// any active handler before collections are destroyed.
func New(st *store.Store, pubsub cache.PubSub, cfg config.SyncConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	m := &Manager{store: st, pubsub: pubsub, cfg: cfg, logger: logger}
	st.OnReset(m.Stop)
	return m
}

// OnEvent registers the lifecycle event callback.
func (m *Manager) OnEvent(fn EventFunc) {
	m.mu.Lock()
	m.onEvent = fn
	m.mu.Unlock()
}

// Start begins live replication against the endpoint, cancelling any
// previously active handler first.
func (m *Manager) Start(endpoint string, creds Credentials) error {
	if endpoint == "" {
		return errors.New("replication: empty endpoint")
	}
	if _, err := m.store.DB(); err != nil {
		return err
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.stop()

	m.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	h := &handler{
		mgr:    m,
		client: NewClient(endpoint, creds),
		logger: m.logger.With(zap.String("endpoint", endpoint)),
	}
	m.endpoint = endpoint
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		h.run(ctx)
	}()
	m.logger.Info("replication started", zap.String("endpoint", endpoint))
	return nil
}

// Stop cancels the active handler and waits for it to release its resources.
// No-op when no handler is active; a stopped handler fires no further events.
func (m *Manager) Stop() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.stop()
}

func (m *Manager) stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.endpoint = ""
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("replication stopped")
}

// IsActive reports whether a replication handler is running.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Endpoint returns the active endpoint, or "".
func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// emit delivers an event to the callback (recovered) and the pubsub channel.
// ctx guards against events from a cancelled handler.
func (m *Manager) emit(ctx context.Context, ev Event) {
	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	fn := m.onEvent
	m.mu.Unlock()
	if fn != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("sync event callback panicked", zap.Any("recover", r))
				}
			}()
			fn(ev)
		}()
	}
	if m.pubsub != nil {
		raw, err := json.Marshal(ev)
		if err == nil {
			pctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = m.pubsub.Publish(pctx, EventsChannel, string(raw))
			cancel()
		}
	}
}

// handler is one live replication session.
type handler struct {
	mgr    *Manager
	client *Client
	logger *zap.Logger
}

// run is the handler loop: sync, then sleep until a local write event or the
// poll ticker wakes it. Transient failures back off exponentially and never
// terminate the loop; only cancellation does.
func (h *handler) run(ctx context.Context) {
	var wake <-chan *cache.Message
	if h.mgr.pubsub != nil {
		ch, unsub, err := h.mgr.pubsub.Subscribe(ctx, store.WriteChannel)
		if err != nil {
			h.logger.Warn("write event subscribe failed, falling back to polling", zap.Error(err))
		} else {
			wake = ch
			defer unsub()
		}
	}

	ticker := time.NewTicker(h.mgr.cfg.PollInterval)
	defer ticker.Stop()

	backoff := h.mgr.cfg.InitialBackoff
	for {
		_, err := h.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			h.logger.Warn("sync cycle failed", zap.Error(err))
			h.mgr.emit(ctx, Event{Type: EventError, Err: err.Error()})
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > h.mgr.cfg.MaxBackoff {
				backoff = h.mgr.cfg.MaxBackoff
			}
			continue
		}
		backoff = h.mgr.cfg.InitialBackoff
		h.mgr.emit(ctx, Event{Type: EventPaused})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			// Coalesce a burst of writes into one cycle.
			drain := true
			for drain {
				select {
				case _, ok := <-wake:
					if !ok {
						wake = nil
						drain = false
					}
				default:
					drain = false
				}
			}
		}
		h.mgr.emit(ctx, Event{Type: EventActive})
	}
}

// cycle performs one pull+push round trip and returns the number of
// documents transferred in either direction.
func (h *handler) cycle(ctx context.Context) (int, error) {
	transferred := 0

	pulled, err := h.pull(ctx)
	if err != nil {
		return transferred, err
	}
	transferred += pulled

	pushed, err := h.push(ctx)
	if err != nil {
		return transferred, err
	}
	transferred += pushed

	return transferred, nil
}

func (h *handler) pull(ctx context.Context) (int, error) {
	since, err := h.cursor(flagLastPull)
	if err != nil {
		return 0, err
	}
	resp, err := h.client.Pull(ctx, since)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, doc := range resp.Docs {
		ok, err := h.applyRemote(doc)
		if errors.Is(err, errMalformedDoc) {
			h.logger.Warn("skipping malformed remote document",
				zap.String("doc_id", doc.DocID), zap.Error(err))
			continue
		}
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	if err := h.setCursor(flagLastPull, resp.ServerTime); err != nil {
		return applied, err
	}
	if applied > 0 {
		h.mgr.emit(ctx, Event{Type: EventChange, Direction: "pull", Count: applied})
	}
	return applied, nil
}

func (h *handler) push(ctx context.Context) (int, error) {
	since, err := h.cursor(flagLastPush)
	if err != nil {
		return 0, err
	}
	db, err := h.mgr.store.DB()
	if err != nil {
		return 0, err
	}

	sinceTime := time.UnixMilli(since)
	var chars []model.Character
	if err := db.Where("updated_at > ?", sinceTime).Find(&chars).Error; err != nil {
		return 0, err
	}
	var tombstones []model.Tombstone
	if err := db.Where("deleted_at > ?", sinceTime).Find(&tombstones).Error; err != nil {
		return 0, err
	}

	// The query layer stamps updated_at/deleted_at at millisecond resolution,
	// so UnixMilli loses nothing and the cursor comparison stays exact.
	docs := make([]SyncDoc, 0, len(chars)+len(tombstones))
	newest := since
	for i := range chars {
		raw, err := json.Marshal(&chars[i])
		if err != nil {
			return 0, err
		}
		ms := chars[i].UpdatedAt.UnixMilli()
		docs = append(docs, SyncDoc{DocID: chars[i].ID, UpdatedAt: ms, Doc: raw})
		if ms > newest {
			newest = ms
		}
	}
	for _, ts := range tombstones {
		ms := ts.DeletedAt.UnixMilli()
		docs = append(docs, SyncDoc{DocID: ts.DocID, UpdatedAt: ms, Deleted: true})
		if ms > newest {
			newest = ms
		}
	}
	if len(docs) == 0 {
		return 0, nil
	}

	applied, err := h.client.Push(ctx, docs)
	if err != nil {
		return 0, err
	}
	if err := h.setCursor(flagLastPush, newest); err != nil {
		return applied, err
	}
	h.mgr.emit(ctx, Event{Type: EventChange, Direction: "push", Count: len(docs)})
	return applied, nil
}

// applyRemote resolves one pulled document against the local copy with
// last-write-wins. Returns whether the local store changed. Replication
// writes bypass NotifyWrite: the push cursor is timestamp-based, so echoing
// an applied pull back as a write event would only churn.
func (h *handler) applyRemote(doc SyncDoc) (bool, error) {
	db, err := h.mgr.store.DB()
	if err != nil {
		return false, err
	}
	remoteTime := time.UnixMilli(doc.UpdatedAt)

	var local model.Character
	localErr := db.First(&local, "id = ?", doc.DocID).Error
	hasLocal := localErr == nil
	if localErr != nil && !errors.Is(localErr, gorm.ErrRecordNotFound) {
		return false, localErr
	}

	if doc.Deleted {
		if hasLocal && !remoteTime.After(local.UpdatedAt) {
			return false, nil // local edit is newer than the remote delete
		}
		// Keep the tombstone so the deletion propagates onward.
		if err := db.Save(&model.Tombstone{DocID: doc.DocID, DeletedAt: remoteTime}).Error; err != nil {
			return false, err
		}
		if !hasLocal {
			return false, nil
		}
		return true, db.Delete(&model.Character{}, "id = ?", doc.DocID).Error
	}

	if hasLocal && !remoteTime.After(local.UpdatedAt) {
		return false, nil // local is newer, or equal = already converged
	}

	var ts model.Tombstone
	tsErr := db.First(&ts, "doc_id = ?", doc.DocID).Error
	if tsErr == nil && !remoteTime.After(ts.DeletedAt) {
		return false, nil // deleted locally after the remote edit
	}
	if tsErr != nil && !errors.Is(tsErr, gorm.ErrRecordNotFound) {
		return false, tsErr
	}

	var incoming model.Character
	if err := json.Unmarshal(doc.Doc, &incoming); err != nil {
		return false, fmt.Errorf("%w: %v", errMalformedDoc, err)
	}
	incoming.ID = doc.DocID
	incoming.UpdatedAt = remoteTime
	if err := db.Save(&incoming).Error; err != nil {
		return false, err
	}
	// A later remote update resurrects a locally deleted document.
	if tsErr == nil {
		db.Delete(&model.Tombstone{}, "doc_id = ?", doc.DocID)
	}
	return true, nil
}

func (h *handler) cursor(key string) (int64, error) {
	val, err := h.mgr.store.GetFlag(key)
	if err != nil || val == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, nil // corrupt cursor falls back to a full pull
	}
	return n, nil
}

func (h *handler) setCursor(key string, ms int64) error {
	return h.mgr.store.SetFlag(key, strconv.FormatInt(ms, 10))
}
