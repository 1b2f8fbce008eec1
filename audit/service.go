package audit

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/store"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry is one auditable action before it is persisted.
type Entry struct {
	TraceID    string
	Collection string
	DocID      string
	Action     string
	Detail     interface{}
	Err        error
	IP         string
	Duration   time.Duration
}

// Service persists audit entries asynchronously. Record never blocks the
// caller; when the queue is full the entry is dropped and counted.
type Service struct {
	store   *store.Store
	logger  *zap.Logger
	queue   chan *model.AuditLog
	dropped int64
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// New creates the audit service and starts its writer goroutine.
func New(st *store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  st,
		logger: logger,
		queue:  make(chan *model.AuditLog, queueSize),
		done:   make(chan struct{}),
	}
	go s.writer()
	return s
}

// Record enqueues an entry without blocking.
func (s *Service) Record(e Entry) {
	row := &model.AuditLog{
		TraceID:    e.TraceID,
		Collection: e.Collection,
		DocID:      e.DocID,
		Action:     e.Action,
		IP:         e.IP,
		DurationMs: int(e.Duration.Milliseconds()),
	}
	if e.Err != nil {
		row.Error = e.Err.Error()
	}
	if e.Detail != nil {
		if raw, err := json.Marshal(e.Detail); err == nil {
			row.Detail = datatypes.JSON(raw)
		}
	}

	select {
	case s.queue <- row:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Dropped reports how many entries were discarded due to a full queue.
func (s *Service) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stop flushes remaining entries and stops the writer. Safe to call more
// than once.
func (s *Service) Stop() {
	s.once.Do(func() {
		close(s.queue)
		<-s.done
	})
}

func (s *Service) writer() {
	defer close(s.done)

	batch := make([]*model.AuditLog, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		db, err := s.store.DB()
		if err != nil {
			s.logger.Warn("audit flush skipped", zap.Error(err))
			batch = batch[:0]
			return
		}
		if err := db.Create(&batch).Error; err != nil {
			s.logger.Error("audit flush failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
