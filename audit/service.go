package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/bountyboard/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Actions recorded by the board services.
const (
	ActionAccept       = "quest_accept"
	ActionDeposit      = "quest_deposit"
	ActionTurnIn       = "quest_turn_in"
	ActionExpire       = "ticket_expire"
	ActionBoardPlace   = "board_place"
	ActionBoardDestroy = "board_destroy"
	ActionQuestReload  = "quest_reload"
)

// Entry is one audited board action.
type Entry struct {
	TraceID  string
	CharID   *int64
	BoardID  string
	Action   string
	Request  any
	Outcome  string // "ok" or an error code
	Err      error
	Duration time.Duration
}

// Service writes audit entries asynchronously in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an entry. It never blocks; when the queue is full the entry is
// dropped with a warning. Logging to a nil Service is a no-op.
func (svc *Service) Log(e Entry) {
	if svc == nil {
		return
	}
	rec := &model.AuditLog{
		TraceID:    e.TraceID,
		CharID:     e.CharID,
		BoardID:    e.BoardID,
		Action:     e.Action,
		Outcome:    e.Outcome,
		DurationMs: int(e.Duration.Milliseconds()),
	}
	if e.Request != nil {
		if raw, err := json.Marshal(e.Request); err == nil {
			rec.Request = datatypes.JSON(raw)
		}
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	if rec.Outcome == "" {
		rec.Outcome = "ok"
	}
	select {
	case svc.ch <- rec:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", e.Action))
	}
}

// Recent returns the newest entries for a board, newest first.
func (svc *Service) Recent(ctx context.Context, boardID string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var logs []model.AuditLog
	err := svc.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-svc.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case rec := <-svc.ch:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}
