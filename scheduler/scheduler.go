package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownTask is returned by RunNow for a name that was never registered.
var ErrUnknownTask = errors.New("scheduler: unknown task")

// TaskFn is a periodic job. ctx is cancelled when the scheduler stops.
type TaskFn func(ctx context.Context)

// TaskInfo describes a registered ticker for the admin listing.
type TaskInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int64         `json:"runs"`
	LastRun  time.Time     `json:"last_run"`
	Panics   int64         `json:"panics"`
}

type tickerEntry struct {
	fn     TaskFn
	ticker *time.Ticker
	stopCh chan struct{}
	runMu  sync.Mutex // one run of a task at a time
	info   TaskInfo
}

// Scheduler runs the server's periodic board, ticket and reward jobs.
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*tickerEntry
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tickers: make(map[string]*tickerEntry),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddTicker registers fn to run every interval.
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tickers[name]; ok {
		close(old.stopCh)
	}
	entry := &tickerEntry{
		fn:     fn,
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
		info:   TaskInfo{Name: name, Interval: interval},
	}
	s.tickers[name] = entry

	go func() {
		defer entry.ticker.Stop()
		for {
			select {
			case <-entry.ticker.C:
				s.run(entry)
			case <-entry.stopCh:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

// run executes one tick, recovering from panics so one bad task cannot take the
// scheduler down.
func (s *Scheduler) run(e *tickerEntry) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				s.logger.Error("scheduler task panicked",
					zap.String("task", e.info.Name),
					zap.Any("recover", r))
			}
		}()
		e.fn(s.ctx)
	}()
	s.mu.Lock()
	e.info.Runs++
	e.info.LastRun = time.Now()
	if panicked {
		e.info.Panics++
	}
	s.mu.Unlock()
}

// RunNow executes a registered task synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.tickers[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}
	s.run(e)
	return nil
}

// Remove stops and removes a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tickers[name]; ok {
		close(entry.stopCh)
		delete(s.tickers, name)
	}
}

// Stop stops all tasks and cancels the context handed to them.
func (s *Scheduler) Stop() {
	s.cancel()
}

// Tasks returns a snapshot of every registered task, sorted by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tickers))
	for _, e := range s.tickers {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
