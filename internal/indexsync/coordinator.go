package indexsync

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/metrics"
	"github.com/trackbot/backend/pkg/logger"
)

const DefaultDebounce = 30 * time.Second

var (
	ErrSyncInProgress = errors.New("index sync already in progress")

	// ErrRebuildPanicked wraps a panic recovered from a rebuild.
	ErrRebuildPanicked = errors.New("index rebuild panicked")
)

type Rebuilder interface {
	Rebuild(ctx context.Context) (int, error)
}

// Status describes the coordinator and its last finished run.
type Status struct {
	Running    bool      `json:"running"`
	Pending    bool      `json:"pending"`
	LastStart  time.Time `json:"lastStart,omitempty"`
	LastFinish time.Time `json:"lastFinish,omitempty"`
	LastSynced int       `json:"lastSynced"`
	LastError  string    `json:"lastError,omitempty"`
}

// Coordinator debounces rebuild requests and allows one rebuild at a time.
// Requests that arrive while a rebuild runs are dropped.
type Coordinator struct {
	rebuilder Rebuilder
	debounce  time.Duration

	// base is the context background rebuilds run under; Stop cancels it.
	base   context.Context
	cancel context.CancelFunc

	busy atomic.Bool

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	stopped    bool
	last       Status
}

func NewCoordinator(rebuilder Rebuilder, debounce time.Duration) *Coordinator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		rebuilder: rebuilder,
		debounce:  debounce,
		base:      base,
		cancel:    cancel,
	}
}

// Schedule (re)arms the debounce timer. Calls before it fires push it back.
func (c *Coordinator) Schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if c.timer != nil && c.timer.Stop() {
		metrics.SyncCoalesced.Inc()
		logger.Debug("Pending index sync pushed back", zap.Duration("debounce", c.debounce))
	}
	c.generation++
	gen := c.generation
	c.timer = time.AfterFunc(c.debounce, func() { c.fire(gen) })
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if c.generation == gen {
		c.timer = nil
	}
	c.mu.Unlock()

	n, err := c.RunNow(c.base)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		logger.Info("Scheduled index sync skipped, a rebuild is already running")
	case err != nil:
		logger.Error("Scheduled index sync failed", zap.Error(err))
	default:
		logger.Info("Scheduled index sync finished", zap.Int("documents", n))
	}
}

// RunNow rebuilds immediately unless a rebuild is already running.
func (c *Coordinator) RunNow(ctx context.Context) (int, error) {
	if !c.busy.CompareAndSwap(false, true) {
		metrics.SyncRuns.WithLabelValues("skipped").Inc()
		return 0, ErrSyncInProgress
	}
	defer c.busy.Store(false)

	start := time.Now()
	c.mu.Lock()
	c.last.LastStart = start
	c.mu.Unlock()

	n, err := c.rebuild(ctx)

	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.SyncRuns.WithLabelValues(outcome).Inc()

	c.mu.Lock()
	c.last.LastFinish = time.Now()
	c.last.LastSynced = n
	c.last.LastError = ""
	if err != nil {
		c.last.LastError = err.Error()
	}
	c.mu.Unlock()

	return n, err
}

// rebuild turns a panic in the rebuilder into an error wrapping ErrRebuildPanicked.
func (c *Coordinator) rebuild(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic during index rebuild",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			n, err = 0, fmt.Errorf("%w: %v", ErrRebuildPanicked, r)
		}
	}()
	return c.rebuilder.Rebuild(ctx)
}

// RunAfter starts RunNow in the background once delay has passed. It does
// nothing if the coordinator is stopped first.
func (c *Coordinator) RunAfter(delay time.Duration) {
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-c.base.Done():
			return
		case <-t.C:
		}
		if _, err := c.RunNow(c.base); err != nil && !errors.Is(err, ErrSyncInProgress) {
			logger.Error("Background index sync failed", zap.Error(err))
		}
	}()
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.last
	s.Running = c.busy.Load()
	s.Pending = c.timer != nil
	return s
}

// Stop cancels a pending timer and the context of any background rebuild, and
// ignores later Schedule calls.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
