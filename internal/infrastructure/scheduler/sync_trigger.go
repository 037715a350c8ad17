// Package scheduler runs bucket reconciliation on a fixed interval inside the
// server process.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cti/scanhub/internal/application/ingest"
	"go.uber.org/zap"
)

// ErrInvalidInterval is returned when a trigger is built without a positive interval
var ErrInvalidInterval = errors.New("scheduler: interval must be positive")

// Syncer runs one reconciliation
type Syncer interface {
	Sync(ctx context.Context, req ingest.SyncRequest) (*ingest.SyncResult, error)
}

// SyncTriggerConfig holds configuration for the sync trigger
type SyncTriggerConfig struct {
	Interval time.Duration
	Bucket   string
	Prefix   string
	Mode     ingest.SyncMode
	// Timeout bounds one run; zero means the interval
	Timeout time.Duration
	// RunOnStart runs a sync immediately instead of waiting one interval
	RunOnStart bool
}

// SyncTrigger periodically reconciles the scans table with the bucket.
// Runs never overlap: a tick that arrives while a run is active is skipped.
type SyncTrigger struct {
	config SyncTriggerConfig
	syncer Syncer
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	busy      bool
	lastRun   time.Time
	lastErr   error
}

// NewSyncTrigger creates a new sync trigger
func NewSyncTrigger(config SyncTriggerConfig, syncer Syncer, logger *zap.Logger) (*SyncTrigger, error) {
	if config.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if _, err := ingest.ParseSyncMode(string(config.Mode)); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = config.Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncTrigger{
		config: config,
		syncer: syncer,
		logger: logger.Named("sync_trigger"),
	}, nil
}

// Start launches the loop. Calling Start on a running trigger does nothing.
func (t *SyncTrigger) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isRunning {
		return
	}
	t.isRunning = true

	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Sync trigger started",
		zap.Duration("interval", t.config.Interval),
		zap.String("bucket", t.config.Bucket),
		zap.String("prefix", t.config.Prefix),
		zap.String("mode", string(t.config.Mode)),
	)
}

// Stop cancels the loop, including an in-flight run, and waits for it to exit
// or for ctx to expire.
func (t *SyncTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SyncTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	if t.config.RunOnStart {
		t.RunOnce(ctx)
	}

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sync unless another is in progress. It reports
// whether a sync actually ran.
func (t *SyncTrigger) RunOnce(ctx context.Context) bool {
	t.mu.Lock()
	if t.busy {
		t.mu.Unlock()
		t.logger.Debug("Previous sync still running, skipping tick")
		return false
	}
	t.busy = true
	t.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	started := time.Now()
	result, err := t.syncer.Sync(runCtx, ingest.SyncRequest{
		Bucket: t.config.Bucket,
		Prefix: t.config.Prefix,
		Mode:   t.config.Mode,
		Source: ingest.SourceScheduled,
	})

	t.mu.Lock()
	t.busy = false
	t.lastRun = started
	t.lastErr = err
	t.mu.Unlock()

	if err != nil {
		t.logger.Error("Scheduled sync failed", zap.Error(err))
		return true
	}
	t.logger.Info("Scheduled sync finished",
		zap.Int("added", result.Added),
		zap.Int("removed", result.Removed),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return true
}

// LastRun returns when the most recent sync started and how it ended
func (t *SyncTrigger) LastRun() (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun, t.lastErr
}
