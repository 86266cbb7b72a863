package logservice

import (
	"context"
	"sync"
	"time"
)

// DefaultJanitorInterval is used when JanitorConfig.Interval is not positive.
const DefaultJanitorInterval = 24 * time.Hour

// JanitorConfig controls the retention janitor.
type JanitorConfig struct {
	RetentionDays int // non-positive means the repository default
	Interval      time.Duration
}

// Janitor runs CleanupExpiredLogs on a ticker, off the request path.
type Janitor struct {
	svc *Service
	cfg JanitorConfig

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewJanitor creates a janitor. Call Start to begin the loop.
func NewJanitor(svc *Service, cfg JanitorConfig) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultJanitorInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{svc: svc, cfg: cfg, ctx: ctx, cancel: cancel}
}

// Start launches the background loop. The first run happens after one interval.
// Later calls do nothing.
func (j *Janitor) Start() {
	j.startOnce.Do(func() {
		j.wg.Add(1)
		go j.loop()
	})
}

func (j *Janitor) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := j.RunOnce(j.ctx); err != nil && j.ctx.Err() == nil {
				j.svc.log.Error("retention cleanup failed", "error", err)
			}
		case <-j.ctx.Done():
			return
		}
	}
}

// RunOnce performs a single cleanup pass and returns the number of records
// soft-deleted.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := j.svc.CleanupExpiredLogs(ctx, j.cfg.RetentionDays)
	if err != nil {
		return n, err
	}
	j.svc.log.Info("retention cleanup finished", "deleted", n, "retention_days", j.cfg.RetentionDays, "elapsed", time.Since(start))
	return n, nil
}

// Close stops the loop, cancelling a pass in progress, and waits for it to exit.
func (j *Janitor) Close() error {
	j.closeOnce.Do(j.cancel)
	j.wg.Wait()
	return nil
}
