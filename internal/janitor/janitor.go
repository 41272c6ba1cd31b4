// Package janitor removes scratch PDFs left behind by requests that never
// reached their cleanup, e.g. after a crash.
package janitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gmsas95/ocrinvoice/internal/metrics"
)

// Config holds janitor settings
type Config struct {
	Dir      string        // directory to sweep
	Pattern  string        // glob of files the janitor owns
	Schedule string        // cron expression or @every descriptor
	MaxAge   time.Duration // files older than this are removed
}

// Janitor sweeps stale temp files on a cron schedule
type Janitor struct {
	config  Config
	cron    *cron.Cron
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

// New validates the schedule and creates a janitor
func New(cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Janitor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("janitor: file pattern is required")
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("janitor: invalid pattern %q: %w", cfg.Pattern, err)
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Minute
	}

	j := &Janitor{
		config:  cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}

	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := j.cron.AddFunc(cfg.Schedule, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("janitor: invalid schedule %q: %w", cfg.Schedule, err)
	}

	return j, nil
}

// Start runs one sweep and starts the schedule
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor already running")
	}
	j.running = true

	j.Sweep()
	j.cron.Start()
	j.logger.Info("Janitor started",
		zap.String("dir", j.config.Dir),
		zap.String("schedule", j.config.Schedule),
		zap.Duration("max_age", j.config.MaxAge),
	)
	return nil
}

// Stop stops the schedule and waits for a running sweep
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.mu.Unlock()

	<-j.cron.Stop().Done()
	j.logger.Info("Janitor stopped")
}

// IsRunning returns whether the schedule is active
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Run starts the janitor and stops it when ctx is done
func (j *Janitor) Run(ctx context.Context) error {
	if err := j.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	j.Stop()
	return nil
}

// Sweep removes matching files older than MaxAge and returns how many
// were removed.
func (j *Janitor) Sweep() int {
	matches, err := filepath.Glob(filepath.Join(j.config.Dir, j.config.Pattern))
	if err != nil {
		j.logger.Error("Janitor glob failed", zap.Error(err))
		return 0
	}

	cutoff := j.now().Add(-j.config.MaxAge)
	removed := 0
	for _, path := range matches {
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				j.logger.Warn("Janitor failed to remove file", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		removed++
		j.metrics.RecordTempFileRemoved("janitor")
	}

	if removed > 0 {
		j.logger.Info("Janitor removed stale temp files", zap.Int("count", removed))
	}
	return removed
}
