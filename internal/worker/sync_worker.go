// Package worker runs background jobs.
package worker

import (
	"context"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"go.uber.org/zap"
)

// Syncer reconciles a batch of non-terminal eSIMs against the provider.
type Syncer interface {
	SyncAll(ctx context.Context, limit int) (*domain.SyncResult, error)
}

// SyncWorker periodically reconciles eSIMs whose status may still change, so
// records converge even when a provider webhook is lost.
type SyncWorker struct {
	syncer    Syncer
	interval  time.Duration
	batchSize int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewSyncWorker creates a sync worker. Each sweep may use at most one interval.
func NewSyncWorker(syncer Syncer, interval time.Duration, batchSize int, logger *zap.Logger) *SyncWorker {
	return &SyncWorker{
		syncer:    syncer,
		interval:  interval,
		batchSize: batchSize,
		timeout:   interval,
		logger:    logger,
	}
}

// Start runs sweeps until ctx is cancelled. A non-positive interval disables the worker.
func (w *SyncWorker) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("sync worker disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("sync worker started",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sync worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and logs its summary.
func (w *SyncWorker) RunOnce(ctx context.Context) *domain.SyncResult {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	res, err := w.syncer.SyncAll(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("sync sweep failed", zap.Error(err))
		return nil
	}

	fields := []zap.Field{
		zap.Int("checked", res.Checked),
		zap.Int("updated", res.Updated),
		zap.Int("anomalies", res.Anomalies),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", time.Since(start)),
	}
	if res.Failed > 0 || res.Anomalies > 0 {
		w.logger.Warn("sync sweep finished with issues", fields...)
	} else {
		w.logger.Info("sync sweep finished", fields...)
	}
	return res
}
