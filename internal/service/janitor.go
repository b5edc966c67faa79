package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/sitemap-engine/internal/artifact"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/observability"
	"github.com/kursadbilgin/sitemap-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultJanitorInterval = 10 * time.Minute
	defaultJobTTL          = 24 * time.Hour
	defaultJanitorLimit    = 100
)

// Janitor periodically removes batches and sitemap jobs older than the job TTL.
type Janitor struct {
	batches   repository.BatchRepository
	tracker   *BatchTracker
	artifacts artifact.Store
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	ttl       time.Duration
	limit     int
	now       func() time.Time
}

func NewJanitor(
	batches repository.BatchRepository,
	tracker *BatchTracker,
	artifacts artifact.Store,
	interval time.Duration,
	ttl time.Duration,
	logger *zap.Logger,
) (*Janitor, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("batch tracker is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	if ttl <= 0 {
		ttl = defaultJobTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Janitor{
		batches:   batches,
		tracker:   tracker,
		artifacts: artifacts,
		logger:    logger,
		interval:  interval,
		ttl:       ttl,
		limit:     defaultJanitorLimit,
		now:       time.Now,
	}, nil
}

func (j *Janitor) SetMetrics(metrics *observability.Metrics) {
	if j == nil {
		return
	}
	j.metrics = metrics
}

func (j *Janitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := j.sweep(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("janitor initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := j.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				j.logger.Error("janitor sweep failed", zap.Error(err))
			}
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)

	ids, err := j.batches.ListExpired(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("failed to list expired batches: %w", err)
	}

	purged := 0
	for _, id := range ids {
		if err := j.tracker.ClearBatch(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			j.logger.Error("failed to purge expired batch",
				zap.String("batchId", id),
				zap.Error(err),
			)
			continue
		}
		purged++
	}
	j.metrics.AddBatchesPurged(purged)

	jobs, err := j.artifacts.PurgeSitemapJobs(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to purge expired sitemap jobs", zap.Error(err))
	}

	if purged > 0 || jobs > 0 {
		j.logger.Info("janitor sweep removed expired data",
			zap.Int("batches", purged),
			zap.Int("sitemapJobs", jobs),
		)
	}
	return nil
}
