package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sitemap-engine/internal/artifact"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/observability"
	"github.com/kursadbilgin/sitemap-engine/internal/sitemap"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SitemapService emits grouped, chunked sitemap files and an index for the
// completed files of a batch.
type SitemapService struct {
	tracker   *BatchTracker
	artifacts artifact.Store
	defaults  domain.SitemapConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
}

func NewSitemapService(
	tracker *BatchTracker,
	artifacts artifact.Store,
	defaults domain.SitemapConfig,
	logger *zap.Logger,
) (*SitemapService, error) {
	if tracker == nil {
		return nil, fmt.Errorf("batch tracker is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	if defaults.MaxURLs <= 0 || defaults.MaxURLs > sitemap.MaxURLsPerSitemap {
		defaults.MaxURLs = sitemap.MaxURLsPerSitemap
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SitemapService{
		tracker:   tracker,
		artifacts: artifacts,
		defaults:  defaults,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (s *SitemapService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// GenerateHierarchicalSitemaps partitions every completed entry of the batch
// by group, writes one sitemap per chunk and an index over all of them. A
// failing file or group is reported in the job's errors; the rest is still
// emitted. Each call mints a new job id.
func (s *SitemapService) GenerateHierarchicalSitemaps(
	ctx context.Context,
	batchID string,
	cfg domain.SitemapConfig,
	grouping domain.GroupingConfig,
) (*domain.SitemapJob, error) {
	cfg = s.withDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if grouping.Grouping == "" {
		grouping.Grouping = domain.GroupingNone
	}
	if !grouping.Grouping.IsValid() {
		return nil, fmt.Errorf("%w: invalid grouping %q", domain.ErrValidation, grouping.Grouping)
	}

	batch, err := s.tracker.GetBatchStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}

	var completed []domain.FileJob
	for _, f := range batch.Files {
		if f.Status == domain.FileStatusCompleted && f.HasArtifact() {
			completed = append(completed, f)
		}
	}
	if len(completed) == 0 {
		return nil, fmt.Errorf("%w: batch %q has no completed files", domain.ErrNotFound, batchID)
	}

	now := s.now().UTC()
	job := &domain.SitemapJob{
		ID:            s.newID(),
		BatchID:       batchID,
		Grouping:      grouping.Grouping,
		GroupSitemaps: []domain.GroupSitemap{},
		SitemapIndex:  []string{},
		Errors:        []domain.GroupError{},
		CreatedAt:     now,
	}
	logger := s.logger.With(zap.String("batchId", batchID), zap.String("jobId", job.ID))

	var entries []domain.URLEntry
	for _, f := range completed {
		a, err := s.artifacts.Get(ctx, f.ArtifactRef)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			job.Errors = append(job.Errors, domain.GroupError{FileID: f.ID, Message: err.Error()})
			continue
		}
		if converted := artifactGrouping(a); grouping.Grouping != domain.GroupingNone && converted != grouping.Grouping {
			logger.Warn("skipping file converted with another grouping",
				zap.String("fileId", f.ID),
				zap.String("converted", converted.String()),
			)
			job.Errors = append(job.Errors, domain.GroupError{
				FileID:  f.ID,
				Message: fmt.Sprintf("file was converted with grouping %q, not %q", converted, grouping.Grouping),
			})
			continue
		}
		entries = append(entries, a.Data...)
	}

	groups := sitemap.Partition(entries, grouping.Grouping)
	prefixes := uniqueGroupPrefixes(groups)
	for i, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		written, err := s.writeGroup(ctx, job.ID, group, prefixes[i], cfg)
		job.GroupSitemaps = append(job.GroupSitemaps, written...)
		if err != nil {
			logger.Warn("sitemap group failed", zap.String("group", group.Key), zap.Error(err))
			job.Errors = append(job.Errors, domain.GroupError{Group: group.Key, Message: err.Error()})
			continue
		}
		if len(written) > 0 {
			job.TotalGroups++
		}
	}

	for _, gs := range job.GroupSitemaps {
		job.SitemapIndex = append(job.SitemapIndex, gs.Location)
	}
	job.TotalFiles = len(job.GroupSitemaps)

	if err := s.writeIndex(ctx, job, now); err != nil {
		return nil, err
	}
	if err := s.artifacts.SaveSitemapJob(ctx, job); err != nil {
		return nil, err
	}

	s.metrics.AddSitemapFiles("urlset", job.TotalFiles)
	s.metrics.AddSitemapFiles("index", 1)
	logger.Info("sitemaps generated",
		zap.String("grouping", job.Grouping.String()),
		zap.Int("groups", job.TotalGroups),
		zap.Int("files", job.TotalFiles),
		zap.Int("errors", len(job.Errors)),
	)
	return job, nil
}

// SitemapJob loads a previously generated job.
func (s *SitemapService) SitemapJob(ctx context.Context, jobID string) (*domain.SitemapJob, error) {
	return s.artifacts.GetSitemapJob(ctx, jobID)
}

func (s *SitemapService) withDefaults(cfg domain.SitemapConfig) domain.SitemapConfig {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = s.defaults.BaseURL
	}
	if cfg.Changefreq == "" {
		cfg.Changefreq = s.defaults.Changefreq
	}
	if cfg.Priority == "" {
		cfg.Priority = s.defaults.Priority
	}
	if cfg.MaxURLs <= 0 || cfg.MaxURLs > s.defaults.MaxURLs {
		cfg.MaxURLs = s.defaults.MaxURLs
	}
	return cfg
}

func (s *SitemapService) writeGroup(
	ctx context.Context,
	jobID string,
	group sitemap.Group,
	prefix string,
	cfg domain.SitemapConfig,
) ([]domain.GroupSitemap, error) {
	defaults := sitemap.Defaults{Changefreq: cfg.Changefreq, Priority: cfg.Priority}

	var written []domain.GroupSitemap
	for n, chunk := range sitemap.Chunk(group.Entries, cfg.MaxURLs) {
		name := sitemap.FileName(prefix, n+1)
		if err := s.writeFile(ctx, jobID, name, func(w io.Writer) error {
			return sitemap.WriteURLSet(w, chunk, defaults)
		}); err != nil {
			return written, fmt.Errorf("%s: %w", name, err)
		}
		written = append(written, domain.GroupSitemap{
			Group:    group.Key,
			Name:     name,
			Location: sitemap.Location(cfg.BaseURL, name),
			URLCount: len(chunk),
		})
	}
	return written, nil
}

func (s *SitemapService) writeIndex(ctx context.Context, job *domain.SitemapJob, now time.Time) error {
	job.IndexName = sitemap.IndexFileName
	return s.writeFile(ctx, job.ID, job.IndexName, func(w io.Writer) error {
		return sitemap.WriteIndex(w, job.SitemapIndex, now.Format(domain.LastmodLayout))
	})
}

// writeFile leaves nothing behind when write fails.
func (s *SitemapService) writeFile(ctx context.Context, jobID string, name string, write func(w io.Writer) error) (err error) {
	w, err := s.artifacts.CreateSitemap(ctx, jobID, name)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, w.Close())
		if err != nil {
			err = multierr.Append(err, s.artifacts.RemoveSitemap(context.WithoutCancel(ctx), jobID, name))
		}
	}()
	return write(w)
}

// artifactGrouping treats artifacts written without a grouping as ungrouped.
func artifactGrouping(a *artifact.Artifact) domain.Grouping {
	if a.Metadata.Grouping == "" {
		return domain.GroupingNone
	}
	return a.Metadata.Grouping
}

// uniqueGroupPrefixes returns the file name prefix of each group, suffixing
// keys whose slugs collide with an earlier group.
func uniqueGroupPrefixes(groups []sitemap.Group) []string {
	prefixes := make([]string, len(groups))
	used := make(map[string]struct{}, len(groups))
	for i, g := range groups {
		prefix := g.Key
		if _, taken := used[sitemap.FileName(prefix, 1)]; taken {
			prefix = g.Key + "-" + strconv.Itoa(i+1)
		}
		used[sitemap.FileName(prefix, 1)] = struct{}{}
		prefixes[i] = prefix
	}
	return prefixes
}
