package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/sitemap-engine/internal/artifact"
	"github.com/kursadbilgin/sitemap-engine/internal/convert"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/observability"
	"github.com/kursadbilgin/sitemap-engine/internal/queue"
	"github.com/kursadbilgin/sitemap-engine/internal/rowsource"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultMaxConcurrentFiles = 4

// ErrAsyncUnavailable is returned when queued conversion is requested without
// a broker.
var ErrAsyncUnavailable = errors.New("async conversion is not configured")

// ConversionRequest carries the pattern, mapping and options of a conversion.
type ConversionRequest struct {
	URLPattern string               `json:"urlPattern"`
	Mapping    domain.ColumnMapping `json:"columnMapping"`
	Options    convert.Options      `json:"options"`
}

func (r ConversionRequest) Validate() error {
	if err := r.Mapping.Validate(); err != nil {
		return err
	}
	if err := domain.URLPattern(r.URLPattern).Validate(r.Mapping); err != nil {
		return err
	}
	return r.Options.Validate()
}

// ConvertResult is the in-memory outcome of a single-file conversion.
type ConvertResult struct {
	Statistics domain.ConversionStatistics `json:"statistics"`
	Entries    []domain.URLEntry           `json:"urlEntries"`
}

// FileResult is the per-file outcome of a batch conversion.
type FileResult struct {
	FileID       string                       `json:"fileId"`
	OriginalName string                       `json:"originalName"`
	Status       domain.FileStatus            `json:"status"`
	Statistics   *domain.ConversionStatistics `json:"statistics,omitempty"`
	Error        string                       `json:"error,omitempty"`
}

// BatchConvertResult aggregates per-file results. Statistics sum the files
// that completed.
type BatchConvertResult struct {
	BatchID    string                      `json:"batchId"`
	Queued     bool                        `json:"queued"`
	Files      []FileResult                `json:"perFileResults"`
	Statistics domain.ConversionStatistics `json:"statistics"`
	Errors     []FileResult                `json:"errors"`
}

// SourceOpener opens the row source of a stored upload.
type SourceOpener func(fileType domain.FileType, path string) (rowsource.Source, error)

// ConversionService runs the row-stream pipeline for single files and batches.
type ConversionService struct {
	tracker       *BatchTracker
	artifacts     artifact.Store
	openSource    SourceOpener
	publisher     queue.Publisher
	maxConcurrent int
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewConversionService(
	tracker *BatchTracker,
	artifacts artifact.Store,
	publisher queue.Publisher,
	maxConcurrent int,
	logger *zap.Logger,
) (*ConversionService, error) {
	if tracker == nil {
		return nil, fmt.Errorf("batch tracker is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if maxConcurrent < 1 {
		maxConcurrent = defaultMaxConcurrentFiles
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ConversionService{
		tracker:       tracker,
		artifacts:     artifacts,
		openSource:    rowsource.Open,
		publisher:     publisher,
		maxConcurrent: maxConcurrent,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (s *ConversionService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// AsyncEnabled reports whether batch conversion can be queued.
func (s *ConversionService) AsyncEnabled() bool {
	return s.publisher != nil
}

// Preview samples the source and reports how the pattern would resolve.
func (s *ConversionService) Preview(
	ctx context.Context,
	source rowsource.Source,
	urlPattern string,
	mapping domain.ColumnMapping,
	maxPreview int,
) (*convert.PreviewResult, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	if err := domain.URLPattern(urlPattern).Validate(mapping); err != nil {
		return nil, err
	}
	return convert.Preview(ctx, source, urlPattern, mapping, maxPreview)
}

// Convert drains one source and returns every accepted entry.
func (s *ConversionService) Convert(ctx context.Context, source rowsource.Source, req ConversionRequest) (*ConvertResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	processor := convert.NewProcessor(source, req.URLPattern, req.Mapping, req.Options)
	entries, stats, err := convert.Collect(ctx, processor)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveConversion(stats.ValidURLs, stats.ExcludedURLs, stats.DuplicateURLs)

	if entries == nil {
		entries = []domain.URLEntry{}
	}
	return &ConvertResult{Statistics: stats, Entries: entries}, nil
}

// BatchConvert converts every file of the batch that is not already
// completed, at most maxConcurrent at a time. One file failing does not stop
// the others.
func (s *ConversionService) BatchConvert(ctx context.Context, batchID string, req ConversionRequest) (*BatchConvertResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	batch, err := s.tracker.GetBatchStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}

	result := newBatchConvertResult(batchID)
	var mu sync.Mutex
	record := func(r FileResult) {
		mu.Lock()
		defer mu.Unlock()
		result.add(r)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for i := range batch.Files {
		file := batch.Files[i]
		if file.Status == domain.FileStatusCompleted {
			record(fileResultFromJob(&file))
			continue
		}

		g.Go(func() error {
			res, err := s.ConvertFile(groupCtx, batchID, file.ID, req)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				record(FileResult{
					FileID:       file.ID,
					OriginalName: file.OriginalName,
					Status:       file.Status,
					Error:        err.Error(),
				})
				return nil
			}
			record(*res)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.sortByBatch(batch)
	s.logger.Info("batch conversion finished",
		zap.String("batchId", batchID),
		zap.Int("files", len(result.Files)),
		zap.Int("errors", len(result.Errors)),
		zap.Int("validUrls", result.Statistics.ValidURLs),
	)
	return result, nil
}

// EnqueueBatch publishes one conversion message per unfinished file.
func (s *ConversionService) EnqueueBatch(ctx context.Context, batchID string, req ConversionRequest) (*BatchConvertResult, error) {
	if s.publisher == nil {
		return nil, ErrAsyncUnavailable
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	batch, err := s.tracker.GetBatchStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	result := newBatchConvertResult(batchID)
	result.Queued = true
	for i := range batch.Files {
		file := &batch.Files[i]
		if file.Status == domain.FileStatusCompleted {
			result.add(fileResultFromJob(file))
			continue
		}

		msg := queue.ConversionMessage{
			BatchID:       batchID,
			FileID:        file.ID,
			CorrelationID: correlationID,
			URLPattern:    req.URLPattern,
			Mapping:       req.Mapping,
			Options:       req.Options,
		}
		if err := s.publisher.Publish(ctx, queue.ConversionQueue, msg); err != nil {
			s.logger.Error("failed to publish file conversion",
				zap.String("batchId", batchID),
				zap.String("fileId", file.ID),
				zap.Error(err),
			)
			result.add(FileResult{
				FileID:       file.ID,
				OriginalName: file.OriginalName,
				Status:       file.Status,
				Error:        fmt.Sprintf("failed to queue conversion: %v", err),
			})
			continue
		}
		result.Files = append(result.Files, FileResult{
			FileID:       file.ID,
			OriginalName: file.OriginalName,
			Status:       file.Status,
		})
	}
	return result, nil
}

// ConvertFile starts and runs the conversion of one file of a batch.
func (s *ConversionService) ConvertFile(ctx context.Context, batchID string, fileID string, req ConversionRequest) (*FileResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	file, err := s.tracker.StartFile(ctx, batchID, fileID)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, file, req)
}

// RetryFile re-runs a failed or stalled file.
func (s *ConversionService) RetryFile(ctx context.Context, batchID string, fileID string, req ConversionRequest) (*FileResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	file, err := s.tracker.RetryFile(ctx, batchID, fileID)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, file, req)
}

// run converts a file already in processing and records the outcome. A
// canceled context leaves the file in processing.
func (s *ConversionService) run(ctx context.Context, file *domain.FileJob, req ConversionRequest) (*FileResult, error) {
	logger := observability.FileLogger(s.logger, ctx, file.BatchID, file.ID)
	s.metrics.IncConversionsInFlight()
	defer s.metrics.DecConversionsInFlight()

	start := s.now()
	stats, ref, convErr := s.convertToArtifact(ctx, file, req)
	s.metrics.ObserveFileConversionDuration(string(file.FileType), s.now().Sub(start))

	if convErr != nil && ctx.Err() != nil {
		logger.Warn("file conversion abandoned", zap.Error(convErr))
		return nil, convErr
	}

	update := FileStatusUpdate{
		Status:      domain.FileStatusCompleted,
		Statistics:  &stats,
		ArtifactRef: ref,
	}
	if convErr != nil {
		update = FileStatusUpdate{
			Status:       domain.FileStatusError,
			Statistics:   &stats,
			ErrorMessage: convErr.Error(),
		}
	}

	batch, err := s.tracker.UpdateFileStatus(ctx, file.BatchID, file.ID, update)
	if err != nil {
		logger.Error("failed to record file outcome", zap.Error(err))
		return nil, err
	}
	updated, err := batch.File(file.ID)
	if err != nil {
		return nil, err
	}

	if convErr != nil {
		logger.Warn("file conversion failed",
			zap.Int("attempt", updated.Attempts),
			zap.Error(convErr),
		)
	} else {
		s.metrics.ObserveConversion(stats.ValidURLs, stats.ExcludedURLs, stats.DuplicateURLs)
		logger.Info("file converted",
			zap.Int("totalUrls", stats.TotalURLs),
			zap.Int("validUrls", stats.ValidURLs),
			zap.Int("excludedUrls", stats.ExcludedURLs),
			zap.Int("duplicateUrls", stats.DuplicateURLs),
		)
	}

	res := fileResultFromJob(updated)
	return &res, nil
}

func (s *ConversionService) convertToArtifact(
	ctx context.Context,
	file *domain.FileJob,
	req ConversionRequest,
) (stats domain.ConversionStatistics, ref string, err error) {
	source, err := s.openSource(file.FileType, file.StoragePath)
	if err != nil {
		return stats, "", err
	}
	defer func() {
		err = multierr.Append(err, source.Close())
	}()

	grouping := req.Options.Grouping
	if grouping == "" {
		grouping = domain.GroupingNone
	}
	w, err := s.artifacts.Create(ctx, file.BatchID, file.ID, artifact.Metadata{
		URLPattern:     req.URLPattern,
		Grouping:       grouping,
		IncludeLastmod: req.Options.IncludeLastmod,
		Changefreq:     req.Options.Changefreq,
		Priority:       req.Options.Priority,
		ProcessedAt:    s.now().UTC(),
	})
	if err != nil {
		return stats, "", err
	}

	processor := convert.NewProcessor(source, req.URLPattern, req.Mapping, req.Options)
	for {
		entry, nextErr := processor.Next(ctx)
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return processor.Stats(), "", multierr.Append(nextErr, w.Abort())
		}
		if appendErr := w.Append(entry); appendErr != nil {
			return processor.Stats(), "", multierr.Append(appendErr, w.Abort())
		}
	}

	stats = processor.Stats()
	ref, err = w.Commit(stats)
	return stats, ref, err
}

func newBatchConvertResult(batchID string) *BatchConvertResult {
	return &BatchConvertResult{
		BatchID: batchID,
		Files:   []FileResult{},
		Errors:  []FileResult{},
	}
}

func (r *BatchConvertResult) add(res FileResult) {
	r.Files = append(r.Files, res)
	if res.Error != "" {
		r.Errors = append(r.Errors, res)
		return
	}
	if res.Status == domain.FileStatusCompleted && res.Statistics != nil {
		r.Statistics = r.Statistics.Add(*res.Statistics)
	}
}

// sortByBatch restores the batch's file order, which concurrent completion
// does not preserve.
func (r *BatchConvertResult) sortByBatch(batch *domain.BatchJob) {
	order := make(map[string]int, len(batch.Files))
	for i, f := range batch.Files {
		order[f.ID] = i
	}
	sortFileResults(r.Files, order)
	sortFileResults(r.Errors, order)
}

func sortFileResults(results []FileResult, order map[string]int) {
	sort.SliceStable(results, func(i, j int) bool {
		return order[results[i].FileID] < order[results[j].FileID]
	})
}

func fileResultFromJob(f *domain.FileJob) FileResult {
	res := FileResult{
		FileID:       f.ID,
		OriginalName: f.OriginalName,
		Status:       f.Status,
		Statistics:   f.Statistics,
	}
	if f.Error != nil && f.Status == domain.FileStatusError {
		res.Error = f.Error.Message
	}
	return res
}
