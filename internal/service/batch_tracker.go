package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sitemap-engine/internal/artifact"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/observability"
	"github.com/kursadbilgin/sitemap-engine/internal/repository"
	"go.uber.org/zap"
)

const maxBatchFiles = 100

// NewFile describes one stored upload to register in a batch.
type NewFile struct {
	ID           string
	OriginalName string
	StoragePath  string
}

// FileStatusUpdate is a file-level transition with its outcome.
type FileStatusUpdate struct {
	Status       domain.FileStatus
	Statistics   *domain.ConversionStatistics
	ArtifactRef  string
	ErrorMessage string
}

func (u FileStatusUpdate) Validate() error {
	if !u.Status.IsValid() {
		return fmt.Errorf("%w: invalid file status %q", domain.ErrValidation, u.Status)
	}
	if u.Status == domain.FileStatusError && strings.TrimSpace(u.ErrorMessage) == "" {
		return fmt.Errorf("%w: error status requires a message", domain.ErrValidation)
	}
	return nil
}

// BatchStatusPatch is an administrative status override.
type BatchStatusPatch struct {
	Status string `json:"status"`
}

// CompletionNotifier is told once a batch has every file in a terminal state.
type CompletionNotifier interface {
	NotifyBatchCompleted(ctx context.Context, batch *domain.BatchJob) error
}

// BatchTracker owns batch and file lifecycle transitions.
type BatchTracker struct {
	batches    repository.BatchRepository
	artifacts  artifact.Store
	logger     *zap.Logger
	metrics    *observability.Metrics
	notifier   CompletionNotifier
	maxRetries int
	now        func() time.Time
	newID      func() string
}

func NewBatchTracker(
	batches repository.BatchRepository,
	artifacts artifact.Store,
	maxRetries int,
	logger *zap.Logger,
) (*BatchTracker, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchTracker{
		batches:    batches,
		artifacts:  artifacts,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

func (t *BatchTracker) SetMetrics(metrics *observability.Metrics) {
	if t == nil {
		return
	}
	t.metrics = metrics
}

// SetNotifier registers a receiver for batch completion events. Nil disables
// notifications.
func (t *BatchTracker) SetNotifier(notifier CompletionNotifier) {
	if t == nil {
		return
	}
	t.notifier = notifier
}

// NewID mints an identifier for a batch or file.
func (t *BatchTracker) NewID() string {
	return t.newID()
}

// CreateBatch registers stored uploads as a new batch with pending files. An
// empty batchID mints a new one.
func (t *BatchTracker) CreateBatch(ctx context.Context, batchID string, files []NewFile) (*domain.BatchJob, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one file", domain.ErrValidation)
	}
	if len(files) > maxBatchFiles {
		return nil, fmt.Errorf("%w: batch size exceeds %d files", domain.ErrValidation, maxBatchFiles)
	}
	if strings.TrimSpace(batchID) == "" {
		batchID = t.newID()
	}

	now := t.now().UTC()
	batch := &domain.BatchJob{
		ID:        batchID,
		Files:     make([]domain.FileJob, 0, len(files)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		fileType, err := domain.FileTypeFromName(f.OriginalName)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(f.StoragePath) == "" {
			return nil, fmt.Errorf("%w: file %q has no stored content", domain.ErrValidation, f.OriginalName)
		}

		id := strings.TrimSpace(f.ID)
		if id == "" {
			id = t.newID()
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate file id %q", domain.ErrValidation, id)
		}
		seen[id] = struct{}{}

		batch.Files = append(batch.Files, domain.FileJob{
			ID:           id,
			BatchID:      batchID,
			OriginalName: f.OriginalName,
			FileType:     fileType,
			StoragePath:  f.StoragePath,
			Status:       domain.FileStatusPending,
			UpdatedAt:    now,
		})
	}
	batch.Refresh(now)

	if err := t.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	t.logger.Info("batch created",
		zap.String("batchId", batch.ID),
		zap.Int("files", len(batch.Files)),
	)
	return batch, nil
}

// GetBatchStatus returns a snapshot with the status derived from the files.
func (t *BatchTracker) GetBatchStatus(ctx context.Context, batchID string) (*domain.BatchJob, error) {
	batch, err := t.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, wrapNotFound(err, "batch %q", batchID)
	}

	batch.Status = domain.DeriveBatchStatus(batch.Files)
	if batch.StatusOverride != nil {
		batch.Status = *batch.StatusOverride
	}
	return batch, nil
}

// UpdateFileStatus applies one file transition and clears any admin override.
func (t *BatchTracker) UpdateFileStatus(
	ctx context.Context,
	batchID string,
	fileID string,
	update FileStatusUpdate,
) (*domain.BatchJob, error) {
	return t.transition(ctx, batchID, fileID, update, nil)
}

// StartFile moves a file into processing. Files that already failed or
// stalled count against the retry budget.
func (t *BatchTracker) StartFile(ctx context.Context, batchID string, fileID string) (*domain.FileJob, error) {
	batch, err := t.transition(ctx, batchID, fileID, FileStatusUpdate{Status: domain.FileStatusProcessing}, t.retryBudgetGuard)
	if err != nil {
		return nil, err
	}
	return batch.File(fileID)
}

// RetryFile restarts a file that ended in error or was abandoned in
// processing. Any other state is a conflict.
func (t *BatchTracker) RetryFile(ctx context.Context, batchID string, fileID string) (*domain.FileJob, error) {
	guard := func(f *domain.FileJob) error {
		if f.Status != domain.FileStatusError && f.Status != domain.FileStatusProcessing {
			return fmt.Errorf("%w: file %q is %s and cannot be retried", domain.ErrConflict, f.ID, f.Status)
		}
		return t.retryBudgetGuard(f)
	}

	batch, err := t.transition(ctx, batchID, fileID, FileStatusUpdate{Status: domain.FileStatusProcessing}, guard)
	if err != nil {
		return nil, err
	}
	t.metrics.IncFileRetry()
	return batch.File(fileID)
}

// ApplyExternalStatusUpdate forces the batch status until the next file
// transition.
func (t *BatchTracker) ApplyExternalStatusUpdate(ctx context.Context, batchID string, patch BatchStatusPatch) (*domain.BatchJob, error) {
	if strings.TrimSpace(patch.Status) == "" {
		return nil, fmt.Errorf("%w: status is required", domain.ErrValidation)
	}
	status, err := domain.ParseBatchStatusFromString(patch.Status)
	if err != nil {
		return nil, err
	}

	batch, err := t.batches.Update(ctx, batchID, func(b *domain.BatchJob) error {
		now := t.now().UTC()
		b.StatusOverride = &status
		b.UpdatedAt = now
		b.Refresh(now)
		return nil
	})
	if err != nil {
		return nil, wrapNotFound(err, "batch %q", batchID)
	}

	t.logger.Warn("batch status overridden",
		zap.String("batchId", batchID),
		zap.String("status", status.String()),
	)
	return batch, nil
}

// ClearBatch removes the batch record together with its uploads and artifacts.
func (t *BatchTracker) ClearBatch(ctx context.Context, batchID string) error {
	if err := t.batches.Delete(ctx, batchID); err != nil {
		return wrapNotFound(err, "batch %q", batchID)
	}

	if err := t.artifacts.DeleteBatch(ctx, batchID); err != nil {
		t.logger.Error("batch removed but files were left behind",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
		return err
	}

	t.logger.Info("batch cleared", zap.String("batchId", batchID))
	return nil
}

func (t *BatchTracker) transition(
	ctx context.Context,
	batchID string,
	fileID string,
	update FileStatusUpdate,
	guard func(f *domain.FileJob) error,
) (*domain.BatchJob, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	justCompleted := false
	batch, err := t.batches.Update(ctx, batchID, func(b *domain.BatchJob) error {
		file, err := b.File(fileID)
		if err != nil {
			return err
		}
		if !file.Status.CanTransition(update.Status) {
			return fmt.Errorf("%w: file %q cannot move from %s to %s", domain.ErrConflict, fileID, file.Status, update.Status)
		}
		if guard != nil {
			if err := guard(file); err != nil {
				return err
			}
		}

		now := t.now().UTC()
		wasCompleted := b.CompletedAt != nil
		applyFileUpdate(file, update, t.maxRetries, now)
		b.StatusOverride = nil
		b.UpdatedAt = now
		b.Refresh(now)
		justCompleted = !wasCompleted && b.CompletedAt != nil
		return nil
	})
	if err != nil {
		return nil, wrapNotFound(err, "batch %q", batchID)
	}

	if update.Status.IsTerminal() {
		t.metrics.IncFileProcessed(update.Status.String())
	}
	if justCompleted {
		t.notifyCompleted(ctx, batch)
	}
	return batch, nil
}

// notifyCompleted never fails the transition that triggered it.
func (t *BatchTracker) notifyCompleted(ctx context.Context, batch *domain.BatchJob) {
	if t.notifier == nil {
		return
	}

	if err := t.notifier.NotifyBatchCompleted(ctx, batch); err != nil {
		observability.WithContextLogger(t.logger, ctx).Warn("batch completion notification failed",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
		return
	}
	t.logger.Debug("batch completion notified", zap.String("batchId", batch.ID))
}

func (t *BatchTracker) retryBudgetGuard(f *domain.FileJob) error {
	if f.Status == domain.FileStatusPending || f.Status == domain.FileStatusCompleted {
		return nil
	}
	if f.Attempts >= t.maxRetries {
		return fmt.Errorf("%w: file %q exhausted %d attempts", domain.ErrConflict, f.ID, t.maxRetries)
	}
	return nil
}

func applyFileUpdate(f *domain.FileJob, update FileStatusUpdate, maxRetries int, now time.Time) {
	f.Status = update.Status
	f.UpdatedAt = now

	switch update.Status {
	case domain.FileStatusProcessing:
		f.Attempts++
	case domain.FileStatusCompleted:
		f.Statistics = update.Statistics
		f.ArtifactRef = update.ArtifactRef
		f.Error = nil
	case domain.FileStatusError:
		f.Statistics = update.Statistics
		f.ArtifactRef = ""
		f.Error = &domain.FileError{
			Message:    update.ErrorMessage,
			Attempts:   f.Attempts,
			MaxRetries: maxRetries,
		}
	}
}

func wrapNotFound(err error, format string, args ...any) error {
	if err == domain.ErrNotFound { //nolint:errorlint // only the bare sentinel needs context
		return fmt.Errorf("%w: "+format, append([]any{domain.ErrNotFound}, args...)...)
	}
	return err
}
