package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/observability"
	"github.com/kursadbilgin/sitemap-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

type fileConverter interface {
	ConvertFile(ctx context.Context, batchID string, fileID string, req ConversionRequest) (*FileResult, error)
}

// ConversionWorker consumes queued file conversions.
type ConversionWorker struct {
	converter   fileConverter
	consumer    queue.Consumer
	logger      *zap.Logger
	concurrency int
}

func NewConversionWorker(
	converter *ConversionService,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*ConversionWorker, error) {
	if converter == nil {
		return nil, fmt.Errorf("conversion service is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ConversionWorker{
		converter:   converter,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the conversion queue until context cancellation.
func (w *ConversionWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("conversion worker started", zap.Int("workerId", workerID))

			if err := w.consumer.Consume(groupCtx, queue.ConversionQueue, w.processMessage); err != nil {
				w.logger.Error("conversion worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("conversion worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns an error only for failures worth redelivering.
func (w *ConversionWorker) processMessage(ctx context.Context, msg queue.ConversionMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.FileLogger(w.logger, ctx, msg.BatchID, msg.FileID)

	req := ConversionRequest{
		URLPattern: msg.URLPattern,
		Mapping:    msg.Mapping,
		Options:    msg.Options,
	}

	res, err := w.converter.ConvertFile(ctx, msg.BatchID, msg.FileID, req)
	switch {
	case err == nil:
		logger.Debug("queued conversion finished", zap.String("status", res.Status.String()))
		return nil
	case ctx.Err() != nil:
		logger.Info("conversion interrupted, requeueing message", zap.Error(err))
		return fmt.Errorf("conversion interrupted: %w", err)
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("file no longer exists, dropping message")
		return nil
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrValidation):
		logger.Warn("dropping conversion message", zap.Error(err))
		return nil
	case domain.IsTransient(err):
		return fmt.Errorf("transient conversion failure: %w", err)
	default:
		logger.Error("queued conversion failed", zap.Error(err))
		return nil
	}
}
