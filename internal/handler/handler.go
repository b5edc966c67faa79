package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sitemap-engine/internal/convert"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/download"
	"github.com/kursadbilgin/sitemap-engine/internal/rowsource"
	"github.com/kursadbilgin/sitemap-engine/internal/service"
	"go.uber.org/zap"
)

type BatchTracker interface {
	NewID() string
	CreateBatch(ctx context.Context, batchID string, files []service.NewFile) (*domain.BatchJob, error)
	GetBatchStatus(ctx context.Context, batchID string) (*domain.BatchJob, error)
	ApplyExternalStatusUpdate(ctx context.Context, batchID string, patch service.BatchStatusPatch) (*domain.BatchJob, error)
	ClearBatch(ctx context.Context, batchID string) error
}

type ConversionService interface {
	Preview(ctx context.Context, source rowsource.Source, urlPattern string, mapping domain.ColumnMapping, maxPreview int) (*convert.PreviewResult, error)
	Convert(ctx context.Context, source rowsource.Source, req service.ConversionRequest) (*service.ConvertResult, error)
	BatchConvert(ctx context.Context, batchID string, req service.ConversionRequest) (*service.BatchConvertResult, error)
	EnqueueBatch(ctx context.Context, batchID string, req service.ConversionRequest) (*service.BatchConvertResult, error)
	RetryFile(ctx context.Context, batchID string, fileID string, req service.ConversionRequest) (*service.FileResult, error)
}

type SitemapService interface {
	GenerateHierarchicalSitemaps(ctx context.Context, batchID string, cfg domain.SitemapConfig, grouping domain.GroupingConfig) (*domain.SitemapJob, error)
	SitemapJob(ctx context.Context, jobID string) (*domain.SitemapJob, error)
}

// FileStore persists uploads and serves generated sitemap files.
type FileStore interface {
	SaveUpload(ctx context.Context, batchID string, fileID string, ext string, r io.Reader) (string, error)
	DeleteBatch(ctx context.Context, batchID string) error
	OpenSitemap(ctx context.Context, jobID string, name string) (io.ReadCloser, error)
}

type TokenIssuer interface {
	IssueToken(ctx context.Context, kind download.Kind, id string) (string, error)
	ResolveToken(ctx context.Context, token string) (*download.Target, error)
	TTL() time.Duration
}

type Handler struct {
	tracker     BatchTracker
	conversions ConversionService
	sitemaps    SitemapService
	files       FileStore
	tokens      TokenIssuer
	logger      *zap.Logger
}

func NewHandler(
	tracker BatchTracker,
	conversions ConversionService,
	sitemaps SitemapService,
	files FileStore,
	tokens TokenIssuer,
	logger *zap.Logger,
) (*Handler, error) {
	if tracker == nil {
		return nil, fmt.Errorf("batch tracker is required")
	}
	if conversions == nil {
		return nil, fmt.Errorf("conversion service is required")
	}
	if sitemaps == nil {
		return nil, fmt.Errorf("sitemap service is required")
	}
	if files == nil {
		return nil, fmt.Errorf("file store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		tracker:     tracker,
		conversions: conversions,
		sitemaps:    sitemaps,
		files:       files,
		tokens:      tokens,
		logger:      logger,
	}, nil
}

// RegisterRoutes mounts the v1 API. limit guards the endpoints that parse a
// whole upload per request; nil disables it.
func RegisterRoutes(router fiber.Router, h *Handler, limit fiber.Handler) {
	if limit == nil {
		limit = func(c *fiber.Ctx) error { return c.Next() }
	}

	v1 := router.Group("/v1")
	v1.Post("/preview", limit, h.Preview)
	v1.Post("/convert", limit, h.Convert)

	v1.Post("/batches", h.CreateBatch)
	v1.Get("/batches/:batchId", h.GetBatch)
	v1.Patch("/batches/:batchId/status", h.UpdateBatchStatus)
	v1.Delete("/batches/:batchId", h.DeleteBatch)
	v1.Post("/batches/:batchId/convert", h.ConvertBatch)
	v1.Post("/batches/:batchId/files/:fileId/retry", h.RetryFile)
	v1.Post("/batches/:batchId/sitemaps", h.GenerateSitemaps)

	v1.Get("/downloads/:token", h.Download)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrAsyncUnavailable), domain.IsTransient(err):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
