// Package artifact persists per-file conversion results and generated
// sitemap files.
package artifact

import (
	"context"
	"io"
	"time"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
)

// Metadata describes how an artifact was produced.
type Metadata struct {
	URLPattern     string            `json:"urlPattern"`
	Grouping       domain.Grouping   `json:"grouping"`
	IncludeLastmod bool              `json:"includeLastmod"`
	Changefreq     domain.Changefreq `json:"changefreq,omitempty"`
	Priority       string            `json:"priority,omitempty"`
	ProcessedAt    time.Time         `json:"processedAt"`
}

// Artifact is the persisted result of converting one file.
type Artifact struct {
	BatchID    string                      `json:"batchId"`
	FileID     string                      `json:"fileId"`
	Metadata   Metadata                    `json:"metadata"`
	Statistics domain.ConversionStatistics `json:"statistics"`
	Data       []domain.URLEntry           `json:"data"`
}

// Writer appends entries to an artifact being produced. Nothing is visible to
// readers until Commit succeeds.
type Writer interface {
	Append(entry domain.URLEntry) error
	Commit(stats domain.ConversionStatistics) (ref string, err error)
	Abort() error
}

// Store is the artifact storage collaborator.
type Store interface {
	Create(ctx context.Context, batchID string, fileID string, meta Metadata) (Writer, error)
	Get(ctx context.Context, ref string) (*Artifact, error)
	ListByBatch(ctx context.Context, batchID string) ([]Artifact, error)
	DeleteBatch(ctx context.Context, batchID string) error

	SaveUpload(ctx context.Context, batchID string, fileID string, ext string, r io.Reader) (path string, err error)

	CreateSitemap(ctx context.Context, jobID string, name string) (io.WriteCloser, error)
	OpenSitemap(ctx context.Context, jobID string, name string) (io.ReadCloser, error)
	RemoveSitemap(ctx context.Context, jobID string, name string) error
	SaveSitemapJob(ctx context.Context, job *domain.SitemapJob) error
	GetSitemapJob(ctx context.Context, jobID string) (*domain.SitemapJob, error)
	PurgeSitemapJobs(ctx context.Context, before time.Time) (int, error)
}
