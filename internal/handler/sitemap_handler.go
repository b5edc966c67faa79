package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/download"
	"go.uber.org/zap"
)

const downloadPathPrefix = "/v1/downloads/"

type generateSitemapsRequest struct {
	SitemapConfig  domain.SitemapConfig  `json:"sitemapConfig"`
	GroupingConfig domain.GroupingConfig `json:"groupingConfig"`
}

type downloadLink struct {
	Token            string `json:"token"`
	URL              string `json:"url"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

type generateSitemapsResponse struct {
	*domain.SitemapJob
	Download      downloadLink `json:"download"`
	IndexDownload downloadLink `json:"indexDownload"`
}

// GenerateSitemaps emits the batch's sitemaps and returns download links for
// the archive and the index. Storage paths never leave the server.
func (h *Handler) GenerateSitemaps(c *fiber.Ctx) error {
	var req generateSitemapsRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	ctx := c.UserContext()
	job, err := h.sitemaps.GenerateHierarchicalSitemaps(ctx, strings.TrimSpace(c.Params("batchId")), req.SitemapConfig, req.GroupingConfig)
	if err != nil {
		return toHTTPError(err)
	}

	archive, err := h.issueLink(ctx, download.KindSitemapJob, job.ID)
	if err != nil {
		return toHTTPError(err)
	}
	index, err := h.issueLink(ctx, download.KindSitemapIndex, job.ID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(generateSitemapsResponse{
		SitemapJob:    job,
		Download:      archive,
		IndexDownload: index,
	})
}

// Download resolves a token and streams either the job archive or its index.
func (h *Handler) Download(c *fiber.Ctx) error {
	ctx := c.UserContext()
	target, err := h.tokens.ResolveToken(ctx, c.Params("token"))
	if err != nil {
		return toHTTPError(err)
	}
	if target == nil {
		return fiber.NewError(fiber.StatusNotFound, "download link is unknown or expired")
	}

	job, err := h.sitemaps.SitemapJob(ctx, target.ID)
	if err != nil {
		return toHTTPError(err)
	}

	switch target.Kind {
	case download.KindSitemapIndex:
		r, err := h.files.OpenSitemap(ctx, job.ID, job.IndexName)
		if err != nil {
			return toHTTPError(err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, job.IndexName))
		return c.SendStream(r)

	case download.KindSitemapJob:
		var buf bytes.Buffer
		if err := download.WriteZip(&buf, h.archiveFiles(ctx, job)); err != nil {
			h.logger.Error("failed to package sitemap job",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			return toHTTPError(err)
		}
		c.Set(fiber.HeaderContentType, "application/zip")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="sitemaps-%s.zip"`, job.ID))
		return c.Status(fiber.StatusOK).Send(buf.Bytes())
	}

	return fiber.NewError(fiber.StatusNotFound, "download link is unknown or expired")
}

func (h *Handler) issueLink(ctx context.Context, kind download.Kind, id string) (downloadLink, error) {
	token, err := h.tokens.IssueToken(ctx, kind, id)
	if err != nil {
		return downloadLink{}, err
	}
	return downloadLink{
		Token:            token,
		URL:              downloadPathPrefix + token,
		ExpiresInSeconds: int(h.tokens.TTL().Seconds()),
	}, nil
}

func (h *Handler) archiveFiles(ctx context.Context, job *domain.SitemapJob) []download.File {
	names := make([]string, 0, len(job.GroupSitemaps)+1)
	for _, gs := range job.GroupSitemaps {
		names = append(names, gs.Name)
	}
	if job.IndexName != "" {
		names = append(names, job.IndexName)
	}

	files := make([]download.File, 0, len(names))
	for _, name := range names {
		files = append(files, download.File{
			Name:     name,
			Modified: job.CreatedAt,
			Open: func() (io.ReadCloser, error) {
				return h.files.OpenSitemap(ctx, job.ID, name)
			},
		})
	}
	return files
}
