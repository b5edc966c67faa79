package handler

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sitemap-engine/internal/convert"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/rowsource"
	"github.com/kursadbilgin/sitemap-engine/internal/service"
	"go.uber.org/zap"
)

const (
	uploadField      = "file"
	batchUploadField = "files"
	maxBatchUploads  = 100
)

func (h *Handler) Preview(c *fiber.Ctx) error {
	req, err := conversionRequestFromForm(c)
	if err != nil {
		return toHTTPError(err)
	}

	maxPreview := convert.DefaultMaxPreview
	if raw := strings.TrimSpace(c.FormValue("maxPreview")); raw != "" {
		maxPreview, err = strconv.Atoi(raw)
		if err != nil || maxPreview < 1 {
			return toHTTPError(fmt.Errorf("%w: maxPreview must be a positive integer", domain.ErrValidation))
		}
	}

	source, closeSource, err := openFormSource(c)
	if err != nil {
		return toHTTPError(err)
	}
	defer closeSource()

	result, err := h.conversions.Preview(c.UserContext(), source, req.URLPattern, req.Mapping, maxPreview)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *Handler) Convert(c *fiber.Ctx) error {
	req, err := conversionRequestFromForm(c)
	if err != nil {
		return toHTTPError(err)
	}

	source, closeSource, err := openFormSource(c)
	if err != nil {
		return toHTTPError(err)
	}
	defer closeSource()

	result, err := h.conversions.Convert(c.UserContext(), source, req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// CreateBatch stores every uploaded file and registers them as one batch.
func (h *Handler) CreateBatch(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form is required")
	}
	headers := form.File[batchUploadField]
	if len(headers) == 0 {
		return toHTTPError(fmt.Errorf("%w: at least one file is required", domain.ErrValidation))
	}
	if len(headers) > maxBatchUploads {
		return toHTTPError(fmt.Errorf("%w: batch size exceeds %d files", domain.ErrValidation, maxBatchUploads))
	}
	for _, fh := range headers {
		if _, err := domain.FileTypeFromName(fh.Filename); err != nil {
			return toHTTPError(err)
		}
	}

	ctx := c.UserContext()
	batchID := h.tracker.NewID()
	files := make([]service.NewFile, 0, len(headers))
	for _, fh := range headers {
		file, err := h.storeUpload(c, batchID, fh)
		if err != nil {
			h.discardUploads(c, batchID)
			return toHTTPError(err)
		}
		files = append(files, file)
	}

	batch, err := h.tracker.CreateBatch(ctx, batchID, files)
	if err != nil {
		h.discardUploads(c, batchID)
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(batch)
}

func (h *Handler) GetBatch(c *fiber.Ctx) error {
	batch, err := h.tracker.GetBatchStatus(c.UserContext(), strings.TrimSpace(c.Params("batchId")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(batch)
}

func (h *Handler) UpdateBatchStatus(c *fiber.Ctx) error {
	var patch service.BatchStatusPatch
	if err := c.BodyParser(&patch); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	batch, err := h.tracker.ApplyExternalStatusUpdate(c.UserContext(), strings.TrimSpace(c.Params("batchId")), patch)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(batch)
}

func (h *Handler) DeleteBatch(c *fiber.Ctx) error {
	if err := h.tracker.ClearBatch(c.UserContext(), strings.TrimSpace(c.Params("batchId"))); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ConvertBatch converts the batch inline, or queues it when async=true.
func (h *Handler) ConvertBatch(c *fiber.Ctx) error {
	var req service.ConversionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	batchID := strings.TrimSpace(c.Params("batchId"))

	if c.QueryBool("async", false) {
		result, err := h.conversions.EnqueueBatch(c.UserContext(), batchID, req)
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(result)
	}

	result, err := h.conversions.BatchConvert(c.UserContext(), batchID, req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *Handler) RetryFile(c *fiber.Ctx) error {
	var req service.ConversionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.conversions.RetryFile(
		c.UserContext(),
		strings.TrimSpace(c.Params("batchId")),
		strings.TrimSpace(c.Params("fileId")),
		req,
	)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *Handler) storeUpload(c *fiber.Ctx, batchID string, fh *multipart.FileHeader) (service.NewFile, error) {
	f, err := fh.Open()
	if err != nil {
		return service.NewFile{}, domain.NewTransientError("open upload", err)
	}
	defer f.Close()

	fileID := h.tracker.NewID()
	path, err := h.files.SaveUpload(c.UserContext(), batchID, fileID, filepath.Ext(fh.Filename), f)
	if err != nil {
		return service.NewFile{}, err
	}
	return service.NewFile{ID: fileID, OriginalName: fh.Filename, StoragePath: path}, nil
}

func (h *Handler) discardUploads(c *fiber.Ctx, batchID string) {
	if err := h.files.DeleteBatch(c.UserContext(), batchID); err != nil {
		h.logger.Warn("failed to discard uploads of rejected batch",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
	}
}

// conversionRequestFromForm reads urlPattern plus the JSON encoded
// columnMapping and options fields.
func conversionRequestFromForm(c *fiber.Ctx) (service.ConversionRequest, error) {
	req := service.ConversionRequest{URLPattern: strings.TrimSpace(c.FormValue("urlPattern"))}

	rawMapping := strings.TrimSpace(c.FormValue("columnMapping"))
	if rawMapping == "" {
		return req, fmt.Errorf("%w: columnMapping is required", domain.ErrValidation)
	}
	if err := json.Unmarshal([]byte(rawMapping), &req.Mapping); err != nil {
		return req, fmt.Errorf("%w: columnMapping must be a JSON object", domain.ErrValidation)
	}

	if rawOptions := strings.TrimSpace(c.FormValue("options")); rawOptions != "" {
		if err := json.Unmarshal([]byte(rawOptions), &req.Options); err != nil {
			return req, fmt.Errorf("%w: options must be a JSON object", domain.ErrValidation)
		}
	}
	return req, nil
}

// openFormSource opens the uploaded file as a row source. The returned func
// releases both the source and the upload.
func openFormSource(c *fiber.Ctx) (rowsource.Source, func(), error) {
	fh, err := c.FormFile(uploadField)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s upload is required", domain.ErrValidation, uploadField)
	}
	fileType, err := domain.FileTypeFromName(fh.Filename)
	if err != nil {
		return nil, nil, err
	}

	f, err := fh.Open()
	if err != nil {
		return nil, nil, domain.NewTransientError("open upload", err)
	}

	var source rowsource.Source
	switch fileType {
	case domain.FileTypeXLSX:
		xlsx, xlsxErr := rowsource.NewXLSXSource(f)
		if xlsxErr != nil {
			_ = f.Close()
			return nil, nil, xlsxErr
		}
		source = xlsx
	default:
		csv, csvErr := rowsource.NewCSVSource(f)
		if csvErr != nil {
			_ = f.Close()
			return nil, nil, csvErr
		}
		source = csv
	}

	release := func() {
		_ = source.Close()
		_ = f.Close()
	}
	return source, release, nil
}
