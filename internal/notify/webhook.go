// Package notify tells an external system when a batch finishes converting.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/observability"
)

const (
	defaultWebhookTimeout = 10 * time.Second

	EventBatchCompleted = "batch.completed"
)

type fileSummary struct {
	ID           string                       `json:"id"`
	OriginalName string                       `json:"originalName"`
	Status       string                       `json:"status"`
	Statistics   *domain.ConversionStatistics `json:"statistics,omitempty"`
	Error        string                       `json:"error,omitempty"`
}

type batchEvent struct {
	Event       string          `json:"event"`
	BatchID     string          `json:"batchId"`
	Status      string          `json:"status"`
	Progress    domain.Progress `json:"progress"`
	Files       []fileSummary   `json:"files"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// WebhookNotifier posts batch lifecycle events as JSON to a fixed endpoint.
type WebhookNotifier struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookNotifier(endpoint string) (*WebhookNotifier, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookNotifierWithClient(endpoint, client)
}

func NewWebhookNotifierWithClient(endpoint string, client *resty.Client) (*WebhookNotifier, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookNotifier{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

// NotifyBatchCompleted sends the batch.completed event for batch.
func (n *WebhookNotifier) NotifyBatchCompleted(ctx context.Context, batch *domain.BatchJob) error {
	if n == nil || n.client == nil {
		return fmt.Errorf("notifier is not initialized")
	}
	if batch == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}

	req := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(newBatchEvent(EventBatchCompleted, batch))
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		req.SetHeader(observability.CorrelationIDHeader, correlationID)
	}

	response, err := req.Post(n.endpoint)
	if err != nil {
		return &DeliveryError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &DeliveryError{
			Message:   "webhook returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &DeliveryError{
		StatusCode: statusCode,
		Message:    deliveryErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func newBatchEvent(event string, batch *domain.BatchJob) batchEvent {
	files := make([]fileSummary, 0, len(batch.Files))
	for _, f := range batch.Files {
		summary := fileSummary{
			ID:           f.ID,
			OriginalName: f.OriginalName,
			Status:       f.Status.String(),
			Statistics:   f.Statistics,
		}
		if f.Error != nil {
			summary.Error = f.Error.Message
		}
		files = append(files, summary)
	}

	return batchEvent{
		Event:       event,
		BatchID:     batch.ID,
		Status:      batch.Status.String(),
		Progress:    batch.Progress,
		Files:       files,
		CompletedAt: batch.CompletedAt,
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func deliveryErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
