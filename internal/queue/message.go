package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/sitemap-engine/internal/convert"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
)

// ConversionMessage is the broker payload for converting one file of a batch.
type ConversionMessage struct {
	BatchID       string               `json:"batchId"`
	FileID        string               `json:"fileId"`
	CorrelationID string               `json:"correlationId,omitempty"`
	URLPattern    string               `json:"urlPattern"`
	Mapping       domain.ColumnMapping `json:"columnMapping"`
	Options       convert.Options      `json:"options"`
}

func (m ConversionMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if strings.TrimSpace(m.FileID) == "" {
		return fmt.Errorf("fileId is required")
	}
	if err := m.Mapping.Validate(); err != nil {
		return err
	}
	if err := domain.URLPattern(m.URLPattern).Validate(m.Mapping); err != nil {
		return err
	}
	return m.Options.Validate()
}
