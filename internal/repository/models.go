package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
)

// BatchModel is the persistence model for the batches table.
type BatchModel struct {
	ID             string              `gorm:"type:uuid;primaryKey"`
	Status         domain.BatchStatus  `gorm:"type:varchar(20);not null"`
	StatusOverride *domain.BatchStatus `gorm:"type:varchar(20)"`
	Progress       []byte              `gorm:"type:jsonb"`
	CompletedAt    *time.Time          `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Files          []FileJobModel `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
}

func (BatchModel) TableName() string {
	return "batches"
}

// FileJobModel is the persistence model for the file_jobs table.
type FileJobModel struct {
	ID           string            `gorm:"type:uuid;primaryKey"`
	BatchID      string            `gorm:"type:uuid;not null;index"`
	Position     int               `gorm:"not null;default:0"`
	OriginalName string            `gorm:"type:varchar(512);not null"`
	FileType     domain.FileType   `gorm:"type:varchar(10);not null"`
	StoragePath  string            `gorm:"type:text;not null"`
	Status       domain.FileStatus `gorm:"type:varchar(20);not null"`
	Statistics   []byte            `gorm:"type:jsonb"`
	ErrorMessage *string           `gorm:"type:text"`
	ArtifactRef  *string           `gorm:"type:text"`
	Attempts     int               `gorm:"not null;default:0"`
	MaxRetries   int               `gorm:"not null;default:3"`
	UpdatedAt    time.Time
}

func (FileJobModel) TableName() string {
	return "file_jobs"
}

func batchModelFromDomain(b *domain.BatchJob) (*BatchModel, error) {
	if b == nil {
		return nil, nil
	}

	progress, err := json.Marshal(b.Progress)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal progress: %w", err)
	}

	files := make([]FileJobModel, 0, len(b.Files))
	for i := range b.Files {
		model, err := fileJobModelFromDomain(&b.Files[i], i)
		if err != nil {
			return nil, err
		}
		files = append(files, *model)
	}

	return &BatchModel{
		ID:             b.ID,
		Status:         b.Status,
		StatusOverride: b.StatusOverride,
		Progress:       progress,
		CompletedAt:    b.CompletedAt,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
		Files:          files,
	}, nil
}

func batchModelToDomain(m *BatchModel) (*domain.BatchJob, error) {
	if m == nil {
		return nil, nil
	}

	files := make([]domain.FileJob, 0, len(m.Files))
	for i := range m.Files {
		f, err := fileJobModelToDomain(&m.Files[i])
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}

	progress, err := domain.ProgressFromLegacy(m.Progress, files)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", m.ID, err)
	}

	return &domain.BatchJob{
		ID:             m.ID,
		Files:          files,
		Status:         m.Status,
		StatusOverride: m.StatusOverride,
		Progress:       progress,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		CompletedAt:    m.CompletedAt,
	}, nil
}

func fileJobModelFromDomain(f *domain.FileJob, position int) (*FileJobModel, error) {
	model := &FileJobModel{
		ID:           f.ID,
		BatchID:      f.BatchID,
		Position:     position,
		OriginalName: f.OriginalName,
		FileType:     f.FileType,
		StoragePath:  f.StoragePath,
		Status:       f.Status,
		Attempts:     f.Attempts,
		MaxRetries:   domain.DefaultMaxRetries,
		UpdatedAt:    f.UpdatedAt,
	}

	if f.Statistics != nil {
		stats, err := json.Marshal(f.Statistics)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal statistics: %w", err)
		}
		model.Statistics = stats
	}
	if f.Error != nil {
		msg := f.Error.Message
		model.ErrorMessage = &msg
		if f.Error.MaxRetries > 0 {
			model.MaxRetries = f.Error.MaxRetries
		}
	}
	if f.HasArtifact() {
		ref := f.ArtifactRef
		model.ArtifactRef = &ref
	}
	return model, nil
}

func fileJobModelToDomain(m *FileJobModel) (*domain.FileJob, error) {
	f := &domain.FileJob{
		ID:           m.ID,
		BatchID:      m.BatchID,
		OriginalName: m.OriginalName,
		FileType:     m.FileType,
		StoragePath:  m.StoragePath,
		Status:       m.Status,
		Attempts:     m.Attempts,
		UpdatedAt:    m.UpdatedAt,
	}

	if len(m.Statistics) > 0 {
		var stats domain.ConversionStatistics
		if err := json.Unmarshal(m.Statistics, &stats); err != nil {
			return nil, fmt.Errorf("file %s: malformed statistics: %w", m.ID, err)
		}
		f.Statistics = &stats
	}
	if m.ErrorMessage != nil {
		f.Error = &domain.FileError{
			Message:    *m.ErrorMessage,
			Attempts:   m.Attempts,
			MaxRetries: m.MaxRetries,
		}
	}
	if m.ArtifactRef != nil {
		f.ArtifactRef = *m.ArtifactRef
	}
	return f, nil
}
