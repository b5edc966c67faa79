package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchRepository stores batch jobs and their files.
type BatchRepository interface {
	Create(ctx context.Context, b *domain.BatchJob) error
	GetByID(ctx context.Context, id string) (*domain.BatchJob, error)
	// Update applies fn to the stored batch atomically. The batch passed to fn
	// is a private copy; returning an error discards the change.
	Update(ctx context.Context, id string, fn func(b *domain.BatchJob) error) (*domain.BatchJob, error)
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.BatchJob) error {
	model, err := batchModelFromDomain(b)
	if err != nil {
		return err
	}
	if model == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchJob, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model)
}

func (r *GormBatchRepo) Update(ctx context.Context, id string, fn func(b *domain.BatchJob) error) (*domain.BatchJob, error) {
	var updated *domain.BatchJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model BatchModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := tx.Where("batch_id = ?", id).Order("position ASC").Find(&model.Files).Error; err != nil {
			return err
		}

		batch, err := batchModelToDomain(&model)
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}

		next, err := batchModelFromDomain(batch)
		if err != nil {
			return err
		}
		if err := tx.Model(&BatchModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":          next.Status,
			"status_override": next.StatusOverride,
			"progress":        next.Progress,
			"completed_at":    next.CompletedAt,
			"updated_at":      next.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		for i := range next.Files {
			if err := tx.Save(&next.Files[i]).Error; err != nil {
				return err
			}
		}

		updated = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *GormBatchRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", id).Delete(&FileJobModel{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&BatchModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *GormBatchRepo) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
