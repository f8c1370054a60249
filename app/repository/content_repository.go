package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Entitled/app/models"
	"github.com/ManuelReschke/Entitled/internal/pkg/contentgate"
)

type contentRepository struct {
	db *gorm.DB
}

// NewContentRepository creates a content repository backed by GORM.
func NewContentRepository(db *gorm.DB) contentgate.ContentRepository {
	return &contentRepository{db: db}
}

func (r *contentRepository) Create(ctx context.Context, c *contentgate.Content) error {
	row := models.NewContent(c)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	c.CreatedAt = row.CreatedAt
	return nil
}

func (r *contentRepository) Get(ctx context.Context, id string) (*contentgate.Content, error) {
	var row models.Content
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, contentgate.ErrContentNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToContent(), nil
}

func (r *contentRepository) CountByUser(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Content{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
