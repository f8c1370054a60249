package models

import (
	"time"

	"github.com/ManuelReschke/Entitled/internal/pkg/contentgate"
	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
)

// Content is a stored piece of user content, one per consumed slot.
type Content struct {
	ID          string    `gorm:"primaryKey;type:char(36)" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	ContentType string    `gorm:"type:varchar(32);not null" json:"content_type"`
	FileSize    int64     `gorm:"not null;default:0" json:"file_size"`
	Title       string    `gorm:"type:varchar(255);default:''" json:"title"`
	Metadata    string    `gorm:"type:text" json:"metadata"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Content) TableName() string {
	return "contents"
}

func NewContent(c *contentgate.Content) *Content {
	return &Content{
		ID:          c.ID,
		UserID:      c.UserID,
		ContentType: string(c.ContentType),
		FileSize:    c.FileSize,
		Title:       c.Title,
		Metadata:    c.Metadata,
		CreatedAt:   c.CreatedAt,
	}
}

func (c *Content) ToContent() *contentgate.Content {
	return &contentgate.Content{
		ID:          c.ID,
		UserID:      c.UserID,
		ContentType: entitlements.ContentType(c.ContentType),
		FileSize:    c.FileSize,
		Title:       c.Title,
		Metadata:    c.Metadata,
		CreatedAt:   c.CreatedAt,
	}
}
