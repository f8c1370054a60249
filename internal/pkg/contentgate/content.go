package contentgate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
)

// ErrContentNotFound is returned by ContentRepository.Get for unknown ids.
var ErrContentNotFound = errors.New("content not found")

// Content is a piece of user content that occupies one entitlement slot.
type Content struct {
	ID          string
	UserID      uint
	ContentType entitlements.ContentType
	FileSize    int64
	Title       string
	Metadata    string
	CreatedAt   time.Time
}

// ContentRepository persists content. The gate only needs create, read and count.
type ContentRepository interface {
	Create(ctx context.Context, c *Content) error
	Get(ctx context.Context, id string) (*Content, error)
	CountByUser(ctx context.Context, userID uint) (int64, error)
}

// MemoryContentRepository is an in-process ContentRepository for tests and development.
type MemoryContentRepository struct {
	mu    sync.RWMutex
	items map[string]Content
	// FailNext makes the next Create fail with this error.
	FailNext error
}

func NewMemoryContentRepository() *MemoryContentRepository {
	return &MemoryContentRepository{items: make(map[string]Content)}
}

func (r *MemoryContentRepository) Create(ctx context.Context, c *Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailNext; err != nil {
		r.FailNext = nil
		return err
	}
	r.items[c.ID] = *c
	return nil
}

func (r *MemoryContentRepository) Get(ctx context.Context, id string) (*Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, ErrContentNotFound
	}
	return &c, nil
}

func (r *MemoryContentRepository) CountByUser(ctx context.Context, userID uint) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, c := range r.items {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}
