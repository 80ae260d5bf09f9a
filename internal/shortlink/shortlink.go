// Package shortlink holds the short-link domain types shared by the link
// store, the resolution cache, the click accumulator and the redirect path.
package shortlink

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("short link not found")
	ErrForbidden = errors.New("short link belongs to another user")
)

// ShortLink is the durable record. Code is nil until it has been derived
// from ID.
type ShortLink struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement"`
	UserID      uint64     `gorm:"not null;index"`
	OriginalURL string     `gorm:"type:varchar(2048);not null"`
	Code        *string    `gorm:"type:varchar(8);uniqueIndex"`
	Clicks      uint64     `gorm:"not null;default:0"`
	ExpiresAt   *time.Time `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CodeValue returns the code, or "" when it has not been generated yet.
func (l *ShortLink) CodeValue() string {
	if l.Code == nil {
		return ""
	}
	return *l.Code
}

func (l *ShortLink) IsExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

func (l *ShortLink) IsExpired() bool {
	return l.IsExpiredAt(time.Now())
}

// IsValid reports whether the link can currently be redirected to.
func (l *ShortLink) IsValid() bool {
	return l.CodeValue() != "" && !l.IsExpired()
}

type CreateParams struct {
	UserID      uint64
	OriginalURL string
	ExpiresAt   *time.Time
}

// UpdateParams carries the owner-mutable fields. Nil fields are left as
// they are; ClearExpiry removes an existing expiration.
type UpdateParams struct {
	OriginalURL *string
	ExpiresAt   *time.Time
	ClearExpiry bool
}

type ListParams struct {
	UserID  uint64
	Page    int
	PerPage int
}

type Page struct {
	Links   []ShortLink
	Total   int64
	Page    int
	PerPage int
}

// Store is the durable owner of short links.
type Store interface {
	Create(ctx context.Context, p CreateParams) (*ShortLink, error)
	FindByID(ctx context.Context, id uint64) (*ShortLink, error)
	FindByCode(ctx context.Context, code string) (*ShortLink, error)
	ListByUser(ctx context.Context, p ListParams) (*Page, error)
	// Update, Delete and DeleteMany return ErrForbidden when userID does
	// not own the link.
	Update(ctx context.Context, id, userID uint64, p UpdateParams) (*ShortLink, error)
	Delete(ctx context.Context, id, userID uint64) (*ShortLink, error)
	DeleteMany(ctx context.Context, ids []uint64, userID uint64) ([]ShortLink, error)
	// IncrementClicks adds delta to the durable counter in a single
	// statement. It returns ErrNotFound when the code no longer exists.
	IncrementClicks(ctx context.Context, code string, delta int64) error
	RegenerateCode(ctx context.Context, id uint64) (*ShortLink, error)
	RepairCodes(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}
