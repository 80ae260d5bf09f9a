package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/MagnunAVF/shortlink-service/internal/codec"
	"github.com/MagnunAVF/shortlink-service/internal/logger"
	"github.com/MagnunAVF/shortlink-service/internal/shortlink"
)

const repairBatchSize = 200

// Postgres is the gorm-backed link store. Lookups by code go through the
// unique index on short_links.code.
type Postgres struct {
	db    *gorm.DB
	codec codec.Codec
}

func NewPostgres(db *gorm.DB, c codec.Codec) *Postgres {
	return &Postgres{db: db, codec: c}
}

func (s *Postgres) Migrate() error {
	return s.db.AutoMigrate(&shortlink.ShortLink{})
}

// Create inserts the record and derives its code from the assigned id in
// the same transaction, so a failed second write leaves nothing behind.
func (s *Postgres) Create(ctx context.Context, p shortlink.CreateParams) (*shortlink.ShortLink, error) {
	link := &shortlink.ShortLink{
		UserID:      p.UserID,
		OriginalURL: p.OriginalURL,
		ExpiresAt:   p.ExpiresAt,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(link).Error; err != nil {
			return err
		}
		return s.assignCode(tx, link)
	})
	if err != nil {
		return nil, fmt.Errorf("create short link: %w", err)
	}
	return link, nil
}

func (s *Postgres) FindByID(ctx context.Context, id uint64) (*shortlink.ShortLink, error) {
	var link shortlink.ShortLink
	if err := s.db.WithContext(ctx).First(&link, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &link, nil
}

func (s *Postgres) FindByCode(ctx context.Context, code string) (*shortlink.ShortLink, error) {
	var link shortlink.ShortLink
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&link).Error; err != nil {
		return nil, notFound(err)
	}
	return &link, nil
}

func (s *Postgres) ListByUser(ctx context.Context, p shortlink.ListParams) (*shortlink.Page, error) {
	page, perPage := normalizePage(p.Page, p.PerPage)

	q := s.db.WithContext(ctx).Model(&shortlink.ShortLink{}).Where("user_id = ?", p.UserID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count short links: %w", err)
	}

	var links []shortlink.ShortLink
	err := q.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("list short links: %w", err)
	}

	return &shortlink.Page{Links: links, Total: total, Page: page, PerPage: perPage}, nil
}

func (s *Postgres) Update(ctx context.Context, id, userID uint64, p shortlink.UpdateParams) (*shortlink.ShortLink, error) {
	var link shortlink.ShortLink
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ownedLink(tx, id, userID, &link); err != nil {
			return err
		}

		changes := map[string]interface{}{}
		if p.OriginalURL != nil {
			changes["original_url"] = *p.OriginalURL
		}
		if p.ClearExpiry {
			changes["expires_at"] = nil
		} else if p.ExpiresAt != nil {
			changes["expires_at"] = *p.ExpiresAt
		}
		if len(changes) == 0 {
			return nil
		}
		if err := tx.Model(&link).Updates(changes).Error; err != nil {
			return err
		}
		return tx.First(&link, link.ID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("update short link %d: %w", id, err)
	}
	return &link, nil
}

func (s *Postgres) Delete(ctx context.Context, id, userID uint64) (*shortlink.ShortLink, error) {
	var link shortlink.ShortLink
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ownedLink(tx, id, userID, &link); err != nil {
			return err
		}
		return tx.Delete(&link).Error
	})
	if err != nil {
		return nil, fmt.Errorf("delete short link %d: %w", id, err)
	}
	return &link, nil
}

// DeleteMany removes all of ids or none of them: every id must exist and
// belong to userID.
func (s *Postgres) DeleteMany(ctx context.Context, ids []uint64, userID uint64) ([]shortlink.ShortLink, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	var links []shortlink.ShortLink
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id IN ? AND user_id = ?", ids, userID).Find(&links).Error; err != nil {
			return err
		}
		if len(links) != len(ids) {
			return shortlink.ErrNotFound
		}
		return tx.Where("id IN ? AND user_id = ?", ids, userID).Delete(&shortlink.ShortLink{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("bulk delete short links: %w", err)
	}
	return links, nil
}

// IncrementClicks is a single UPDATE ... SET clicks = clicks + ?, safe
// under concurrent flushes from several processes.
func (s *Postgres) IncrementClicks(ctx context.Context, code string, delta int64) error {
	if delta <= 0 {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&shortlink.ShortLink{}).
		Where("code = ?", code).
		UpdateColumn("clicks", gorm.Expr("clicks + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("increment clicks for %q: %w", code, res.Error)
	}
	if res.RowsAffected == 0 {
		return shortlink.ErrNotFound
	}
	return nil
}

// RegenerateCode rewrites the code of a single record from its id.
func (s *Postgres) RegenerateCode(ctx context.Context, id uint64) (*shortlink.ShortLink, error) {
	var link shortlink.ShortLink
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&link, id).Error; err != nil {
			return notFound(err)
		}
		return s.assignCode(tx, &link)
	})
	if err != nil {
		return nil, fmt.Errorf("regenerate code for %d: %w", id, err)
	}
	return &link, nil
}

// RepairCodes assigns a code to every record left without one.
func (s *Postgres) RepairCodes(ctx context.Context) (int, error) {
	var pending []shortlink.ShortLink
	repaired := 0
	res := s.db.WithContext(ctx).
		Where("code IS NULL OR code = ''").
		FindInBatches(&pending, repairBatchSize, func(tx *gorm.DB, batch int) error {
			for i := range pending {
				if err := s.assignCode(tx, &pending[i]); err != nil {
					return err
				}
				repaired++
			}
			return nil
		})
	if res.Error != nil {
		return repaired, fmt.Errorf("repair codes: %w", res.Error)
	}
	if repaired > 0 {
		logger.FromContext(ctx).Warn("repaired short links without code", "count", repaired)
	}
	return repaired, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Postgres) assignCode(tx *gorm.DB, link *shortlink.ShortLink) error {
	code, err := deriveCode(s.codec, link.ID)
	if err != nil {
		return err
	}
	if err := tx.Model(link).Update("code", code).Error; err != nil {
		return fmt.Errorf("persist code for %d: %w", link.ID, err)
	}
	link.Code = &code
	return nil
}

func ownedLink(tx *gorm.DB, id, userID uint64, link *shortlink.ShortLink) error {
	if err := tx.First(link, id).Error; err != nil {
		return notFound(err)
	}
	if link.UserID != userID {
		return shortlink.ErrForbidden
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shortlink.ErrNotFound
	}
	return err
}
