// Package store persists instance records and publishes every committed
// write to the change feed. The database is the source of truth; the
// reconciler only ever sees rows through point reads or feed events.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/evopanel/internal/domain"
	"github.com/talkincode/evopanel/internal/feed"
	"github.com/talkincode/evopanel/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type InstanceStore struct {
	db  *gorm.DB
	bus *feed.Bus
}

func NewInstanceStore(db *gorm.DB, bus *feed.Bus) *InstanceStore {
	return &InstanceStore{db: db, bus: bus}
}

// GetByOwner performs the point read for one owner. Zero rows is a
// valid outcome and returns (nil, nil), not an error.
func (s *InstanceStore) GetByOwner(ctx context.Context, ownerID string) (*domain.WaInstance, error) {
	var rec domain.WaInstance
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "instance point read failed")
	}
	return &rec, nil
}

// List returns instance rows for the console overview.
func (s *InstanceStore) List(ctx context.Context, offset, limit int) ([]domain.WaInstance, int64, error) {
	var total int64
	q := s.db.WithContext(ctx).Model(&domain.WaInstance{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []domain.WaInstance
	if err := q.Order("id DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Upsert writes the full-row snapshot for its owner and publishes the
// committed row to the change feed.
func (s *InstanceStore) Upsert(ctx context.Context, rec *domain.WaInstance) error {
	if rec == nil || rec.OwnerID == "" {
		return errors.New("instance record requires an owner id")
	}

	var existing domain.WaInstance
	err := s.db.WithContext(ctx).Where("owner_id = ?", rec.OwnerID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if rec.ID == 0 {
			rec.ID = common.UUIDint64()
		}
		if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
			return errors.Wrap(err, "instance create failed")
		}
	case err != nil:
		return errors.Wrap(err, "instance upsert lookup failed")
	default:
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
			return errors.Wrap(err, "instance update failed")
		}
	}

	s.publish(feed.Event{Type: feed.Upsert, OwnerID: rec.OwnerID, Record: rec.Clone()})
	return nil
}

// DeleteByOwner removes the owner's row and publishes the delete event.
// Deleting a missing row is a no-op without a feed event.
func (s *InstanceStore) DeleteByOwner(ctx context.Context, ownerID string) error {
	res := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&domain.WaInstance{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "instance delete failed")
	}
	if res.RowsAffected > 0 {
		s.publish(feed.Event{Type: feed.Delete, OwnerID: ownerID})
	}
	return nil
}

// VoidExpiredQR clears pairing material whose expiry has passed and
// publishes the updated rows. Run from the scheduler.
func (s *InstanceStore) VoidExpiredQR(ctx context.Context) (int, error) {
	now := time.Now()
	var rows []domain.WaInstance
	err := s.db.WithContext(ctx).
		Where("qrcode_base64 <> '' AND qrcode_expires_at IS NOT NULL AND qrcode_expires_at < ?", now).
		Find(&rows).Error
	if err != nil {
		return 0, errors.Wrap(err, "expired qr scan failed")
	}

	for i := range rows {
		rec := &rows[i]
		rec.QrcodeBase64 = ""
		rec.QrcodePairingCode = ""
		rec.QrcodeGeneratedAt = nil
		rec.QrcodeExpiresAt = nil
		if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
			zap.L().Warn("failed to void expired qr", zap.String("owner_id", rec.OwnerID), zap.Error(err))
			continue
		}
		s.publish(feed.Event{Type: feed.Upsert, OwnerID: rec.OwnerID, Record: rec.Clone()})
	}
	return len(rows), nil
}

func (s *InstanceStore) publish(evt feed.Event) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}
