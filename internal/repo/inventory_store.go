package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"virthub/internal/models"
)

type InventoryStore struct{ db *gorm.DB }

func NewInventoryStore(db *gorm.DB) *InventoryStore { return &InventoryStore{db: db} }

// ListActive — не удалённые записи вида для платформы.
func (s *InventoryStore) ListActive(ctx context.Context, platformID uint, kind models.Kind) ([]models.InventoryRecord, error) {
	var out []models.InventoryRecord
	err := s.db.WithContext(ctx).
		Where("platform_id = ? AND kind = ?", platformID, kind).
		Order("remote_id").Find(&out).Error
	return out, err
}

// List — записи вида; includeDeleted добавляет мягко удалённые (история).
func (s *InventoryStore) List(ctx context.Context, platformID uint, kind models.Kind, includeDeleted bool) ([]models.InventoryRecord, error) {
	q := s.db.WithContext(ctx)
	if includeDeleted {
		q = q.Unscoped()
	}
	var out []models.InventoryRecord
	err := q.Where("platform_id = ? AND kind = ?", platformID, kind).
		Order("remote_id").Find(&out).Error
	return out, err
}

// InventoryUpdate — перезапись payload существующей записи.
// LocalFields и FirstSeenAt сознательно не входят: их синк не трогает.
type InventoryUpdate struct {
	ID         uint
	Payload    datatypes.JSON
	LastSeenAt time.Time
}

// InventoryChanges — план реконсиляции одного вида, применяемый атомарно.
type InventoryChanges struct {
	PlatformID uint
	Kind       models.Kind
	Creates    []models.InventoryRecord
	Updates    []InventoryUpdate
	DeleteIDs  []uint
}

// ApplyReconcile применяет план одной транзакцией: либо все
// create/update/delete вида фиксируются, либо ни одного.
func (s *InventoryStore) ApplyReconcile(ctx context.Context, ch InventoryChanges) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range ch.Creates {
			rec := ch.Creates[i]
			// remote_id мог вернуться после мягкого удаления — оживляем
			// старую строку, иначе упрёмся в uniq_inv_remote.
			var old models.InventoryRecord
			err := tx.Unscoped().
				Where("platform_id = ? AND kind = ? AND remote_id = ?", ch.PlatformID, ch.Kind, rec.RemoteID).
				First(&old).Error
			switch {
			case err == nil:
				if err := tx.Unscoped().Model(&models.InventoryRecord{}).Where("id = ?", old.ID).
					Updates(map[string]any{
						"deleted_at":    nil,
						"payload":       rec.Payload,
						"first_seen_at": rec.FirstSeenAt,
						"last_seen_at":  rec.LastSeenAt,
					}).Error; err != nil {
					return err
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&rec).Error; err != nil {
					return err
				}
			default:
				return err
			}
		}
		for _, u := range ch.Updates {
			if err := tx.Model(&models.InventoryRecord{}).Where("id = ?", u.ID).
				Updates(map[string]any{
					"payload":      u.Payload,
					"last_seen_at": u.LastSeenAt,
				}).Error; err != nil {
				return err
			}
		}
		if len(ch.DeleteIDs) > 0 {
			if err := tx.Where("id IN ?", ch.DeleteIDs).Delete(&models.InventoryRecord{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SetLocalFields — операторские аннотации; единственный легальный способ
// менять local_fields, синк их никогда не перезаписывает.
func (s *InventoryStore) SetLocalFields(ctx context.Context, platformID uint, kind models.Kind, remoteID string, fields datatypes.JSON) error {
	res := s.db.WithContext(ctx).Model(&models.InventoryRecord{}).
		Where("platform_id = ? AND kind = ? AND remote_id = ?", platformID, kind, remoteID).
		Update("local_fields", fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
