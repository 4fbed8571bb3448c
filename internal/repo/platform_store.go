package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"virthub/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type PlatformStore struct{ db *gorm.DB }

func NewPlatformStore(db *gorm.DB) *PlatformStore { return &PlatformStore{db: db} }

// Create регистрирует платформу; статус изначально unconfigured,
// дальше его меняет только оркестратор (и Suspend/Resume оператора).
func (s *PlatformStore) Create(ctx context.Context, p *models.Platform) error {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	if p.Kind == "" {
		p.Kind = models.PlatformKindController
	}
	if p.Status == "" {
		p.Status = models.PlatformStatusUnconfigured
	}
	err := s.db.WithContext(ctx).Create(p).Error
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return ErrConflict
	}
	return err
}

func (s *PlatformStore) GetByUUID(ctx context.Context, id string) (*models.Platform, error) {
	var p models.Platform
	err := s.db.WithContext(ctx).Where("uuid = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (s *PlatformStore) GetByID(ctx context.Context, id uint) (*models.Platform, error) {
	var p models.Platform
	err := s.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (s *PlatformStore) List(ctx context.Context) ([]models.Platform, error) {
	var out []models.Platform
	err := s.db.WithContext(ctx).Order("name").Find(&out).Error
	return out, err
}

// ListSyncable — платформы, подлежащие плановой синхронизации.
func (s *PlatformStore) ListSyncable(ctx context.Context) ([]models.Platform, error) {
	var out []models.Platform
	err := s.db.WithContext(ctx).
		Where("status <> ?", models.PlatformStatusSuspended).
		Order("id").Find(&out).Error
	return out, err
}

// SetSuspended выводит платформу из ротации или возвращает её.
// Возврат из suspended — в unconfigured: следующий синк выставит реальный статус.
func (s *PlatformStore) SetSuspended(ctx context.Context, id string, suspended bool) (*models.Platform, error) {
	p, err := s.GetByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if suspended {
		p.Status = models.PlatformStatusSuspended
	} else if p.Status == models.PlatformStatusSuspended {
		p.Status = models.PlatformStatusUnconfigured
	}
	return p, s.db.WithContext(ctx).Model(p).Update("status", p.Status).Error
}

// Delete — мягкое удаление платформы с каскадом на её инвентарь.
// Сэмплы метрик остаются до горизонта хранения.
func (s *PlatformStore) Delete(ctx context.Context, id string) error {
	p, err := s.GetByUUID(ctx, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("platform_id = ?", p.ID).Delete(&models.InventoryRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("platform_id = ?", p.ID).Delete(&models.Credential{}).Error; err != nil {
			return err
		}
		return tx.Delete(p).Error
	})
}

// SyncResult — итог прогона для обновления платформы.
type SyncResult struct {
	Status    string
	LastError string
	Version   string
	Build     string
	Totals    map[models.Kind]int // активный инвентарь по видам; nil — не трогать
}

// RecordSyncResult обновляет статус/lastSyncAt/lastError и сводные счётчики.
func (s *PlatformStore) RecordSyncResult(ctx context.Context, id uint, res SyncResult) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":       res.Status,
		"last_error":   res.LastError,
		"last_sync_at": &now,
	}
	if res.Version != "" {
		updates["version"] = res.Version
		updates["build"] = res.Build
	}
	if res.Totals != nil {
		updates["total_hosts"] = res.Totals[models.KindHost]
		updates["total_vms"] = res.Totals[models.KindVM]
		updates["total_datastores"] = res.Totals[models.KindDatastore]
		updates["total_networks"] = res.Totals[models.KindNetwork]
	}
	return s.db.WithContext(ctx).Model(&models.Platform{}).Where("id = ?", id).Updates(updates).Error
}
