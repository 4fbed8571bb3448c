package repo

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"virthub/internal/models"
)

type MetricStore struct{ db *gorm.DB }

func NewMetricStore(db *gorm.DB) *MetricStore { return &MetricStore{db: db} }

// Insert добавляет сэмплы, молча пропуская дубликаты по uniq_sample —
// повторный сбор того же окна не задваивает ряды.
func (s *MetricStore) Insert(ctx context.Context, samples []models.MetricSample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(samples, 200)
	return res.RowsAffected, res.Error
}

// LastCollectedAt — время последнего сэмпла сущности; nil, если сборов не было.
func (s *MetricStore) LastCollectedAt(ctx context.Context, platformID uint, kind models.Kind, remoteID string) (*time.Time, error) {
	var ts sql.NullTime
	err := s.db.WithContext(ctx).Model(&models.MetricSample{}).
		Where("platform_id = ? AND entity_kind = ? AND entity_remote_id = ?", platformID, kind, remoteID).
		Select("MAX(collected_at)").Scan(&ts).Error
	if err != nil || !ts.Valid {
		return nil, err
	}
	t := ts.Time
	return &t, nil
}

// Query — сэмплы одной метрики сущности за интервал, по возрастанию времени.
func (s *MetricStore) Query(ctx context.Context, platformID uint, kind models.Kind, remoteID, metric string, from, to time.Time) ([]models.MetricSample, error) {
	var out []models.MetricSample
	err := s.db.WithContext(ctx).
		Where("platform_id = ? AND entity_kind = ? AND entity_remote_id = ? AND metric = ?", platformID, kind, remoteID, metric).
		Where("collected_at >= ? AND collected_at <= ?", from, to).
		Order("collected_at").Find(&out).Error
	return out, err
}

// EvictOlderThan удаляет сэмплы старше cutoff пачками по batch строк,
// чтобы не держать долгих блокировок. Возвращает число удалённых.
func (s *MetricStore) EvictOlderThan(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 500
	}
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var ids []uint
		if err := s.db.WithContext(ctx).Model(&models.MetricSample{}).
			Where("collected_at < ?", cutoff).
			Limit(batch).Pluck("id", &ids).Error; err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.MetricSample{})
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
}
