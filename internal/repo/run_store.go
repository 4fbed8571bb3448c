package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"virthub/internal/models"
)

type RunStore struct{ db *gorm.DB }

func NewRunStore(db *gorm.DB) *RunStore { return &RunStore{db: db} }

// Begin фиксирует попытку синка — одна строка на каждый прогон.
func (s *RunStore) Begin(ctx context.Context, platformID uint) (*models.SyncRun, error) {
	run := &models.SyncRun{
		PlatformID: platformID,
		StartedAt:  time.Now().UTC(),
	}
	return run, s.db.WithContext(ctx).Create(run).Error
}

// Finish закрывает прогон итогом и счётчиками.
func (s *RunStore) Finish(ctx context.Context, run *models.SyncRun, outcome string, counts datatypes.JSON, errDetail string) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Outcome = outcome
	run.Counts = counts
	run.ErrorDetail = errDetail
	return s.db.WithContext(ctx).Model(run).Updates(map[string]any{
		"finished_at":  run.FinishedAt,
		"outcome":      outcome,
		"counts":       counts,
		"error_detail": errDetail,
	}).Error
}

// Latest — последние прогоны платформы, свежие первыми.
func (s *RunStore) Latest(ctx context.Context, platformID uint, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.SyncRun
	err := s.db.WithContext(ctx).
		Where("platform_id = ?", platformID).
		Order("started_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// LatestOne — самый свежий прогон; ErrNotFound, если синков ещё не было.
func (s *RunStore) LatestOne(ctx context.Context, platformID uint) (*models.SyncRun, error) {
	var run models.SyncRun
	err := s.db.WithContext(ctx).
		Where("platform_id = ?", platformID).
		Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &run, err
}
