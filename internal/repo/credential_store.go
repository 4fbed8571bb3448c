package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"virthub/internal/models"
	"virthub/internal/vault"
)

type CredentialStore struct{ db *gorm.DB }

func NewCredentialStore(db *gorm.DB) *CredentialStore { return &CredentialStore{db: db} }

// Upsert — одна активная запись на платформу; повторная выдача заменяет секрет.
func (s *CredentialStore) Upsert(ctx context.Context, c *models.Credential) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"auth_kind", "principal", "secret", "updated_at"}),
	}).Create(c).Error
}

func (s *CredentialStore) GetByPlatform(ctx context.Context, platformID uint) (*models.Credential, error) {
	var c models.Credential
	err := s.db.WithContext(ctx).Where("platform_id = ?", platformID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &c, err
}

// ResealAll перешифровывает все секреты под новый ключ (ротация мастер-ключа).
// Инвентарь не затрагивается: ключи записей не зависят от мастер-ключа.
func (s *CredentialStore) ResealAll(ctx context.Context, from, to *vault.Vault) error {
	var creds []models.Credential
	if err := s.db.WithContext(ctx).Find(&creds).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range creds {
			blob, err := from.Reseal(creds[i].Secret, to)
			if err != nil {
				return err
			}
			if err := tx.Model(&creds[i]).Update("secret", blob).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
