package models

import "time"

// Тип аутентификации на платформе.
const (
	AuthKindPassword = "password"
	AuthKindKeypair  = "keypair"
	AuthKindToken    = "token"
)

// Credential — учётные данные платформы, ровно одна запись на платформу.
// Secret хранится только запечатанным (vault.Seal); расшифровка — в Session.Connect.
type Credential struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time

	PlatformID uint   `gorm:"uniqueIndex;not null"`
	AuthKind   string `gorm:"size:32;not null"`
	Principal  string `gorm:"size:128"`
	Secret     []byte `gorm:"not null"` // sealed blob, никогда не логируется
}
