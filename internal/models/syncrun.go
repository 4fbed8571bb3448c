package models

import (
	"time"

	"gorm.io/datatypes"
)

// Итог прогона синхронизации.
const (
	RunOutcomeSuccess = "success"
	RunOutcomePartial = "partial"
	RunOutcomeFailed  = "failed"
)

// Counts — счётчики реконсиляции одного вида инвентаря.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// SyncRun — журнал прогонов оркестратора, одна строка на попытку.
// Append-only; упорядочен по StartedAt внутри платформы.
type SyncRun struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	PlatformID uint `gorm:"index;not null" json:"platform_id"`

	StartedAt  time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Outcome     string         `gorm:"size:16" json:"outcome,omitempty"`
	Counts      datatypes.JSON `json:"counts,omitempty"` // map[Kind]Counts
	ErrorDetail string         `gorm:"type:text" json:"error_detail,omitempty"`
}
