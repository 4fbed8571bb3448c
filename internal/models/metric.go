package models

import "time"

// Счётчики, собираемые по хостам и ВМ.
const (
	MetricCPU       = "cpu"
	MetricMemory    = "memory"
	MetricNetRx     = "netRx"
	MetricNetTx     = "netTx"
	MetricDiskRead  = "diskRead"
	MetricDiskWrite = "diskWrite"
)

// MetricSample — точка временного ряда, append-only.
// Уникальность (platform, entity, metric, collected_at) делает повторный
// сбор окна идемпотентным: дубликаты отбрасываются на вставке.
type MetricSample struct {
	ID uint `gorm:"primaryKey" json:"-"`

	PlatformID     uint   `gorm:"not null;uniqueIndex:uniq_sample,priority:1" json:"platform_id"`
	EntityKind     Kind   `gorm:"size:16;not null;uniqueIndex:uniq_sample,priority:2" json:"entity_kind"`
	EntityRemoteID string `gorm:"size:128;not null;uniqueIndex:uniq_sample,priority:3" json:"entity_remote_id"`
	Metric         string `gorm:"size:32;not null;uniqueIndex:uniq_sample,priority:4" json:"metric"`

	CollectedAt time.Time `gorm:"not null;uniqueIndex:uniq_sample,priority:5;index" json:"collected_at"`
	Value       float64   `json:"value"`
	Unit        string    `gorm:"size:16" json:"unit,omitempty"`
}
