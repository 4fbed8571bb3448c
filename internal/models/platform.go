package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Тип платформы: vCenter (контроллер) или одиночный ESXi.
const (
	PlatformKindController = "controller"
	PlatformKindHost       = "standalone-host"
)

// Статус платформы; меняется только оркестратором (кроме suspended).
const (
	PlatformStatusUnconfigured = "unconfigured"
	PlatformStatusConnected    = "connected"
	PlatformStatusDegraded     = "degraded"
	PlatformStatusUnreachable  = "unreachable"
	PlatformStatusSuspended    = "suspended"
)

type Platform struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UUID      string `gorm:"uniqueIndex;size:64;not null" json:"uuid"`
	Name      string `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Address   string `gorm:"size:256;not null" json:"address"`
	Port      int    `gorm:"default:443" json:"port"`
	TLSVerify bool   `json:"tls_verify"`
	Kind      string `gorm:"size:32;not null" json:"kind"`
	Status    string `gorm:"size:32;index" json:"status"`

	// Версия/сборка, полученные от самой платформы при подключении.
	Version string `gorm:"size:64" json:"version,omitempty"`
	Build   string `gorm:"size:64" json:"build,omitempty"`

	// Сводные счётчики активного инвентаря, обновляются после синка.
	TotalHosts      int `json:"total_hosts"`
	TotalVMs        int `json:"total_vms"`
	TotalDatastores int `json:"total_datastores"`
	TotalNetworks   int `json:"total_networks"`

	LastSyncAt *time.Time     `json:"last_sync_at,omitempty"`
	LastError  string         `gorm:"size:1024" json:"last_error,omitempty"`
	Tags       datatypes.JSON `json:"tags,omitempty"`
}

// BaseURL — адрес REST API платформы.
func (p *Platform) BaseURL() string {
	return fmt.Sprintf("https://%s:%d", p.Address, p.Port)
}

// Suspended — платформа выведена из ротации оператором.
func (p *Platform) Suspended() bool { return p.Status == PlatformStatusSuspended }
