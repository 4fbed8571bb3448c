package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Kind — вид инвентарной записи.
type Kind string

const (
	KindHost      Kind = "host"
	KindVM        Kind = "vm"
	KindDatastore Kind = "datastore"
	KindNetwork   Kind = "network"
)

// KindOrder — порядок реконсиляции: ВМ последними, т.к. ссылаются
// на хосты и датасторы.
var KindOrder = []Kind{KindHost, KindDatastore, KindNetwork, KindVM}

// InventoryRecord — единый конверт инвентаря. Идентичность записи между
// синками — (platform_id, kind, remote_id). Payload полностью перезаписывается
// каждым синком; LocalFields принадлежит оператору и синком не трогается.
type InventoryRecord struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"-"`
	UpdatedAt time.Time      `json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	PlatformID uint   `gorm:"not null;uniqueIndex:uniq_inv_remote,priority:1" json:"platform_id"`
	Kind       Kind   `gorm:"size:16;not null;uniqueIndex:uniq_inv_remote,priority:2" json:"kind"`
	RemoteID   string `gorm:"size:128;not null;uniqueIndex:uniq_inv_remote,priority:3" json:"remote_id"`

	Payload     datatypes.JSON `json:"payload"`
	LocalFields datatypes.JSON `json:"local_fields,omitempty"`

	FirstSeenAt time.Time `gorm:"not null" json:"first_seen_at"`
	LastSeenAt  time.Time `gorm:"not null;index" json:"last_seen_at"`
}

// Типизированные payload'ы. Неизвестные поля удалённого API сюда не попадают —
// нормализация на границе Fetcher закрывает множество вариантов.

type HostPayload struct {
	Name            string `json:"name"`
	ConnectionState string `json:"connection_state"` // connected|disconnected|notResponding|unknown
	PowerState      string `json:"power_state"`      // poweredOn|poweredOff|standBy|unknown
	InMaintenance   bool   `json:"in_maintenance,omitempty"`
	Cluster         string `json:"cluster,omitempty"`
	Datacenter      string `json:"datacenter,omitempty"`
	Vendor          string `json:"vendor,omitempty"`
	Model           string `json:"model,omitempty"`
	Version         string `json:"version,omitempty"`
	CPUCores        int    `json:"cpu_cores,omitempty"`
	MemoryMB        int64  `json:"memory_mb,omitempty"`
}

type VMPayload struct {
	Name       string `json:"name"`
	PowerState string `json:"power_state"` // poweredOn|poweredOff|suspended|unknown
	GuestOS    string `json:"guest_os,omitempty"`
	HostRef    string `json:"host_ref,omitempty"` // remote_id хоста-носителя
	IPAddress  string `json:"ip_address,omitempty"`
	CPUCount   int    `json:"cpu_count,omitempty"`
	MemoryMB   int64  `json:"memory_mb,omitempty"`
	Template   bool   `json:"template,omitempty"`
}

type DatastorePayload struct {
	Name       string `json:"name"`
	Type       string `json:"type,omitempty"` // vmfs|nfs|vsan|other
	CapacityB  int64  `json:"capacity_b,omitempty"`
	FreeB      int64  `json:"free_b,omitempty"`
	Accessible bool   `json:"accessible"`
}

type NetworkPayload struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"` // standard|distributed|opaque
}
