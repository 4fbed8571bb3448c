package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"virthub/internal/db"
	"virthub/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&models.Platform{},
		&models.Credential{},
		&models.InventoryRecord{},
		&models.MetricSample{},
		&models.SyncRun{},
	))
	return gdb
}

func newPlatform(t *testing.T, s *PlatformStore, name string) *models.Platform {
	t.Helper()
	p := &models.Platform{Name: name, Address: name + ".lab.local"}
	require.NoError(t, s.Create(context.Background(), p))
	return p
}

func TestPlatformCreateDefaults(t *testing.T) {
	s := NewPlatformStore(testDB(t))
	p := newPlatform(t, s, "vc01")

	assert.NotEmpty(t, p.UUID)
	assert.Equal(t, models.PlatformKindController, p.Kind)
	assert.Equal(t, models.PlatformStatusUnconfigured, p.Status)
}

func TestPlatformCreateConflict(t *testing.T) {
	s := NewPlatformStore(testDB(t))
	newPlatform(t, s, "vc01")

	err := s.Create(context.Background(), &models.Platform{Name: "vc01", Address: "other"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPlatformGetNotFound(t *testing.T) {
	s := NewPlatformStore(testDB(t))
	_, err := s.GetByUUID(context.Background(), "no-such-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlatformSuspendResume(t *testing.T) {
	s := NewPlatformStore(testDB(t))
	ctx := context.Background()
	p := newPlatform(t, s, "vc01")
	newPlatform(t, s, "vc02")

	p, err := s.SetSuspended(ctx, p.UUID, true)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformStatusSuspended, p.Status)

	// suspended выпадает из плановой ротации
	syncable, err := s.ListSyncable(ctx)
	require.NoError(t, err)
	require.Len(t, syncable, 1)
	assert.Equal(t, "vc02", syncable[0].Name)

	p, err = s.SetSuspended(ctx, p.UUID, false)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformStatusUnconfigured, p.Status)
}

func TestPlatformDeleteCascade(t *testing.T) {
	gdb := testDB(t)
	s := NewPlatformStore(gdb)
	ctx := context.Background()
	p := newPlatform(t, s, "vc01")

	require.NoError(t, gdb.Create(&models.Credential{
		PlatformID: p.ID, AuthKind: models.AuthKindPassword, Secret: []byte{1},
	}).Error)
	require.NoError(t, gdb.Create(&models.InventoryRecord{
		PlatformID: p.ID, Kind: models.KindVM, RemoteID: "vm-1",
		FirstSeenAt: time.Now(), LastSeenAt: time.Now(),
	}).Error)

	require.NoError(t, s.Delete(ctx, p.UUID))

	_, err := s.GetByUUID(ctx, p.UUID)
	assert.ErrorIs(t, err, ErrNotFound)

	var n int64
	require.NoError(t, gdb.Model(&models.InventoryRecord{}).Where("platform_id = ?", p.ID).Count(&n).Error)
	assert.Zero(t, n)
}

func TestRecordSyncResult(t *testing.T) {
	s := NewPlatformStore(testDB(t))
	ctx := context.Background()
	p := newPlatform(t, s, "vc01")

	require.NoError(t, s.RecordSyncResult(ctx, p.ID, SyncResult{
		Status:  models.PlatformStatusConnected,
		Version: "8.0.2",
		Build:   "22385739",
		Totals: map[models.Kind]int{
			models.KindHost: 3, models.KindVM: 41, models.KindDatastore: 5, models.KindNetwork: 7,
		},
	}))

	p, err := s.GetByUUID(ctx, p.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformStatusConnected, p.Status)
	assert.Equal(t, "8.0.2", p.Version)
	assert.Equal(t, 41, p.TotalVMs)
	assert.Equal(t, 3, p.TotalHosts)
	require.NotNil(t, p.LastSyncAt)

	// неуспешный прогон не трогает версию и счётчики
	require.NoError(t, s.RecordSyncResult(ctx, p.ID, SyncResult{
		Status:    models.PlatformStatusUnreachable,
		LastError: "session: endpoint unreachable",
	}))
	p, err = s.GetByUUID(ctx, p.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformStatusUnreachable, p.Status)
	assert.Equal(t, "session: endpoint unreachable", p.LastError)
	assert.Equal(t, "8.0.2", p.Version)
	assert.Equal(t, 41, p.TotalVMs)
}
