package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virthub/internal/models"
	"virthub/internal/vault"
)

func TestCredentialUpsertReplaces(t *testing.T) {
	gdb := testDB(t)
	platforms := NewPlatformStore(gdb)
	creds := NewCredentialStore(gdb)
	ctx := context.Background()
	p := newPlatform(t, platforms, "vc01")

	require.NoError(t, creds.Upsert(ctx, &models.Credential{
		PlatformID: p.ID, AuthKind: models.AuthKindPassword, Principal: "root", Secret: []byte{1, 2},
	}))
	require.NoError(t, creds.Upsert(ctx, &models.Credential{
		PlatformID: p.ID, AuthKind: models.AuthKindToken, Secret: []byte{3, 4},
	}))

	got, err := creds.GetByPlatform(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuthKindToken, got.AuthKind)
	assert.Equal(t, []byte{3, 4}, got.Secret)

	var n int64
	require.NoError(t, gdb.Model(&models.Credential{}).Count(&n).Error)
	assert.EqualValues(t, 1, n) // ровно одна запись на платформу
}

func TestCredentialGetNotFound(t *testing.T) {
	creds := NewCredentialStore(testDB(t))
	_, err := creds.GetByPlatform(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResealAll(t *testing.T) {
	gdb := testDB(t)
	platforms := NewPlatformStore(gdb)
	creds := NewCredentialStore(gdb)
	ctx := context.Background()

	oldV := vault.New("old-master")
	newV := vault.New("new-master")

	for _, name := range []string{"vc01", "vc02"} {
		p := newPlatform(t, platforms, name)
		blob, err := oldV.Seal([]byte("secret-" + name))
		require.NoError(t, err)
		require.NoError(t, creds.Upsert(ctx, &models.Credential{
			PlatformID: p.ID, AuthKind: models.AuthKindPassword, Secret: blob,
		}))
	}

	require.NoError(t, creds.ResealAll(ctx, oldV, newV))

	var all []models.Credential
	require.NoError(t, gdb.Find(&all).Error)
	require.Len(t, all, 2)
	for _, c := range all {
		_, err := oldV.Unseal(c.Secret)
		assert.ErrorIs(t, err, vault.ErrCorrupt)
		plain, err := newV.Unseal(c.Secret)
		require.NoError(t, err)
		assert.Contains(t, string(plain), "secret-")
	}
}
