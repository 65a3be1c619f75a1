package auth_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestProfilesRepositorySaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := auth.NewProfilesRepository(testdb.New(t))

	_, err := repo.GetByUserID(ctx, "user-1")
	require.Error(t, err)
	assert.True(t, auth.IsNotFound(err))

	created, err := repo.Save(ctx, &auth.Profile{
		UserID:      "user-1",
		Email:       "ana@example.com",
		DisplayName: "Ana",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, auth.RoleStudent, created.Role)

	found, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "Ana", found.DisplayName)

	found.DisplayName = "Ana Maria"
	found.Role = auth.RoleCounselor
	found.Phone = "+16502530000"
	found.TenantID = "default"
	updated, err := repo.Save(ctx, found)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	again, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", again.DisplayName)
	assert.Equal(t, auth.RoleCounselor, again.Role)
	assert.Equal(t, "+16502530000", again.Phone)
	assert.Equal(t, "default", again.TenantID)
}

func TestProfilesRepositoryListByTenant(t *testing.T) {
	ctx := context.Background()
	repo := auth.NewProfilesRepository(testdb.New(t))

	for _, p := range []*auth.Profile{
		{UserID: "a", DisplayName: "A", TenantID: "acme"},
		{UserID: "b", DisplayName: "B", TenantID: "other"},
		{UserID: "c", DisplayName: "C", TenantID: "acme"},
	} {
		_, err := repo.Save(ctx, p)
		require.NoError(t, err)
	}

	all, err := repo.ListProfiles(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	acme, err := repo.ListProfiles(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, acme, 2)
	for _, p := range acme {
		assert.Equal(t, "acme", p.TenantID)
	}
}

func TestRepositoryManagerRunInTx(t *testing.T) {
	ctx := context.Background()
	mngr := auth.NewRepositoryManager(testdb.New(t))
	require.NoError(t, mngr.Validate())

	err := mngr.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := mngr.Profiles().SaveTx(ctx, tx, &auth.Profile{UserID: "tx-user", DisplayName: "Tx"})
		return err
	})
	require.NoError(t, err)

	found, err := mngr.Profiles().GetByUserID(ctx, "tx-user")
	require.NoError(t, err)
	assert.Equal(t, "Tx", found.DisplayName)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = mngr.RunInTx(cancelled, nil, func(context.Context, bun.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryProfilesMatchesRepositoryContract(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryProfiles()

	_, err := store.GetByUserID(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrProfileNotFound)
	assert.True(t, auth.IsNotFound(err))

	first, err := store.Save(ctx, &auth.Profile{UserID: "u1", DisplayName: "One"})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleStudent, first.Role)

	second, err := store.Save(ctx, &auth.Profile{UserID: "u1", DisplayName: "Uno"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}
