package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journal-desk/errs"
	"journal-desk/models"
	"journal-desk/storage"
	"journal-desk/testutil"
)

type countingProvider struct {
	calls int
	role  models.Role
}

func (c *countingProvider) RoleOf(context.Context, uint) (models.Role, error) {
	c.calls++
	return c.role, nil
}

func TestStoreRoles(t *testing.T) {
	db := testutil.NewDB(t)
	editor := testutil.SeedPerson(t, db, "editor", models.RoleEditor)
	roles := NewStoreRoles(storage.New(db))
	ctx := context.Background()

	role, err := roles.RoleOf(ctx, editor.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleEditor, role)

	role, err = roles.RoleOf(ctx, models.SystemActorID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSystem, role)

	_, err = roles.RoleOf(ctx, 4711)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCachedRoles(t *testing.T) {
	inner := &countingProvider{role: models.RoleAdmin}
	roles := NewCachedRoles(inner, time.Minute)
	ctx := context.Background()

	for range 3 {
		role, err := roles.RoleOf(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, role)
	}
	assert.Equal(t, 1, inner.calls)

	roles.Invalidate(5)
	_, err := roles.RoleOf(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
