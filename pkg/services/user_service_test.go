package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/motionlabs/cswatch/test/database"
)

func TestUserService_SeedAndAuthenticate(t *testing.T) {
	client := testdb.NewTestClient(t)
	users := NewUserService(client.Client)
	ctx := context.Background()

	require.NoError(t, users.SeedAdmin(ctx))
	// Idempotent on an already-seeded store.
	require.NoError(t, users.SeedAdmin(ctx))

	admin, err := users.Authenticate(ctx, "admin", "1234")
	require.NoError(t, err)
	assert.Equal(t, "admin", string(admin.Role))

	_, err = users.Authenticate(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = users.Authenticate(ctx, "nobody@example.com", "1234")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUserService_CreateAndDelete(t *testing.T) {
	client := testdb.NewTestClient(t)
	users := NewUserService(client.Client)
	ctx := context.Background()

	require.NoError(t, users.SeedAdmin(ctx))
	admin, err := users.Authenticate(ctx, "admin", "1234")
	require.NoError(t, err)

	member, err := users.CreateUser(ctx, CreateUserInput{
		Email:    "jiyoon@motionlabs.io",
		Name:     "지윤",
		Password: "secret99",
	})
	require.NoError(t, err)
	assert.Equal(t, "member", string(member.Role))

	_, err = users.CreateUser(ctx, CreateUserInput{
		Email:    "jiyoon@motionlabs.io",
		Name:     "중복",
		Password: "secret99",
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = users.CreateUser(ctx, CreateUserInput{
		Email:    "not-an-email",
		Name:     "x",
		Password: "secret99",
	})
	assert.True(t, IsValidationError(err))

	// Self-deletion and last-admin deletion are both refused.
	err = users.DeleteUser(ctx, admin.ID, admin.ID)
	assert.True(t, IsValidationError(err))

	secondAdmin, err := users.CreateUser(ctx, CreateUserInput{
		Email:    "ops@motionlabs.io",
		Name:     "운영",
		Password: "secret99",
		Role:     "admin",
	})
	require.NoError(t, err)

	// With two admins the first can be removed by the second.
	require.NoError(t, users.DeleteUser(ctx, admin.ID, secondAdmin.ID))

	err = users.DeleteUser(ctx, secondAdmin.ID, member.ID)
	assert.True(t, IsValidationError(err), "last admin is protected")

	require.NoError(t, users.DeleteUser(ctx, member.ID, secondAdmin.ID))
	err = users.DeleteUser(ctx, member.ID, secondAdmin.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
