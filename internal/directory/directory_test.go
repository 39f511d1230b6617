package directory

import (
	"context"
	"testing"

	"glovendor/internal/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	store := wallet.NewMemoryStore()
	ctx := context.Background()
	a, err := store.CreateAccount(ctx, wallet.Account{Kind: wallet.KindSubvendor, Email: "Sub@Glo.test", Active: true})
	require.NoError(t, err)

	dir := New(store)

	byEmail, err := dir.Resolve(ctx, "sub@glo.test")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byEmail.ID)
	assert.Equal(t, wallet.KindSubvendor, byEmail.Kind)

	byID, err := dir.Resolve(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Sub@Glo.test", byID.Email)

	_, err = dir.Resolve(ctx, "nobody@glo.test")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = dir.Resolve(ctx, "42")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, bad := range []string{"", " ", "0", "-3", "not an email"} {
		_, err = dir.Resolve(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, bad)
	}
}
