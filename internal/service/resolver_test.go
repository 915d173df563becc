package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/types"
)

func TestResolveGateway(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	sender := env.accounts.LookupOrCreate("alice@example.org")

	target, err := env.resolver.Resolve(ctx, "wallet.localhost", sender)
	require.NoError(t, err)
	assert.Equal(t, TargetGateway, target.Kind)

	// A session resource on the gateway identity still means the gateway.
	target, err = env.resolver.Resolve(ctx, "wallet.localhost/announce", sender)
	require.NoError(t, err)
	assert.Equal(t, TargetGateway, target.Kind)
}

func TestResolveAddress(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	env.wallet.addAddress("1DXFn72VHrXRVYJTTxjbmNXyXpYXmgiWfw", "")
	sender := env.accounts.LookupOrCreate("alice@example.org")

	target, err := env.resolver.Resolve(ctx, "1dxfn72vhrxrvyjttxjbmnxyxpyxmgiwfw-x0l0p0@wallet.localhost", sender)
	require.NoError(t, err)
	require.Equal(t, TargetAddress, target.Kind)
	assert.Equal(t, "1DXFn72VHrXRVYJTTxjbmNXyXpYXmgiWfw", target.Address.Raw)
}

func TestResolveUsername(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	bob := env.accounts.LookupOrCreate("bob@example.org")
	require.NoError(t, env.accounts.Register(ctx, bob, "bob"))
	sender := env.accounts.LookupOrCreate("alice@example.org")

	target, err := env.resolver.Resolve(ctx, "bob@wallet.localhost", sender)
	require.NoError(t, err)
	require.Equal(t, TargetUser, target.Kind)
	assert.True(t, target.User.Equal(bob))
}

func TestResolveFullIdentityRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, "root@example.org")
	ctx := testContext(t)

	bob := env.accounts.LookupOrCreate("bob@example.org")
	require.NoError(t, env.accounts.Register(ctx, bob, ""))

	// Full identities travel escaped in the node position.
	admin := env.accounts.LookupOrCreate("root@example.org")
	target, err := env.resolver.Resolve(ctx, `bob\40example.org@wallet.localhost`, admin)
	require.NoError(t, err)
	require.Equal(t, TargetUser, target.Kind)
	assert.Equal(t, types.Identity("bob@example.org"), target.User.Identity)

	// The same destination is opaque to a regular user: the label is not a
	// username and the privileged path is closed.
	sender := env.accounts.LookupOrCreate("alice@example.org")
	target, err = env.resolver.Resolve(ctx, `bob\40example.org@wallet.localhost`, sender)
	require.NoError(t, err)
	assert.Equal(t, TargetNotFound, target.Kind)
}

func TestResolveUnknownIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	sender := env.accounts.LookupOrCreate("alice@example.org")

	target, err := env.resolver.Resolve(ctx, "nobody@wallet.localhost", sender)
	require.NoError(t, err)
	assert.Equal(t, TargetNotFound, target.Kind)
}

func TestResolveMalformedIdentifierPropagates(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	sender := env.accounts.LookupOrCreate("alice@example.org")

	_, err := env.resolver.Resolve(ctx, "1abc-!!@wallet.localhost", sender)
	assert.ErrorIs(t, err, gwerrors.ErrMalformedIdentifier)
}
