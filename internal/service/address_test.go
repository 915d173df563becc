package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/wallet-gateway/internal/errors"
)

const (
	mixedCaseAddress = "1DXFn72VHrXRVYJTTxjbmNXyXpYXmgiWfw"
	mixedCaseEncoded = "1dxfn72vhrxrvyjttxjbmnxyxpyxmgiwfw-x0l0p0"
)

func TestFromIdentifierRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	env.wallet.addAddress(mixedCaseAddress, "")

	addr, err := env.addresses.FromIdentifier(ctx, mixedCaseEncoded+"@wallet.localhost")
	require.NoError(t, err)
	assert.Equal(t, mixedCaseAddress, addr.Raw)
	assert.EqualValues(t, mixedCaseEncoded, addr.Identifier())
}

func TestFromIdentifierMalformedSuffix(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	_, err := env.addresses.FromIdentifier(ctx, "1abc-!!@wallet.localhost")
	assert.ErrorIs(t, err, gwerrors.ErrMalformedIdentifier)
}

func TestFromIdentifierUnknownAddress(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	_, err := env.addresses.FromIdentifier(ctx, "nosuchaddress@wallet.localhost")
	assert.ErrorIs(t, err, gwerrors.ErrInvalidAddress)
}

func TestOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	env.wallet.addAddress("addr1", "alice@example.org")
	env.wallet.addAddress("addr2", "")

	owned, err := env.addresses.FromRaw(ctx, "addr1")
	require.NoError(t, err)
	owner := env.addresses.Owner(owned)
	require.NotNil(t, owner)
	assert.EqualValues(t, "alice@example.org", owner.Identity)

	unowned, err := env.addresses.FromRaw(ctx, "addr2")
	require.NoError(t, err)
	assert.Nil(t, env.addresses.Owner(unowned))
}

func TestPercentageReceived(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	env.wallet.addAddress("addr1", "alice@example.org")
	env.wallet.received["alice@example.org"] = 200
	env.wallet.byAddress["addr1"] = 50

	addr, err := env.addresses.FromRaw(ctx, "addr1")
	require.NoError(t, err)

	pct, err := env.addresses.PercentageReceived(ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, pct)
	assert.InDelta(t, 25.0, *pct, 1e-9)
}

func TestPercentageReceivedNilWhenNothingReceived(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	env.wallet.addAddress("addr1", "alice@example.org")

	addr, err := env.addresses.FromRaw(ctx, "addr1")
	require.NoError(t, err)

	// Owner exists but has received nothing: no data, not an error.
	pct, err := env.addresses.PercentageReceived(ctx, addr)
	require.NoError(t, err)
	assert.Nil(t, pct)
}

func TestPercentageReceivedNilWhenUnowned(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	env.wallet.addAddress("addr2", "")

	addr, err := env.addresses.FromRaw(ctx, "addr2")
	require.NoError(t, err)

	pct, err := env.addresses.PercentageReceived(ctx, addr)
	require.NoError(t, err)
	assert.Nil(t, pct)
}
