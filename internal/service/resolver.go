package service

import (
	"context"
	"errors"
	"strings"

	"github.com/wallet-gateway/internal/codec"
	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/logging"
	"github.com/wallet-gateway/internal/types"
)

// TargetKind tags the closed set of things a destination identifier can
// resolve to.
type TargetKind int

const (
	// TargetNotFound means nothing answered to the destination
	TargetNotFound TargetKind = iota
	// TargetGateway means the destination is the gateway itself
	TargetGateway
	// TargetUser means the destination is a registered user
	TargetUser
	// TargetAddress means the destination is a wallet address
	TargetAddress
)

// Target is the resolved form of a destination identifier. Exactly the field
// matching Kind is set.
type Target struct {
	Kind    TargetKind
	User    *UserAccount
	Address *Address
}

// Resolver turns inbound destination identifiers into targets. Resolution is
// a pure lookup with no side effects.
type Resolver struct {
	gateway   types.Identity
	accounts  *AccountService
	addresses *AddressService
}

// NewResolver creates a new resolver for one gateway identity.
func NewResolver(gateway types.Identity, accounts *AccountService, addresses *AddressService) *Resolver {
	return &Resolver{gateway: gateway, accounts: accounts, addresses: addresses}
}

// Resolve maps a destination identifier to a target, trying in order: the
// gateway itself, a wallet address, a full identity (admins only) and a
// chosen username. Lookup misses collapse to TargetNotFound; only a
// malformed identifier propagates as an error, since the caller must answer
// it as a bad request rather than a miss.
func (r *Resolver) Resolve(ctx context.Context, destination types.Identifier, requester *UserAccount) (Target, error) {
	if types.Identity(destination).Bare() == r.gateway {
		return Target{Kind: TargetGateway}, nil
	}

	addr, err := r.addresses.FromIdentifier(ctx, destination)
	if err == nil {
		return Target{Kind: TargetAddress, Address: addr}, nil
	}
	if errors.Is(err, gwerrors.ErrMalformedIdentifier) {
		return Target{}, err
	}
	if !errors.Is(err, gwerrors.ErrInvalidAddress) {
		logging.FromContext(ctx).WithError(err).Warn("address lookup failed during resolution")
		return Target{Kind: TargetNotFound}, nil
	}

	// Not an address; the unescaped label is either a full identity (admin
	// privilege required) or a chosen username. The decode cannot fail here,
	// FromIdentifier already got past it.
	raw, _ := codec.Decode(destination.Node()) // nolint:errcheck
	label := codec.UnescapeNode(raw)
	if requester != nil && requester.Admin && strings.Contains(label, ".") {
		u := r.accounts.LookupOrCreate(types.Identity(label))
		registered, err := r.accounts.IsRegistered(ctx, u)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("registration lookup failed during resolution")
			return Target{Kind: TargetNotFound}, nil
		}
		if !registered {
			return Target{Kind: TargetNotFound}, nil
		}
		return Target{Kind: TargetUser, User: u}, nil
	}

	u, err := r.accounts.LookupByUsername(ctx, label)
	if err != nil {
		if !gwerrors.IsNotFound(err) {
			logging.FromContext(ctx).WithError(err).Warn("username lookup failed during resolution")
		}
		return Target{Kind: TargetNotFound}, nil
	}
	return Target{Kind: TargetUser, User: u}, nil
}
