package service

import (
	"context"
	"sync"

	"github.com/wallet-gateway/internal/codec"
	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/types"
	"github.com/wallet-gateway/internal/wallet"
)

// Address is a validated wallet address with its protocol identifier and
// owning account computed on first access. The raw address is immutable;
// ownership and received totals are always recomputed from the wallet.
type Address struct {
	Raw string

	// account label reported by the wallet at validation time
	label string

	identifierOnce sync.Once
	identifier     types.Identifier

	ownerOnce sync.Once
	owner     *UserAccount
}

// Identifier returns the protocol-legal identifier of the address.
func (a *Address) Identifier() types.Identifier {
	a.identifierOnce.Do(func() {
		a.identifier = types.Identifier(codec.Encode(a.Raw))
	})
	return a.identifier
}

// AddressService builds Address entities against the wallet's validity
// predicate and resolves their owners.
type AddressService struct {
	wallet   wallet.Backend
	accounts *AccountService
}

// NewAddressService creates a new address service
func NewAddressService(backend wallet.Backend, accounts *AccountService) *AddressService {
	return &AddressService{wallet: backend, accounts: accounts}
}

// FromRaw validates a raw address string against the wallet. Invalid input
// yields ErrInvalidAddress.
func (s *AddressService) FromRaw(ctx context.Context, raw string) (*Address, error) {
	info, err := s.wallet.ValidateAddress(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !info.IsValid {
		return nil, gwerrors.WithMessage(gwerrors.ErrInvalidAddress, "%q is not a valid wallet address", raw)
	}

	return &Address{Raw: raw, label: info.Account}, nil
}

// FromIdentifier decodes a protocol identifier and validates the resulting
// address. Malformed suffixes yield ErrMalformedIdentifier, decoded strings
// that are not addresses yield ErrInvalidAddress.
func (s *AddressService) FromIdentifier(ctx context.Context, identifier types.Identifier) (*Address, error) {
	raw, err := codec.Decode(identifier.Node())
	if err != nil {
		return nil, err
	}
	return s.FromRaw(ctx, raw)
}

// Owner returns the account the wallet reports as owning the address, nil
// when the address carries no account label.
func (s *AddressService) Owner(a *Address) *UserAccount {
	a.ownerOnce.Do(func() {
		if a.label != "" {
			a.owner = s.accounts.LookupOrCreate(types.Identity(a.label))
		}
	})
	return a.owner
}

// PercentageReceived returns how much of the owner's total received arrived
// on this address, as a percentage. A nil result means the owner has not
// received anything yet, which is a valid "no data" state, not an error.
func (s *AddressService) PercentageReceived(ctx context.Context, a *Address) (*float64, error) {
	owner := s.Owner(a)
	if owner == nil {
		return nil, nil
	}

	total, err := s.wallet.ReceivedByAccount(ctx, owner.Identity)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	received, err := s.wallet.ReceivedByAddress(ctx, a.Raw)
	if err != nil {
		return nil, err
	}

	pct := float64(received) * 100 / float64(total)
	return &pct, nil
}
