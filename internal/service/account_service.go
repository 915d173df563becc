package service

import (
	"context"
	"strings"

	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/logging"
	"github.com/wallet-gateway/internal/models"
	"github.com/wallet-gateway/internal/storage"
	"github.com/wallet-gateway/internal/types"
	"github.com/wallet-gateway/internal/wallet"
)

// RegistrationStore is the persistence surface AccountService needs.
type RegistrationStore interface {
	Create(ctx context.Context, reg *models.Registration) error
	Delete(ctx context.Context, identity types.Identity) (int64, error)
	Exists(ctx context.Context, identity types.Identity) (bool, error)
	UsernameOf(ctx context.Context, identity types.Identity) (string, error)
	IdentityByUsername(ctx context.Context, username string) (types.Identity, error)
	UsernameTaken(ctx context.Context, username string, except types.Identity) (bool, error)
	UpdateUsername(ctx context.Context, identity types.Identity, username string) error
	ListIdentities(ctx context.Context) ([]types.Identity, error)
}

// PaymentStore is the persistence surface for queued payment orders.
type PaymentStore interface {
	Insert(ctx context.Context, p *models.PendingPayment) error
	FindPending(ctx context.Context, sender types.Identity, code string, amount types.Amount) ([]models.PendingPayment, error)
	ListBySender(ctx context.Context, sender types.Identity) ([]models.PendingPayment, error)
	Claim(ctx context.Context, id int64) (storage.Claim, error)
}

// BalanceCache stores the last balance observed per identity, used only for
// change detection by the watcher.
type BalanceCache interface {
	LastBalance(ctx context.Context, identity types.Identity) (types.Amount, bool, error)
	SetLastBalance(ctx context.Context, identity types.Identity, balance types.Amount) error
	ForgetBalance(ctx context.Context, identity types.Identity) error
}

// AccountService implements user account operations: registration lifecycle,
// username binding and the wallet pass-throughs keyed by identity.
type AccountService struct {
	registry      *Registry
	wallet        wallet.Backend
	registrations RegistrationStore
	payments      PaymentStore
	balances      BalanceCache
	isAdmin       func(types.Identity) bool
}

// NewAccountService creates a new account service. isAdmin decides the admin
// flag of freshly created accounts; nil means no admins.
func NewAccountService(
	registry *Registry,
	backend wallet.Backend,
	registrations RegistrationStore,
	payments PaymentStore,
	balances BalanceCache,
	isAdmin func(types.Identity) bool,
) *AccountService {
	if isAdmin == nil {
		isAdmin = func(types.Identity) bool { return false }
	}
	return &AccountService{
		registry:      registry,
		wallet:        backend,
		registrations: registrations,
		payments:      payments,
		balances:      balances,
		isAdmin:       isAdmin,
	}
}

// LookupOrCreate returns the account object for an identity, creating it in
// the registry on first reference. Creation does not register the identity.
func (s *AccountService) LookupOrCreate(identity types.Identity) *UserAccount {
	u := s.registry.LookupOrCreate(identity)
	u.Admin = s.isAdmin(u.Identity)
	return u
}

// LookupByUsername resolves a chosen username to its account. A miss yields
// ErrUnknownUser.
func (s *AccountService) LookupByUsername(ctx context.Context, name string) (*UserAccount, error) {
	if u, ok := s.registry.ByUsername(name); ok {
		return u, nil
	}

	identity, err := s.registrations.IdentityByUsername(ctx, name)
	if err != nil {
		return nil, err
	}

	u := s.LookupOrCreate(identity)
	u.setCachedUsername(name)
	s.registry.IndexUsername(name, u)
	return u, nil
}

// IsRegistered checks the registration store for the account's identity.
func (s *AccountService) IsRegistered(ctx context.Context, u *UserAccount) (bool, error) {
	return s.registrations.Exists(ctx, u.Identity)
}

// Register persists the account, optionally claiming a username in the same
// step. An already registered identity yields ErrAlreadyRegistered.
func (s *AccountService) Register(ctx context.Context, u *UserAccount, username string) error {
	if username != "" {
		if err := s.CanUseUsername(ctx, u, username); err != nil {
			return err
		}
	}

	reg := &models.Registration{Identity: u.Identity, Username: username}
	if err := s.registrations.Create(ctx, reg); err != nil {
		return err
	}

	u.setCachedUsername(username)
	s.registry.IndexUsername(username, u)
	return nil
}

// Unregister deletes the account's registration. An unregistered identity
// yields ErrAlreadyUnregistered; any delete count other than one is an
// internal consistency violation, reported rather than ignored.
func (s *AccountService) Unregister(ctx context.Context, u *UserAccount) error {
	deleted, err := s.registrations.Delete(ctx, u.Identity)
	if err != nil {
		return err
	}

	switch deleted {
	case 0:
		return gwerrors.WithMessage(gwerrors.ErrAlreadyUnregistered, "%s is not registered", u.Identity)
	case 1:
	default:
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"identity": string(u.Identity),
			"deleted":  deleted,
		}).Error("unregister removed more than one registration row")
		return gwerrors.WithMessage(gwerrors.ErrConsistency, "unregister removed %d rows", deleted)
	}

	u.invalidateUsername()
	s.registry.Remove(u.Identity)
	if err := s.balances.ForgetBalance(ctx, u.Identity); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("failed to drop cached balance on unregister")
	}
	return nil
}

// Username returns the account's chosen username, empty when none. The value
// is read through the registration store once and memoized on the account.
func (s *AccountService) Username(ctx context.Context, u *UserAccount) (string, error) {
	if name, ok := u.cachedUsername(); ok {
		return name, nil
	}

	name, err := s.registrations.UsernameOf(ctx, u.Identity)
	if err != nil {
		return "", err
	}

	u.setCachedUsername(name)
	if name != "" {
		s.registry.IndexUsername(name, u)
	}
	return name, nil
}

// CanUseUsername validates a username for an account: non-empty, not a valid
// wallet address, free of identity-reserved characters and not owned by a
// different identity. Violations yield ErrUsernameNotAvailable.
func (s *AccountService) CanUseUsername(ctx context.Context, u *UserAccount, name string) error {
	if name == "" {
		return gwerrors.WithMessage(gwerrors.ErrUsernameNotAvailable, "username must not be empty")
	}
	if strings.ContainsAny(name, "@./") {
		return gwerrors.WithMessage(gwerrors.ErrUsernameNotAvailable, "username must not contain '@', '.' or '/'")
	}

	info, err := s.wallet.ValidateAddress(ctx, name)
	if err != nil {
		return err
	}
	if info.IsValid {
		return gwerrors.WithMessage(gwerrors.ErrUsernameNotAvailable, "%q is a wallet address, not a username", name)
	}

	taken, err := s.registrations.UsernameTaken(ctx, name, u.Identity)
	if err != nil {
		return err
	}
	if taken {
		return gwerrors.WithMessage(gwerrors.ErrUsernameNotAvailable, "username %q is already in use", name)
	}

	return nil
}

// SetUsername validates and persists a username change. Re-setting the same
// name is idempotent. The storage unique index is the final arbiter of
// concurrent claims; the loser gets ErrUsernameNotAvailable.
func (s *AccountService) SetUsername(ctx context.Context, u *UserAccount, name string) error {
	if err := s.CanUseUsername(ctx, u, name); err != nil {
		return err
	}

	if err := s.registrations.UpdateUsername(ctx, u.Identity, name); err != nil {
		return err
	}

	u.setCachedUsername(name)
	s.registry.IndexUsername(name, u)
	return nil
}

// Balance returns the account's current wallet balance.
func (s *AccountService) Balance(ctx context.Context, u *UserAccount) (types.Amount, error) {
	return s.wallet.Balance(ctx, u.Identity)
}

// TotalReceived returns the total received across the account's addresses.
func (s *AccountService) TotalReceived(ctx context.Context, u *UserAccount) (types.Amount, error) {
	return s.wallet.ReceivedByAccount(ctx, u.Identity)
}

// Addresses lists the wallet addresses the account controls.
func (s *AccountService) Addresses(ctx context.Context, u *UserAccount) ([]string, error) {
	return s.wallet.AddressesByAccount(ctx, u.Identity)
}

// CreateAddress makes a new wallet address already bound to the account's
// identity label. The wallet performs the bind atomically.
func (s *AccountService) CreateAddress(ctx context.Context, u *UserAccount) (string, error) {
	return s.wallet.NewAddress(ctx, u.Identity)
}

// OwnsAddress reports whether an address belongs to the account.
func (s *AccountService) OwnsAddress(ctx context.Context, u *UserAccount, address string) (bool, error) {
	addresses, err := s.wallet.AddressesByAccount(ctx, u.Identity)
	if err != nil {
		return false, err
	}
	for _, a := range addresses {
		if a == address {
			return true, nil
		}
	}
	return false, nil
}

// CheckBalance fetches the current balance and compares it against the last
// observation. The second return value is true when the balance changed (or
// was never observed); the cache is updated either way.
func (s *AccountService) CheckBalance(ctx context.Context, u *UserAccount) (types.Amount, bool, error) {
	balance, err := s.wallet.Balance(ctx, u.Identity)
	if err != nil {
		return 0, false, err
	}

	last, seen, err := s.balances.LastBalance(ctx, u.Identity)
	if err != nil {
		return 0, false, err
	}
	if seen && last == balance {
		return balance, false, nil
	}

	if err := s.balances.SetLastBalance(ctx, u.Identity, balance); err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

// PendingPayments lists the account's queued payment orders, oldest first,
// optionally filtered to one recipient label.
func (s *AccountService) PendingPayments(ctx context.Context, u *UserAccount, recipient string) ([]models.PendingPayment, error) {
	payments, err := s.payments.ListBySender(ctx, u.Identity)
	if err != nil {
		return nil, err
	}
	if recipient == "" {
		return payments, nil
	}

	filtered := payments[:0]
	for _, p := range payments {
		if p.Recipient == recipient {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// PastPayments lists the account's completed wallet transactions, most
// recent first. count <= 0 uses the wallet's default window.
func (s *AccountService) PastPayments(ctx context.Context, u *UserAccount, count int) ([]wallet.Transaction, error) {
	return s.wallet.ListTransactions(ctx, u.Identity, count)
}

// ListRegistered returns the identities of all registered accounts.
func (s *AccountService) ListRegistered(ctx context.Context) ([]types.Identity, error) {
	return s.registrations.ListIdentities(ctx)
}
