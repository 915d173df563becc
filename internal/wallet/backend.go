// Package wallet defines the wallet RPC surface the gateway depends on and
// its JSON-RPC client implementation.
package wallet

import (
	"context"

	"github.com/wallet-gateway/internal/types"
)

// AddressInfo is the wallet's verdict on an address string. Account is the
// wallet-side account label bound to the address, empty when unbound.
type AddressInfo struct {
	IsValid bool
	Address string
	IsMine  bool
	Account string
}

// Transaction is one entry of the wallet's transaction listing for an
// account. TxID is empty for internal moves, which never hit the chain.
type Transaction struct {
	TxID          string
	Category      types.TxCategory
	Amount        types.Amount
	Fee           types.Amount
	Comment       string
	OtherAccount  string
	Confirmations int
	Time          int64
}

// Backend is the wallet RPC surface consumed by the gateway. Accounts are
// keyed by the user's bare identity. All calls may fail with a generic
// backend error; SendFrom and Move distinguish insufficient funds as
// errors.ErrInsufficientFunds.
type Backend interface {
	// ValidateAddress checks an address string and reports its account label.
	ValidateAddress(ctx context.Context, address string) (AddressInfo, error)
	// Balance returns the current balance of an account.
	Balance(ctx context.Context, account types.Identity) (types.Amount, error)
	// ReceivedByAccount returns the total received on all of an account's addresses.
	ReceivedByAccount(ctx context.Context, account types.Identity) (types.Amount, error)
	// ReceivedByAddress returns the total received on a single address.
	ReceivedByAddress(ctx context.Context, address string) (types.Amount, error)
	// AddressesByAccount lists the addresses an account controls.
	AddressesByAccount(ctx context.Context, account types.Identity) ([]string, error)
	// NewAddress creates an address bound to an account label in one step.
	NewAddress(ctx context.Context, account types.Identity) (string, error)
	// SetAccountLabel rebinds an existing address to an account label.
	SetAccountLabel(ctx context.Context, address string, account types.Identity) error
	// SendFrom pays from an account to an address and returns the transaction id.
	SendFrom(ctx context.Context, from types.Identity, toAddress string, amount types.Amount, minConf int, comment string) (string, error)
	// Move transfers between two gateway accounts without a chain transaction.
	Move(ctx context.Context, from, to types.Identity, amount types.Amount, minConf int, comment string) (bool, error)
	// ListTransactions lists up to count completed transactions of an account,
	// most recent first. count <= 0 means the wallet's default window.
	ListTransactions(ctx context.Context, account types.Identity, count int) ([]Transaction, error)
}
