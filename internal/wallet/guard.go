package wallet

import (
	"context"
	"fmt"

	"github.com/wallet-gateway/internal/circuitbreaker"
	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/types"
)

// Guard wraps a Backend with a circuit breaker. Transport and RPC failures
// trip the breaker; wallet refusals aimed at the user, like insufficient
// funds, do not count against it.
type Guard struct {
	backend Backend
	breaker *circuitbreaker.CircuitBreaker
}

var _ Backend = (*Guard)(nil)

// NewGuard creates a new guarded backend
func NewGuard(backend Backend, breaker *circuitbreaker.CircuitBreaker) *Guard {
	return &Guard{backend: backend, breaker: breaker}
}

// run executes fn under the breaker. User-level refusals pass through as
// successes so a burst of rejected payments cannot open the circuit.
func (g *Guard) run(fn func() error) error {
	var callErr error
	err := g.breaker.Execute(func() error {
		callErr = fn()
		if callErr != nil && gwerrors.IsUserError(callErr) {
			return nil
		}
		return callErr
	})
	if err == circuitbreaker.ErrCircuitOpen {
		return fmt.Errorf("wallet backend unavailable: %w", err)
	}
	if callErr != nil {
		return callErr
	}
	return err
}

func (g *Guard) ValidateAddress(ctx context.Context, address string) (AddressInfo, error) {
	var info AddressInfo
	err := g.run(func() error {
		var err error
		info, err = g.backend.ValidateAddress(ctx, address)
		return err
	})
	return info, err
}

func (g *Guard) Balance(ctx context.Context, account types.Identity) (types.Amount, error) {
	var balance types.Amount
	err := g.run(func() error {
		var err error
		balance, err = g.backend.Balance(ctx, account)
		return err
	})
	return balance, err
}

func (g *Guard) ReceivedByAccount(ctx context.Context, account types.Identity) (types.Amount, error) {
	var received types.Amount
	err := g.run(func() error {
		var err error
		received, err = g.backend.ReceivedByAccount(ctx, account)
		return err
	})
	return received, err
}

func (g *Guard) ReceivedByAddress(ctx context.Context, address string) (types.Amount, error) {
	var received types.Amount
	err := g.run(func() error {
		var err error
		received, err = g.backend.ReceivedByAddress(ctx, address)
		return err
	})
	return received, err
}

func (g *Guard) AddressesByAccount(ctx context.Context, account types.Identity) ([]string, error) {
	var addresses []string
	err := g.run(func() error {
		var err error
		addresses, err = g.backend.AddressesByAccount(ctx, account)
		return err
	})
	return addresses, err
}

func (g *Guard) NewAddress(ctx context.Context, account types.Identity) (string, error) {
	var address string
	err := g.run(func() error {
		var err error
		address, err = g.backend.NewAddress(ctx, account)
		return err
	})
	return address, err
}

func (g *Guard) SetAccountLabel(ctx context.Context, address string, account types.Identity) error {
	return g.run(func() error {
		return g.backend.SetAccountLabel(ctx, address, account)
	})
}

func (g *Guard) SendFrom(ctx context.Context, from types.Identity, toAddress string, amount types.Amount, minConf int, comment string) (string, error) {
	var txid string
	err := g.run(func() error {
		var err error
		txid, err = g.backend.SendFrom(ctx, from, toAddress, amount, minConf, comment)
		return err
	})
	return txid, err
}

func (g *Guard) Move(ctx context.Context, from, to types.Identity, amount types.Amount, minConf int, comment string) (bool, error) {
	var moved bool
	err := g.run(func() error {
		var err error
		moved, err = g.backend.Move(ctx, from, to, amount, minConf, comment)
		return err
	})
	return moved, err
}

func (g *Guard) ListTransactions(ctx context.Context, account types.Identity, count int) ([]Transaction, error) {
	var transactions []Transaction
	err := g.run(func() error {
		var err error
		transactions, err = g.backend.ListTransactions(ctx, account, count)
		return err
	})
	return transactions, err
}
