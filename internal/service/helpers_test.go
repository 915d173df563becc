package service

import (
	"context"
	"sync"
	"testing"
	"time"

	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/models"
	"github.com/wallet-gateway/internal/storage"
	"github.com/wallet-gateway/internal/types"
	"github.com/wallet-gateway/internal/wallet"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// fakeWallet is an in-memory wallet backend. Addresses present in accounts
// are valid; the account label is the owning identity.
type fakeWallet struct {
	mu        sync.Mutex
	balances  map[types.Identity]types.Amount
	received  map[types.Identity]types.Amount
	byAddress map[string]types.Amount
	accounts  map[string]types.Identity // address -> owning identity ("" = unowned)
	txs       map[types.Identity][]wallet.Transaction

	sendCalls []sendCall
	moveCalls []moveCall
	sendErr   error
	moveErr   error
}

type sendCall struct {
	from    types.Identity
	to      string
	amount  types.Amount
	comment string
}

type moveCall struct {
	from, to types.Identity
	amount   types.Amount
	comment  string
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		balances:  make(map[types.Identity]types.Amount),
		received:  make(map[types.Identity]types.Amount),
		byAddress: make(map[string]types.Amount),
		accounts:  make(map[string]types.Identity),
		txs:       make(map[types.Identity][]wallet.Transaction),
	}
}

func (w *fakeWallet) addAddress(address string, owner types.Identity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts[address] = owner
}

func (w *fakeWallet) ValidateAddress(_ context.Context, address string) (wallet.AddressInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	owner, ok := w.accounts[address]
	if !ok {
		return wallet.AddressInfo{IsValid: false}, nil
	}
	return wallet.AddressInfo{IsValid: true, Address: address, Account: string(owner)}, nil
}

func (w *fakeWallet) Balance(_ context.Context, account types.Identity) (types.Amount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[account], nil
}

func (w *fakeWallet) ReceivedByAccount(_ context.Context, account types.Identity) (types.Amount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.received[account], nil
}

func (w *fakeWallet) ReceivedByAddress(_ context.Context, address string) (types.Amount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.byAddress[address], nil
}

func (w *fakeWallet) AddressesByAccount(_ context.Context, account types.Identity) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var addresses []string
	for address, owner := range w.accounts {
		if owner == account {
			addresses = append(addresses, address)
		}
	}
	return addresses, nil
}

func (w *fakeWallet) NewAddress(_ context.Context, account types.Identity) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	address := "addr" + string(rune('A'+len(w.accounts)))
	w.accounts[address] = account
	return address, nil
}

func (w *fakeWallet) SetAccountLabel(_ context.Context, address string, account types.Identity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts[address] = account
	return nil
}

func (w *fakeWallet) SendFrom(_ context.Context, from types.Identity, toAddress string, amount types.Amount, _ int, comment string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return "", w.sendErr
	}
	if w.balances[from] < amount {
		return "", gwerrors.Wrap(gwerrors.ErrInsufficientFunds, nil)
	}
	w.balances[from] -= amount
	w.sendCalls = append(w.sendCalls, sendCall{from: from, to: toAddress, amount: amount, comment: comment})
	return "tx-fake-1", nil
}

func (w *fakeWallet) Move(_ context.Context, from, to types.Identity, amount types.Amount, _ int, comment string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.moveErr != nil {
		return false, w.moveErr
	}
	if w.balances[from] < amount {
		return false, gwerrors.Wrap(gwerrors.ErrInsufficientFunds, nil)
	}
	w.balances[from] -= amount
	w.balances[to] += amount
	w.moveCalls = append(w.moveCalls, moveCall{from: from, to: to, amount: amount, comment: comment})
	return true, nil
}

func (w *fakeWallet) ListTransactions(_ context.Context, account types.Identity, _ int) ([]wallet.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.txs[account], nil
}

// fakeRegistrationStore keeps registrations in memory with the same unique
// constraints as the Postgres schema.
type fakeRegistrationStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[types.Identity]*models.Registration
}

func newFakeRegistrationStore() *fakeRegistrationStore {
	return &fakeRegistrationStore{rows: make(map[types.Identity]*models.Registration)}
}

func (s *fakeRegistrationStore) Create(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[reg.Identity]; ok {
		return gwerrors.Wrap(gwerrors.ErrAlreadyRegistered, nil)
	}
	if reg.Username != "" {
		for _, row := range s.rows {
			if row.Username == reg.Username {
				return gwerrors.Wrap(gwerrors.ErrUsernameNotAvailable, nil)
			}
		}
	}
	s.nextID++
	reg.ID = s.nextID
	s.rows[reg.Identity] = &models.Registration{ID: reg.ID, Identity: reg.Identity, Username: reg.Username}
	return nil
}

func (s *fakeRegistrationStore) Delete(_ context.Context, identity types.Identity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[identity]; !ok {
		return 0, nil
	}
	delete(s.rows, identity)
	return 1, nil
}

func (s *fakeRegistrationStore) Exists(_ context.Context, identity types.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[identity]
	return ok, nil
}

func (s *fakeRegistrationStore) UsernameOf(_ context.Context, identity types.Identity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[identity]; ok {
		return row.Username, nil
	}
	return "", nil
}

func (s *fakeRegistrationStore) IdentityByUsername(_ context.Context, username string) (types.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Username != "" && row.Username == username {
			return row.Identity, nil
		}
	}
	return "", gwerrors.WithMessage(gwerrors.ErrUnknownUser, "no user named %q", username)
}

func (s *fakeRegistrationStore) UsernameTaken(_ context.Context, username string, except types.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Username == username && row.Identity != except {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeRegistrationStore) UpdateUsername(_ context.Context, identity types.Identity, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Username == username && row.Identity != identity {
			return gwerrors.Wrap(gwerrors.ErrUsernameNotAvailable, nil)
		}
	}
	if row, ok := s.rows[identity]; ok {
		row.Username = username
	}
	return nil
}

func (s *fakeRegistrationStore) ListIdentities(_ context.Context) ([]types.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var identities []types.Identity
	for identity := range s.rows {
		identities = append(identities, identity)
	}
	return identities, nil
}

// fakePaymentStore mirrors the atomic claim semantics of the Postgres
// repository: Claim removes the row under the lock, Rollback puts it back.
type fakePaymentStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]models.PendingPayment
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{rows: make(map[int64]models.PendingPayment)}
}

func (s *fakePaymentStore) Insert(_ context.Context, p *models.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	s.rows[p.ID] = *p
	return nil
}

func (s *fakePaymentStore) FindPending(_ context.Context, sender types.Identity, code string, amount types.Amount) ([]models.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []models.PendingPayment
	for _, row := range s.rows {
		if row.FromIdentity != sender {
			continue
		}
		if code != "" && row.Code != code {
			continue
		}
		if amount > 0 && row.Amount != amount {
			continue
		}
		matches = append(matches, row)
	}
	if len(matches) == 0 {
		return nil, gwerrors.WithMessage(gwerrors.ErrPaymentNotFound, "no pending payment matched")
	}
	return matches, nil
}

func (s *fakePaymentStore) ListBySender(_ context.Context, sender types.Identity) ([]models.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []models.PendingPayment
	for _, row := range s.rows {
		if row.FromIdentity == sender {
			matches = append(matches, row)
		}
	}
	return matches, nil
}

func (s *fakePaymentStore) Claim(_ context.Context, id int64) (storage.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, gwerrors.WithMessage(gwerrors.ErrPaymentNotFound, "payment %d is no longer pending", id)
	}
	delete(s.rows, id)
	return &fakeClaim{store: s, row: row}, nil
}

type fakeClaim struct {
	store    *fakePaymentStore
	row      models.PendingPayment
	resolved bool
}

func (c *fakeClaim) Order() models.PendingPayment { return c.row }

func (c *fakeClaim) Commit(context.Context) error {
	c.resolved = true
	return nil
}

func (c *fakeClaim) Rollback(context.Context) {
	if c.resolved {
		return
	}
	c.resolved = true
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.rows[c.row.ID] = c.row
}

type fakeBalanceCache struct {
	mu     sync.Mutex
	values map[types.Identity]types.Amount
}

func newFakeBalanceCache() *fakeBalanceCache {
	return &fakeBalanceCache{values: make(map[types.Identity]types.Amount)}
}

func (c *fakeBalanceCache) LastBalance(_ context.Context, identity types.Identity) (types.Amount, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[identity]
	return value, ok, nil
}

func (c *fakeBalanceCache) SetLastBalance(_ context.Context, identity types.Identity, balance types.Amount) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[identity] = balance
	return nil
}

func (c *fakeBalanceCache) ForgetBalance(_ context.Context, identity types.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, identity)
	return nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []models.JournalEntry
}

func (j *fakeJournal) Append(_ context.Context, entry *models.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, *entry)
	return nil
}

// testEnv wires the full service stack over the in-memory fakes.
type testEnv struct {
	wallet    *fakeWallet
	regs      *fakeRegistrationStore
	payStore  *fakePaymentStore
	cache     *fakeBalanceCache
	journal   *fakeJournal
	registry  *Registry
	accounts  *AccountService
	addresses *AddressService
	payments  *PaymentService
	commands  *CommandService
	resolver  *Resolver
}

func newTestEnv(t *testing.T, admins ...types.Identity) *testEnv {
	t.Helper()

	env := &testEnv{
		wallet:   newFakeWallet(),
		regs:     newFakeRegistrationStore(),
		payStore: newFakePaymentStore(),
		cache:    newFakeBalanceCache(),
		journal:  &fakeJournal{},
		registry: NewRegistry(),
	}

	isAdmin := func(identity types.Identity) bool {
		for _, admin := range admins {
			if admin == identity {
				return true
			}
		}
		return false
	}

	env.accounts = NewAccountService(env.registry, env.wallet, env.regs, env.payStore, env.cache, isAdmin)
	env.addresses = NewAddressService(env.wallet, env.accounts)
	env.payments = NewPaymentService(env.accounts, env.addresses, env.wallet, env.payStore, env.journal, 1)
	env.commands = NewCommandService(env.accounts, env.payments, 10)
	env.resolver = NewResolver("wallet.localhost", env.accounts, env.addresses)
	return env
}
