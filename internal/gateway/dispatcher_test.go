package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-gateway/internal/config"
	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/models"
	"github.com/wallet-gateway/internal/service"
	"github.com/wallet-gateway/internal/storage"
	"github.com/wallet-gateway/internal/types"
	"github.com/wallet-gateway/internal/wallet"
)

// stubWallet is the minimal wallet backend the dispatcher paths touch.
type stubWallet struct {
	balances map[types.Identity]types.Amount
	valid    map[string]types.Identity
}

func (w *stubWallet) ValidateAddress(_ context.Context, address string) (wallet.AddressInfo, error) {
	owner, ok := w.valid[address]
	return wallet.AddressInfo{IsValid: ok, Address: address, Account: string(owner)}, nil
}

func (w *stubWallet) Balance(_ context.Context, account types.Identity) (types.Amount, error) {
	return w.balances[account], nil
}

func (w *stubWallet) ReceivedByAccount(context.Context, types.Identity) (types.Amount, error) {
	return 0, nil
}

func (w *stubWallet) ReceivedByAddress(context.Context, string) (types.Amount, error) {
	return 0, nil
}

func (w *stubWallet) AddressesByAccount(_ context.Context, account types.Identity) ([]string, error) {
	var addresses []string
	for address, owner := range w.valid {
		if owner == account {
			addresses = append(addresses, address)
		}
	}
	return addresses, nil
}

func (w *stubWallet) NewAddress(context.Context, types.Identity) (string, error) {
	return "addrNew", nil
}

func (w *stubWallet) SetAccountLabel(context.Context, string, types.Identity) error {
	return nil
}

func (w *stubWallet) SendFrom(_ context.Context, from types.Identity, _ string, amount types.Amount, _ int, _ string) (string, error) {
	if w.balances[from] < amount {
		return "", gwerrors.Wrap(gwerrors.ErrInsufficientFunds, nil)
	}
	w.balances[from] -= amount
	return "tx-1", nil
}

func (w *stubWallet) Move(context.Context, types.Identity, types.Identity, types.Amount, int, string) (bool, error) {
	return true, nil
}

func (w *stubWallet) ListTransactions(context.Context, types.Identity, int) ([]wallet.Transaction, error) {
	return nil, nil
}

// stubRegistrations keeps registrations in a map.
type stubRegistrations struct {
	mu   sync.Mutex
	rows map[types.Identity]string
}

func (s *stubRegistrations) Create(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[reg.Identity]; ok {
		return gwerrors.Wrap(gwerrors.ErrAlreadyRegistered, nil)
	}
	s.rows[reg.Identity] = reg.Username
	return nil
}

func (s *stubRegistrations) Delete(_ context.Context, identity types.Identity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[identity]; !ok {
		return 0, nil
	}
	delete(s.rows, identity)
	return 1, nil
}

func (s *stubRegistrations) Exists(_ context.Context, identity types.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[identity]
	return ok, nil
}

func (s *stubRegistrations) UsernameOf(_ context.Context, identity types.Identity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[identity], nil
}

func (s *stubRegistrations) IdentityByUsername(_ context.Context, username string) (types.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for identity, name := range s.rows {
		if name != "" && name == username {
			return identity, nil
		}
	}
	return "", gwerrors.Wrap(gwerrors.ErrUnknownUser, nil)
}

func (s *stubRegistrations) UsernameTaken(_ context.Context, username string, except types.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for identity, name := range s.rows {
		if name == username && identity != except {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRegistrations) UpdateUsername(_ context.Context, identity types.Identity, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[identity]; ok {
		s.rows[identity] = username
	}
	return nil
}

func (s *stubRegistrations) ListIdentities(_ context.Context) ([]types.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var identities []types.Identity
	for identity := range s.rows {
		identities = append(identities, identity)
	}
	return identities, nil
}

// stubPayments mirrors the claim semantics of the Postgres repository.
type stubPayments struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]models.PendingPayment
}

func (s *stubPayments) Insert(_ context.Context, p *models.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	s.rows[p.ID] = *p
	return nil
}

func (s *stubPayments) FindPending(_ context.Context, sender types.Identity, code string, amount types.Amount) ([]models.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []models.PendingPayment
	for _, row := range s.rows {
		if row.FromIdentity == sender && (code == "" || row.Code == code) && (amount <= 0 || row.Amount == amount) {
			matches = append(matches, row)
		}
	}
	if len(matches) == 0 {
		return nil, gwerrors.Wrap(gwerrors.ErrPaymentNotFound, nil)
	}
	return matches, nil
}

func (s *stubPayments) ListBySender(_ context.Context, sender types.Identity) ([]models.PendingPayment, error) {
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

func (s *stubPayments) Claim(_ context.Context, id int64) (storage.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, gwerrors.Wrap(gwerrors.ErrPaymentNotFound, nil)
	}
	delete(s.rows, id)
	return &stubClaim{store: s, row: row}, nil
}

type stubClaim struct {
	store *stubPayments
	row   models.PendingPayment
	done  bool
}

func (c *stubClaim) Order() models.PendingPayment { return c.row }
func (c *stubClaim) Commit(context.Context) error { c.done = true; return nil }
func (c *stubClaim) Rollback(context.Context) {
	if c.done {
		return
	}
	c.done = true
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.rows[c.row.ID] = c.row
}

type stubCache struct{}

func (stubCache) LastBalance(context.Context, types.Identity) (types.Amount, bool, error) {
	return 0, false, nil
}
func (stubCache) SetLastBalance(context.Context, types.Identity, types.Amount) error { return nil }
func (stubCache) ForgetBalance(context.Context, types.Identity) error                { return nil }

// recordingSink captures outbound messages and presence updates.
type recordingSink struct {
	mu        sync.Mutex
	messages  []sinkMessage
	presences []sinkPresence
}

type sinkMessage struct {
	to   types.Identity
	from types.Identifier
	body string
}

type sinkPresence struct {
	to       types.Identity
	presence types.PresenceType
	status   string
}

func (s *recordingSink) SendMessage(_ context.Context, to types.Identity, from types.Identifier, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, sinkMessage{to: to, from: from, body: body})
	return nil
}

func (s *recordingSink) SendPresence(_ context.Context, to types.Identity, _ types.Identifier, presence types.PresenceType, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presences = append(s.presences, sinkPresence{to: to, presence: presence, status: status})
	return nil
}

func (s *recordingSink) lastMessage(t *testing.T) sinkMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.messages)
	return s.messages[len(s.messages)-1]
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *stubWallet, *recordingSink) {
	t.Helper()

	w := &stubWallet{
		balances: map[types.Identity]types.Amount{"alice@example.org": 100},
		valid:    map[string]types.Identity{"addr1": ""},
	}
	regs := &stubRegistrations{rows: map[types.Identity]string{"alice@example.org": "alice"}}
	pays := &stubPayments{rows: make(map[int64]models.PendingPayment)}
	sink := &recordingSink{}

	cfg := &config.GatewayConfig{
		Identity:      "wallet.localhost",
		WarnThreshold: 10,
		CommandRate:   100,
		CommandBurst:  100,
	}

	registry := service.NewRegistry()
	accounts := service.NewAccountService(registry, w, regs, pays, stubCache{}, nil)
	addresses := service.NewAddressService(w, accounts)
	payments := service.NewPaymentService(accounts, addresses, w, pays, nil, 1)
	commands := service.NewCommandService(accounts, payments, cfg.WarnThreshold)
	resolver := service.NewResolver(cfg.Identity, accounts, addresses)

	return NewDispatcher(cfg, accounts, resolver, commands, sink), w, sink
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHandleMessageRepliesFromDestination(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	ctx := testCtx(t)

	d.Handle(ctx, Event{
		Type: types.EventMessage,
		From: "alice@example.org/home",
		To:   "addr1@wallet.localhost",
		Body: "pay 30 lunch",
	})

	msg := sink.lastMessage(t)
	assert.Equal(t, types.Identity("alice@example.org/home"), msg.to)
	assert.Equal(t, types.Identifier("addr1@wallet.localhost"), msg.from)
	assert.Contains(t, msg.body, "lunch")
}

func TestHandleMessageConvertsUserErrors(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	ctx := testCtx(t)

	d.Handle(ctx, Event{
		Type: types.EventMessage,
		From: "alice@example.org",
		To:   "addr1@wallet.localhost",
		Body: "pay nothing",
	})

	assert.Contains(t, sink.lastMessage(t).body, "not an amount")
}

func TestHandleMalformedDestination(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	ctx := testCtx(t)

	d.Handle(ctx, Event{
		Type: types.EventMessage,
		From: "alice@example.org",
		To:   "1abc-!!@wallet.localhost",
		Body: "help",
	})

	assert.Contains(t, sink.lastMessage(t).body, "case-mask")
}

func TestPresenceDrivesBalanceStatus(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	ctx := testCtx(t)

	d.Handle(ctx, Event{
		Type:     types.EventPresence,
		From:     "alice@example.org/home",
		To:       "wallet.localhost",
		Presence: types.PresenceAvailable,
	})

	require.NotEmpty(t, sink.presences)
	p := sink.presences[len(sink.presences)-1]
	assert.Equal(t, types.PresenceAvailable, p.presence)
	assert.Contains(t, p.status, "100")
}

func TestRegisterAndUnregister(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	ctx := testCtx(t)

	d.Handle(ctx, Event{Type: types.EventRegister, From: "bob@example.org", Username: "bob"})
	assert.Contains(t, sink.lastMessage(t).body, "Welcome")

	// Registering twice is answered, not crashed on.
	d.Handle(ctx, Event{Type: types.EventRegister, From: "bob@example.org", Username: "bob"})
	assert.Contains(t, sink.lastMessage(t).body, "already registered")

	d.Handle(ctx, Event{Type: types.EventUnregister, From: "bob@example.org"})
	require.NotEmpty(t, sink.presences)
	assert.Equal(t, types.PresenceUnavailable, sink.presences[len(sink.presences)-1].presence)

	d.Handle(ctx, Event{Type: types.EventUnregister, From: "bob@example.org"})
	assert.Contains(t, sink.lastMessage(t).body, "not registered")
}

func TestRateLimiterThrottles(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	ctx := testCtx(t)

	d.cfg.CommandRate = 0
	d.cfg.CommandBurst = 1

	for i := 0; i < 3; i++ {
		d.Handle(ctx, Event{
			Type: types.EventMessage,
			From: "alice@example.org",
			To:   "wallet.localhost",
			Body: "help",
		})
	}

	assert.Contains(t, sink.lastMessage(t).body, "too fast")
}
