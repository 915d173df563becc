package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/logging"
	"github.com/wallet-gateway/internal/models"
	"github.com/wallet-gateway/internal/types"
	"github.com/wallet-gateway/internal/wallet"
)

// codeAlphabet excludes visually confusable symbols (0, 1, i, l, o).
const codeAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// codeLength is the number of characters in a confirmation code.
const codeLength = 4

// Journal receives the terminal outcome of every payment order. Appends are
// best-effort audit writes and never block a reply.
type Journal interface {
	Append(ctx context.Context, entry *models.JournalEntry) error
}

// Order is a payment order. It is Proposed when built by NewOrder, Pending
// once Queue has persisted it, and gone after Confirm or Cancel delete the
// row. Exactly one of ToUser and ToAddress is set.
type Order struct {
	Sender    *UserAccount
	ToUser    *UserAccount
	ToAddress *Address
	Amount    types.Amount
	Comment   string
	Fee       types.Amount

	// assigned by Queue, or restored by Load
	ID   int64
	Code string
	Date time.Time
}

// RecipientLabel is the stored form of the order's destination: the raw
// address, or the recipient's username.
func (o *Order) RecipientLabel(ctx context.Context, accounts *AccountService) (string, error) {
	if o.ToAddress != nil {
		return o.ToAddress.Raw, nil
	}
	return accounts.Username(ctx, o.ToUser)
}

// PaymentService implements the two-phase payment workflow.
type PaymentService struct {
	accounts  *AccountService
	addresses *AddressService
	wallet    wallet.Backend
	store     PaymentStore
	journal   Journal
	minConf   int
}

// NewPaymentService creates a new payment service. journal may be nil when
// no audit sink is configured.
func NewPaymentService(
	accounts *AccountService,
	addresses *AddressService,
	backend wallet.Backend,
	store PaymentStore,
	journal Journal,
	minConf int,
) *PaymentService {
	return &PaymentService{
		accounts:  accounts,
		addresses: addresses,
		wallet:    backend,
		store:     store,
		journal:   journal,
		minConf:   minConf,
	}
}

// NewOrder builds a Proposed order after validating the target. Paying an
// address the sender owns, or the sender's own account, is ErrPaymentToSelf;
// a user without a username, an unresolvable target or a non-positive amount
// is ErrInvalidPayment.
func (s *PaymentService) NewOrder(ctx context.Context, sender *UserAccount, target Target, amount types.Amount, comment string, fee types.Amount) (*Order, error) {
	if amount <= 0 {
		return nil, gwerrors.WithMessage(gwerrors.ErrInvalidPayment, "amount must be positive")
	}

	order := &Order{Sender: sender, Amount: amount, Comment: comment, Fee: fee}

	switch target.Kind {
	case TargetAddress:
		owned, err := s.accounts.OwnsAddress(ctx, sender, target.Address.Raw)
		if err != nil {
			return nil, err
		}
		if owned {
			return nil, gwerrors.WithMessage(gwerrors.ErrPaymentToSelf, "you already own this address")
		}
		order.ToAddress = target.Address

	case TargetUser:
		if sender.Equal(target.User) {
			return nil, gwerrors.WithMessage(gwerrors.ErrPaymentToSelf, "you cannot pay yourself")
		}
		username, err := s.accounts.Username(ctx, target.User)
		if err != nil {
			return nil, err
		}
		if username == "" {
			return nil, gwerrors.WithMessage(gwerrors.ErrInvalidPayment, "the recipient has no username to pay to")
		}
		order.ToUser = target.User

	default:
		return nil, gwerrors.WithMessage(gwerrors.ErrInvalidPayment, "this is not something you can pay")
	}

	return order, nil
}

// Queue transitions a Proposed order to Pending: assigns a confirmation
// code, stamps the date and persists the row.
func (s *PaymentService) Queue(ctx context.Context, order *Order) error {
	label, err := order.RecipientLabel(ctx, s.accounts)
	if err != nil {
		return err
	}

	order.Code = newConfirmationCode()
	order.Date = time.Now().UTC()

	row := &models.PendingPayment{
		FromIdentity: order.Sender.Identity,
		Date:         order.Date,
		Recipient:    label,
		Amount:       order.Amount,
		Comment:      order.Comment,
		Code:         order.Code,
		Fee:          order.Fee,
	}
	if err := s.store.Insert(ctx, row); err != nil {
		return err
	}

	order.ID = row.ID
	return nil
}

// Load rehydrates a Pending order of a sender by confirmation code, with the
// amount as an optional disambiguating filter (0 means no filter). The stored
// recipient label is re-resolved, address first, then username.
func (s *PaymentService) Load(ctx context.Context, sender *UserAccount, code string, amount types.Amount) (*Order, error) {
	rows, err := s.store.FindPending(ctx, sender.Identity, code, amount)
	if err != nil {
		return nil, err
	}
	if len(rows) > 1 {
		return nil, gwerrors.WithMessage(gwerrors.ErrPaymentNotFound,
			"several pending payments match %q, repeat the command with the amount", code)
	}

	row := rows[0]
	order := &Order{
		Sender:  sender,
		Amount:  row.Amount,
		Comment: row.Comment,
		Fee:     row.Fee,
		ID:      row.ID,
		Code:    row.Code,
		Date:    row.Date,
	}

	addr, err := s.addresses.FromRaw(ctx, row.Recipient)
	switch {
	case err == nil:
		order.ToAddress = addr
	case errors.Is(err, gwerrors.ErrInvalidAddress):
		u, err := s.accounts.LookupByUsername(ctx, row.Recipient)
		if err != nil {
			return nil, err
		}
		order.ToUser = u
	default:
		return nil, err
	}

	return order, nil
}

// Confirm executes a Pending order: claims the row, invokes the wallet
// transfer and commits the deletion. An address recipient goes through
// SendFrom and yields a transaction id; a user recipient goes through Move
// and yields an empty id, since no chain transaction exists. If the wallet
// refuses, the claim is rolled back and the order stays pending; a
// concurrent confirm or cancel that already took the row yields
// ErrPaymentNotFound.
func (s *PaymentService) Confirm(ctx context.Context, order *Order) (string, error) {
	claim, err := s.store.Claim(ctx, order.ID)
	if err != nil {
		return "", err
	}
	defer claim.Rollback(ctx)

	var txid string
	if order.ToAddress != nil {
		txid, err = s.wallet.SendFrom(ctx, order.Sender.Identity, order.ToAddress.Raw, order.Amount, s.minConf, order.Comment)
	} else {
		_, err = s.wallet.Move(ctx, order.Sender.Identity, order.ToUser.Identity, order.Amount, s.minConf, order.Comment)
	}
	if err != nil {
		return "", err
	}

	if err := claim.Commit(ctx); err != nil {
		return "", err
	}

	s.appendJournal(ctx, claim.Order(), types.OutcomeConfirmed, txid)
	return txid, nil
}

// Cancel deletes a Pending order without touching the wallet. A concurrent
// confirm or cancel that already took the row yields ErrPaymentNotFound.
func (s *PaymentService) Cancel(ctx context.Context, order *Order) error {
	claim, err := s.store.Claim(ctx, order.ID)
	if err != nil {
		return err
	}

	if err := claim.Commit(ctx); err != nil {
		claim.Rollback(ctx)
		return err
	}

	s.appendJournal(ctx, claim.Order(), types.OutcomeCancelled, "")
	return nil
}

func (s *PaymentService) appendJournal(ctx context.Context, row models.PendingPayment, outcome types.OrderOutcome, txid string) {
	if s.journal == nil {
		return
	}

	entry := &models.JournalEntry{
		Date:      time.Now().UTC(),
		Sender:    row.FromIdentity,
		Recipient: row.Recipient,
		Amount:    row.Amount,
		Fee:       row.Fee,
		Comment:   row.Comment,
		Code:      row.Code,
		Outcome:   outcome,
		TxID:      txid,
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("failed to append payment journal entry")
	}
}

// newConfirmationCode draws codeLength distinct symbols from codeAlphabet.
// Codes only need to be unique enough among one sender's pending orders;
// collisions are resolved at lookup time by extra filters.
func newConfirmationCode() string {
	symbols := []byte(codeAlphabet)
	rand.Shuffle(len(symbols), func(i, j int) {
		symbols[i], symbols[j] = symbols[j], symbols[i]
	})
	return string(symbols[:codeLength])
}
