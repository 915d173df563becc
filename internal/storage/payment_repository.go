package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/models"
	"github.com/wallet-gateway/internal/types"
)

// PaymentRepository handles the payments table of queued payment orders.
type PaymentRepository struct {
	db *PostgresDB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *PostgresDB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = "id, from_identity, date, recipient, amount, comment, confirmation_code, fee"

// Insert queues a payment order and fills in its generated id.
func (r *PaymentRepository) Insert(ctx context.Context, p *models.PendingPayment) error {
	query := `
		INSERT INTO payments (from_identity, date, recipient, amount, comment, confirmation_code, fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.db.Pool().QueryRow(ctx, query,
		p.FromIdentity, p.Date, p.Recipient, p.Amount, p.Comment, p.Code, p.Fee,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	return nil
}

// FindPending returns the single pending payment of a sender matching the
// optional code and amount filters. No match yields ErrPaymentNotFound; more
// than one match is reported so the caller can ask the user to disambiguate.
func (r *PaymentRepository) FindPending(ctx context.Context, sender types.Identity, code string, amount types.Amount) ([]models.PendingPayment, error) {
	var (
		conditions = []string{"from_identity = $1"}
		args       = []interface{}{sender}
	)
	if code != "" {
		args = append(args, code)
		conditions = append(conditions, fmt.Sprintf("confirmation_code = $%d", len(args)))
	}
	if amount > 0 {
		args = append(args, amount)
		conditions = append(conditions, fmt.Sprintf("amount = $%d", len(args)))
	}

	query := fmt.Sprintf(
		`SELECT %s FROM payments WHERE %s ORDER BY date, id`,
		paymentColumns, strings.Join(conditions, " AND "),
	)

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending payments: %w", err)
	}
	defer rows.Close()

	payments, err := scanPayments(rows)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, gwerrors.WithMessage(gwerrors.ErrPaymentNotFound, "no pending payment matched")
	}

	return payments, nil
}

// ListBySender returns all pending payments of a sender, oldest first.
func (r *PaymentRepository) ListBySender(ctx context.Context, sender types.Identity) ([]models.PendingPayment, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM payments WHERE from_identity = $1 ORDER BY date, id`,
		paymentColumns,
	)

	rows, err := r.db.Pool().Query(ctx, query, sender)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	defer rows.Close()

	return scanPayments(rows)
}

// Count returns the total number of pending payments.
func (r *PaymentRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM payments`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return count, nil
}

// Claim is an exclusive hold on one pending payment. The row is deleted
// inside an open transaction; Commit makes the deletion permanent, Rollback
// restores the row. Exactly one of the two must be called.
type Claim interface {
	Order() models.PendingPayment
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
}

type paymentClaim struct {
	order models.PendingPayment
	tx    pgx.Tx
}

func (c *paymentClaim) Order() models.PendingPayment {
	return c.order
}

// Commit finalizes the claim, removing the payment for good.
func (c *paymentClaim) Commit(ctx context.Context) error {
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit payment claim: %w", err)
	}
	return nil
}

// Rollback releases the claim, putting the payment back in the queue. Safe
// to call after Commit.
func (c *paymentClaim) Rollback(ctx context.Context) {
	_ = c.tx.Rollback(ctx) // nolint:errcheck // rollback after commit is a no-op
}

// Claim deletes a pending payment inside a transaction and hands the open
// transaction back to the caller. Concurrent claims on the same id serialize
// on the row lock; the loser finds no row and gets ErrPaymentNotFound.
func (r *PaymentRepository) Claim(ctx context.Context, id int64) (Claim, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin payment claim: %w", err)
	}

	query := fmt.Sprintf(
		`DELETE FROM payments WHERE id = $1 RETURNING %s`,
		paymentColumns,
	)

	var p models.PendingPayment
	err = tx.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.FromIdentity, &p.Date, &p.Recipient, &p.Amount, &p.Comment, &p.Code, &p.Fee,
	)
	if err != nil {
		_ = tx.Rollback(ctx) // nolint:errcheck
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, gwerrors.WithMessage(gwerrors.ErrPaymentNotFound, "payment %d is no longer pending", id)
		}
		return nil, fmt.Errorf("failed to claim payment: %w", err)
	}

	return &paymentClaim{order: p, tx: tx}, nil
}

func scanPayments(rows pgx.Rows) ([]models.PendingPayment, error) {
	var payments []models.PendingPayment
	for rows.Next() {
		var p models.PendingPayment
		if err := rows.Scan(
			&p.ID, &p.FromIdentity, &p.Date, &p.Recipient, &p.Amount, &p.Comment, &p.Code, &p.Fee,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}

	return payments, nil
}
