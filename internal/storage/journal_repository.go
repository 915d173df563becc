package storage

import (
	"context"
	"fmt"

	"github.com/wallet-gateway/internal/models"
	"github.com/wallet-gateway/internal/types"
)

// JournalRepository appends terminal payment outcomes to the ClickHouse
// journal. The journal is append-only audit data; the gateway never reads it
// back on the hot path.
type JournalRepository struct {
	db *ClickHouseDB
}

// NewJournalRepository creates a new journal repository
func NewJournalRepository(db *ClickHouseDB) *JournalRepository {
	return &JournalRepository{db: db}
}

// EnsureSchema creates the journal table if it does not exist.
func (r *JournalRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS payment_journal (
			date DateTime,
			sender String,
			recipient String,
			amount Int64,
			fee Int64,
			comment String,
			code String,
			outcome String,
			txid String
		) ENGINE = MergeTree()
		ORDER BY (date, sender)
	`

	if err := r.db.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create journal table: %w", err)
	}

	return nil
}

// Append writes one journal entry.
func (r *JournalRepository) Append(ctx context.Context, entry *models.JournalEntry) error {
	query := `
		INSERT INTO payment_journal (date, sender, recipient, amount, fee, comment, code, outcome, txid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Conn().Exec(ctx, query,
		entry.Date,
		string(entry.Sender),
		entry.Recipient,
		int64(entry.Amount),
		int64(entry.Fee),
		entry.Comment,
		entry.Code,
		string(entry.Outcome),
		entry.TxID,
	)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}

	return nil
}

// RecentBySender returns the latest journal entries of one sender, newest
// first. Serves the ops /journal endpoint, not the command loop.
func (r *JournalRepository) RecentBySender(ctx context.Context, sender types.Identity, limit int) ([]models.JournalEntry, error) {
	query := `
		SELECT date, sender, recipient, amount, fee, comment, code, outcome, txid
		FROM payment_journal
		WHERE sender = ?
		ORDER BY date DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, string(sender), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var (
			e       models.JournalEntry
			snd     string
			amount  int64
			fee     int64
			outcome string
		)
		if err := rows.Scan(&e.Date, &snd, &e.Recipient, &amount, &fee, &e.Comment, &e.Code, &outcome, &e.TxID); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Sender = types.Identity(snd)
		e.Amount = types.Amount(amount)
		e.Fee = types.Amount(fee)
		e.Outcome = types.OrderOutcome(outcome)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal: %w", err)
	}

	return entries, nil
}
