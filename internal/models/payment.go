package models

import (
	"time"

	"github.com/wallet-gateway/internal/types"
)

// PendingPayment is one row of the payments table: a queued payment order
// awaiting confirmation or cancellation. Recipient is the stored label of
// the target, either a raw wallet address or a username; it is re-resolved
// on rehydration. The row is deleted on both terminal transitions.
type PendingPayment struct {
	ID           int64          `json:"id" db:"id"`
	FromIdentity types.Identity `json:"fromIdentity" db:"from_identity"`
	Date         time.Time      `json:"date" db:"date"`
	Recipient    string         `json:"recipient" db:"recipient"`
	Amount       types.Amount   `json:"amount" db:"amount"`
	Comment      string         `json:"comment" db:"comment"`
	Code         string         `json:"confirmationCode" db:"confirmation_code"`
	Fee          types.Amount   `json:"fee" db:"fee"`
}

// JournalEntry is the audit record appended to the payment journal when an
// order reaches a terminal state. TxID is empty for cancelled orders and for
// internal moves, which produce no chain transaction.
type JournalEntry struct {
	Date      time.Time          `json:"date"`
	Sender    types.Identity     `json:"sender"`
	Recipient string             `json:"recipient"`
	Amount    types.Amount       `json:"amount"`
	Fee       types.Amount       `json:"fee"`
	Comment   string             `json:"comment"`
	Code      string             `json:"code"`
	Outcome   types.OrderOutcome `json:"outcome"`
	TxID      string             `json:"txid"`
}
