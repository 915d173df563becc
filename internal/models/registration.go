// Package models provides the persisted data models of the wallet gateway.
package models

import (
	"github.com/wallet-gateway/internal/types"
)

// Registration is one row of the registrations table: an identity known to
// the gateway and its optional chosen username. Username is empty until the
// user picks one; non-empty usernames are unique across all registrations.
type Registration struct {
	ID       int64          `json:"id" db:"id"`
	Identity types.Identity `json:"identity" db:"identity"`
	Username string         `json:"username" db:"username"`
}
