// Package types provides common type definitions for the wallet gateway.
package types

// Identity is the stable external account identifier a user authenticates
// with on the messaging network, e.g. "alice@example.org". The bare form
// (no session resource) is used everywhere as the account key.
type Identity string

// Bare strips the session resource from an identity, if present.
func (i Identity) Bare() Identity {
	for n := 0; n < len(i); n++ {
		if i[n] == '/' {
			return i[:n]
		}
	}
	return i
}

// Identifier is a protocol-legal node string hosted at the gateway, derived
// from a wallet address or a chosen username.
type Identifier string

// Node returns the part of the identifier before the domain separator.
func (id Identifier) Node() string {
	for n := 0; n < len(id); n++ {
		if id[n] == '@' || id[n] == '/' {
			return string(id[:n])
		}
	}
	return string(id)
}

// Amount is a quantity of currency in the smallest unit.
type Amount int64

// TxCategory classifies a completed wallet transaction relative to an account.
type TxCategory string

const (
	// CategorySend represents an outgoing on-chain transaction
	CategorySend TxCategory = "send"
	// CategoryReceive represents an incoming on-chain transaction
	CategoryReceive TxCategory = "receive"
	// CategoryMove represents an internal move between gateway accounts
	CategoryMove TxCategory = "move"
)

// EventType classifies inbound events from the messaging transport.
type EventType string

const (
	// EventMessage is a chat message carrying a command line
	EventMessage EventType = "message"
	// EventPresence is a presence update or probe
	EventPresence EventType = "presence"
	// EventRegister is a registration request
	EventRegister EventType = "register"
	// EventUnregister is an unregistration request
	EventUnregister EventType = "unregister"
)

// PresenceType distinguishes the presence events the gateway reacts to.
type PresenceType string

const (
	PresenceAvailable   PresenceType = "available"
	PresenceUnavailable PresenceType = "unavailable"
	PresenceProbe       PresenceType = "probe"
	PresenceSubscribe   PresenceType = "subscribe"
	PresenceUnsubscribe PresenceType = "unsubscribe"
)

// OrderOutcome is the terminal state of a payment order, recorded in the
// payment journal.
type OrderOutcome string

const (
	OutcomeConfirmed OrderOutcome = "confirmed"
	OutcomeCancelled OrderOutcome = "cancelled"
)
