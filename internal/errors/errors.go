// Package errors defines the gateway error taxonomy.
//
// Domain validation and not-found errors are always recovered into a
// user-facing text reply; backend failures are recovered too but logged at
// higher severity; consistency violations are internal errors that must never
// crash event handling.
package errors

import (
	"errors"
	"fmt"
)

// Category represents the category of an error
type Category string

const (
	// CategoryValidation represents domain validation errors
	CategoryValidation Category = "validation"
	// CategoryNotFound represents not-found errors
	CategoryNotFound Category = "not_found"
	// CategoryBackend represents wallet/storage backend failures
	CategoryBackend Category = "backend"
	// CategoryConsistency represents internal consistency violations
	CategoryConsistency Category = "consistency"
)

// Error is an error with a category and a stable code. Two Errors with the
// same code match under errors.Is, so the sentinel values below can be used
// as targets even when a call site attaches its own message or cause.
type Error struct {
	Category Category
	Code     string
	Message  string
	Cause    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Domain validation

var (
	// ErrInvalidAddress: the string is not a valid wallet address.
	ErrInvalidAddress = &Error{Category: CategoryValidation, Code: "INVALID_ADDRESS", Message: "not a valid wallet address"}
	// ErrMalformedIdentifier: the identifier carries an unparseable case-mask suffix.
	ErrMalformedIdentifier = &Error{Category: CategoryValidation, Code: "MALFORMED_IDENTIFIER", Message: "malformed identifier suffix"}
	// ErrPaymentToSelf: sender and recipient resolve to the same account.
	ErrPaymentToSelf = &Error{Category: CategoryValidation, Code: "PAYMENT_TO_SELF", Message: "sender and recipient are the same account"}
	// ErrInvalidPayment: the target cannot receive a payment.
	ErrInvalidPayment = &Error{Category: CategoryValidation, Code: "INVALID_PAYMENT", Message: "target is not a payable recipient"}
	// ErrUsernameNotAvailable: the requested username is invalid or taken.
	ErrUsernameNotAvailable = &Error{Category: CategoryValidation, Code: "USERNAME_NOT_AVAILABLE", Message: "username is invalid or already in use"}
	// ErrAlreadyRegistered: the identity is already registered.
	ErrAlreadyRegistered = &Error{Category: CategoryValidation, Code: "ALREADY_REGISTERED", Message: "identity is already registered"}
	// ErrAlreadyUnregistered: the identity is not registered.
	ErrAlreadyUnregistered = &Error{Category: CategoryValidation, Code: "ALREADY_UNREGISTERED", Message: "identity is not registered"}
	// ErrCommandSyntax: a command line could not be parsed.
	ErrCommandSyntax = &Error{Category: CategoryValidation, Code: "COMMAND_SYNTAX", Message: "bad command syntax"}
	// ErrCommandTarget: the command was sent to the wrong kind of target.
	ErrCommandTarget = &Error{Category: CategoryValidation, Code: "COMMAND_TARGET", Message: "command not applicable to this target"}
	// ErrUnknownCommand: the action word is not recognized.
	ErrUnknownCommand = &Error{Category: CategoryValidation, Code: "UNKNOWN_COMMAND", Message: "unknown command"}
	// ErrAmbiguousCommand: a command prefix matches more than one action.
	ErrAmbiguousCommand = &Error{Category: CategoryValidation, Code: "AMBIGUOUS_COMMAND", Message: "ambiguous command prefix"}
)

// Not found

var (
	// ErrPaymentNotFound: no pending payment matches the given filters.
	ErrPaymentNotFound = &Error{Category: CategoryNotFound, Code: "PAYMENT_NOT_FOUND", Message: "no such pending payment"}
	// ErrUnknownUser: no registered account matches the given name.
	ErrUnknownUser = &Error{Category: CategoryNotFound, Code: "UNKNOWN_USER", Message: "no such user"}
)

// Backend failure

var (
	// ErrInsufficientFunds: the wallet refused the transfer for lack of funds.
	ErrInsufficientFunds = &Error{Category: CategoryBackend, Code: "INSUFFICIENT_FUNDS", Message: "not enough funds on the account"}
	// ErrPayment: the wallet refused the transfer for another reason.
	ErrPayment = &Error{Category: CategoryBackend, Code: "PAYMENT_FAILED", Message: "the payment could not be made"}
)

// Consistency

var (
	// ErrConsistency: an internal invariant was violated.
	ErrConsistency = &Error{Category: CategoryConsistency, Code: "CONSISTENCY", Message: "internal consistency violation"}
)

// WithMessage returns a copy of a sentinel with a more specific message.
// The copy still matches the sentinel under errors.Is.
func WithMessage(sentinel *Error, format string, args ...interface{}) *Error {
	return &Error{
		Category: sentinel.Category,
		Code:     sentinel.Code,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Wrap returns a copy of a sentinel carrying the underlying cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{
		Category: sentinel.Category,
		Code:     sentinel.Code,
		Message:  sentinel.Message,
		Cause:    cause,
	}
}

// Categorize extracts the gateway error from err, or nil if err carries none.
func Categorize(err error) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return nil
}

// IsUserError reports whether the error should be answered with a reply
// instead of being propagated (validation, not-found and backend categories).
func IsUserError(err error) bool {
	gwErr := Categorize(err)
	if gwErr == nil {
		return false
	}
	switch gwErr.Category {
	case CategoryValidation, CategoryNotFound, CategoryBackend:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether the error is a not-found condition.
func IsNotFound(err error) bool {
	gwErr := Categorize(err)
	return gwErr != nil && gwErr.Category == CategoryNotFound
}

// UserMessage renders an error as reply text for the end user.
func UserMessage(err error) string {
	if gwErr := Categorize(err); gwErr != nil {
		return gwErr.Message
	}
	return "Something went wrong. Please try again later."
}
