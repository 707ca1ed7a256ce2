package ledger

import "errors"

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInactiveAccount   = errors.New("account is not active")
	ErrAccountNotOwned   = errors.New("account is not owned by user")
	ErrInvalidAccount    = errors.New("invalid account")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrInactiveUser      = errors.New("user is not active")
	ErrNotHeld           = errors.New("transaction is not awaiting approval")
	ErrUserNotFound      = errors.New("active user not found")
	// ErrLockTimeout means the accounts of the user stayed locked for longer
	// than the configured wait. The operation had no effect and may be retried.
	ErrLockTimeout = errors.New("timed out waiting for account lock")
)

// IsRetryable reports whether err left no effect behind and the caller may
// repeat the operation unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
