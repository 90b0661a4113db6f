package service

import "errors"

var (
	// ErrValidation marks a malformed event or request. Retrying cannot fix it.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a reference to a record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEvent marks a delivery whose effect was already applied.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrLockBusy means another delivery holds the per-user lock; retry later.
	ErrLockBusy = errors.New("resource locked by concurrent delivery")
	// ErrInsufficientFunds is returned when a balance cannot cover an amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// IsPermanent reports whether redelivering the same event can never succeed
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}
