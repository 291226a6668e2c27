package bank

import "context"

// Locker guards critical sections keyed by business identity (a product
// and quarter for interest batches, an account for FD transitions).
// Acquire does not wait: a held key fails with ErrOperationInProgress.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// BatchLockKey is the lock key for posting or reversing a quarter.
func BatchLockKey(productCode, quarterKey string) string {
	return "interest:" + productCode + ":" + quarterKey
}

// AccountLockKey is the lock key for single-account transitions: fixed
// deposit lifecycle steps and teller movements.
func AccountLockKey(accountID string) string {
	return "fd:" + accountID
}

// NoopLocker never blocks. Single-process tests use it when the store's own
// constraints are what is under test.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }
