package ports

import "context"

// ContractLocker serializes writes per contract id. Locks on distinct ids
// never block each other.
type ContractLocker interface {
	// Lock blocks until the lock for the given contract is acquired or the
	// context is done. The returned func releases the lock.
	Lock(ctx context.Context, contractId string) (func(), error)
	Close()
}
