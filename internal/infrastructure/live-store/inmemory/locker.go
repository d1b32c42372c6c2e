package inmemorylivestore

import (
	"context"
	"sync"

	"github.com/Anya-org/dlcd/internal/core/ports"
)

type lockEntry struct {
	ch   chan struct{}
	refs int
}

type contractLocker struct {
	lock  sync.Mutex
	locks map[string]*lockEntry
}

func NewContractLocker() ports.ContractLocker {
	return &contractLocker{
		locks: make(map[string]*lockEntry),
	}
}

func (l *contractLocker) Lock(ctx context.Context, contractId string) (func(), error) {
	l.lock.Lock()
	entry, ok := l.locks[contractId]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[contractId] = entry
	}
	entry.refs++
	l.lock.Unlock()

	select {
	case entry.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.ch
				l.release(contractId, entry)
			})
		}, nil
	case <-ctx.Done():
		l.release(contractId, entry)
		return nil, ctx.Err()
	}
}

func (l *contractLocker) Close() {}

// release drops the entry once nobody holds or waits for it.
func (l *contractLocker) release(contractId string, entry *lockEntry) {
	l.lock.Lock()
	defer l.lock.Unlock()

	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, contractId)
	}
}
