package redislivestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	contractLockPrefix = "contract:lock:"
	lockPollInterval   = 10 * time.Millisecond
	// A crashed holder can't block a contract for longer than this. Live
	// holders renew the lock every third of it.
	defaultLockTTL = 30 * time.Second
)

var errLockLost = errors.New("lock lost")

type contractLocker struct {
	rdb          *redis.Client
	numOfRetries int
	lockTTL      time.Duration
}

func NewContractLocker(
	rdb *redis.Client, numOfRetries int, lockTTL time.Duration,
) ports.ContractLocker {
	if numOfRetries <= 0 {
		numOfRetries = 1
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &contractLocker{rdb, numOfRetries, lockTTL}
}

func (l *contractLocker) Lock(ctx context.Context, contractId string) (func(), error) {
	key := contractLockPrefix + contractId
	token := uuid.New().String()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire lock for contract %s: %s", contractId, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		l.keepAlive(renewCtx, contractId, key, token)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopRenew()
			<-renewDone
			if err := l.unlock(key, token); err != nil {
				log.WithError(err).Warnf("failed to release lock for contract %s", contractId)
			}
		})
	}, nil
}

func (l *contractLocker) Close() {
	// nolint
	l.rdb.Close()
}

// keepAlive extends the lock expiry until ctx is done or the lock is lost.
func (l *contractLocker) keepAlive(ctx context.Context, contractId, key, token string) {
	ticker := time.NewTicker(l.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := l.renew(ctx, key, token)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errLockLost) {
			log.Warnf("lock for contract %s expired while held", contractId)
			return
		}
		log.WithError(err).Warnf("failed to renew lock for contract %s", contractId)
	}
}

// renew resets the key expiry only if it still holds our token.
func (l *contractLocker) renew(ctx context.Context, key, token string) error {
	return l.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return errLockLost
		}
		if err != nil {
			return err
		}
		if current != token {
			return errLockLost
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.PExpire(ctx, key, l.lockTTL)
			return nil
		})
		return err
	}, key)
}

// unlock deletes the key only if it still holds our token.
func (l *contractLocker) unlock(key, token string) error {
	ctx := context.Background()
	var err error
	for attempt := 0; attempt < l.numOfRetries; attempt++ {
		err = l.rdb.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			if current != token {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)
		if err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return err
}
