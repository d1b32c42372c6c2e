package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const (
	seedStoreDir = "seed"
	seedKey      = "encrypted_seed"
)

var ErrSeedNotFound = errors.New("encrypted seed not found")

type encryptedSeedDTO struct {
	Seed []byte
}

type seedRepository struct {
	store *badgerhold.Store
}

func NewSeedRepository(baseDir string, logger badger.Logger) (ports.SeedRepository, error) {
	var dir string
	if baseDir != "" {
		dir = filepath.Join(baseDir, seedStoreDir)
	}

	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed store: %w", err)
	}

	return &seedRepository{store: store}, nil
}

func (r *seedRepository) IsInitialized(_ context.Context) bool {
	var dto encryptedSeedDTO
	if err := r.store.Get(seedKey, &dto); err != nil {
		return false
	}
	return len(dto.Seed) > 0
}

func (r *seedRepository) GetEncryptedSeed(_ context.Context) ([]byte, error) {
	var dto encryptedSeedDTO
	if err := r.store.Get(seedKey, &dto); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, ErrSeedNotFound
		}
		return nil, fmt.Errorf("failed to get encrypted seed: %w", err)
	}
	if len(dto.Seed) <= 0 {
		return nil, ErrSeedNotFound
	}
	return dto.Seed, nil
}

func (r *seedRepository) AddEncryptedSeed(_ context.Context, seed []byte) error {
	if err := withRetry(func() error {
		return r.store.Upsert(seedKey, encryptedSeedDTO{Seed: seed})
	}); err != nil {
		return fmt.Errorf("failed to set encrypted seed: %w", err)
	}
	return nil
}

func (r *seedRepository) Close() {
	if err := r.store.Close(); err != nil {
		log.Errorf("failed to close seed repository: %s", err)
	}
}
