package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const contractStoreDir = "contracts"

// contractDTO keeps the contract as json, the state is stored in clear to be
// indexed.
type contractDTO struct {
	Id        string
	State     domain.ContractState `badgerhold:"index"`
	UpdatedAt int64
	Data      []byte
}

type contractRepository struct {
	store *badgerhold.Store
}

func NewContractRepository(config ...interface{}) (domain.ContractRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, contractStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open contract store: %s", err)
	}

	return &contractRepository{store}, nil
}

func (r *contractRepository) Save(ctx context.Context, contract domain.Contract) error {
	data, err := json.Marshal(contract)
	if err != nil {
		return fmt.Errorf("failed to serialize contract: %s", err)
	}
	dto := contractDTO{
		Id:        contract.Id,
		State:     contract.State,
		UpdatedAt: contract.UpdatedAt,
		Data:      data,
	}

	var upsertFn func() error
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		upsertFn = func() error {
			return r.store.TxUpsert(tx, contract.Id, dto)
		}
	} else {
		upsertFn = func() error {
			return r.store.Upsert(contract.Id, dto)
		}
	}
	return withRetry(upsertFn)
}

func (r *contractRepository) Load(ctx context.Context, id string) (*domain.Contract, error) {
	var dto contractDTO
	if err := r.store.Get(id, &dto); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrContractNotFound, id)
		}
		return nil, err
	}

	var contract domain.Contract
	if err := json.Unmarshal(dto.Data, &contract); err != nil {
		return nil, fmt.Errorf("failed to decode contract %s: %s", id, err)
	}
	return &contract, nil
}

func (r *contractRepository) ListByState(
	ctx context.Context, states ...domain.ContractState,
) ([]string, error) {
	query := badgerhold.Where("Id").Ne("")
	if len(states) > 0 {
		values := make([]interface{}, 0, len(states))
		for _, state := range states {
			values = append(values, state)
		}
		query = badgerhold.Where("State").In(values...)
	}

	var dtos []contractDTO
	if err := r.store.Find(&dtos, query.SortBy("UpdatedAt")); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(dtos))
	for _, dto := range dtos {
		ids = append(ids, dto.Id)
	}
	return ids, nil
}

func (r *contractRepository) Close() {
	// nolint
	r.store.Close()
}
