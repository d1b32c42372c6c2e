package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Anya-org/dlcd/internal/core/domain"
)

const (
	upsertContract = `
INSERT INTO contract (id, state, data, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    state = EXCLUDED.state,
    data = EXCLUDED.data,
    updated_at = EXCLUDED.updated_at;
`
	selectContract           = `SELECT data FROM contract WHERE id = ?;`
	selectAllContractIds     = `SELECT id FROM contract ORDER BY updated_at;`
	selectContractIdsByState = `SELECT id FROM contract WHERE state IN (%s) ORDER BY updated_at;`
)

type contractRepository struct {
	db *sql.DB
}

func NewContractRepository(config ...interface{}) (domain.ContractRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open contract repository: invalid config, expected db at 0")
	}

	return &contractRepository{db}, nil
}

func (r *contractRepository) Save(ctx context.Context, contract domain.Contract) error {
	data, err := json.Marshal(contract)
	if err != nil {
		return fmt.Errorf("failed to serialize contract: %s", err)
	}

	if _, err := r.db.ExecContext(
		ctx, upsertContract, contract.Id, int64(contract.State), data, contract.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert contract: %w", err)
	}
	return nil
}

func (r *contractRepository) Load(ctx context.Context, id string) (*domain.Contract, error) {
	var data []byte
	if err := r.db.QueryRowContext(ctx, selectContract, id).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrContractNotFound, id)
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}

	var contract domain.Contract
	if err := json.Unmarshal(data, &contract); err != nil {
		return nil, fmt.Errorf("failed to decode contract %s: %s", id, err)
	}
	return &contract, nil
}

func (r *contractRepository) ListByState(
	ctx context.Context, states ...domain.ContractState,
) ([]string, error) {
	query := selectAllContractIds
	args := make([]interface{}, 0, len(states))
	if len(states) > 0 {
		placeholders := make([]string, 0, len(states))
		for _, state := range states {
			placeholders = append(placeholders, "?")
			args = append(args, int64(state))
		}
		query = fmt.Sprintf(selectContractIdsByState, strings.Join(placeholders, ", "))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	// nolint
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *contractRepository) Close() {
	_ = r.db.Close()
}
