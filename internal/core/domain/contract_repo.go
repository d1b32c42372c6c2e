package domain

import "context"

type ContractRepository interface {
	Save(ctx context.Context, contract Contract) error
	Load(ctx context.Context, id string) (*Contract, error)
	ListByState(ctx context.Context, states ...ContractState) ([]string, error)
	Close()
}
