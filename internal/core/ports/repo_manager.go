package ports

import "github.com/Anya-org/dlcd/internal/core/domain"

type RepoManager interface {
	Events() domain.EventRepository
	Contracts() domain.ContractRepository
	Close()
}
