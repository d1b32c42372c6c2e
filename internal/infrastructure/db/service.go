package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/Anya-org/dlcd/internal/core/ports"
	badgerdb "github.com/Anya-org/dlcd/internal/infrastructure/db/badger"
	sqlitedb "github.com/Anya-org/dlcd/internal/infrastructure/db/sqlite"
	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed sqlite/migration/*
var migrations embed.FS

const sqliteDbFile = "sqlite.db"

var (
	eventStoreTypes = map[string]func(...interface{}) (domain.EventRepository, error){
		"badger": badgerdb.NewEventRepository,
	}
	contractStoreTypes = map[string]func(...interface{}) (domain.ContractRepository, error){
		"badger": badgerdb.NewContractRepository,
		"sqlite": sqlitedb.NewContractRepository,
	}
)

type ServiceConfig struct {
	EventStoreType string
	DataStoreType  string

	EventStoreConfig []interface{}
	DataStoreConfig  []interface{}
}

type service struct {
	eventStore    domain.EventRepository
	contractStore domain.ContractRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	eventStoreFactory, ok := eventStoreTypes[config.EventStoreType]
	if !ok {
		return nil, fmt.Errorf("event store type not supported")
	}
	contractStoreFactory, ok := contractStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("data store type not supported")
	}

	eventStore, err := eventStoreFactory(config.EventStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %s", err)
	}

	var contractStore domain.ContractRepository
	switch config.DataStoreType {
	case "badger":
		contractStore, err = contractStoreFactory(config.DataStoreConfig...)
		if err != nil {
			eventStore.Close()
			return nil, fmt.Errorf("failed to open contract store: %s", err)
		}
	case "sqlite":
		if len(config.DataStoreConfig) != 1 {
			eventStore.Close()
			return nil, fmt.Errorf("invalid data store config")
		}
		baseDir, ok := config.DataStoreConfig[0].(string)
		if !ok {
			eventStore.Close()
			return nil, fmt.Errorf("invalid base directory")
		}

		db, err := sqlitedb.OpenDb(filepath.Join(baseDir, sqliteDbFile))
		if err != nil {
			eventStore.Close()
			return nil, fmt.Errorf("failed to open db: %s", err)
		}
		if err := migrateSqlite(db); err != nil {
			eventStore.Close()
			return nil, err
		}

		contractStore, err = contractStoreFactory(db)
		if err != nil {
			eventStore.Close()
			return nil, fmt.Errorf("failed to open contract store: %s", err)
		}
	}

	return &service{eventStore, contractStore}, nil
}

func (s *service) Events() domain.EventRepository {
	return s.eventStore
}

func (s *service) Contracts() domain.ContractRepository {
	return s.contractStore
}

func (s *service) Close() {
	s.eventStore.Close()
	s.contractStore.Close()
	log.Debug("closed db stores")
}

func migrateSqlite(db *sql.DB) error {
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to init driver: %s", err)
	}
	source, err := iofs.New(migrations, "sqlite/migration")
	if err != nil {
		return fmt.Errorf("failed to embed migrations: %s", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "dlcdb", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %s", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %s", err)
	}
	return nil
}
