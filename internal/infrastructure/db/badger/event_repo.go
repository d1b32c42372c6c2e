package badgerdb

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const eventStoreDir = "events"

type eventDTO struct {
	Key         string `badgerhold:"key"`
	Topic       string `badgerhold:"index"`
	AggregateId string `badgerhold:"index"`
	Seq         int
	Type        domain.EventType
	Data        []byte
}

type eventRepository struct {
	store *badgerhold.Store
}

func NewEventRepository(config ...interface{}) (domain.EventRepository, error) {
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
		dir = filepath.Join(baseDir, eventStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %s", err)
	}

	return &eventRepository{store}, nil
}

// Save appends the events to the stream of the given aggregate.
func (r *eventRepository) Save(
	ctx context.Context, topic, id string, events []domain.Event,
) error {
	if len(events) <= 0 {
		return nil
	}

	return withRetry(func() error {
		return r.store.Badger().Update(func(tx *badger.Txn) error {
			count, err := r.store.TxCount(tx, &eventDTO{}, streamQuery(topic, id))
			if err != nil {
				return err
			}
			for i, event := range events {
				data, err := json.Marshal(event)
				if err != nil {
					return fmt.Errorf("failed to serialize event: %s", err)
				}
				seq := int(count) + i
				dto := eventDTO{
					Key:         fmt.Sprintf("%s:%s:%08d", topic, id, seq),
					Topic:       topic,
					AggregateId: id,
					Seq:         seq,
					Type:        event.GetType(),
					Data:        data,
				}
				if err := r.store.TxInsert(tx, dto.Key, dto); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (r *eventRepository) Load(
	ctx context.Context, topic, id string,
) ([]domain.Event, error) {
	var dtos []eventDTO
	if err := r.store.Find(&dtos, streamQuery(topic, id).SortBy("Seq")); err != nil {
		return nil, err
	}
	if len(dtos) <= 0 {
		return nil, fmt.Errorf("%w: no events for %s %s", domain.ErrContractNotFound, topic, id)
	}

	events := make([]domain.Event, 0, len(dtos))
	for _, dto := range dtos {
		event, err := domain.DecodeEvent(dto.Type, dto.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %s", dto.Key, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *eventRepository) Close() {
	// nolint
	r.store.Close()
}

func streamQuery(topic, id string) *badgerhold.Query {
	return badgerhold.Where("Topic").Eq(topic).And("AggregateId").Eq(id)
}
