package domain

import "context"

type EventType int

const (
	EventTypeUndefined EventType = iota
	EventTypeContractOffered
	EventTypeContractAccepted
	EventTypeContractSigned
	EventTypeFundingBroadcast
	EventTypeContractExecuted
	EventTypeContractRefunded
	EventTypeContractFailed
)

func (t EventType) String() string {
	switch t {
	case EventTypeContractOffered:
		return "CONTRACT_OFFERED"
	case EventTypeContractAccepted:
		return "CONTRACT_ACCEPTED"
	case EventTypeContractSigned:
		return "CONTRACT_SIGNED"
	case EventTypeFundingBroadcast:
		return "FUNDING_BROADCAST"
	case EventTypeContractExecuted:
		return "CONTRACT_EXECUTED"
	case EventTypeContractRefunded:
		return "CONTRACT_REFUNDED"
	case EventTypeContractFailed:
		return "CONTRACT_FAILED"
	default:
		return "UNDEFINED"
	}
}

type Event interface {
	GetTopic() string
	GetType() EventType
}

type EventRepository interface {
	Save(ctx context.Context, topic, id string, events []Event) error
	Load(ctx context.Context, topic, id string) ([]Event, error)
	Close()
}
