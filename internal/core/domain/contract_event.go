package domain

import (
	"encoding/json"
	"fmt"

	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
)

const ContractTopic = "contract"

type ContractEvent struct {
	Id   string
	Type EventType
}

func (c ContractEvent) GetTopic() string   { return ContractTopic }
func (c ContractEvent) GetType() EventType { return c.Type }

type ContractOffered struct {
	ContractEvent
	Role          Role
	Terms         ContractTerms
	Announcements []oracle.Announcement
	Timestamp     int64
}

type ContractAccepted struct {
	ContractEvent
	AcceptParams PartyParams
	Signatures   PartySignatures
	Txids        ContractTxids
	Timestamp    int64
}

type ContractSigned struct {
	ContractEvent
	Signatures PartySignatures
	FundingTx  string
	Timestamp  int64
}

type FundingBroadcast struct {
	ContractEvent
	Txid      string
	Timestamp int64
}

type ContractExecuted struct {
	ContractEvent
	Outcome   string
	Txid      string
	Timestamp int64
}

type ContractRefunded struct {
	ContractEvent
	Txid      string
	Timestamp int64
}

type ContractFailed struct {
	ContractEvent
	Reason    string
	Invariant string
	Timestamp int64
}

// DecodeEvent restores a serialized contract event of the given type.
func DecodeEvent(eventType EventType, data []byte) (Event, error) {
	var (
		event Event
		err   error
	)
	switch eventType {
	case EventTypeContractOffered:
		var e ContractOffered
		err = json.Unmarshal(data, &e)
		event = e
	case EventTypeContractAccepted:
		var e ContractAccepted
		err = json.Unmarshal(data, &e)
		event = e
	case EventTypeContractSigned:
		var e ContractSigned
		err = json.Unmarshal(data, &e)
		event = e
	case EventTypeFundingBroadcast:
		var e FundingBroadcast
		err = json.Unmarshal(data, &e)
		event = e
	case EventTypeContractExecuted:
		var e ContractExecuted
		err = json.Unmarshal(data, &e)
		event = e
	case EventTypeContractRefunded:
		var e ContractRefunded
		err = json.Unmarshal(data, &e)
		event = e
	case EventTypeContractFailed:
		var e ContractFailed
		err = json.Unmarshal(data, &e)
		event = e
	default:
		return nil, fmt.Errorf("unknown event type %d", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %s", eventType, err)
	}
	return event, nil
}
