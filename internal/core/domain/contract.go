package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	"github.com/google/uuid"
)

const (
	ContractStateUndefined ContractState = iota
	ContractStateOffered
	ContractStateAccepted
	ContractStateSigned
	ContractStateBroadcast
	ContractStateExecuted
	ContractStateRefunded
	ContractStateFailed
)

type ContractState int

func (s ContractState) String() string {
	switch s {
	case ContractStateOffered:
		return "offered"
	case ContractStateAccepted:
		return "accepted"
	case ContractStateSigned:
		return "signed"
	case ContractStateBroadcast:
		return "broadcast"
	case ContractStateExecuted:
		return "executed"
	case ContractStateRefunded:
		return "refunded"
	case ContractStateFailed:
		return "failed"
	default:
		return "undefined"
	}
}

func (s ContractState) IsTerminal() bool {
	return s == ContractStateExecuted || s == ContractStateRefunded ||
		s == ContractStateFailed
}

func ParseContractState(state string) (ContractState, error) {
	for s := ContractStateOffered; s <= ContractStateFailed; s++ {
		if strings.EqualFold(s.String(), state) {
			return s, nil
		}
	}
	return ContractStateUndefined, fmt.Errorf("unknown contract state %s", state)
}

type Role int

const (
	RoleOffer Role = iota
	RoleAccept
)

func (r Role) String() string {
	if r == RoleAccept {
		return "accept"
	}
	return "offer"
}

// PartySignatures are the signatures one party hands to the other. CET
// signatures are adaptor signatures keyed by outcome, one per k-of-n oracle
// subset.
type PartySignatures struct {
	CetSignatures   map[string][]string
	RefundSignature string
}

func (s *PartySignatures) validate(outcomes []string, numOfSubsets int) error {
	if s == nil {
		return fmt.Errorf("missing signatures")
	}
	if len(s.RefundSignature) <= 0 {
		return fmt.Errorf("missing refund signature")
	}
	if len(s.CetSignatures) != len(outcomes) {
		return fmt.Errorf(
			"expected CET signatures for %d outcomes, got %d",
			len(outcomes), len(s.CetSignatures),
		)
	}
	for _, outcome := range outcomes {
		sigs, ok := s.CetSignatures[outcome]
		if !ok {
			return fmt.Errorf("missing CET signatures for outcome %s", outcome)
		}
		if len(sigs) != numOfSubsets {
			return fmt.Errorf(
				"expected %d CET signatures for outcome %s, got %d",
				numOfSubsets, outcome, len(sigs),
			)
		}
	}
	return nil
}

// ContractTxids are the ids of the contract transactions, all deterministic
// once the terms are complete.
type ContractTxids struct {
	Funding string
	Refund  string
	Cets    map[string]string
}

// Contract is the aggregate driven through the DLC lifecycle. Data only
// valid from a certain state on is nil before: remote and local signatures
// are both set only from Signed on.
type Contract struct {
	Id               string
	Role             Role
	Terms            ContractTerms
	Announcements    []oracle.Announcement
	LocalSignatures  *PartySignatures
	RemoteSignatures *PartySignatures
	Txids            ContractTxids
	FundingTx        string
	Funded           bool
	SettlementTxid   string
	Outcome          string
	FailReason       string
	FailInvariant    string
	State            ContractState
	CreatedAt        int64
	UpdatedAt        int64
	Version          uint
	Changes          []Event `json:"-"`
}

func NewContract() *Contract {
	return &Contract{
		Id:      uuid.New().String(),
		Changes: make([]Event, 0),
	}
}

func NewContractFromEvents(events []Event) *Contract {
	c := &Contract{}

	for _, event := range events {
		c.on(event, true)
	}

	c.Changes = append([]Event{}, events...)

	return c
}

func (c *Contract) Events() []Event {
	return c.Changes
}

// Offer records the terms, either as created by the offerer or as received
// by the acceptor.
func (c *Contract) Offer(
	role Role, terms ContractTerms, announcements []oracle.Announcement,
) ([]Event, error) {
	if c.State != ContractStateUndefined {
		return nil, fmt.Errorf("not in a valid stage to offer contract")
	}
	if err := terms.Validate(); err != nil {
		return nil, err
	}
	if len(announcements) != len(terms.Oracles) {
		return nil, fmt.Errorf(
			"expected %d oracle announcements, got %d",
			len(terms.Oracles), len(announcements),
		)
	}

	event := ContractOffered{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeContractOffered,
		},
		Role:          role,
		Terms:         terms,
		Announcements: announcements,
		Timestamp:     time.Now().Unix(),
	}
	c.raise(event)

	return []Event{event}, nil
}

// Accept completes the terms with the acceptor params and records the
// acceptor's signatures. Those are remote for the offerer, local for the
// acceptor. Signatures must already be verified by the caller.
func (c *Contract) Accept(
	params PartyParams, sigs PartySignatures, txids ContractTxids,
) ([]Event, error) {
	if c.State != ContractStateOffered {
		return nil, fmt.Errorf("not in a valid stage to accept contract")
	}
	terms := c.Terms
	terms.Accept = params
	if err := terms.ValidateComplete(); err != nil {
		return nil, err
	}
	if err := sigs.validate(terms.OutcomeLabels(), c.NumOfOracleSubsets()); err != nil {
		return nil, err
	}
	if err := txids.validate(terms.OutcomeLabels()); err != nil {
		return nil, err
	}

	event := ContractAccepted{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeContractAccepted,
		},
		AcceptParams: params,
		Signatures:   sigs,
		Txids:        txids,
		Timestamp:    time.Now().Unix(),
	}
	c.raise(event)

	return []Event{event}, nil
}

// Sign records the offerer's signatures, local for the offerer, remote for
// the acceptor. The acceptor also records the fully signed funding tx.
func (c *Contract) Sign(sigs PartySignatures, fundingTx string) ([]Event, error) {
	if c.State != ContractStateAccepted {
		return nil, fmt.Errorf("not in a valid stage to sign contract")
	}
	if c.acceptorSignatures() == nil {
		return nil, fmt.Errorf("missing acceptor signatures")
	}
	if err := sigs.validate(c.Terms.OutcomeLabels(), c.NumOfOracleSubsets()); err != nil {
		return nil, err
	}
	if c.Role == RoleAccept && len(fundingTx) <= 0 {
		return nil, fmt.Errorf("missing signed funding tx")
	}

	event := ContractSigned{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeContractSigned,
		},
		Signatures: sigs,
		FundingTx:  fundingTx,
		Timestamp:  time.Now().Unix(),
	}
	c.raise(event)

	return []Event{event}, nil
}

func (c *Contract) Broadcast(txid string) ([]Event, error) {
	if c.State != ContractStateSigned {
		return nil, fmt.Errorf("not in a valid stage to broadcast funding tx")
	}
	if txid != c.Txids.Funding {
		return nil, fmt.Errorf(
			"funding txid mismatch, expected %s got %s", c.Txids.Funding, txid,
		)
	}

	event := FundingBroadcast{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeFundingBroadcast,
		},
		Txid:      txid,
		Timestamp: time.Now().Unix(),
	}
	c.raise(event)

	return []Event{event}, nil
}

func (c *Contract) Execute(outcome, txid string) ([]Event, error) {
	if !c.IsRefundable() {
		return nil, fmt.Errorf("not in a valid stage to execute contract")
	}
	cetTxid, ok := c.Txids.Cets[outcome]
	if !ok {
		return nil, fmt.Errorf("outcome %s not in contract outcome set", outcome)
	}
	if cetTxid != txid {
		return nil, fmt.Errorf(
			"CET txid mismatch for outcome %s, expected %s got %s", outcome, cetTxid, txid,
		)
	}

	event := ContractExecuted{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeContractExecuted,
		},
		Outcome:   outcome,
		Txid:      txid,
		Timestamp: time.Now().Unix(),
	}
	c.raise(event)

	return []Event{event}, nil
}

func (c *Contract) Refund(txid string) ([]Event, error) {
	if !c.IsRefundable() {
		return nil, fmt.Errorf("not in a valid stage to refund contract")
	}
	if txid != c.Txids.Refund {
		return nil, fmt.Errorf(
			"refund txid mismatch, expected %s got %s", c.Txids.Refund, txid,
		)
	}

	event := ContractRefunded{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeContractRefunded,
		},
		Txid:      txid,
		Timestamp: time.Now().Unix(),
	}
	c.raise(event)

	return []Event{event}, nil
}

// Fail moves the contract to the failed state, it's a no-op for contracts
// already in a terminal state.
func (c *Contract) Fail(invariant string, err error) []Event {
	if c.State.IsTerminal() {
		return nil
	}
	event := ContractFailed{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeContractFailed,
		},
		Reason:    err.Error(),
		Invariant: invariant,
		Timestamp: time.Now().Unix(),
	}
	c.raise(event)

	return []Event{event}
}

func (c *Contract) IsTerminal() bool {
	return c.State.IsTerminal()
}

// IsRefundable tells whether the funding output is still locked by the
// contract. A contract failing after the funding tx is published can still
// be refunded, or settled by the counterparty.
func (c *Contract) IsRefundable() bool {
	return c.State == ContractStateBroadcast ||
		(c.State == ContractStateFailed && c.Funded)
}

// NumOfOracleSubsets is the number of adaptor signatures expected per CET.
func (c *Contract) NumOfOracleSubsets() int {
	return len(oracle.Combinations(len(c.Terms.Oracles), int(c.Terms.Threshold)))
}

func (c *Contract) Announcement(oracleId string) (*oracle.Announcement, error) {
	for i, id := range c.Terms.Oracles {
		if id == oracleId && i < len(c.Announcements) {
			ann := c.Announcements[i]
			return &ann, nil
		}
	}
	return nil, fmt.Errorf("no announcement for oracle %s", oracleId)
}

func (c *Contract) acceptorSignatures() *PartySignatures {
	if c.Role == RoleOffer {
		return c.RemoteSignatures
	}
	return c.LocalSignatures
}

func (c *Contract) on(event Event, replayed bool) {
	switch e := event.(type) {
	case ContractOffered:
		c.Id = e.Id
		c.Role = e.Role
		c.Terms = e.Terms
		c.Announcements = append([]oracle.Announcement{}, e.Announcements...)
		c.State = ContractStateOffered
		c.CreatedAt = e.Timestamp
		c.UpdatedAt = e.Timestamp
	case ContractAccepted:
		c.Terms.Accept = e.AcceptParams
		c.Txids = e.Txids
		sigs := e.Signatures
		if c.Role == RoleOffer {
			c.RemoteSignatures = &sigs
		} else {
			c.LocalSignatures = &sigs
		}
		c.State = ContractStateAccepted
		c.UpdatedAt = e.Timestamp
	case ContractSigned:
		sigs := e.Signatures
		if c.Role == RoleOffer {
			c.LocalSignatures = &sigs
		} else {
			c.RemoteSignatures = &sigs
		}
		c.FundingTx = e.FundingTx
		c.State = ContractStateSigned
		c.UpdatedAt = e.Timestamp
	case FundingBroadcast:
		c.Funded = true
		c.State = ContractStateBroadcast
		c.UpdatedAt = e.Timestamp
	case ContractExecuted:
		c.Outcome = e.Outcome
		c.SettlementTxid = e.Txid
		c.State = ContractStateExecuted
		c.UpdatedAt = e.Timestamp
	case ContractRefunded:
		c.SettlementTxid = e.Txid
		c.State = ContractStateRefunded
		c.UpdatedAt = e.Timestamp
	case ContractFailed:
		c.FailReason = e.Reason
		c.FailInvariant = e.Invariant
		c.State = ContractStateFailed
		c.UpdatedAt = e.Timestamp
	}

	if replayed {
		c.Version++
	}
}

func (c *Contract) raise(event Event) {
	if c.Changes == nil {
		c.Changes = make([]Event, 0)
	}
	c.Changes = append(c.Changes, event)
	c.on(event, false)
}

func (t ContractTxids) validate(outcomes []string) error {
	if len(t.Funding) <= 0 || len(t.Refund) <= 0 {
		return fmt.Errorf("missing funding or refund txid")
	}
	if len(t.Cets) != len(outcomes) {
		return fmt.Errorf("expected %d CET txids, got %d", len(outcomes), len(t.Cets))
	}
	for _, outcome := range outcomes {
		if _, ok := t.Cets[outcome]; !ok {
			return fmt.Errorf("missing CET txid for outcome %s", outcome)
		}
	}
	return nil
}
