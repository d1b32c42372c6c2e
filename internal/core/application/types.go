package application

import (
	"context"
	"time"

	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
)

type Service interface {
	Start() error
	Stop()
	// CreateContract is called by the offerer, the returned message is sent
	// to the counterparty.
	CreateContract(ctx context.Context, req CreateContractRequest) (*OfferMessage, error)
	// AcceptContract is called by the acceptor with the received offer.
	AcceptContract(ctx context.Context, offer OfferMessage) (*AcceptMessage, error)
	// SignContract is called by the offerer with the received accept message.
	SignContract(ctx context.Context, accept AcceptMessage) (*SignMessage, error)
	// FinalizeContract is called by the acceptor with the received sign
	// message, it completes and broadcasts the funding tx.
	FinalizeContract(ctx context.Context, sign SignMessage) (*ContractStatus, error)
	GetContractStatus(ctx context.Context, contractId string) (*ContractStatus, error)
	ListContracts(ctx context.Context, states ...domain.ContractState) ([]ContractStatus, error)
	// Settle broadcasts the CET of the outcome attested by the oracles.
	Settle(ctx context.Context, contractId string) (*ContractStatus, error)
	// Refund broadcasts the refund tx once the timeout is reached.
	Refund(ctx context.Context, contractId string) (*ContractStatus, error)
	GetInfo(ctx context.Context) (*ServiceInfo, error)
	// ListAnnouncements returns the events announced by one of the
	// configured oracles.
	ListAnnouncements(ctx context.Context, oracleId string) ([]oracle.Announcement, error)
}

type Config struct {
	Network          string
	Oracles          []string
	OracleThreshold  uint32
	ContractTimeout  uint32
	MaxContractValue uint64
	MinConfirmations uint32
	PollInterval     time.Duration
	MaxPollInterval  time.Duration
}

type CreateContractRequest struct {
	EventId          string
	Oracles          []string
	Threshold        uint32
	Outcomes         []domain.Payout
	OfferCollateral  uint64
	AcceptCollateral uint64
	FeeRate          uint64
	// Timeout is the refund block height, if zero it's set to the current
	// tip plus the configured contract timeout.
	Timeout uint32
}

type OfferMessage struct {
	ContractId    string                `json:"contractId"`
	Terms         domain.ContractTerms  `json:"terms"`
	Announcements []oracle.Announcement `json:"announcements"`
}

type AcceptMessage struct {
	ContractId   string                 `json:"contractId"`
	TermsHash    string                 `json:"termsHash"`
	AcceptParams domain.PartyParams     `json:"acceptParams"`
	Signatures   domain.PartySignatures `json:"signatures"`
}

type SignMessage struct {
	ContractId string                 `json:"contractId"`
	Signatures domain.PartySignatures `json:"signatures"`
	// FundingPsbt is the base64 funding tx with the offerer inputs signed.
	FundingPsbt string `json:"fundingPsbt"`
}

type ContractStatus struct {
	Id             string               `json:"id"`
	Role           string               `json:"role"`
	State          string               `json:"state"`
	Terms          domain.ContractTerms `json:"terms"`
	Txids          domain.ContractTxids `json:"txids"`
	Outcome        string               `json:"outcome,omitempty"`
	SettlementTxid string               `json:"settlementTxid,omitempty"`
	FailReason     string               `json:"failReason,omitempty"`
	FailInvariant  string               `json:"failInvariant,omitempty"`
	CreatedAt      int64                `json:"createdAt"`
	UpdatedAt      int64                `json:"updatedAt"`
}

type ServiceInfo struct {
	Network          string   `json:"network"`
	FundingPubKey    string   `json:"fundingPubKey"`
	Address          string   `json:"address"`
	Oracles          []string `json:"oracles"`
	OracleThreshold  uint32   `json:"oracleThreshold"`
	ContractTimeout  uint32   `json:"contractTimeout"`
	MaxContractValue uint64   `json:"maxContractValue"`
	TipHeight        uint32   `json:"tipHeight"`
}

func newContractStatus(c *domain.Contract) ContractStatus {
	return ContractStatus{
		Id:             c.Id,
		Role:           c.Role.String(),
		State:          c.State.String(),
		Terms:          c.Terms,
		Txids:          c.Txids,
		Outcome:        c.Outcome,
		SettlementTxid: c.SettlementTxid,
		FailReason:     c.FailReason,
		FailInvariant:  c.FailInvariant,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}
