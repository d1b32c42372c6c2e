package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	CryptographicError ErrorKind = iota + 1
	OracleError
	NetworkError
	ProtocolViolation
)

func (k ErrorKind) String() string {
	switch k {
	case CryptographicError:
		return "cryptographic error"
	case OracleError:
		return "oracle error"
	case NetworkError:
		return "network error"
	case ProtocolViolation:
		return "protocol violation"
	default:
		return "unknown error"
	}
}

// Invariants reported by fatal contract errors.
const (
	InvariantTermsHash       = "counterparties agree on the same terms hash"
	InvariantTerms           = "terms are well formed"
	InvariantOutcomeSet      = "outcome set matches the oracle announcement"
	InvariantAnnouncement    = "oracle announcement is signed by the oracle"
	InvariantCetSignatures   = "every CET adaptor signature verifies against the rebuilt CET"
	InvariantRefundSignature = "refund signature verifies against the rebuilt refund tx"
	InvariantFundingTx       = "funding tx matches the rebuilt funding tx"
	InvariantAttestation     = "attestation verifies against the announcement"
	InvariantSettlement      = "settlement signature completes the stored adaptor signature"
	InvariantTimeout         = "no settlement after the refund timeout"
)

var ErrContractNotFound = errors.New("contract not found")

// ContractError carries the context of a failure that happened while
// processing a contract.
type ContractError struct {
	ContractId string
	State      ContractState
	Invariant  string
	Kind       ErrorKind
	Err        error
}

func NewContractError(
	contract *Contract, kind ErrorKind, invariant string, err error,
) *ContractError {
	e := &ContractError{Kind: kind, Invariant: invariant, Err: err}
	if contract != nil {
		e.ContractId = contract.Id
		e.State = contract.State
	}
	return e
}

func (e *ContractError) Error() string {
	if len(e.Invariant) > 0 {
		return fmt.Sprintf(
			"contract %s in state %s: %s, violated invariant: %s: %s",
			e.ContractId, e.State, e.Kind, e.Invariant, e.Err,
		)
	}
	return fmt.Sprintf(
		"contract %s in state %s: %s: %s", e.ContractId, e.State, e.Kind, e.Err,
	)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// Retryable tells whether retrying the failed operation may succeed.
// Cryptographic failures and protocol violations never change on retry.
func (e *ContractError) Retryable() bool {
	switch e.Kind {
	case NetworkError:
		return true
	case OracleError:
		return len(e.Invariant) <= 0
	default:
		return false
	}
}

// IsFatal reports whether err must move the contract to the failed state.
func IsFatal(err error) bool {
	var contractErr *ContractError
	if errors.As(err, &contractErr) {
		return !contractErr.Retryable()
	}
	return false
}
