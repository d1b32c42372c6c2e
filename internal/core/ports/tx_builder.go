package ports

import (
	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	"github.com/btcsuite/btcd/wire"
)

// TxBuilder builds the contract transactions. Every method is deterministic:
// both counterparties derive byte-identical transactions from the same terms.
type TxBuilder interface {
	// BuildFunding builds the unsigned funding tx locking the collateral of
	// both parties into the 2-of-2 funding output.
	BuildFunding(terms domain.ContractTerms) (*wire.MsgTx, error)
	// BuildCets builds one CET per outcome, keyed by outcome.
	BuildCets(
		terms domain.ContractTerms, announcements []oracle.Announcement,
	) (map[string]*wire.MsgTx, error)
	// BuildRefund builds the refund tx, timelocked at terms.Timeout.
	BuildRefund(terms domain.ContractTerms) (*wire.MsgTx, error)
	// Sighash returns the digest to sign for a tx spending the funding output.
	Sighash(terms domain.ContractTerms, tx *wire.MsgTx) ([]byte, error)
	// FinalizeSpend adds the funding output witness to a CET or refund tx,
	// signatures are keyed by hex encoded x-only funding pubkey.
	FinalizeSpend(
		terms domain.ContractTerms, tx *wire.MsgTx, signatures map[string][]byte,
	) (*wire.MsgTx, error)
	// FundingOutput returns the funding output and the outpoint spent by CETs
	// and refund tx.
	FundingOutput(terms domain.ContractTerms) (*wire.TxOut, *wire.OutPoint, error)
}
