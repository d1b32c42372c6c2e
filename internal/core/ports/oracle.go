package ports

import (
	"context"
	"errors"

	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
)

var (
	// ErrOracleUnreachable is transient, the request can be retried.
	ErrOracleUnreachable = errors.New("oracle unreachable")
	// ErrAttestationPending means the oracle did not attest the event yet.
	ErrAttestationPending = errors.New("attestation pending")
	ErrUnknownOracle      = errors.New("unknown oracle")
)

// OracleClient fetches and verifies oracle announcements and attestations.
// Returned announcements are always verified, returned attestations are
// always verified against the oracle's announcement of the same event.
type OracleClient interface {
	FetchAnnouncement(ctx context.Context, oracleId, eventId string) (*oracle.Announcement, error)
	FetchAttestation(ctx context.Context, oracleId, eventId string) (*oracle.Attestation, error)
	GetInfo(ctx context.Context, oracleId string) (*oracle.Info, error)
	// ListAnnouncements returns the valid announcements published by the
	// oracle, sorted by event id.
	ListAnnouncements(ctx context.Context, oracleId string) ([]*oracle.Announcement, error)
	Oracles() []string
}

// Resolution is an outcome attested by enough oracles to be actionable.
// Subset holds the indexes of the attesting oracles in the contract oracle
// list, Attestations are in the same order.
type Resolution struct {
	Outcome      string
	Subset       []int
	Attestations []*oracle.Attestation
}

type AttestationResolver interface {
	// Resolve returns ErrAttestationPending until at least threshold oracles
	// agree on the same outcome.
	Resolve(
		ctx context.Context, oracles []string, threshold int,
		announcements []oracle.Announcement,
	) (*Resolution, error)
}
