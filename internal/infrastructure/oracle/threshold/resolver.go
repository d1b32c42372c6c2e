package thresholdoracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrConflictingOutcomes = errors.New("oracles attested conflicting outcomes")

type resolver struct {
	client ports.OracleClient
}

func NewResolver(client ports.OracleClient) ports.AttestationResolver {
	return &resolver{client}
}

// Resolve fetches the attestations of all oracles in parallel and returns the
// outcome attested by at least threshold of them. The returned subset is made
// of the lowest oracle indexes attesting the outcome.
func (r *resolver) Resolve(
	ctx context.Context, oracles []string, threshold int,
	announcements []oracle.Announcement,
) (*ports.Resolution, error) {
	if len(oracles) != len(announcements) {
		return nil, fmt.Errorf(
			"got %d announcements for %d oracles", len(announcements), len(oracles),
		)
	}
	if threshold <= 0 || threshold > len(oracles) {
		return nil, fmt.Errorf("invalid threshold %d for %d oracles", threshold, len(oracles))
	}

	attestations := make([]*oracle.Attestation, len(oracles))
	var (
		lock        sync.Mutex
		unreachable int
		// attestations are final, invalid ones never turn valid.
		invalid int
	)

	eg, gctx := errgroup.WithContext(ctx)
	for i, oracleId := range oracles {
		i, oracleId := i, oracleId
		eg.Go(func() error {
			att, err := r.client.FetchAttestation(gctx, oracleId, announcements[i].EventId)
			if err != nil {
				switch {
				case errors.Is(err, ports.ErrAttestationPending):
				case errors.Is(err, ports.ErrOracleUnreachable):
					lock.Lock()
					unreachable++
					lock.Unlock()
				default:
					log.WithError(err).Warnf(
						"ignoring attestation of oracle %s for event %s",
						oracleId, announcements[i].EventId,
					)
					if errors.Is(err, oracle.ErrInvalidAttestation) {
						lock.Lock()
						invalid++
						lock.Unlock()
					}
				}
				return nil
			}
			// The contract stores its own copy of the announcement, the
			// attestation must match that one.
			if err := att.Verify(&announcements[i]); err != nil {
				log.WithError(err).Warnf(
					"attestation of oracle %s does not match the contract announcement",
					oracleId,
				)
				lock.Lock()
				invalid++
				lock.Unlock()
				return nil
			}
			attestations[i] = att
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byOutcome := make(map[string][]int)
	for i, att := range attestations {
		if att == nil {
			continue
		}
		byOutcome[att.Outcome] = append(byOutcome[att.Outcome], i)
	}

	agreed := make([]string, 0)
	for outcome, indexes := range byOutcome {
		if len(indexes) >= threshold {
			agreed = append(agreed, outcome)
		}
	}
	sort.Strings(agreed)

	switch len(agreed) {
	case 0:
		if len(byOutcome) <= 0 && unreachable == len(oracles) {
			return nil, ports.ErrOracleUnreachable
		}
		if len(oracles)-invalid < threshold {
			return nil, fmt.Errorf(
				"%w: %d of %d oracles sent invalid attestations, %d required",
				oracle.ErrInvalidAttestation, invalid, len(oracles), threshold,
			)
		}
		return nil, fmt.Errorf(
			"%w: %d of %d required oracles agree",
			ports.ErrAttestationPending, maxAgreement(byOutcome), threshold,
		)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %v", ErrConflictingOutcomes, agreed)
	}

	outcome := agreed[0]
	subset := byOutcome[outcome][:threshold]
	resolved := make([]*oracle.Attestation, 0, threshold)
	for _, i := range subset {
		resolved = append(resolved, attestations[i])
	}

	return &ports.Resolution{
		Outcome:      outcome,
		Subset:       subset,
		Attestations: resolved,
	}, nil
}

func maxAgreement(byOutcome map[string][]int) int {
	count := 0
	for _, indexes := range byOutcome {
		count = max(count, len(indexes))
	}
	return count
}
