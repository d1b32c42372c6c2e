package oracle

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hashicorp/go-multierror"
)

// Combinations returns all k-sized subsets of {0..n-1} in lexicographic
// order. The order is part of the contract wire format, both parties index
// adaptor signatures by it.
func Combinations(n, k int) [][]int {
	if k <= 0 || k > n {
		return nil
	}
	result := make([][]int, 0)
	combo := make([]int, k)
	var rec func(start, depth int)
	rec = func(start, depth int) {
		if depth == k {
			c := make([]int, k)
			copy(c, combo)
			result = append(result, c)
			return
		}
		for i := start; i <= n-(k-depth); i++ {
			combo[depth] = i
			rec(i+1, depth+1)
		}
	}
	rec(0, 0)
	return result
}

// AggregateAttestationPoint sums the attestation points of the given outcome
// for the given announcements.
func AggregateAttestationPoint(
	announcements []*Announcement, outcome string,
) (*btcec.PublicKey, error) {
	if len(announcements) == 0 {
		return nil, fmt.Errorf("no announcements to aggregate")
	}
	var sum secp256k1.JacobianPoint
	for i, ann := range announcements {
		point, err := ann.AttestationPoint(outcome)
		if err != nil {
			return nil, err
		}
		var p secp256k1.JacobianPoint
		point.AsJacobian(&p)
		if i == 0 {
			sum.Set(&p)
			continue
		}
		var next secp256k1.JacobianPoint
		secp256k1.AddNonConst(&sum, &p, &next)
		sum.Set(&next)
	}
	if sum.Z.IsZero() {
		return nil, fmt.Errorf("aggregated attestation point is infinity")
	}
	sum.ToAffine()
	return btcec.NewPublicKey(&sum.X, &sum.Y), nil
}

// AggregateSecret sums the attestation scalars, the result is the discrete
// log of the matching aggregated attestation point.
func AggregateSecret(attestations []*Attestation) (*btcec.ModNScalar, error) {
	if len(attestations) == 0 {
		return nil, fmt.Errorf("no attestations to aggregate")
	}
	sum := new(btcec.ModNScalar)
	for _, att := range attestations {
		s, err := att.Secret()
		if err != nil {
			return nil, err
		}
		sum.Add(s)
	}
	return sum, nil
}

type BatchStats struct {
	Total   int
	Valid   int
	Invalid int
}

// BatchVerify verifies every attestation against the announcement and
// reports how many passed, together with the aggregated failures.
func BatchVerify(
	announcement *Announcement, attestations []*Attestation,
) (BatchStats, error) {
	stats := BatchStats{Total: len(attestations)}
	var result *multierror.Error
	for i, att := range attestations {
		if err := att.Verify(announcement); err != nil {
			stats.Invalid++
			result = multierror.Append(result, fmt.Errorf("attestation %d: %w", i, err))
			continue
		}
		stats.Valid++
	}
	return stats, result.ErrorOrNil()
}
