package oracle_test

import (
	"testing"
	"time"

	"github.com/Anya-org/dlcd/pkg/dlc-lib/adaptor"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle/oracletest"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

var outcomes = []string{"HEIGHT>=800000", "HEIGHT<800000"}

func TestAnnouncement(t *testing.T) {
	o, err := oracletest.New("oracle")
	require.NoError(t, err)
	ann, err := o.Announce("btc-height", outcomes, time.Now().Add(time.Hour))
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, ann.Verify())
		require.True(t, ann.HasOutcome(outcomes[0]))
		require.False(t, ann.HasOutcome("HEIGHT=0"))
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			name   string
			mutate func(a *oracle.Announcement)
		}{
			{"missing event id", func(a *oracle.Announcement) { a.EventId = "" }},
			{"empty outcomes", func(a *oracle.Announcement) { a.Outcomes = nil }},
			{"duplicated outcome", func(a *oracle.Announcement) {
				a.Outcomes = []string{outcomes[0], outcomes[0]}
			}},
			{"tampered outcome", func(a *oracle.Announcement) {
				a.Outcomes = []string{outcomes[0], "HEIGHT<700000"}
			}},
			{"tampered maturity", func(a *oracle.Announcement) { a.MaturityTime++ }},
			{"bad pubkey", func(a *oracle.Announcement) { a.OraclePubKey = "zz" }},
			{"bad signature", func(a *oracle.Announcement) { a.Signature = a.Signature[2:] }},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				cpy := *ann
				cpy.Outcomes = append([]string{}, ann.Outcomes...)
				f.mutate(&cpy)
				require.ErrorIs(t, cpy.Verify(), oracle.ErrInvalidAnnouncement)
			})
		}
	})
}

func TestAttestation(t *testing.T) {
	o, err := oracletest.New("oracle")
	require.NoError(t, err)
	ann, err := o.Announce("btc-height", outcomes, time.Now())
	require.NoError(t, err)
	att, err := o.Attest("btc-height", outcomes[0])
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, att.Verify(ann))

		// The attestation scalar is the discrete log of the attestation point.
		secret, err := att.Secret()
		require.NoError(t, err)
		point, err := ann.AttestationPoint(att.Outcome)
		require.NoError(t, err)
		require.Equal(
			t, point.SerializeCompressed(),
			btcec.PrivKeyFromScalar(secret).PubKey().SerializeCompressed(),
		)
	})

	t.Run("unlocks adaptor signature", func(t *testing.T) {
		msg := oracle.OutcomeHash("cet sighash")
		key, err := btcec.NewPrivateKey()
		require.NoError(t, err)

		points := make(map[string]*btcec.PublicKey)
		sigs := make(map[string]*adaptor.Signature)
		for _, outcome := range outcomes {
			point, err := ann.AttestationPoint(outcome)
			require.NoError(t, err)
			sig, err := adaptor.Encrypt(msg, key, point)
			require.NoError(t, err)
			points[outcome], sigs[outcome] = point, sig
		}

		secret, err := att.Secret()
		require.NoError(t, err)

		completed, err := adaptor.Decrypt(sigs[outcomes[0]], secret)
		require.NoError(t, err)
		require.True(t, completed.Verify(msg, key.PubKey()))

		_, err = adaptor.Decrypt(sigs[outcomes[1]], secret)
		require.ErrorIs(t, err, adaptor.ErrSecretMismatch)
	})

	t.Run("invalid", func(t *testing.T) {
		other, err := oracletest.New("other")
		require.NoError(t, err)
		_, err = other.Announce("btc-height", outcomes, time.Now())
		require.NoError(t, err)
		forged, err := other.Attest("btc-height", outcomes[1])
		require.NoError(t, err)

		fixtures := []struct {
			name string
			att  *oracle.Attestation
		}{
			{"wrong event", &oracle.Attestation{
				EventId: "other", Outcome: att.Outcome, Signature: att.Signature,
			}},
			{"unknown outcome", &oracle.Attestation{
				EventId: att.EventId, Outcome: "HEIGHT=0", Signature: att.Signature,
			}},
			{"swapped outcome", &oracle.Attestation{
				EventId: att.EventId, Outcome: outcomes[1], Signature: att.Signature,
			}},
			{"other oracle", forged},
			{"bad encoding", &oracle.Attestation{
				EventId: att.EventId, Outcome: att.Outcome, Signature: "00",
			}},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				require.ErrorIs(t, f.att.Verify(ann), oracle.ErrInvalidAttestation)
			})
		}
	})
}

func TestThreshold(t *testing.T) {
	t.Run("combinations", func(t *testing.T) {
		require.Equal(t, [][]int{{0}}, oracle.Combinations(1, 1))
		require.Equal(t, [][]int{{0, 1}, {0, 2}, {1, 2}}, oracle.Combinations(3, 2))
		require.Len(t, oracle.Combinations(5, 3), 10)
		require.Nil(t, oracle.Combinations(2, 3))
		require.Nil(t, oracle.Combinations(2, 0))
	})

	t.Run("aggregation", func(t *testing.T) {
		anns := make([]*oracle.Announcement, 0, 3)
		atts := make([]*oracle.Attestation, 0, 3)
		for _, name := range []string{"a", "b", "c"} {
			o, err := oracletest.New(name)
			require.NoError(t, err)
			ann, err := o.Announce("event", outcomes, time.Now())
			require.NoError(t, err)
			att, err := o.Attest("event", outcomes[1])
			require.NoError(t, err)
			anns = append(anns, ann)
			atts = append(atts, att)
		}

		point, err := oracle.AggregateAttestationPoint(anns, outcomes[1])
		require.NoError(t, err)
		secret, err := oracle.AggregateSecret(atts)
		require.NoError(t, err)
		require.Equal(
			t, point.SerializeCompressed(),
			btcec.PrivKeyFromScalar(secret).PubKey().SerializeCompressed(),
		)
	})

	t.Run("batch verify", func(t *testing.T) {
		o, err := oracletest.New("oracle")
		require.NoError(t, err)
		ann, err := o.Announce("event", outcomes, time.Now())
		require.NoError(t, err)
		att, err := o.Attest("event", outcomes[0])
		require.NoError(t, err)
		bad := &oracle.Attestation{
			EventId: att.EventId, Outcome: outcomes[1], Signature: att.Signature,
		}

		stats, err := oracle.BatchVerify(ann, []*oracle.Attestation{att, bad, att})
		require.Error(t, err)
		require.Equal(t, oracle.BatchStats{Total: 3, Valid: 2, Invalid: 1}, stats)

		stats, err = oracle.BatchVerify(ann, []*oracle.Attestation{att})
		require.NoError(t, err)
		require.Equal(t, 1, stats.Valid)
	})
}
