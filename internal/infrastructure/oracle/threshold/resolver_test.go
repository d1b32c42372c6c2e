package thresholdoracle_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Anya-org/dlcd/internal/core/ports"
	thresholdoracle "github.com/Anya-org/dlcd/internal/infrastructure/oracle/threshold"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle/oracletest"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	eventId     = "btc-height"
	outcomeHigh = "HEIGHT>=800000"
	outcomeLow  = "HEIGHT<800000"
)

type mockedOracleClient struct {
	mock.Mock
}

func (m *mockedOracleClient) FetchAnnouncement(
	ctx context.Context, oracleId, eventId string,
) (*oracle.Announcement, error) {
	args := m.Called(ctx, oracleId, eventId)
	var res *oracle.Announcement
	if a := args.Get(0); a != nil {
		res = a.(*oracle.Announcement)
	}
	return res, args.Error(1)
}

func (m *mockedOracleClient) FetchAttestation(
	ctx context.Context, oracleId, eventId string,
) (*oracle.Attestation, error) {
	args := m.Called(ctx, oracleId, eventId)
	var res *oracle.Attestation
	if a := args.Get(0); a != nil {
		res = a.(*oracle.Attestation)
	}
	return res, args.Error(1)
}

func (m *mockedOracleClient) GetInfo(ctx context.Context, oracleId string) (*oracle.Info, error) {
	args := m.Called(ctx, oracleId)
	var res *oracle.Info
	if a := args.Get(0); a != nil {
		res = a.(*oracle.Info)
	}
	return res, args.Error(1)
}

func (m *mockedOracleClient) ListAnnouncements(
	ctx context.Context, oracleId string,
) ([]*oracle.Announcement, error) {
	args := m.Called(ctx, oracleId)
	var res []*oracle.Announcement
	if a := args.Get(0); a != nil {
		res = a.([]*oracle.Announcement)
	}
	return res, args.Error(1)
}

func (m *mockedOracleClient) Oracles() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

type oracleSet struct {
	names         []string
	oracles       []*oracletest.Oracle
	announcements []oracle.Announcement
}

func newOracleSet(t *testing.T, n int) oracleSet {
	set := oracleSet{}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("oracle-%d", i)
		o, err := oracletest.New(name)
		require.NoError(t, err)
		ann, err := o.Announce(eventId, []string{outcomeHigh, outcomeLow}, time.Now())
		require.NoError(t, err)
		set.names = append(set.names, name)
		set.oracles = append(set.oracles, o)
		set.announcements = append(set.announcements, *ann)
	}
	return set
}

// client mocks each oracle answering with the given outcome, an empty outcome
// means pending and an error is returned as is.
func (s oracleSet) client(t *testing.T, answers ...interface{}) *mockedOracleClient {
	client := &mockedOracleClient{}
	for i, answer := range answers {
		call := client.On("FetchAttestation", mock.Anything, s.names[i], eventId)
		switch v := answer.(type) {
		case string:
			if len(v) <= 0 {
				call.Return(nil, ports.ErrAttestationPending)
				continue
			}
			att, err := s.oracles[i].Attest(eventId, v)
			require.NoError(t, err)
			call.Return(att, nil)
		case *oracle.Attestation:
			call.Return(v, nil)
		case error:
			call.Return(nil, v)
		}
	}
	return client
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		fixtures := []struct {
			name      string
			n         int
			threshold int
			answers   []interface{}
			outcome   string
			subset    []int
		}{
			{
				name:      "1 of 1",
				n:         1,
				threshold: 1,
				answers:   []interface{}{outcomeHigh},
				outcome:   outcomeHigh,
				subset:    []int{0},
			},
			{
				name:      "2 of 3 with one pending",
				n:         3,
				threshold: 2,
				answers:   []interface{}{"", outcomeLow, outcomeLow},
				outcome:   outcomeLow,
				subset:    []int{1, 2},
			},
			{
				name:      "2 of 3 with one dissenting",
				n:         3,
				threshold: 2,
				answers:   []interface{}{outcomeLow, outcomeHigh, outcomeLow},
				outcome:   outcomeLow,
				subset:    []int{0, 2},
			},
			{
				name:      "2 of 3 all agreeing",
				n:         3,
				threshold: 2,
				answers:   []interface{}{outcomeHigh, outcomeHigh, outcomeHigh},
				outcome:   outcomeHigh,
				subset:    []int{0, 1},
			},
			{
				name:      "2 of 3 with one unreachable",
				n:         3,
				threshold: 2,
				answers: []interface{}{
					outcomeHigh, ports.ErrOracleUnreachable, outcomeHigh,
				},
				outcome: outcomeHigh,
				subset:  []int{0, 2},
			},
		}

		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				set := newOracleSet(t, f.n)
				resolver := thresholdoracle.NewResolver(set.client(t, f.answers...))

				res, err := resolver.Resolve(ctx, set.names, f.threshold, set.announcements)
				require.NoError(t, err)
				require.Equal(t, f.outcome, res.Outcome)
				require.Equal(t, f.subset, res.Subset)
				require.Len(t, res.Attestations, f.threshold)

				anns := make([]*oracle.Announcement, 0, len(res.Subset))
				for _, i := range res.Subset {
					anns = append(anns, &set.announcements[i])
				}
				point, err := oracle.AggregateAttestationPoint(anns, res.Outcome)
				require.NoError(t, err)
				secret, err := oracle.AggregateSecret(res.Attestations)
				require.NoError(t, err)
				require.True(t, point.IsEqual(btcec.PrivKeyFromScalar(secret).PubKey()))
			})
		}
	})

	t.Run("invalid", func(t *testing.T) {
		t.Run("not enough agreement", func(t *testing.T) {
			set := newOracleSet(t, 3)
			resolver := thresholdoracle.NewResolver(
				set.client(t, outcomeHigh, outcomeLow, ""),
			)
			_, err := resolver.Resolve(ctx, set.names, 2, set.announcements)
			require.ErrorIs(t, err, ports.ErrAttestationPending)
		})

		t.Run("conflicting outcomes", func(t *testing.T) {
			set := newOracleSet(t, 2)
			resolver := thresholdoracle.NewResolver(
				set.client(t, outcomeHigh, outcomeLow),
			)
			_, err := resolver.Resolve(ctx, set.names, 1, set.announcements)
			require.ErrorIs(t, err, thresholdoracle.ErrConflictingOutcomes)
		})

		t.Run("all unreachable", func(t *testing.T) {
			set := newOracleSet(t, 2)
			resolver := thresholdoracle.NewResolver(
				set.client(t, ports.ErrOracleUnreachable, ports.ErrOracleUnreachable),
			)
			_, err := resolver.Resolve(ctx, set.names, 1, set.announcements)
			require.ErrorIs(t, err, ports.ErrOracleUnreachable)
		})

		t.Run("attestation for other announcement", func(t *testing.T) {
			set := newOracleSet(t, 2)
			// oracle-1 re-announced the event with a new nonce.
			other, err := oracletest.New("oracle-1")
			require.NoError(t, err)
			_, err = other.Announce(eventId, []string{outcomeHigh, outcomeLow}, time.Now())
			require.NoError(t, err)
			att, err := other.Attest(eventId, outcomeHigh)
			require.NoError(t, err)

			resolver := thresholdoracle.NewResolver(set.client(t, outcomeHigh, att))
			_, err = resolver.Resolve(ctx, set.names, 2, set.announcements)
			require.ErrorIs(t, err, oracle.ErrInvalidAttestation)

			// one more oracle can still make the threshold.
			set = newOracleSet(t, 3)
			resolver = thresholdoracle.NewResolver(set.client(t, outcomeHigh, att, ""))
			_, err = resolver.Resolve(ctx, set.names, 2, set.announcements)
			require.ErrorIs(t, err, ports.ErrAttestationPending)
		})

		t.Run("malformed attestation", func(t *testing.T) {
			set := newOracleSet(t, 1)
			resolver := thresholdoracle.NewResolver(set.client(t, fmt.Errorf(
				"%w: failed to decode oracle response", oracle.ErrInvalidAttestation,
			)))
			_, err := resolver.Resolve(ctx, set.names, 1, set.announcements)
			require.ErrorIs(t, err, oracle.ErrInvalidAttestation)
		})

		t.Run("invalid params", func(t *testing.T) {
			set := newOracleSet(t, 2)
			resolver := thresholdoracle.NewResolver(&mockedOracleClient{})
			_, err := resolver.Resolve(ctx, set.names, 3, set.announcements)
			require.ErrorContains(t, err, "invalid threshold")
			_, err = resolver.Resolve(ctx, set.names, 1, set.announcements[:1])
			require.ErrorContains(t, err, "announcements for 2 oracles")
		})
	})
}
