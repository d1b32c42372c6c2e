package httporacle_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Anya-org/dlcd/internal/core/ports"
	httporacle "github.com/Anya-org/dlcd/internal/infrastructure/oracle/http"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle/oracletest"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

const (
	eventId     = "btc-height"
	outcomeHigh = "HEIGHT>=800000"
	outcomeLow  = "HEIGHT<800000"
)

func TestClient(t *testing.T) {
	o, err := oracletest.New("olivia")
	require.NoError(t, err)
	_, err = o.Announce(eventId, []string{outcomeHigh, outcomeLow}, time.Now())
	require.NoError(t, err)

	var requests atomic.Int32
	handler := o.Handler()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	client := newClient(t, map[string]string{"olivia": server.URL})
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		require.Equal(t, []string{"olivia"}, client.Oracles())

		info, err := client.GetInfo(ctx, "olivia")
		require.NoError(t, err)
		require.Equal(t, o.Info().PubKey, info.PubKey)
		require.Equal(t, server.URL, info.Endpoint)

		ann, err := client.FetchAnnouncement(ctx, "olivia", eventId)
		require.NoError(t, err)
		require.Equal(t, eventId, ann.EventId)
		require.NoError(t, ann.Verify())

		count := requests.Load()
		again, err := client.FetchAnnouncement(ctx, "olivia", eventId)
		require.NoError(t, err)
		require.Equal(t, ann, again)
		require.Equal(t, count, requests.Load())

		_, err = client.FetchAttestation(ctx, "olivia", eventId)
		require.ErrorIs(t, err, ports.ErrAttestationPending)

		published, err := o.Publish(eventId, outcomeHigh)
		require.NoError(t, err)
		att, err := client.FetchAttestation(ctx, "olivia", eventId)
		require.NoError(t, err)
		require.Equal(t, published.Signature, att.Signature)
		require.Equal(t, outcomeHigh, att.Outcome)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := client.FetchAnnouncement(ctx, "unknown", eventId)
		require.ErrorIs(t, err, ports.ErrUnknownOracle)

		_, err = client.FetchAnnouncement(ctx, "olivia", "eth-height")
		require.ErrorIs(t, err, oracle.ErrInvalidAnnouncement)
	})
}

func TestClientListAnnouncements(t *testing.T) {
	ctx := context.Background()
	o, err := oracletest.New("olivia")
	require.NoError(t, err)
	for _, event := range []string{eventId, "btc-fee"} {
		_, err = o.Announce(event, []string{outcomeHigh, outcomeLow}, time.Now())
		require.NoError(t, err)
	}

	t.Run("valid", func(t *testing.T) {
		server := httptest.NewServer(o.Handler())
		t.Cleanup(server.Close)
		client := newClient(t, map[string]string{"olivia": server.URL})

		info, err := client.GetInfo(ctx, "olivia")
		require.NoError(t, err)
		require.Equal(t, o.Info().Properties, info.Properties)

		list, err := client.ListAnnouncements(ctx, "olivia")
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "btc-fee", list[0].EventId)
		require.Equal(t, eventId, list[1].EventId)

		// Listed announcements are cached.
		ann, err := client.FetchAnnouncement(ctx, "olivia", eventId)
		require.NoError(t, err)
		require.Same(t, list[1], ann)
	})

	t.Run("skips invalid announcements", func(t *testing.T) {
		valid, _ := o.Announcement(eventId)
		tampered := *valid
		tampered.EventId = "eth-height"
		withMetadata := *valid
		withMetadata.Metadata = map[string]string{"source": "mempool"}

		r := chi.NewRouter()
		r.Get("/announcements", func(w http.ResponseWriter, _ *http.Request) {
			// nolint
			json.NewEncoder(w).Encode([]oracle.Announcement{tampered, withMetadata})
		})
		server := httptest.NewServer(r)
		t.Cleanup(server.Close)
		client := newClient(t, map[string]string{"olivia": server.URL})

		list, err := client.ListAnnouncements(ctx, "olivia")
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, eventId, list[0].EventId)
		require.Equal(t, "mempool", list[0].Metadata["source"])
	})

	t.Run("invalid", func(t *testing.T) {
		r := chi.NewRouter()
		r.Get("/announcements", func(w http.ResponseWriter, _ *http.Request) {
			// nolint
			w.Write([]byte("{not json"))
		})
		server := httptest.NewServer(r)
		t.Cleanup(server.Close)
		client := newClient(t, map[string]string{"olivia": server.URL})

		_, err := client.ListAnnouncements(ctx, "unknown")
		require.ErrorIs(t, err, ports.ErrUnknownOracle)

		_, err = client.ListAnnouncements(ctx, "olivia")
		require.ErrorIs(t, err, oracle.ErrInvalidAnnouncement)
		require.NotErrorIs(t, err, ports.ErrOracleUnreachable)
	})
}

func TestClientInvalidResponses(t *testing.T) {
	o, err := oracletest.New("olivia")
	require.NoError(t, err)
	ann, err := o.Announce(eventId, []string{outcomeHigh, outcomeLow}, time.Now())
	require.NoError(t, err)
	att, err := o.Attest(eventId, outcomeLow)
	require.NoError(t, err)

	fixtures := []struct {
		name         string
		announcement func() oracle.Announcement
		attestation  func() oracle.Attestation
		expected     error
	}{
		{
			name: "tampered announcement",
			announcement: func() oracle.Announcement {
				a := *ann
				a.Outcomes = []string{outcomeHigh, "HEIGHT=800000"}
				return a
			},
			expected: oracle.ErrInvalidAnnouncement,
		},
		{
			name: "announcement for other event",
			announcement: func() oracle.Announcement {
				a := *ann
				a.EventId = "eth-height"
				return a
			},
			expected: oracle.ErrInvalidAnnouncement,
		},
		{
			name: "attestation of unannounced outcome",
			attestation: func() oracle.Attestation {
				a := *att
				a.Outcome = "HEIGHT=800000"
				return a
			},
			expected: oracle.ErrInvalidAttestation,
		},
		{
			name: "attestation of other outcome",
			attestation: func() oracle.Attestation {
				a := *att
				a.Outcome = outcomeHigh
				return a
			},
			expected: oracle.ErrInvalidAttestation,
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Get("/announcement/{event_id}", func(w http.ResponseWriter, _ *http.Request) {
				a := *ann
				if f.announcement != nil {
					a = f.announcement()
				}
				// nolint
				json.NewEncoder(w).Encode(a)
			})
			r.Get("/attestation/{event_id}", func(w http.ResponseWriter, _ *http.Request) {
				a := *att
				if f.attestation != nil {
					a = f.attestation()
				}
				// nolint
				json.NewEncoder(w).Encode(a)
			})
			server := httptest.NewServer(r)
			t.Cleanup(server.Close)

			client := newClient(t, map[string]string{"olivia": server.URL})
			_, err := client.FetchAttestation(context.Background(), "olivia", eventId)
			require.ErrorIs(t, err, f.expected)
		})
	}
}

func TestClientMalformedResponses(t *testing.T) {
	o, err := oracletest.New("olivia")
	require.NoError(t, err)
	ann, err := o.Announce(eventId, []string{outcomeHigh, outcomeLow}, time.Now())
	require.NoError(t, err)

	writeAnnouncement := func(w http.ResponseWriter, _ *http.Request) {
		// nolint
		json.NewEncoder(w).Encode(ann)
	}
	writeBody := func(code int, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
			// nolint
			w.Write([]byte(body))
		}
	}

	fixtures := []struct {
		name         string
		announcement http.HandlerFunc
		attestation  http.HandlerFunc
		expected     error
	}{
		{
			name:         "undecodable announcement",
			announcement: writeBody(http.StatusOK, "{not json"),
			expected:     oracle.ErrInvalidAnnouncement,
		},
		{
			name:         "rejected announcement request",
			announcement: writeBody(http.StatusBadRequest, "bad event id"),
			expected:     oracle.ErrInvalidAnnouncement,
		},
		{
			name:         "undecodable attestation",
			announcement: writeAnnouncement,
			attestation:  writeBody(http.StatusOK, "{not json"),
			expected:     oracle.ErrInvalidAttestation,
		},
		{
			name:         "rejected attestation request",
			announcement: writeAnnouncement,
			attestation:  writeBody(http.StatusForbidden, "forbidden"),
			expected:     oracle.ErrInvalidAttestation,
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			var requests atomic.Int32
			r := chi.NewRouter()
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					requests.Add(1)
					next.ServeHTTP(w, r)
				})
			})
			r.Get("/announcement/{event_id}", f.announcement)
			if f.attestation != nil {
				r.Get("/attestation/{event_id}", f.attestation)
			}
			server := httptest.NewServer(r)
			t.Cleanup(server.Close)

			client := newClient(t, map[string]string{"olivia": server.URL})
			_, err := client.FetchAttestation(context.Background(), "olivia", eventId)
			require.ErrorIs(t, err, f.expected)
			require.NotErrorIs(t, err, ports.ErrOracleUnreachable)

			// malformed responses are not retried.
			expectedRequests := int32(1)
			if f.attestation != nil {
				expectedRequests = 2
			}
			require.Equal(t, expectedRequests, requests.Load())
		})
	}
}

func TestClientRetries(t *testing.T) {
	o, err := oracletest.New("olivia")
	require.NoError(t, err)
	_, err = o.Announce(eventId, []string{outcomeHigh, outcomeLow}, time.Now())
	require.NoError(t, err)

	t.Run("transient failures", func(t *testing.T) {
		var failures atomic.Int32
		failures.Store(2)
		handler := o.Handler()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if failures.Add(-1) >= 0 {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			handler.ServeHTTP(w, r)
		}))
		t.Cleanup(server.Close)

		client := newClient(t, map[string]string{"olivia": server.URL})
		ann, err := client.FetchAnnouncement(context.Background(), "olivia", eventId)
		require.NoError(t, err)
		require.Equal(t, eventId, ann.EventId)
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(o.Handler())
		url := server.URL
		server.Close()

		client := newClient(t, map[string]string{"olivia": url})
		_, err := client.FetchAnnouncement(context.Background(), "olivia", eventId)
		require.ErrorIs(t, err, ports.ErrOracleUnreachable)
	})

	t.Run("cancelled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}))
		t.Cleanup(server.Close)

		client, err := httporacle.NewClient(httporacle.Config{
			Endpoints:  map[string]string{"olivia": server.URL},
			MaxRetries: 100,
			Backoff:    50 * time.Millisecond,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, err = client.FetchAnnouncement(ctx, "olivia", eventId)
		require.ErrorIs(t, err, ports.ErrOracleUnreachable)
	})
}

func newClient(t *testing.T, endpoints map[string]string) ports.OracleClient {
	client, err := httporacle.NewClient(httporacle.Config{
		Endpoints:  endpoints,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}
