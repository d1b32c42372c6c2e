package httporacle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheSize  = 256
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = 200 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
	jitterPercent     = 10
)

var (
	errNotFound = errors.New("not found")
	// errMalformed is returned for responses that won't change on retry.
	errMalformed = errors.New("malformed oracle response")
)

type Config struct {
	// Endpoints maps oracle names to their base url.
	Endpoints  map[string]string
	CacheSize  int
	Timeout    time.Duration
	MaxRetries uint64
	Backoff    time.Duration
	MaxBackoff time.Duration
}

type client struct {
	endpoints  map[string]string
	httpClient *http.Client
	maxRetries uint64
	backoff    time.Duration
	maxBackoff time.Duration

	// verified announcements are immutable, they can be cached forever.
	announcements *lru.Cache[string, *oracle.Announcement]
	group         singleflight.Group

	// the first pubkey seen for an oracle is pinned.
	lock    sync.RWMutex
	pubkeys map[string]string
}

func NewClient(cfg Config) (ports.OracleClient, error) {
	if len(cfg.Endpoints) <= 0 {
		return nil, fmt.Errorf("missing oracle endpoints")
	}
	endpoints := make(map[string]string, len(cfg.Endpoints))
	for name, endpoint := range cfg.Endpoints {
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid endpoint for oracle %s: %s", name, err)
		}
		endpoints[name] = strings.TrimSuffix(endpoint, "/")
	}

	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(defaultMaxBackoff, cfg.Backoff)
	}

	cache, err := lru.New[string, *oracle.Announcement](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create announcement cache: %s", err)
	}

	return &client{
		endpoints:     endpoints,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		maxRetries:    cfg.MaxRetries,
		backoff:       cfg.Backoff,
		maxBackoff:    cfg.MaxBackoff,
		announcements: cache,
		pubkeys:       make(map[string]string),
	}, nil
}

func (c *client) Oracles() []string {
	names := make([]string, 0, len(c.endpoints))
	for name := range c.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *client) GetInfo(ctx context.Context, oracleId string) (*oracle.Info, error) {
	endpoint, ok := c.endpoints[oracleId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownOracle, oracleId)
	}

	var info oracle.Info
	if err := c.get(ctx, endpoint+"/info", &info); err != nil {
		return nil, err
	}
	info.Endpoint = endpoint
	if len(info.Name) <= 0 {
		info.Name = oracleId
	}
	if err := c.pinPubKey(oracleId, info.PubKey); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *client) FetchAnnouncement(
	ctx context.Context, oracleId, eventId string,
) (*oracle.Announcement, error) {
	endpoint, ok := c.endpoints[oracleId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownOracle, oracleId)
	}

	key := fmt.Sprintf("%s/%s", oracleId, eventId)
	if ann, ok := c.announcements.Get(key); ok {
		return ann, nil
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		var ann oracle.Announcement
		path := fmt.Sprintf("%s/announcement/%s", endpoint, url.PathEscape(eventId))
		if err := c.get(ctx, path, &ann); err != nil {
			if errors.Is(err, errNotFound) {
				return nil, fmt.Errorf(
					"%w: event %s not announced by %s", oracle.ErrInvalidAnnouncement,
					eventId, oracleId,
				)
			}
			if errors.Is(err, errMalformed) {
				return nil, fmt.Errorf("%w: %s", oracle.ErrInvalidAnnouncement, err)
			}
			return nil, err
		}

		if ann.EventId != eventId {
			return nil, fmt.Errorf(
				"%w: got event %s, expected %s", oracle.ErrInvalidAnnouncement,
				ann.EventId, eventId,
			)
		}
		if err := ann.Verify(); err != nil {
			return nil, err
		}
		if err := c.pinPubKey(oracleId, ann.OraclePubKey); err != nil {
			return nil, fmt.Errorf("%w: %s", oracle.ErrInvalidAnnouncement, err)
		}

		c.announcements.Add(key, &ann)
		return &ann, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*oracle.Announcement), nil
}

func (c *client) ListAnnouncements(
	ctx context.Context, oracleId string,
) ([]*oracle.Announcement, error) {
	endpoint, ok := c.endpoints[oracleId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownOracle, oracleId)
	}

	var list []oracle.Announcement
	if err := c.get(ctx, endpoint+"/announcements", &list); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		if errors.Is(err, errMalformed) {
			return nil, fmt.Errorf("%w: %s", oracle.ErrInvalidAnnouncement, err)
		}
		return nil, err
	}

	announcements := make([]*oracle.Announcement, 0, len(list))
	for i := range list {
		ann := list[i]
		if err := ann.Verify(); err != nil {
			log.WithError(err).Warnf("skipping announcement %s of oracle %s", ann.EventId, oracleId)
			continue
		}
		if err := c.pinPubKey(oracleId, ann.OraclePubKey); err != nil {
			return nil, fmt.Errorf("%w: %s", oracle.ErrInvalidAnnouncement, err)
		}
		key := fmt.Sprintf("%s/%s", oracleId, ann.EventId)
		if cached, ok := c.announcements.Get(key); ok {
			announcements = append(announcements, cached)
			continue
		}
		c.announcements.Add(key, &ann)
		announcements = append(announcements, &ann)
	}
	sort.Slice(announcements, func(i, j int) bool {
		return announcements[i].EventId < announcements[j].EventId
	})
	return announcements, nil
}

func (c *client) FetchAttestation(
	ctx context.Context, oracleId, eventId string,
) (*oracle.Attestation, error) {
	endpoint, ok := c.endpoints[oracleId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownOracle, oracleId)
	}

	ann, err := c.FetchAnnouncement(ctx, oracleId, eventId)
	if err != nil {
		return nil, err
	}

	var att oracle.Attestation
	path := fmt.Sprintf("%s/attestation/%s", endpoint, url.PathEscape(eventId))
	if err := c.get(ctx, path, &att); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, ports.ErrAttestationPending
		}
		if errors.Is(err, errMalformed) {
			return nil, fmt.Errorf("%w: %s", oracle.ErrInvalidAttestation, err)
		}
		return nil, err
	}

	if err := att.Verify(ann); err != nil {
		return nil, err
	}
	return &att, nil
}

func (c *client) pinPubKey(oracleId, pubkey string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	pinned, ok := c.pubkeys[oracleId]
	if !ok {
		c.pubkeys[oracleId] = pubkey
		return nil
	}
	if pinned != pubkey {
		return fmt.Errorf(
			"oracle %s pubkey changed from %s to %s", oracleId, pinned, pubkey,
		)
	}
	return nil
}

// get retries transport failures and 5xx responses with capped exponential
// backoff, any other failure is returned right away.
func (c *client) get(ctx context.Context, endpoint string, out interface{}) error {
	backoff := retry.NewExponential(c.backoff)
	backoff = retry.WithCappedDuration(c.maxBackoff, backoff)
	backoff = retry.WithJitterPercent(jitterPercent, backoff)
	backoff = retry.WithMaxRetries(c.maxRetries, backoff)

	var body []byte
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		body, err = c.makeRequest(ctx, endpoint)
		if err != nil && errors.Is(err, ports.ErrOracleUnreachable) {
			log.WithError(err).Debugf("oracle request to %s failed, retrying", endpoint)
			return retry.RetryableError(err)
		}
		return err
	}); err != nil {
		if ctx.Err() != nil && !errors.Is(err, ports.ErrOracleUnreachable) {
			return fmt.Errorf("%w: %s", ports.ErrOracleUnreachable, ctx.Err())
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to decode body: %s", errMalformed, err)
	}
	return nil
}

func (c *client) makeRequest(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrOracleUnreachable, err)
	}
	// nolint
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %s", ports.ErrOracleUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return bodyBytes, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf(
			"%w: HTTP %d: %s", ports.ErrOracleUnreachable, resp.StatusCode, string(bodyBytes),
		)
	default:
		return nil, fmt.Errorf("%w: HTTP %d: %s", errMalformed, resp.StatusCode, string(bodyBytes))
	}
}
