// Package hubclient implements the hub facade against a hub gateway that
// speaks HTTP/JSON plus a server-sent event stream for live changes.
package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/logging"
	"github.com/fruitsalade/hubwatch/internal/metrics"
	"github.com/fruitsalade/hubwatch/internal/retry"
	"github.com/fruitsalade/hubwatch/internal/signature"
)

var (
	// ErrTokenExpired is returned by Load when the bearer token has already expired.
	ErrTokenExpired = errors.New("hub token expired")
	// ErrInvalidURI is returned by Load for URIs that are not http(s) URLs.
	ErrInvalidURI = errors.New("invalid hub uri")
	// ErrMalformedEvent is reported for stream events that cannot be decoded.
	ErrMalformedEvent = errors.New("malformed hub event")
)

// StatusError is returned for non-200 gateway responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: hub gateway returned %d", e.Endpoint, e.StatusCode)
}

// Config holds gateway client configuration.
type Config struct {
	Token           string
	Timeout         time.Duration
	Retry           retry.Config
	AliveRetry      retry.Config
	SSEReconnectMin time.Duration
	SSEReconnectMax time.Duration
	// SSEMaxFailures is the number of consecutive failed stream connections
	// after which the hub is considered dead. 0 retries forever.
	SSEMaxFailures int
	Reporter       hub.ErrorReporter
	Clock          func() time.Time
}

// DefaultConfig returns the settings used by the CLI.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Retry:   retry.DefaultConfig(),
		AliveRetry: retry.Config{
			MaxAttempts: 10,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Multiplier:  2.0,
			Jitter:      0.1,
		},
		SSEReconnectMin: time.Second,
		SSEReconnectMax: 30 * time.Second,
		SSEMaxFailures:  5,
	}
}

// Loader creates gateway clients. It implements hub.Loader.
type Loader struct {
	cfg Config
}

// NewLoader returns a loader using cfg; zero fields take their defaults.
func NewLoader(cfg Config) *Loader {
	def := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.AliveRetry.MaxAttempts == 0 {
		cfg.AliveRetry = def.AliveRetry
	}
	if cfg.SSEReconnectMin == 0 {
		cfg.SSEReconnectMin = def.SSEReconnectMin
	}
	if cfg.SSEReconnectMax == 0 {
		cfg.SSEReconnectMax = def.SSEReconnectMax
	}
	if cfg.Reporter == nil {
		cfg.Reporter = hub.ReportFunc(logging.Reporter("hubclient"))
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Loader{cfg: cfg}
}

// Load validates uri and the token and starts the client. Waiting for the
// hub happens in the background and is observed through Session().Alive().
func (l *Loader) Load(ctx context.Context, uri string) (hub.Facade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	if err := checkToken(l.cfg.Token, l.cfg.Clock()); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(uri, "/")
	c := newClient(base, l.cfg, logging.FromContext(ctx).Named("hubclient").With(zap.String("hub", base)))
	go c.run()
	return c, nil
}

// checkToken rejects JWTs whose exp claim has passed. Tokens that are not
// JWTs are passed through as opaque bearer tokens.
func checkToken(token string, now time.Time) error {
	if token == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.After(now) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Time.Format(time.RFC3339))
	}
	return nil
}

// nameResolver is the part of net.Resolver the DNS facade uses.
type nameResolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
}

// Client is a loaded hub facade.
type Client struct {
	baseURL    string
	cfg        Config
	httpClient *http.Client
	sseClient  *http.Client
	resolver   nameResolver
	log        *zap.Logger

	alive *hub.Future[struct{}]
	dead  *hub.Future[struct{}]

	dirEvents  *broadcaster[hub.DirectoryEvent]
	connEvents *broadcaster[hub.ConnectionInfo]

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newClient(baseURL string, cfg Config, log *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		baseURL: baseURL,
		cfg:     cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		sseClient:  &http.Client{Timeout: 0},
		resolver:   net.DefaultResolver,
		log:        log,
		alive:      hub.NewFuture[struct{}](),
		dead:       hub.NewFuture[struct{}](),
		dirEvents:  newBroadcaster[hub.DirectoryEvent](),
		connEvents: newBroadcaster[hub.ConnectionInfo](),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close stops the event stream. The hub is reported dead if it was alive.
func (c *Client) Close() {
	c.closeOnce.Do(c.cancel)
}

func (c *Client) Session() hub.Session             { return sessionAPI{c} }
func (c *Client) Directory() hub.Directory         { return directoryAPI{c} }
func (c *Client) Connections() hub.Connections     { return connectionsAPI{c} }
func (c *Client) DNS() hub.Resolver                { return dnsAPI{c} }
func (c *Client) Classifier() signature.Classifier { return classifierAPI{c} }

// run waits for the hub to come alive, then follows the event stream until
// it is gone for good.
func (c *Client) run() {
	if err := c.awaitAlive(); err != nil {
		c.log.Error("hub did not come alive", zap.Error(err))
		c.alive.Reject(fmt.Errorf("hub alive: %w", err))
		return
	}
	c.log.Info("hub alive")
	c.alive.Resolve(struct{}{})

	c.streamEvents()
	c.log.Info("hub event stream ended")
	c.dead.Resolve(struct{}{})
}

func (c *Client) awaitAlive() error {
	return retry.Do(c.ctx, c.withNotify("alive", c.cfg.AliveRetry), func(int) error {
		var resp struct {
			Alive bool `json:"alive"`
		}
		start := time.Now()
		err := c.get(c.ctx, "alive", "/api/v1/alive", nil, &resp)
		metrics.RecordHubRequest("alive", time.Since(start), err == nil)
		if err != nil {
			return err
		}
		if !resp.Alive {
			return retry.Retryable(errors.New("hub not alive yet"))
		}
		return nil
	})
}

func (c *Client) applyAuth(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

// withNotify logs each retry of endpoint at debug level.
func (c *Client) withNotify(endpoint string, rc retry.Config) retry.Config {
	rc.Notify = func(attempt int, err error, wait time.Duration) {
		c.log.Debug("retrying hub request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return rc
}

// getJSON performs a GET with retries and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	return retry.Do(ctx, c.withNotify(endpoint, c.cfg.Retry), func(int) error {
		start := time.Now()
		err := c.get(ctx, endpoint, path, query, out)
		metrics.RecordHubRequest(endpoint, time.Since(start), err == nil)
		return err
	})
}

// get performs one attempt. Transport errors and 5xx responses are retryable.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("%s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		serr := &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
		if resp.StatusCode >= 500 {
			return retry.Retryable(serr)
		}
		return serr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}
