package kevosdk

import (
	"context"
	"crypto/md5"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Provider defaults. The client id/secret pair is fixed by the provider; it
// identifies this family of web clients, not an individual installation.
const (
	DefaultAPIBaseURL    = "https://resi-prd-api.unikey.com"
	DefaultLoginBaseURL  = "https://identity.unikey.com"
	DefaultStreamBaseURL = "wss://resi-prd-rtc.unikey.com"

	DefaultClientID     = "5e9fa022-05fe-4a3a-9fa9-66574b6bbf44"
	DefaultClientSecret = "N2ZkYjQ5MmMtOTBkZC00YjJkLWIxZTYtZDA1NmQ4NWJlNzg5"
	DefaultTenantID     = "bc1f2f5c-6a85-4e24-9e43-07ae2fb9a9f0"

	defaultRedirectURI = "https://mykevo.com/#/token"
)

// tokenExpiryMargin is the safety window before token expiry within which
// any authenticated call triggers a refresh first.
const tokenExpiryMargin = 100 * time.Second

// Client talks to the Kevo Plus cloud service. It drives the browser-style
// login flow, keeps the token set fresh, issues lock commands over REST and
// maintains the realtime event stream.
//
// A Client is safe for concurrent use. Create one with NewClient and
// authenticate it with Login before calling anything else.
type Client struct {
	apiBaseURL    string
	loginBaseURL  string
	streamBaseURL string
	authorizeURL  string
	redirectURI   string

	clientID     string
	clientSecret string
	tenantID     string

	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	deviceID   uuid.UUID

	tokenMu     sync.Mutex
	tokens      tokenSet
	userID      string
	refreshGate *refreshGate

	registry deviceRegistry
	stream   streamStateMachine
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The client must carry
// a cookie jar for the login flow to work; one is installed if missing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger used by the SDK.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDeviceID pins the stable per-account device identifier. Derive it with
// DeviceIDFromPassword so the provider sees the same device certificate
// identity across logins; a random identifier is used otherwise.
func WithDeviceID(id uuid.UUID) Option {
	return func(c *Client) { c.deviceID = id }
}

// WithBaseURLs overrides the provider endpoints. Intended for tests.
func WithBaseURLs(apiBase, loginBase, streamBase string) Option {
	return func(c *Client) {
		c.apiBaseURL = apiBase
		c.loginBaseURL = loginBase
		c.streamBaseURL = streamBase
	}
}

// WithClientCredentials overrides the fixed provider client id/secret pair
// and tenant id.
func WithClientCredentials(clientID, clientSecret, tenantID string) Option {
	return func(c *Client) {
		c.clientID = clientID
		c.clientSecret = clientSecret
		c.tenantID = tenantID
	}
}

// WithRateLimit throttles outbound API requests. The default allows 10
// requests per second with a burst of 20.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithLockSelection restricts the set of locks this client tracks. Stream
// events for locks outside the selection are ignored and ListLocks will not
// register them. An empty selection tracks every lock on the account.
func WithLockSelection(lockIDs ...string) Option {
	return func(c *Client) { c.registry.setSelection(lockIDs) }
}

// NewClient creates a Client with provider defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		apiBaseURL:    DefaultAPIBaseURL,
		loginBaseURL:  DefaultLoginBaseURL,
		streamBaseURL: DefaultStreamBaseURL,
		redirectURI:   defaultRedirectURI,
		clientID:      DefaultClientID,
		clientSecret:  DefaultClientSecret,
		tenantID:      DefaultTenantID,
		logger:        slog.Default(),
		limiter:       rate.NewLimiter(10, 20),
		deviceID:      uuid.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.httpClient.Jar == nil {
		// Login is a multi-redirect form dance; the session cookies must
		// survive between steps.
		jar, err := cookiejar.New(nil)
		if err == nil {
			c.httpClient.Jar = jar
		}
	}

	c.authorizeURL = c.loginBaseURL + "/connect/authorize"
	c.registry.init()
	c.stream.init()

	return c
}

// DeviceIDFromPassword derives the stable per-account device identifier from
// the account password. The provider expects the same device certificate
// identity on every login by the same account, so the identifier must be a
// pure function of the credentials rather than a fresh random value.
func DeviceIDFromPassword(password string) uuid.UUID {
	sum := md5.Sum([]byte(password))
	id, _ := uuid.FromBytes(sum[:])
	return id
}

// UserID returns the session's user id, extracted from the id token at
// login. Empty before a successful Login.
func (c *Client) UserID() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.userID
}

// DeviceID returns the device identifier this client presents to the
// provider.
func (c *Client) DeviceID() uuid.UUID {
	return c.deviceID
}

// waitLimiter blocks until the outbound request limiter admits another call.
func (c *Client) waitLimiter(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
