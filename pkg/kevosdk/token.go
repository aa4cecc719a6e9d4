package kevosdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenSet holds the access/id/refresh token triple and its absolute expiry.
// It is always replaced whole; partial updates would let a refreshed access
// token ride alongside a stale refresh token.
type tokenSet struct {
	accessToken  string
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

// tokenResponse is the provider's /connect/token payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// refreshGate collapses concurrent refresh callers into a single in-flight
// request. Waiters block on done and share the result.
type refreshGate struct {
	done chan struct{}
	err  error
}

// accessToken returns the current access token without freshness checks.
func (c *Client) accessToken() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.tokens.accessToken
}

// setSession atomically installs a new token set and session identity.
func (c *Client) setSession(set tokenSet, userID string) {
	c.tokenMu.Lock()
	c.tokens = set
	c.userID = userID
	c.tokenMu.Unlock()
}

// ensureValidToken refreshes the token set if it expires within the safety
// margin. Refresh is always lazy, at point of use: the call that notices the
// looming expiry pays the refresh latency and is guaranteed a fresh token.
func (c *Client) ensureValidToken(ctx context.Context) error {
	c.tokenMu.Lock()
	fresh := time.Until(c.tokens.expiresAt) > tokenExpiryMargin
	c.tokenMu.Unlock()

	if fresh {
		return nil
	}
	return c.refreshTokens(ctx)
}

// refreshTokens posts the refresh_token grant and atomically replaces the
// token set. Concurrent callers collapse into the one in-flight refresh and
// share its outcome. The token mutex is never held across the network call.
func (c *Client) refreshTokens(ctx context.Context) error {
	c.tokenMu.Lock()
	if gate := c.refreshGate; gate != nil {
		c.tokenMu.Unlock()
		select {
		case <-gate.done:
			return gate.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	gate := &refreshGate{done: make(chan struct{})}
	c.refreshGate = gate
	refreshToken := c.tokens.refreshToken
	c.tokenMu.Unlock()

	set, err := c.requestTokenGrant(ctx, url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})

	c.tokenMu.Lock()
	if err == nil {
		c.tokens = *set
	}
	c.refreshGate = nil
	c.tokenMu.Unlock()

	gate.err = err
	close(gate.done)
	return err
}

// requestTokenGrant posts a grant to the provider token endpoint and returns
// the resulting token set. Used for both the refresh_token and
// authorization_code grants.
func (c *Client) requestTokenGrant(ctx context.Context, data url.Values) (*tokenSet, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.loginBaseURL+"/connect/token",
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connectivity(fmt.Errorf("token request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, connectivityStatus(resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, connectivity(fmt.Errorf("decoding token response: %w", err))
	}

	return &tokenSet{
		accessToken:  tr.AccessToken,
		idToken:      tr.IDToken,
		refreshToken: tr.RefreshToken,
		expiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// subjectFromIDToken extracts the user id from the id token's subject claim.
// The signature is deliberately not verified: the token was obtained
// directly from the provider over TLS and is already trusted.
func subjectFromIDToken(idToken string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return "", fmt.Errorf("failed to decode id token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", &CompatibilityError{Field: "id token subject claim"}
	}
	return sub, nil
}
