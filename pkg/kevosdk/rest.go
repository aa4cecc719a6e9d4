package kevosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Command is a lock actuation command.
type Command string

const (
	CommandLock   Command = "lock"
	CommandUnlock Command = "unlock"
)

// lockListResponse is the provider's device list payload.
type lockListResponse struct {
	Locks []lockPayload `json:"locks"`
}

type lockPayload struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	FirmwareVersion string  `json:"firmwareVersion"`
	BatteryLevel    float64 `json:"batteryLevel"`
	BoltState       string  `json:"boltState"`
	Brand           string  `json:"brand"`
}

// ListLocks retrieves the account's locks and populates the device
// registry. The list is the first population of device state; stream events
// supersede it thereafter.
func (c *Client) ListLocks(ctx context.Context) ([]Lock, error) {
	body, err := c.doAuthenticated(ctx, http.MethodGet, "/api/v2/users/"+c.UserID()+"/locks", nil)
	if err != nil {
		return nil, err
	}

	var list lockListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, connectivity(fmt.Errorf("decoding lock list: %w", err))
	}

	locks := c.registry.sync(list.Locks)
	c.logger.Debug("lock list refreshed", "count", len(locks))
	return locks, nil
}

// SendCommand posts a lock or unlock command and returns the raw provider
// response. Device state is not touched here: the event stream is the
// source of truth for the resulting state change.
func (c *Client) SendCommand(ctx context.Context, lockID string, command Command) (json.RawMessage, error) {
	if command != CommandLock && command != CommandUnlock {
		return nil, fmt.Errorf("unsupported command %q", command)
	}

	payload := map[string]string{"command": string(command)}
	body, err := c.doAuthenticated(ctx, http.MethodPost,
		"/api/v2/users/"+c.UserID()+"/locks/"+lockID+"/commands", payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Lock sends a lock command to the given lock.
func (c *Client) Lock(ctx context.Context, lockID string) error {
	_, err := c.SendCommand(ctx, lockID, CommandLock)
	return err
}

// Unlock sends an unlock command to the given lock.
func (c *Client) Unlock(ctx context.Context, lockID string) error {
	_, err := c.SendCommand(ctx, lockID, CommandUnlock)
	return err
}

// doAuthenticated performs one authenticated API call following the
// authenticate-call-retry-once pattern: ensure the token is valid, build a
// signed header set from a fresh nonce pair, issue the call, and on a 403
// force one refresh and retry exactly once with fresh headers. A second 403
// is an authentication failure; a 401 is a permission failure; any other
// non-2xx propagates as a connectivity error carrying the status.
func (c *Client) doAuthenticated(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.waitLimiter(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureValidToken(ctx); err != nil {
		return nil, err
	}

	resp, err := c.sendSigned(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusForbidden {
		drainClose(resp)
		if err := c.refreshTokens(ctx); err != nil {
			return nil, err
		}
		resp, err = c.sendSigned(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusForbidden {
			drainClose(resp)
			return nil, &AuthenticationError{Reason: "request forbidden after token refresh"}
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drainClose(resp)
		return nil, &PermissionError{Action: method + " " + path}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drainClose(resp)
		return nil, connectivityStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, connectivity(fmt.Errorf("reading response body: %w", err))
	}
	return body, nil
}

// sendSigned issues one API request with a freshly built signed header set.
// Server nonces are single-use, so headers are rebuilt for every attempt.
func (c *Client) sendSigned(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	headers, err := c.apiHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connectivity(fmt.Errorf("api request: %w", err))
	}
	return resp, nil
}
