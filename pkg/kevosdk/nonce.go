package kevosdk

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// nonceHeader is the response header carrying the server nonce.
const nonceHeader = "x-unikey-nonce"

// serverNonce requests a single-use nonce from the provider. Nonces are
// fetched per call and never cached.
func (c *Client) serverNonce(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.apiBaseURL+"/api/v2/nonces",
		strings.NewReader(`{"headers":{"Accept":"application/json"}}`),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create nonce request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", connectivity(fmt.Errorf("nonce request: %w", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", connectivityStatus(resp.StatusCode)
	}

	nonce := resp.Header.Get(nonceHeader)
	if nonce == "" {
		return "", &CompatibilityError{Field: nonceHeader + " response header"}
	}
	return nonce, nil
}

// clientNonce generates a fresh 64-byte client nonce, base64-encoded.
func clientNonce() (string, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate client nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// streamVerification computes the HMAC-SHA512 verification value required to
// open the event stream: the server and client nonce bytes concatenated,
// keyed by the shared client secret. Recomputed on every (re)connect.
func (c *Client) streamVerification(cnonce, snonce string) (string, error) {
	return verificationValue(c.clientSecret, cnonce, snonce)
}

func verificationValue(secret, cnonce, snonce string) (string, error) {
	secretBytes, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("invalid client secret encoding: %w", err)
	}
	snonceBytes, err := base64.StdEncoding.DecodeString(snonce)
	if err != nil {
		return "", fmt.Errorf("invalid server nonce encoding: %w", err)
	}
	cnonceBytes, err := base64.StdEncoding.DecodeString(cnonce)
	if err != nil {
		return "", fmt.Errorf("invalid client nonce encoding: %w", err)
	}

	mac := hmac.New(sha512.New, secretBytes)
	mac.Write(snonceBytes)
	mac.Write(cnonceBytes)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// apiHeaders builds the signed header set for an authenticated REST call
// using a fresh nonce pair.
func (c *Client) apiHeaders(ctx context.Context) (http.Header, error) {
	cnonce, err := clientNonce()
	if err != nil {
		return nil, err
	}
	snonce, err := c.serverNonce(ctx)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("X-unikey-cnonce", cnonce)
	h.Set("X-unikey-context", "Web")
	h.Set("X-unikey-nonce", snonce)
	h.Set("Authorization", "Bearer "+c.accessToken())
	h.Set("Accept", "application/json")
	return h, nil
}
