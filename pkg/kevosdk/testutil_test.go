package kevosdk

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

// testLogger returns a quiet logger so test output stays readable.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// makeIDToken builds an unsigned JWT carrying the given subject claim.
// Login decodes the id token without verifying the signature, so an empty
// signature segment is enough for tests.
func makeIDToken(t *testing.T, sub string) string {
	t.Helper()

	header := map[string]string{"alg": "none", "typ": "JWT"}
	claims := map[string]any{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}

	encode := func(v any) string {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("encoding token segment: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(raw)
	}
	return encode(header) + "." + encode(claims) + "."
}

// seedSession installs a token set and session identity directly, skipping
// the login flow.
func seedSession(c *Client, userID string, expiresAt time.Time) {
	c.setSession(tokenSet{
		accessToken:  "test-access-token",
		idToken:      "test-id-token",
		refreshToken: "test-refresh-token",
		expiresAt:    expiresAt,
	}, userID)
}
