package kevosdk

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/aussiebroadwan/kevoplus/pkg/cryptox"
)

// pkceChallenge holds a PKCE verifier and challenge pair per RFC 7636.
// The verifier stays client-side; the challenge goes to the authorization
// endpoint.
type pkceChallenge struct {
	verifier  string
	challenge string
	method    string
}

// generatePKCE creates a fresh verifier/challenge pair using 256 bits of
// entropy and the S256 transform.
func generatePKCE() (*pkceChallenge, error) {
	verifier, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	hash := sha256.Sum256([]byte(verifier))
	return &pkceChallenge{
		verifier:  verifier,
		challenge: base64.RawURLEncoding.EncodeToString(hash[:]),
		method:    "S256",
	}, nil
}
