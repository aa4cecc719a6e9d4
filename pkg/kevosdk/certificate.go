package kevosdk

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// The device certificate is a provider-validated binary blob. Its byte
// layout (field order, 1-byte tag + 2-byte little-endian length prefixes,
// little-endian 4-byte time fields, the UUID byte-order transform) is a
// fixed wire format reverse-engineered from the provider's web client and
// must not be "simplified".

const certificateValiditySeconds = 86400

// certificate field tags.
const (
	certTagVersion   = 18
	certTagIssuedAt  = 20
	certTagStartsAt  = 21
	certTagExpiresAt = 22
	certTagIssuerID  = 49
	certTagDeviceID  = 50
	certTagNonceA    = 53
	certTagNonceB    = 54
)

var (
	certHeader    = []byte{17, 1, 0, 1, 19, 1, 0, 1, 16, 1, 0, 48}
	certSeparator = []byte{48, 1, 0, 6}
)

// deviceCertificate builds a fresh base64-encoded device certificate for
// this client's device identifier.
func (c *Client) deviceCertificate() (string, error) {
	return generateCertificate(c.deviceID, time.Now(), rand.Reader)
}

// generateCertificate encodes the certificate blob for the given device id,
// issue time and entropy source. The time is truncated to whole seconds; the
// validity window is [now, now+86400s].
func generateCertificate(deviceID uuid.UUID, now time.Time, entropy io.Reader) (string, error) {
	issued := uint32(now.Unix())

	nonceA := make([]byte, 32)
	if _, err := io.ReadFull(entropy, nonceA); err != nil {
		return "", fmt.Errorf("failed to generate certificate nonce: %w", err)
	}
	nonceB := make([]byte, 32)
	if _, err := io.ReadFull(entropy, nonceB); err != nil {
		return "", fmt.Errorf("failed to generate certificate nonce: %w", err)
	}

	blob := make([]byte, 0, 192)
	blob = append(blob, certHeader...)
	blob = appendCertField(blob, certTagVersion, leUint32(1))
	blob = appendCertField(blob, certTagIssuedAt, leUint32(issued))
	blob = appendCertField(blob, certTagStartsAt, leUint32(issued))
	blob = appendCertField(blob, certTagExpiresAt, leUint32(issued+certificateValiditySeconds))
	blob = append(blob, certSeparator...)
	blob = appendCertField(blob, certTagIssuerID, transformUUID(uuid.Nil))
	blob = appendCertField(blob, certTagDeviceID, transformUUID(deviceID))
	blob = appendCertField(blob, certTagNonceA, nonceA)
	blob = appendCertField(blob, certTagNonceB, nonceB)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// appendCertField appends one length-prefixed field: tag byte, 2-byte
// little-endian length, then the value.
func appendCertField(dst []byte, tag byte, value []byte) []byte {
	dst = append(dst, tag, byte(len(value)), byte(len(value)>>8))
	return append(dst, value...)
}

// leUint32 encodes v as 4 little-endian bytes.
func leUint32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// transformUUID applies the provider's UUID byte-order transform: the first
// three dash-separated groups are byte-reversed, the last two are not, and
// the whole 16-byte result is then reversed.
func transformUUID(id uuid.UUID) []byte {
	b := id // 16 bytes, RFC 4122 big-endian order

	grouped := []byte{
		// group 1 (bytes 0-3), reversed
		b[3], b[2], b[1], b[0],
		// group 2 (bytes 4-5), reversed
		b[5], b[4],
		// group 3 (bytes 6-7), reversed
		b[7], b[6],
		// groups 4 and 5 (bytes 8-15), as-is
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15],
	}

	out := make([]byte, len(grouped))
	for i, v := range grouped {
		out[len(grouped)-1-i] = v
	}
	return out
}
