package kevosdk

import (
	"errors"
	"fmt"
)

// ============================================================================
// Error Taxonomy
// ============================================================================
//
// Every failure the SDK surfaces falls into one of four categories:
//
//   - AuthenticationError: bad credentials, or repeated 403 after a token
//     refresh. The caller must re-authenticate; the SDK never retries these.
//   - PermissionError: the session is valid but the action is disallowed
//     (HTTP 401 from the provider). Never conflated with authentication.
//   - ConnectivityError: transport failure or an unexpected HTTP status.
//     Transient; callers retry on their own cadence.
//   - CompatibilityError: the provider's page or payload contract changed
//     (expected HTML fields or redirect fragments absent). Fatal to the
//     login flow and not auto-recoverable.

// AuthenticationError indicates the credentials were rejected or the session
// can no longer be refreshed. The caller should prompt for re-authentication.
type AuthenticationError struct {
	// Reason is a short human-readable explanation.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// PermissionError indicates the session is valid but the requested action is
// not permitted for this user.
type PermissionError struct {
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Action)
}

// ConnectivityError indicates a transport failure or an unexpected HTTP
// status from the provider. StatusCode is zero for pure transport failures.
type ConnectivityError struct {
	StatusCode int
	Err        error
}

func (e *ConnectivityError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider request failed: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// CompatibilityError indicates the provider's undocumented page or payload
// contract no longer matches what this SDK was built against.
type CompatibilityError struct {
	// Field names the missing or malformed element, e.g. the scraped form
	// input or the redirect fragment parameter.
	Field string
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("provider contract changed: missing %s", e.Field)
}

// IsAuthenticationError reports whether err is (or wraps) an AuthenticationError.
func IsAuthenticationError(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

// IsPermissionError reports whether err is (or wraps) a PermissionError.
func IsPermissionError(err error) bool {
	var target *PermissionError
	return errors.As(err, &target)
}

// IsConnectivityError reports whether err is (or wraps) a ConnectivityError.
func IsConnectivityError(err error) bool {
	var target *ConnectivityError
	return errors.As(err, &target)
}

// IsCompatibilityError reports whether err is (or wraps) a CompatibilityError.
func IsCompatibilityError(err error) bool {
	var target *CompatibilityError
	return errors.As(err, &target)
}

// connectivity wraps a transport-level error in a ConnectivityError.
func connectivity(err error) error {
	return &ConnectivityError{Err: err}
}

// connectivityStatus builds a ConnectivityError for an unexpected HTTP status.
func connectivityStatus(status int) error {
	return &ConnectivityError{StatusCode: status}
}
