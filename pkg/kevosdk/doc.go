/*
Package kevosdk is a client for the Kevo Plus cloud smart-lock service.

The provider exposes no clean token API: authentication emulates its
browser single-sign-on flow (PKCE authorize redirect, login form scrape,
credential post, authorization-code exchange) and every realtime stream
connect performs a device-certificate / nonce / HMAC handshake on top of an
undocumented protocol. This package wraps all of that behind a small
surface:

	deviceID := kevosdk.DeviceIDFromPassword(password)
	client := kevosdk.NewClient(kevosdk.WithDeviceID(deviceID))

	if err := client.Login(ctx, username, password); err != nil {
		// kevosdk.IsAuthenticationError(err) => bad credentials
	}

	locks, err := client.ListLocks(ctx)

	unregister := client.OnLockUpdate(func(l kevosdk.Lock) {
		// called on every stream-sourced state change
	})
	defer unregister()

	client.Connect(ctx) // background stream with automatic reconnect
	defer client.Close()

	err = client.Lock(ctx, locks[0].ID)

# Tokens

The access/id/refresh token triple lives in process memory only and is
refreshed lazily: any authenticated call landing within 100 seconds of
expiry refreshes first, and concurrent callers collapse into a single
in-flight refresh. A 403 on an API call forces one refresh and one retry;
a second 403 surfaces as an AuthenticationError.

# Event stream

Connect starts one background goroutine that owns the websocket and is the
sole writer of stream-sourced device state. It reconnects on any failure
with exponential backoff capped at 240 seconds and never surfaces errors;
observers see state changes only. Close cancels everything deterministically,
including a pending reconnect delay.

# Errors

Failures are classified as AuthenticationError, PermissionError,
ConnectivityError or CompatibilityError; see errors.go for the taxonomy and
the Is* helpers.
*/
package kevosdk
