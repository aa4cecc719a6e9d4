package kevosdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// restHarness is a fake provider API covering the nonce, token and lock
// endpoints on a single server.
type restHarness struct {
	client *Client

	nonceCalls   atomic.Int32
	refreshCalls atomic.Int32
	lockCalls    atomic.Int32

	// locksHandler serves /api/v2/users/user-1/locks and everything below it.
	locksHandler http.HandlerFunc
}

func newRESTHarness(t *testing.T) *restHarness {
	t.Helper()

	h := &restHarness{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/nonces", func(w http.ResponseWriter, r *http.Request) {
		h.nonceCalls.Add(1)
		w.Header().Set(nonceHeader, "server-nonce")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		h.refreshCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"access_token": "refreshed-access-token",
			"id_token": "refreshed-id-token",
			"refresh_token": "rotated-refresh-token",
			"expires_in": 3600
		}`))
	})
	mux.HandleFunc("/api/v2/users/user-1/locks", func(w http.ResponseWriter, r *http.Request) {
		h.lockCalls.Add(1)
		h.locksHandler(w, r)
	})
	mux.HandleFunc("/api/v2/users/user-1/locks/", func(w http.ResponseWriter, r *http.Request) {
		h.lockCalls.Add(1)
		h.locksHandler(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h.client = NewClient(WithBaseURLs(srv.URL, srv.URL, ""), WithLogger(testLogger()))
	seedSession(h.client, "user-1", time.Now().Add(time.Hour))
	return h
}

func TestListLocks(t *testing.T) {
	t.Parallel()

	h := newRESTHarness(t)
	h.locksHandler = func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "Bearer test-access-token", r.Header.Get("Authorization"))
		require.Equal(t, "Web", r.Header.Get("X-unikey-context"))
		require.Equal(t, "server-nonce", r.Header.Get("X-unikey-nonce"))
		require.NotEmpty(t, r.Header.Get("X-unikey-cnonce"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"locks": [
			{"id": "lock-1", "name": "Front Door", "firmwareVersion": "2.1.0",
			 "batteryLevel": 0.82, "boltState": "Locked", "brand": "Kwikset"},
			{"id": "lock-2", "name": "Back Door", "firmwareVersion": "2.0.4",
			 "batteryLevel": 0.4, "boltState": "Unlocked", "brand": "Kwikset"},
			{"id": "lock-3", "name": "Garage", "firmwareVersion": "1.9.9",
			 "batteryLevel": 0.95, "boltState": "Mystery", "brand": "Kwikset"}
		]}`))
	}

	locks, err := h.client.ListLocks(context.Background())
	require.NoError(t, err)
	require.Len(t, locks, 3)

	require.Equal(t, "lock-1", locks[0].ID)
	require.Equal(t, "Front Door", locks[0].Name)
	require.Equal(t, "2.1.0", locks[0].Firmware)
	require.Equal(t, "Kwikset", locks[0].Brand)
	require.InDelta(t, 0.82, locks[0].BatteryLevel, 1e-9)
	require.Equal(t, boolPtr(true), locks[0].IsLocked)
	require.Equal(t, boolPtr(false), locks[0].IsJammed)

	require.Equal(t, boolPtr(false), locks[1].IsLocked)

	// Unrecognised bolt state maps to unknown rather than a guess.
	require.Nil(t, locks[2].IsLocked)
	require.Nil(t, locks[2].IsJammed)
}

func TestDoAuthenticatedRetry(t *testing.T) {
	t.Parallel()

	t.Run("forbidden once refreshes and retries", func(t *testing.T) {
		t.Parallel()

		h := newRESTHarness(t)
		h.locksHandler = func(w http.ResponseWriter, r *http.Request) {
			if h.lockCalls.Load() == 1 {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			// The retry must carry the refreshed token and a new nonce pair.
			require.Equal(t, "Bearer refreshed-access-token", r.Header.Get("Authorization"))
			w.Write([]byte(`{"locks": []}`))
		}

		_, err := h.client.ListLocks(context.Background())
		require.NoError(t, err)
		require.Equal(t, int32(2), h.lockCalls.Load())
		require.Equal(t, int32(1), h.refreshCalls.Load())
		require.Equal(t, int32(2), h.nonceCalls.Load(), "each attempt needs a fresh nonce pair")
	})

	t.Run("forbidden twice fails authentication", func(t *testing.T) {
		t.Parallel()

		h := newRESTHarness(t)
		h.locksHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}

		_, err := h.client.ListLocks(context.Background())
		require.True(t, IsAuthenticationError(err))
		require.Equal(t, int32(2), h.lockCalls.Load(), "exactly one retry")
		require.Equal(t, int32(1), h.refreshCalls.Load(), "exactly one forced refresh")
	})

	t.Run("unauthorized is a permission failure", func(t *testing.T) {
		t.Parallel()

		h := newRESTHarness(t)
		h.locksHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}

		_, err := h.client.ListLocks(context.Background())
		require.True(t, IsPermissionError(err))
		require.Equal(t, int32(1), h.lockCalls.Load())
		require.Equal(t, int32(0), h.refreshCalls.Load(), "permission failures never trigger a refresh")
	})

	t.Run("server error carries the status", func(t *testing.T) {
		t.Parallel()

		h := newRESTHarness(t)
		h.locksHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}

		_, err := h.client.ListLocks(context.Background())
		var ce *ConnectivityError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, http.StatusBadGateway, ce.StatusCode)
	})
}

func TestSendCommand(t *testing.T) {
	t.Parallel()

	t.Run("posts the command payload", func(t *testing.T) {
		t.Parallel()

		h := newRESTHarness(t)
		h.locksHandler = func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/api/v2/users/user-1/locks/lock-1/commands", r.URL.Path)
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))

			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.JSONEq(t, `{"command": "lock"}`, string(body))

			w.Write([]byte(`{"status": "Delivered"}`))
		}

		raw, err := h.client.SendCommand(context.Background(), "lock-1", CommandLock)
		require.NoError(t, err)
		require.JSONEq(t, `{"status": "Delivered"}`, string(raw))
	})

	t.Run("helpers wrap the commands", func(t *testing.T) {
		t.Parallel()

		var gotCommands []string
		h := newRESTHarness(t)
		h.locksHandler = func(w http.ResponseWriter, r *http.Request) {
			var payload struct {
				Command string `json:"command"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			gotCommands = append(gotCommands, payload.Command)
			w.Write([]byte(`{}`))
		}

		require.NoError(t, h.client.Lock(context.Background(), "lock-1"))
		require.NoError(t, h.client.Unlock(context.Background(), "lock-1"))
		require.Equal(t, []string{"lock", "unlock"}, gotCommands)
	})

	t.Run("rejects unknown commands without a request", func(t *testing.T) {
		t.Parallel()

		h := newRESTHarness(t)
		h.locksHandler = func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		}

		_, err := h.client.SendCommand(context.Background(), "lock-1", Command("toggle"))
		require.Error(t, err)
		require.Equal(t, int32(0), h.lockCalls.Load())
	})

	t.Run("command does not mutate device state", func(t *testing.T) {
		t.Parallel()

		h := newRESTHarness(t)
		h.client.registry.sync([]lockPayload{{ID: "lock-1", Name: "Front Door", BoltState: BoltStateUnlocked}})
		h.locksHandler = func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status": "Delivered"}`))
		}

		require.NoError(t, h.client.Lock(context.Background(), "lock-1"))

		locks := h.client.registry.snapshot()
		require.Len(t, locks, 1)
		require.Equal(t, boolPtr(false), locks[0].IsLocked, "only the event stream changes lock state")
		require.False(t, locks[0].IsLocking)
	})
}
