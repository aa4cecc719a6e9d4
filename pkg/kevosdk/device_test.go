package kevosdk

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDevices(t *testing.T) {
	t.Parallel()

	t.Run("first call populates from the provider", func(t *testing.T) {
		t.Parallel()

		h := newRESTHarness(t)
		h.locksHandler = func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"locks": [
				{"id": "lock-1", "name": "Front Door", "boltState": "Locked"}
			]}`))
		}

		locks, err := h.client.Devices(context.Background())
		require.NoError(t, err)
		require.Len(t, locks, 1)
		require.Equal(t, int32(1), h.lockCalls.Load())

		// Subsequent calls are answered from memory; the stream keeps the
		// records current.
		locks, err = h.client.Devices(context.Background())
		require.NoError(t, err)
		require.Len(t, locks, 1)
		require.Equal(t, int32(1), h.lockCalls.Load())
	})

	t.Run("snapshot is ordered by id", func(t *testing.T) {
		t.Parallel()

		h := newRESTHarness(t)
		h.client.registry.sync([]lockPayload{
			{ID: "lock-c", BoltState: BoltStateLocked},
			{ID: "lock-a", BoltState: BoltStateUnlocked},
			{ID: "lock-b", BoltState: BoltStateLocked},
		})

		locks, err := h.client.Devices(context.Background())
		require.NoError(t, err)
		require.Equal(t, []string{"lock-a", "lock-b", "lock-c"},
			[]string{locks[0].ID, locks[1].ID, locks[2].ID})
	})
}

func TestRegistrySync(t *testing.T) {
	t.Parallel()

	t.Run("poll preserves transient command flags", func(t *testing.T) {
		t.Parallel()

		var r deviceRegistry
		r.init()
		r.sync([]lockPayload{{ID: "lock-1", Name: "Front Door", BoltState: BoltStateUnlocked}})

		_, ok := r.update("lock-1", func(l *Lock) { l.IsLocking = true })
		require.True(t, ok)

		locks := r.sync([]lockPayload{{ID: "lock-1", Name: "Front Door", BoltState: BoltStateUnlocked}})
		require.Len(t, locks, 1)
		require.True(t, locks[0].IsLocking, "REST poll must not clear stream-sourced flags")
	})

	t.Run("records update in place", func(t *testing.T) {
		t.Parallel()

		var r deviceRegistry
		r.init()
		r.sync([]lockPayload{{ID: "lock-1", Name: "Front Door", BatteryLevel: 0.9, BoltState: BoltStateLocked}})
		r.sync([]lockPayload{{ID: "lock-1", Name: "Renamed", BatteryLevel: 0.5, BoltState: BoltStateUnlocked}})

		locks := r.snapshot()
		require.Len(t, locks, 1)
		require.Equal(t, "Renamed", locks[0].Name)
		require.InDelta(t, 0.5, locks[0].BatteryLevel, 1e-9)
		require.Equal(t, boolPtr(false), locks[0].IsLocked)
	})

	t.Run("update on unknown id is a no-op", func(t *testing.T) {
		t.Parallel()

		var r deviceRegistry
		r.init()
		_, ok := r.update("ghost", func(l *Lock) { l.IsLocking = true })
		require.False(t, ok)
	})
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	var r deviceRegistry
	r.init()
	r.sync([]lockPayload{{ID: "lock-1", BoltState: BoltStateLocked}})

	locks := r.snapshot()
	require.Len(t, locks, 1)

	// Mutating the copy must not reach the registry record.
	*locks[0].IsLocked = false
	locks[0].Name = "tampered"

	fresh := r.snapshot()
	require.Equal(t, boolPtr(true), fresh[0].IsLocked)
	require.Empty(t, fresh[0].Name)
}

func TestLockSelection(t *testing.T) {
	t.Parallel()

	c := NewClient(WithLogger(testLogger()), WithLockSelection("lock-1", "lock-3"))

	locks := c.registry.sync([]lockPayload{
		{ID: "lock-1", BoltState: BoltStateLocked},
		{ID: "lock-2", BoltState: BoltStateLocked},
		{ID: "lock-3", BoltState: BoltStateUnlocked},
	})
	require.Len(t, locks, 2)
	require.Equal(t, "lock-1", locks[0].ID)
	require.Equal(t, "lock-3", locks[1].ID)

	// Unselected locks were never registered, so stream updates for them
	// are dropped too.
	_, ok := c.registry.update("lock-2", func(l *Lock) {})
	require.False(t, ok)

	// An empty selection tracks everything.
	c.registry.setSelection(nil)
	locks = c.registry.sync([]lockPayload{{ID: "lock-2", BoltState: BoltStateLocked}})
	require.Len(t, locks, 1)
}
