package kevosdk

import (
	"context"
	"sort"
	"sync"
)

// Lock is the in-memory state of one lock. IsLocked and IsJammed are
// tri-state: nil means the provider reported a bolt state this SDK does not
// recognise and the true state is unknown.
//
// Records are identified by ID and updated in place for the lifetime of the
// session: the REST device list creates them, the event stream mutates them.
// Values handed to callers and observers are copies and safe to retain.
type Lock struct {
	ID           string
	Name         string
	Firmware     string
	Brand        string
	BatteryLevel float64 // 0.0 to 1.0
	IsLocked     *bool
	IsJammed     *bool
	IsLocking    bool
	IsUnlocking  bool
}

// clone returns a deep copy with fresh pointers for the tri-state fields.
func (l Lock) clone() Lock {
	out := l
	if l.IsLocked != nil {
		v := *l.IsLocked
		out.IsLocked = &v
	}
	if l.IsJammed != nil {
		v := *l.IsJammed
		out.IsJammed = &v
	}
	return out
}

// deviceRegistry owns every Lock record. It is the single mutation point:
// the stream goroutine writes through update, everything else reads
// snapshots.
type deviceRegistry struct {
	mu        sync.Mutex
	locks     map[string]*Lock
	selection map[string]bool // nil tracks every lock
}

func (r *deviceRegistry) init() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[string]*Lock)
	}
}

func (r *deviceRegistry) setSelection(lockIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(lockIDs) == 0 {
		r.selection = nil
		return
	}
	r.selection = make(map[string]bool, len(lockIDs))
	for _, id := range lockIDs {
		r.selection[id] = true
	}
}

func (r *deviceRegistry) trackedLocked(id string) bool {
	return r.selection == nil || r.selection[id]
}

// sync reconciles the registry with a REST device list. Existing records
// are updated field by field, never recreated, so stream-sourced transient
// flags survive a poll. Returns a snapshot of the tracked records.
func (r *deviceRegistry) sync(payload []lockPayload) []Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Lock, 0, len(payload))
	for _, p := range payload {
		if !r.trackedLocked(p.ID) {
			continue
		}
		l, exists := r.locks[p.ID]
		if !exists {
			l = &Lock{ID: p.ID}
			r.locks[p.ID] = l
		}
		l.Name = p.Name
		l.Firmware = p.FirmwareVersion
		l.Brand = p.Brand
		l.BatteryLevel = p.BatteryLevel
		applyBoltState(l, p.BoltState)
		out = append(out, l.clone())
	}
	return out
}

// update applies fn to the record for id under the registry lock and returns
// a copy of the result. Unknown or unselected ids are a no-op.
func (r *deviceRegistry) update(id string, fn func(*Lock)) (Lock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[id]
	if !ok {
		return Lock{}, false
	}
	fn(l)
	return l.clone(), true
}

// snapshot returns copies of every tracked record, ordered by id.
func (r *deviceRegistry) snapshot() []Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Lock, 0, len(r.locks))
	for _, l := range r.locks {
		out = append(out, l.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *deviceRegistry) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks) == 0
}

// Devices returns the current device snapshot. A REST refresh is triggered
// only if no records exist yet; thereafter the event stream keeps the
// records current and polls are answered from memory.
func (c *Client) Devices(ctx context.Context) ([]Lock, error) {
	if c.registry.empty() {
		return c.ListLocks(ctx)
	}
	return c.registry.snapshot(), nil
}
