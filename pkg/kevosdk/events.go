package kevosdk

// Provider constants for the event stream payload. Bolt states are the
// lock's physical state as reported by the provider; command statuses track
// a lock/unlock command in flight.
const (
	messageTypeLockStatus = "LockStatus"

	BoltStateLocked      = "Locked"
	BoltStateUnlocked    = "Unlocked"
	BoltStateJam         = "BoltJam"
	BoltStateLockedJam   = "LockedBoltJam"
	BoltStateUnlockedJam = "UnlockedBoltJam"

	commandStatusComplete   = "Complete"
	commandStatusCancelled  = "Cancelled"
	commandStatusDelivered  = "Delivered"
	commandStatusProcessing = "Processing"
)

// streamMessage is one inbound event frame. Frames with an unrecognised
// messageType are ignored for forward compatibility.
type streamMessage struct {
	MessageType string         `json:"messageType"`
	MessageData lockStatusData `json:"messageData"`
}

type lockStatusData struct {
	LockID       string       `json:"lockId"`
	BatteryLevel float64      `json:"batteryLevel"`
	BoltState    string       `json:"boltState"`
	Command      *commandData `json:"command"`
}

type commandData struct {
	Status string `json:"status"`
	Type   string `json:"type"`
}

// applyBoltState maps a reported bolt state onto the record's tri-state
// locked/jammed fields using a fixed lookup. An unrecognised state sets
// both to unknown rather than guessing; the caller logs it. A bare jam
// report leaves the bolt position untouched.
func applyBoltState(l *Lock, state string) bool {
	switch state {
	case BoltStateLocked:
		l.IsLocked = boolPtr(true)
		l.IsJammed = boolPtr(false)
	case BoltStateUnlocked:
		l.IsLocked = boolPtr(false)
		l.IsJammed = boolPtr(false)
	case BoltStateJam:
		l.IsJammed = boolPtr(true)
	case BoltStateLockedJam:
		l.IsLocked = boolPtr(true)
		l.IsJammed = boolPtr(true)
	case BoltStateUnlockedJam:
		l.IsLocked = boolPtr(false)
		l.IsJammed = boolPtr(true)
	default:
		l.IsLocked = nil
		l.IsJammed = nil
		return false
	}
	return true
}

// applyCommandStatus maps a frame's command sub-object onto the transient
// in-flight flags. Complete and Cancelled clear both; Delivered and
// Processing set exactly one, chosen by the command type.
func applyCommandStatus(l *Lock, cmd *commandData) {
	if cmd == nil {
		return
	}
	switch cmd.Status {
	case commandStatusComplete, commandStatusCancelled:
		l.IsLocking = false
		l.IsUnlocking = false
	case commandStatusDelivered, commandStatusProcessing:
		if cmd.Type == string(CommandLock) {
			l.IsLocking = true
			l.IsUnlocking = false
		} else {
			l.IsLocking = false
			l.IsUnlocking = true
		}
	}
}

func boolPtr(v bool) *bool { return &v }
