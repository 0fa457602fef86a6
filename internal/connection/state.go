package connection

import (
	"fmt"
	"time"

	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
	"github.com/nerrad567/cardpass-core/internal/reader"
)

// State is the externally visible connection state of one reader.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateTCPConnected
	StateReaderConnected
	StateDisconnected
	StateFailed
)

// String returns the state name used in API and telemetry payloads.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateTCPConnected:
		return "tcp_connected"
	case StateReaderConnected:
		return "reader_connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText lets State appear as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// stateFromDriver maps a driver state onto the registry state.
func stateFromDriver(s lmpi.TCPState) State {
	switch s {
	case lmpi.StateDisconnected, lmpi.StateDisconnecting:
		return StateDisconnected
	case lmpi.StateConnecting:
		return StateConnecting
	case lmpi.StateTCPConnected:
		return StateTCPConnected
	case lmpi.StateReaderConnected:
		return StateReaderConnected
	default:
		return StateFailed
	}
}

// ConnectionInfo is the live state of one reader. Values handed out by the
// Manager are copies; mutating them has no effect on the registry.
type ConnectionInfo struct {
	Reader        reader.Reader    `json:"reader"`
	State         State            `json:"state"`
	AppState      lmpi.AppState    `json:"app_state"`
	ReaderState   lmpi.ReaderState `json:"reader_state"`
	Capacity      *lmpi.Capacity   `json:"capacity,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	LastAttemptAt *time.Time       `json:"last_attempt_at,omitempty"`
	ConnectedAt   *time.Time       `json:"connected_at,omitempty"`
}

func newConnectionInfo(r reader.Reader) *ConnectionInfo {
	return &ConnectionInfo{Reader: r, State: StateIdle}
}

// NotificationKind identifies what changed.
type NotificationKind int

const (
	StateChanged NotificationKind = iota
	EventReceived
	CapacityChanged
	ReaderRemoved
)

// String returns the notification channel name.
func (k NotificationKind) String() string {
	switch k {
	case StateChanged:
		return "reader.state_changed"
	case EventReceived:
		return "reader.event"
	case CapacityChanged:
		return "reader.capacity"
	case ReaderRemoved:
		return "reader.removed"
	default:
		return "reader.unknown"
	}
}

// Notification is published for every registry change and device event.
type Notification struct {
	Kind  NotificationKind `json:"kind"`
	Info  ConnectionInfo   `json:"info"`
	Event *lmpi.Event      `json:"event,omitempty"`
	At    time.Time        `json:"at"`
}

// MarshalText lets NotificationKind appear as its channel name in JSON.
func (k NotificationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
