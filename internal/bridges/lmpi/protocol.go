package lmpi

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
)

// maxStringLength bounds a single inbound string. Anything larger means the
// stream is no longer aligned on frame boundaries.
const maxStringLength = 64 * 1024

// TCPState is the connection state of a single driver.
type TCPState int32

const (
	StateDisconnected TCPState = iota
	StateConnecting
	StateTCPConnected
	StateReaderConnected
	StateDisconnecting
)

// String returns the state name used in logs and API payloads.
func (s TCPState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateTCPConnected:
		return "tcp_connected"
	case StateReaderConnected:
		return "reader_connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// MarshalText lets TCPState appear as its name in JSON.
func (s TCPState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Satisfies reports whether a driver in state s may send a command that
// requires state required.
func (s TCPState) Satisfies(required TCPState) bool {
	switch required {
	case StateReaderConnected:
		return s == StateReaderConnected
	case StateTCPConnected:
		return s == StateTCPConnected || s == StateReaderConnected
	default:
		return true
	}
}

// AppState is the host-wide control/emergency flag reported by the device.
type AppState int32

const (
	AppControl AppState = iota
	AppEmergency
)

func (s AppState) String() string {
	if s == AppControl {
		return "control"
	}
	return "emergency"
}

// MarshalText lets AppState appear as its name in JSON.
func (s AppState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ReaderState is the per-reader control/emergency flag reported by the device.
type ReaderState int32

const (
	ReaderControl ReaderState = iota
	ReaderEmergency
)

func (s ReaderState) String() string {
	if s == ReaderControl {
		return "control"
	}
	return "emergency"
}

// MarshalText lets ReaderState appear as its name in JSON.
func (s ReaderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MessageType is the leading tag of every inbound frame.
type MessageType int32

const (
	MsgConnected   MessageType = 0
	MsgEvent       MessageType = 1
	MsgLogMessage  MessageType = 2
	MsgCapacity    MessageType = 3
	MsgAppState    MessageType = 4
	MsgReaderState MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case MsgConnected:
		return "connected"
	case MsgEvent:
		return "event"
	case MsgLogMessage:
		return "log_message"
	case MsgCapacity:
		return "capacity"
	case MsgAppState:
		return "app_state"
	case MsgReaderState:
		return "reader_state"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

// Command is an outbound command name as it appears on the wire.
type Command string

const (
	CmdSync               Command = "sync"
	CmdEmergency          Command = "emergency"
	CmdEmergencyEnd       Command = "emergencyend"
	CmdConnectReader      Command = "connectreader"
	CmdOpenOnceReader     Command = "openoncereader"
	CmdRestartReader      Command = "restartreader"
	CmdEmergencyReader    Command = "emergencyreader"
	CmdEmergencyEndReader Command = "emergencyendreader"
	CmdQuit               Command = "quit"
	CmdReboot             Command = "reboot"
	CmdPowerOff           Command = "poweroff"
	CmdResetUSB           Command = "resetusb"
	CmdFakeScan           Command = "fakescan"
	CmdCrash              Command = "crash"
)

// requiredStates maps every known command to the minimum driver state.
var requiredStates = map[Command]TCPState{
	CmdSync:               StateTCPConnected,
	CmdEmergency:          StateTCPConnected,
	CmdEmergencyEnd:       StateTCPConnected,
	CmdQuit:               StateTCPConnected,
	CmdReboot:             StateTCPConnected,
	CmdPowerOff:           StateTCPConnected,
	CmdResetUSB:           StateTCPConnected,
	CmdFakeScan:           StateTCPConnected,
	CmdCrash:              StateTCPConnected,
	CmdConnectReader:      StateReaderConnected,
	CmdOpenOnceReader:     StateReaderConnected,
	CmdRestartReader:      StateReaderConnected,
	CmdEmergencyReader:    StateReaderConnected,
	CmdEmergencyEndReader: StateReaderConnected,
}

// commandsByLength lists known commands longest first so prefix matching in
// DecodeCommand picks "emergencyendreader" before "emergency".
var commandsByLength = func() []Command {
	cmds := make([]Command, 0, len(requiredStates))
	for c := range requiredStates {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool {
		if len(cmds[i]) != len(cmds[j]) {
			return len(cmds[i]) > len(cmds[j])
		}
		return cmds[i] < cmds[j]
	})
	return cmds
}()

// RequiredState returns the state a driver must be in to send c.
func (c Command) RequiredState() TCPState {
	return requiredStates[c]
}

// TargetsReader reports whether c carries the reader's unique name as its
// parameter.
func (c Command) TargetsReader() bool {
	return requiredStates[c] == StateReaderConnected
}

// ParseCommand validates a command name.
func ParseCommand(name string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := requiredStates[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return c, nil
}

// Event is a card scan reported by a reader.
type Event struct {
	UniqueName    string `json:"unique_name"`
	UserID        int32  `json:"user_id"`
	Incidence     string `json:"incidence"`
	ReaderID      int32  `json:"reader_id"`
	DatetimeUTC   string `json:"datetime_utc"`
	DatetimeLocal string `json:"datetime_local"`
}

// Capacity is the occupancy counter reported by a reader host.
type Capacity struct {
	Current int32 `json:"current"`
	Maximum int32 `json:"maximum"`
}

// LogMessage is a diagnostic line forwarded by the reader host.
type LogMessage struct {
	Level int32
	Text  string
}

// Message is one decoded inbound frame. Only the fields relevant to Type are
// populated.
type Message struct {
	Type        MessageType
	UniqueName  string
	Event       *Event
	Capacity    *Capacity
	Log         *LogMessage
	AppState    AppState
	ReaderState ReaderState
}

// EncodeCommand builds an outbound frame: [int32 length]["<cmd><param>"].
func EncodeCommand(cmd Command, param string) []byte {
	body := string(cmd) + param
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body))) //nolint:gosec // body length is bounded by caller input
	copy(buf[4:], body)
	return buf
}

// DecodeCommand is the device-side inverse of EncodeCommand. It splits the
// body into the longest matching command name and its parameter.
func DecodeCommand(frame []byte) (Command, string, error) {
	if len(frame) < 4 {
		return "", "", fmt.Errorf("%w: frame shorter than header", ErrInvalidMessage)
	}
	n := int(int32(binary.BigEndian.Uint32(frame[:4]))) //nolint:gosec // signed on the wire
	if n < 0 || 4+n > len(frame) {
		return "", "", fmt.Errorf("%w: length %d does not match frame", ErrInvalidMessage, n)
	}
	body := string(frame[4 : 4+n])
	for _, c := range commandsByLength {
		if strings.HasPrefix(body, string(c)) {
			return c, body[len(c):], nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownCommand, body)
}

// Decoder reads inbound frames from a reader host stream.
//
// A short read at any point is returned as an error and the stream must be
// considered dead.
type Decoder struct {
	r   io.Reader
	buf [4]byte
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// ReadInt32 reads one big-endian signed 32-bit integer.
func (d *Decoder) ReadInt32() (int32, error) {
	if _, err := io.ReadFull(d.r, d.buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(d.buf[:])), nil //nolint:gosec // signed on the wire
}

// ReadString reads a length-prefixed, NUL-terminated string. The returned
// value has length-1 bytes.
func (d *Decoder) ReadString() (string, error) {
	n, err := d.ReadInt32()
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxStringLength {
		return "", fmt.Errorf("%w: string length %d", ErrProtocolDesync, n)
	}
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return "", err
	}
	return string(b[:n-1]), nil
}

// ReadMessage reads one complete inbound frame.
func (d *Decoder) ReadMessage() (Message, error) {
	tag, err := d.ReadInt32()
	if err != nil {
		return Message{}, err
	}

	msg := Message{Type: MessageType(tag)}
	switch msg.Type {
	case MsgConnected:
		msg.UniqueName, err = d.ReadString()

	case MsgEvent:
		ev := &Event{}
		if ev.UniqueName, err = d.ReadString(); err != nil {
			break
		}
		if ev.UserID, err = d.ReadInt32(); err != nil {
			break
		}
		if ev.Incidence, err = d.ReadString(); err != nil {
			break
		}
		if ev.ReaderID, err = d.ReadInt32(); err != nil {
			break
		}
		if ev.DatetimeUTC, err = d.ReadString(); err != nil {
			break
		}
		if ev.DatetimeLocal, err = d.ReadString(); err != nil {
			break
		}
		msg.UniqueName = ev.UniqueName
		msg.Event = ev

	case MsgLogMessage:
		lm := &LogMessage{}
		if lm.Level, err = d.ReadInt32(); err != nil {
			break
		}
		if lm.Text, err = d.ReadString(); err != nil {
			break
		}
		msg.Log = lm

	case MsgCapacity:
		c := &Capacity{}
		if c.Current, err = d.ReadInt32(); err != nil {
			break
		}
		if c.Maximum, err = d.ReadInt32(); err != nil {
			break
		}
		msg.Capacity = c

	case MsgAppState:
		var raw int32
		if raw, err = d.ReadInt32(); err != nil {
			break
		}
		msg.AppState = AppControl
		if raw != 0 {
			msg.AppState = AppEmergency
		}

	case MsgReaderState:
		if msg.UniqueName, err = d.ReadString(); err != nil {
			break
		}
		var raw int32
		if raw, err = d.ReadInt32(); err != nil {
			break
		}
		msg.ReaderState = ReaderControl
		if raw != 0 {
			msg.ReaderState = ReaderEmergency
		}

	default:
		return Message{}, fmt.Errorf("%w: message type %d", ErrProtocolDesync, tag)
	}

	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// EncodeMessage builds an inbound frame as a reader host would send it.
// Used by simulators and tests.
func EncodeMessage(msg Message) []byte {
	var buf []byte
	buf = appendInt32(buf, int32(msg.Type))

	switch msg.Type {
	case MsgConnected:
		buf = appendString(buf, msg.UniqueName)
	case MsgEvent:
		ev := msg.Event
		if ev == nil {
			ev = &Event{UniqueName: msg.UniqueName}
		}
		buf = appendString(buf, ev.UniqueName)
		buf = appendInt32(buf, ev.UserID)
		buf = appendString(buf, ev.Incidence)
		buf = appendInt32(buf, ev.ReaderID)
		buf = appendString(buf, ev.DatetimeUTC)
		buf = appendString(buf, ev.DatetimeLocal)
	case MsgLogMessage:
		lm := msg.Log
		if lm == nil {
			lm = &LogMessage{}
		}
		buf = appendInt32(buf, lm.Level)
		buf = appendString(buf, lm.Text)
	case MsgCapacity:
		c := msg.Capacity
		if c == nil {
			c = &Capacity{}
		}
		buf = appendInt32(buf, c.Current)
		buf = appendInt32(buf, c.Maximum)
	case MsgAppState:
		buf = appendInt32(buf, int32(msg.AppState))
	case MsgReaderState:
		buf = appendString(buf, msg.UniqueName)
		buf = appendInt32(buf, int32(msg.ReaderState))
	}
	return buf
}

func appendInt32(buf []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(buf, uint32(v)) //nolint:gosec // signed on the wire
}

func appendString(buf []byte, s string) []byte {
	buf = appendInt32(buf, int32(len(s)+1)) //nolint:gosec // bounded by maxStringLength in practice
	buf = append(buf, s...)
	return append(buf, 0)
}
