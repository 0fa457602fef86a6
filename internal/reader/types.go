package reader

import (
	"strings"
	"time"
)

// Default reader ports.
const (
	DefaultPort   = 5000
	DefaultPortWS = 5002
)

// Driver identifies the protocol family of a reader.
type Driver int

const (
	// DriverLMPI is the length-prefixed TCP protocol spoken by LMPI hosts.
	DriverLMPI Driver = 0
)

// String returns the driver name used in API payloads.
func (d Driver) String() string {
	if d == DriverLMPI {
		return "lmpi"
	}
	return "unknown"
}

// ControlType describes how a reader controls its door.
type ControlType int

const (
	ControlRelay    ControlType = 0
	ControlTurnGate ControlType = 1
)

// Reader is one access-control terminal.
type Reader struct {
	ID                 int         `json:"id"`
	Description        string      `json:"description"`
	IPAddress          string      `json:"ip_address"`
	IPAddressEffective string      `json:"ip_address_effective,omitempty"`
	Port               int         `json:"port"`
	PortWS             int         `json:"port_ws"`
	UniqueName         string      `json:"unique_name"`
	ControlType        ControlType `json:"control_type"`
	Enabled            bool        `json:"enabled"`
	Deleted            bool        `json:"deleted,omitempty"`
	AreaID             *int        `json:"area_id,omitempty"`
	Driver             Driver      `json:"driver"`
	Created            time.Time   `json:"created"`
	Modified           time.Time   `json:"modified"`
}

// EffectiveIP returns the address to dial. The override is used only when
// useEffective is set and the override is non-blank.
func (r Reader) EffectiveIP(useEffective bool) string {
	if useEffective && strings.TrimSpace(r.IPAddressEffective) != "" {
		return strings.TrimSpace(r.IPAddressEffective)
	}
	return r.IPAddress
}

// ConnectionChanged reports whether other differs in any field that requires
// the connection to be rebuilt. Description, area and control type changes do
// not.
func (r Reader) ConnectionChanged(other Reader) bool {
	return r.IPAddress != other.IPAddress ||
		r.IPAddressEffective != other.IPAddressEffective ||
		r.Port != other.Port ||
		r.UniqueName != other.UniqueName ||
		r.Enabled != other.Enabled ||
		r.Driver != other.Driver
}

// applyDefaults fills zero ports.
func (r *Reader) applyDefaults() {
	if r.Port == 0 {
		r.Port = DefaultPort
	}
	if r.PortWS == 0 {
		r.PortWS = DefaultPortWS
	}
}
