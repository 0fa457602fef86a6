package telemetry

import (
	"time"

	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
	"github.com/nerrad567/cardpass-core/internal/connection"
)

// HealthStatus represents the service health state.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on the health topic.
type HealthMessage struct {
	SiteID        string           `json:"site_id"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        HealthStatus     `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Ready         bool             `json:"ready"`
	Stats         connection.Stats `json:"stats"`
}

// StateMessage is published retained on a reader's state topic.
type StateMessage struct {
	ReaderID   int                       `json:"reader_id"`
	UniqueName string                    `json:"unique_name"`
	Timestamp  time.Time                 `json:"timestamp"`
	Removed    bool                      `json:"removed,omitempty"`
	Info       connection.ConnectionInfo `json:"info"`
}

// EventMessage is published for every card scan.
type EventMessage struct {
	ReaderID  int        `json:"reader_id"`
	Timestamp time.Time  `json:"timestamp"`
	Event     lmpi.Event `json:"event"`
}

// CapacityMessage is published retained on a reader's capacity topic.
type CapacityMessage struct {
	ReaderID   int       `json:"reader_id"`
	UniqueName string    `json:"unique_name"`
	Timestamp  time.Time `json:"timestamp"`
	Current    int32     `json:"current"`
	Maximum    int32     `json:"maximum"`
}

// CommandMessage is received on the reader and site command topics.
//
// Reader commands: open, restart, connect, disconnect, enable, disable, or
// any raw protocol command name with an optional Param.
// Site commands: emergency, emergency_end, sync. Via selects "tcp" (every
// tracked connection, the default) or "udp" (subnet broadcast).
type CommandMessage struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Param   string `json:"param,omitempty"`
	Via     string `json:"via,omitempty"`
	Source  string `json:"source,omitempty"`
}

// AckStatus reports the outcome of a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// AckMessage is published on the command ack topic after every command.
type AckMessage struct {
	CommandID string    `json:"command_id,omitempty"`
	Command   string    `json:"command"`
	ReaderID  int       `json:"reader_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Status    AckStatus `json:"status"`
	Queued    int       `json:"queued,omitempty"`
	Error     string    `json:"error,omitempty"`
}
