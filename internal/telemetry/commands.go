package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/cardpass-core/internal/audit"
	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
	"github.com/nerrad567/cardpass-core/internal/infrastructure/mqtt"
)

// commandTimeout bounds store writes triggered by a command.
const commandTimeout = 10 * time.Second

// commandQoS is used for the command subscriptions.
const commandQoS byte = 1

// Reader commands handled directly rather than forwarded to the protocol.
const (
	cmdOpen       = "open"
	cmdRestart    = "restart"
	cmdConnect    = "connect"
	cmdDisconnect = "disconnect"
	cmdEnable     = "enable"
	cmdDisable    = "disable"
)

// Site commands.
const (
	cmdEmergency    = "emergency"
	cmdEmergencyEnd = "emergency_end"
	cmdSync         = "sync"
)

const (
	viaTCP = "tcp"
	viaUDP = "udp"
)

// ReaderController executes commands against tracked readers.
// *connection.Manager satisfies it.
type ReaderController interface {
	OpenRelay(id int) bool
	Restart(id int) bool
	SendCommand(id int, cmd lmpi.Command, param string) bool
	Connect(ctx context.Context, id int) error
	Disconnect(id int) error
	SetEnabled(ctx context.Context, id int, enabled bool) error
	EmergencyOpen() int
	EmergencyEnd() int
}

// Broadcaster sends site-wide datagrams. *lmpi.BroadcastClient satisfies it.
type Broadcaster interface {
	Send(payload string) bool
}

// Subscriber registers MQTT handlers. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// CommandHandlerConfig wires a CommandHandler.
type CommandHandlerConfig struct {
	Controller ReaderController

	// Broadcast is optional; "udp" site commands fail without it.
	Broadcast Broadcaster

	// Publisher receives acks. Optional.
	Publisher MessagePublisher

	// Audit records accepted commands. Optional.
	Audit AuditRecorder
}

// AuditRecorder stores accepted commands. *audit.SQLiteRepository satisfies it.
type AuditRecorder interface {
	Create(ctx context.Context, log *audit.AuditLog) error
}

// CommandHandler executes reader and site commands received over MQTT.
type CommandHandler struct {
	ctrl      ReaderController
	broadcast Broadcaster
	publisher MessagePublisher
	audit     AuditRecorder
	topics    mqtt.Topics

	logger   Logger
	loggerMu sync.RWMutex
}

// NewCommandHandler creates a command handler. Call Subscribe to attach it
// to the broker.
func NewCommandHandler(cfg CommandHandlerConfig) *CommandHandler {
	return &CommandHandler{
		ctrl:      cfg.Controller,
		broadcast: cfg.Broadcast,
		publisher: cfg.Publisher,
		audit:     cfg.Audit,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for this handler.
func (h *CommandHandler) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	defer h.loggerMu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	h.logger = logger
}

func (h *CommandHandler) log() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

// Subscribe registers the reader and site command subscriptions.
func (h *CommandHandler) Subscribe(sub Subscriber) error {
	if err := sub.Subscribe(h.topics.AllReaderCommands(), commandQoS, h.HandleReaderMessage); err != nil {
		return fmt.Errorf("subscribing to reader commands: %w", err)
	}
	if err := sub.Subscribe(h.topics.SiteCommand(), commandQoS, h.HandleSiteMessage); err != nil {
		return fmt.Errorf("subscribing to site commands: %w", err)
	}
	return nil
}

// Unsubscribe removes the command subscriptions.
func (h *CommandHandler) Unsubscribe(sub Subscriber) {
	//nolint:errcheck // best-effort during shutdown
	sub.Unsubscribe(h.topics.AllReaderCommands())
	//nolint:errcheck // best-effort during shutdown
	sub.Unsubscribe(h.topics.SiteCommand())
}

// HandleReaderMessage handles a message on a reader command topic.
func (h *CommandHandler) HandleReaderMessage(topic string, payload []byte) error {
	id, err := h.topics.ParseReaderCommand(topic)
	if err != nil {
		return err
	}
	msg, err := parseCommand(payload)
	if err != nil {
		h.ack(AckMessage{ReaderID: id, Status: AckFailed, Error: err.Error()})
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	err = h.ExecuteReaderCommand(ctx, id, msg)
	ack := AckMessage{CommandID: msg.ID, Command: msg.Command, ReaderID: id, Status: AckAccepted}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = err.Error()
	} else {
		h.record(ctx, audit.EntityReader, strconv.Itoa(id), msg, nil)
	}
	h.ack(ack)
	return err
}

// HandleSiteMessage handles a message on the site command topic.
func (h *CommandHandler) HandleSiteMessage(_ string, payload []byte) error {
	msg, err := parseCommand(payload)
	if err != nil {
		h.ack(AckMessage{Status: AckFailed, Error: err.Error()})
		return err
	}

	queued, err := h.ExecuteSiteCommand(msg)
	ack := AckMessage{CommandID: msg.ID, Command: msg.Command, Status: AckAccepted, Queued: queued}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = err.Error()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		h.record(ctx, audit.EntitySite, "", msg, map[string]any{"queued": queued})
		cancel()
	}
	h.ack(ack)
	return err
}

// ExecuteReaderCommand runs one command against reader id.
func (h *CommandHandler) ExecuteReaderCommand(ctx context.Context, id int, msg CommandMessage) error {
	h.log().Info("reader command received", "reader_id", id, "command", msg.Command, "source", msg.Source)

	var ok bool
	switch msg.Command {
	case cmdOpen:
		ok = h.ctrl.OpenRelay(id)
	case cmdRestart:
		ok = h.ctrl.Restart(id)
	case cmdConnect:
		return h.ctrl.Connect(ctx, id)
	case cmdDisconnect:
		return h.ctrl.Disconnect(id)
	case cmdEnable:
		return h.ctrl.SetEnabled(ctx, id, true)
	case cmdDisable:
		return h.ctrl.SetEnabled(ctx, id, false)
	default:
		cmd, err := lmpi.ParseCommand(msg.Command)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		ok = h.ctrl.SendCommand(id, cmd, msg.Param)
	}

	if !ok {
		return fmt.Errorf("%w: %s on reader %d", ErrCommandRejected, msg.Command, id)
	}
	return nil
}

// ExecuteSiteCommand runs a site-wide command and returns how many
// connections queued it. UDP broadcasts report 1 on success.
func (h *CommandHandler) ExecuteSiteCommand(msg CommandMessage) (int, error) {
	h.log().Warn("site command received", "command", msg.Command, "via", msg.Via, "source", msg.Source)

	via := strings.ToLower(msg.Via)
	if via == "" {
		via = viaTCP
	}

	switch via {
	case viaTCP:
		switch msg.Command {
		case cmdEmergency:
			return h.ctrl.EmergencyOpen(), nil
		case cmdEmergencyEnd:
			return h.ctrl.EmergencyEnd(), nil
		case cmdSync:
			return 0, fmt.Errorf("%w: sync is only sent by broadcast", ErrInvalidCommand)
		}
	case viaUDP:
		payload, ok := broadcastPayloads[msg.Command]
		if !ok {
			break
		}
		if h.broadcast == nil {
			return 0, fmt.Errorf("%w: broadcast disabled", ErrCommandRejected)
		}
		if !h.broadcast.Send(payload) {
			return 0, fmt.Errorf("%w: broadcast %s failed", ErrCommandRejected, msg.Command)
		}
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: unknown transport %q", ErrInvalidCommand, msg.Via)
	}
	return 0, fmt.Errorf("%w: unknown site command %q", ErrInvalidCommand, msg.Command)
}

var broadcastPayloads = map[string]string{
	cmdEmergency:    lmpi.BroadcastEmergency,
	cmdEmergencyEnd: lmpi.BroadcastEmergencyEnd,
	cmdSync:         lmpi.BroadcastSync,
}

func parseCommand(payload []byte) (CommandMessage, error) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	msg.Command = strings.ToLower(strings.TrimSpace(msg.Command))
	if msg.Command == "" {
		return msg, fmt.Errorf("%w: command is required", ErrInvalidCommand)
	}
	return msg, nil
}

// record writes an audit entry for an accepted command.
func (h *CommandHandler) record(ctx context.Context, entityType, entityID string, msg CommandMessage, details map[string]any) {
	if h.audit == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["command"] = msg.Command
	for k, v := range map[string]string{"param": msg.Param, "via": msg.Via, "command_id": msg.ID, "origin": msg.Source} {
		if v != "" {
			details[k] = v
		}
	}

	entry := &audit.AuditLog{
		Action:     audit.ActionCommand,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     audit.SourceMQTT,
		Details:    details,
	}
	if err := h.audit.Create(ctx, entry); err != nil {
		h.log().Warn("failed to record command audit", "command", msg.Command, "error", err)
	}
}

func (h *CommandHandler) ack(msg AckMessage) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return
	}
	msg.Timestamp = time.Now().UTC()
	if err := h.publisher.PublishJSON(h.topics.CommandAck(), msg, false); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		h.log().Warn("failed to publish command ack", "command", msg.Command, "error", err)
	}
}
