package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/cardpass-core/internal/connection"
	"github.com/nerrad567/cardpass-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/cardpass-core/internal/reader"
)

// notificationBuffer is the subscriber buffer requested from the manager.
const notificationBuffer = 256

// recordTimeout bounds a single event log insert.
const recordTimeout = 5 * time.Second

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessagePublisher publishes JSON payloads. *mqtt.Client satisfies it.
type MessagePublisher interface {
	PublishJSON(topic string, v any, retained bool) error
	IsConnected() bool
}

// MetricsWriter records reader activity as time series.
// *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteReaderEvent(readerID int, uniqueName string, userID int32, incidence string, at time.Time)
	WriteConnectionState(readerID int, uniqueName, state string, connected bool, at time.Time)
	WriteCapacity(readerID int, uniqueName string, current, maximum int32, at time.Time)
}

// EventStore persists card scans. *reader.EventLog satisfies it.
type EventStore interface {
	Record(ctx context.Context, ev *reader.EventRecord) error
}

// NotificationSource hands out manager notifications.
// *connection.Manager satisfies it.
type NotificationSource interface {
	Subscribe(buffer int) (<-chan connection.Notification, func())
}

// PublisherConfig holds the sinks for a Publisher. Any sink may be nil.
type PublisherConfig struct {
	MQTT    MessagePublisher
	Metrics MetricsWriter
	Events  EventStore
}

// Publisher forwards connection manager notifications to MQTT, InfluxDB and
// the event log.
type Publisher struct {
	mqtt    MessagePublisher
	metrics MetricsWriter
	events  EventStore
	topics  mqtt.Topics

	cancel   func()
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewPublisher creates a publisher. Call Start to begin forwarding.
func NewPublisher(cfg PublisherConfig) *Publisher {
	return &Publisher{
		mqtt:    cfg.MQTT,
		metrics: cfg.Metrics,
		events:  cfg.Events,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for this publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	defer p.loggerMu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

func (p *Publisher) log() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// Start subscribes to source and forwards notifications until ctx is
// cancelled, Stop is called, or the source closes the subscription.
func (p *Publisher) Start(ctx context.Context, source NotificationSource) {
	notes, cancel := source.Subscribe(notificationBuffer)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(ctx, notes)
}

// Stop cancels the subscription and waits for the forwarding loop to exit.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

func (p *Publisher) run(ctx context.Context, notes <-chan connection.Notification) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case note, ok := <-notes:
			if !ok {
				return
			}
			p.Handle(ctx, note)
		}
	}
}

// Handle forwards one notification to every configured sink. Sink failures
// are logged and never stop delivery to the other sinks.
func (p *Publisher) Handle(ctx context.Context, note connection.Notification) {
	defer func() {
		if r := recover(); r != nil {
			p.log().Error("telemetry handler panic recovered", "kind", note.Kind.String(), "panic", r)
		}
	}()

	at := note.At
	if at.IsZero() {
		at = time.Now()
	}

	switch note.Kind {
	case connection.StateChanged, connection.ReaderRemoved:
		p.handleState(note, at)
	case connection.EventReceived:
		p.handleEvent(ctx, note, at)
	case connection.CapacityChanged:
		p.handleCapacity(note, at)
	}
}

func (p *Publisher) handleState(note connection.Notification, at time.Time) {
	info := note.Info
	id := info.Reader.ID
	removed := note.Kind == connection.ReaderRemoved

	p.publish(p.topics.ReaderState(id), StateMessage{
		ReaderID:   id,
		UniqueName: info.Reader.UniqueName,
		Timestamp:  at,
		Removed:    removed,
		Info:       info,
	}, true)

	if p.metrics != nil && !removed {
		p.metrics.WriteConnectionState(id, info.Reader.UniqueName, info.State.String(),
			info.State == connection.StateReaderConnected, at)
	}
}

func (p *Publisher) handleEvent(ctx context.Context, note connection.Notification, at time.Time) {
	ev := note.Event
	if ev == nil {
		return
	}
	id := note.Info.Reader.ID

	p.publish(p.topics.ReaderEvent(id), EventMessage{
		ReaderID:  id,
		Timestamp: at,
		Event:     *ev,
	}, false)

	if p.metrics != nil {
		p.metrics.WriteReaderEvent(id, ev.UniqueName, ev.UserID, ev.Incidence, at)
	}

	if p.events != nil {
		rctx, cancel := context.WithTimeout(ctx, recordTimeout)
		defer cancel()
		rec := &reader.EventRecord{
			ReaderID:      id,
			UniqueName:    ev.UniqueName,
			UserID:        ev.UserID,
			Incidence:     ev.Incidence,
			DatetimeUTC:   ev.DatetimeUTC,
			DatetimeLocal: ev.DatetimeLocal,
			ReceivedAt:    at.UTC(),
		}
		if err := p.events.Record(rctx, rec); err != nil {
			p.log().Warn("failed to record reader event", "reader_id", id, "error", err)
		}
	}
}

func (p *Publisher) handleCapacity(note connection.Notification, at time.Time) {
	info := note.Info
	if info.Capacity == nil {
		return
	}
	id := info.Reader.ID

	p.publish(p.topics.ReaderCapacity(id), CapacityMessage{
		ReaderID:   id,
		UniqueName: info.Reader.UniqueName,
		Timestamp:  at,
		Current:    info.Capacity.Current,
		Maximum:    info.Capacity.Maximum,
	}, true)

	if p.metrics != nil {
		p.metrics.WriteCapacity(id, info.Reader.UniqueName, info.Capacity.Current, info.Capacity.Maximum, at)
	}
}

func (p *Publisher) publish(topic string, v any, retained bool) {
	if p.mqtt == nil || !p.mqtt.IsConnected() {
		return
	}
	if err := p.mqtt.PublishJSON(topic, v, retained); err != nil {
		p.log().Warn("failed to publish reader telemetry", "topic", topic, "error", err)
	}
}
