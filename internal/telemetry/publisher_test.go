package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
	"github.com/nerrad567/cardpass-core/internal/connection"
)

func TestPublisherStateChanged(t *testing.T) {
	pub := newFakePublisher()
	metrics := &fakeMetrics{}
	p := NewPublisher(PublisherConfig{MQTT: pub, Metrics: metrics})

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p.Handle(context.Background(), connection.Notification{
		Kind: connection.StateChanged,
		Info: testInfo(7, "door-a", connection.StateReaderConnected),
		At:   at,
	})

	msg, ok := pub.last()
	if !ok {
		t.Fatal("nothing published")
	}
	if msg.topic != "cardpass/reader/7/state" || !msg.retained {
		t.Errorf("published %q retained=%v", msg.topic, msg.retained)
	}
	state, ok := msg.v.(StateMessage)
	if !ok {
		t.Fatalf("payload type = %T", msg.v)
	}
	if state.ReaderID != 7 || state.UniqueName != "door-a" || !state.Timestamp.Equal(at) || state.Removed {
		t.Errorf("state message = %+v", state)
	}
	if len(metrics.states) != 1 || metrics.states[0] != "reader_connected" {
		t.Errorf("metrics states = %v", metrics.states)
	}
}

func TestPublisherReaderRemoved(t *testing.T) {
	pub := newFakePublisher()
	metrics := &fakeMetrics{}
	p := NewPublisher(PublisherConfig{MQTT: pub, Metrics: metrics})

	p.Handle(context.Background(), connection.Notification{
		Kind: connection.ReaderRemoved,
		Info: testInfo(3, "gate", connection.StateDisconnected),
	})

	msg, ok := pub.last()
	if !ok {
		t.Fatal("nothing published")
	}
	if state := msg.v.(StateMessage); !state.Removed {
		t.Error("Removed not set")
	}
	if len(metrics.states) != 0 {
		t.Errorf("removed reader wrote connection state: %v", metrics.states)
	}
}

func TestPublisherEvent(t *testing.T) {
	pub := newFakePublisher()
	metrics := &fakeMetrics{}
	store := &fakeStore{}
	p := NewPublisher(PublisherConfig{MQTT: pub, Metrics: metrics, Events: store})

	ev := &lmpi.Event{UniqueName: "door-a", UserID: 1042, Incidence: "granted", DatetimeUTC: "2026-03-01 09:00:00"}
	p.Handle(context.Background(), connection.Notification{
		Kind:  connection.EventReceived,
		Info:  testInfo(7, "door-a", connection.StateReaderConnected),
		Event: ev,
	})

	msg, ok := pub.last()
	if !ok {
		t.Fatal("nothing published")
	}
	if msg.topic != "cardpass/reader/7/event" || msg.retained {
		t.Errorf("published %q retained=%v", msg.topic, msg.retained)
	}
	if em := msg.v.(EventMessage); em.Event.UserID != 1042 {
		t.Errorf("event message = %+v", em)
	}
	if len(metrics.events) != 1 || metrics.events[0] != "granted" {
		t.Errorf("metrics events = %v", metrics.events)
	}
	if store.count() != 1 {
		t.Fatalf("recorded %d events, want 1", store.count())
	}
	rec := store.records[0]
	if rec.ReaderID != 7 || rec.UserID != 1042 || rec.DatetimeUTC != "2026-03-01 09:00:00" || rec.ReceivedAt.IsZero() {
		t.Errorf("record = %+v", rec)
	}
}

func TestPublisherEventWithoutPayload(t *testing.T) {
	pub := newFakePublisher()
	store := &fakeStore{}
	p := NewPublisher(PublisherConfig{MQTT: pub, Events: store})

	p.Handle(context.Background(), connection.Notification{
		Kind: connection.EventReceived,
		Info: testInfo(7, "door-a", connection.StateReaderConnected),
	})

	if n := len(pub.all()); n != 0 {
		t.Errorf("published %d messages, want 0", n)
	}
	if store.count() != 0 {
		t.Error("recorded an empty event")
	}
}

func TestPublisherCapacity(t *testing.T) {
	pub := newFakePublisher()
	metrics := &fakeMetrics{}
	p := NewPublisher(PublisherConfig{MQTT: pub, Metrics: metrics})

	info := testInfo(2, "turnstile", connection.StateReaderConnected)
	info.Capacity = &lmpi.Capacity{Current: 17, Maximum: 50}
	p.Handle(context.Background(), connection.Notification{Kind: connection.CapacityChanged, Info: info})

	msg, ok := pub.last()
	if !ok {
		t.Fatal("nothing published")
	}
	if msg.topic != "cardpass/reader/2/capacity" || !msg.retained {
		t.Errorf("published %q retained=%v", msg.topic, msg.retained)
	}
	if c := msg.v.(CapacityMessage); c.Current != 17 || c.Maximum != 50 {
		t.Errorf("capacity message = %+v", c)
	}
	if len(metrics.capacities) != 1 || metrics.capacities[0] != 17 {
		t.Errorf("metrics capacities = %v", metrics.capacities)
	}
}

func TestPublisherSinkFailures(t *testing.T) {
	pub := newFakePublisher()
	pub.err = errors.New("broker down")
	metrics := &fakeMetrics{}
	store := &fakeStore{err: errors.New("disk full")}
	p := NewPublisher(PublisherConfig{MQTT: pub, Metrics: metrics, Events: store})

	p.Handle(context.Background(), connection.Notification{
		Kind:  connection.EventReceived,
		Info:  testInfo(1, "a", connection.StateReaderConnected),
		Event: &lmpi.Event{UniqueName: "a", UserID: 1, Incidence: "denied"},
	})

	if len(metrics.events) != 1 {
		t.Error("metrics skipped after MQTT failure")
	}
}

func TestPublisherDisconnectedMQTT(t *testing.T) {
	pub := newFakePublisher()
	pub.connected = false
	metrics := &fakeMetrics{}
	p := NewPublisher(PublisherConfig{MQTT: pub, Metrics: metrics})

	p.Handle(context.Background(), connection.Notification{
		Kind: connection.StateChanged,
		Info: testInfo(1, "a", connection.StateConnecting),
	})

	if n := len(pub.all()); n != 0 {
		t.Errorf("published %d messages while disconnected", n)
	}
	if len(metrics.states) != 1 {
		t.Error("metrics not written")
	}
}

func TestPublisherNoSinks(t *testing.T) {
	p := NewPublisher(PublisherConfig{})
	info := testInfo(1, "a", connection.StateReaderConnected)
	info.Capacity = &lmpi.Capacity{Current: 1, Maximum: 2}

	for _, kind := range []connection.NotificationKind{
		connection.StateChanged, connection.EventReceived, connection.CapacityChanged, connection.ReaderRemoved,
	} {
		p.Handle(context.Background(), connection.Notification{Kind: kind, Info: info, Event: &lmpi.Event{}})
	}
}

func TestPublisherStartStop(t *testing.T) {
	pub := newFakePublisher()
	src := newFakeSource()
	p := NewPublisher(PublisherConfig{MQTT: pub})
	p.Start(context.Background(), src)

	src.ch <- connection.Notification{Kind: connection.StateChanged, Info: testInfo(4, "d", connection.StateTCPConnected)}

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.all()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notification not forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		p.Stop()
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() blocked")
	}
}

func TestPublisherStopsOnContextCancel(t *testing.T) {
	src := newFakeSource()
	p := NewPublisher(PublisherConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx, src)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() blocked after context cancel")
	}
}
