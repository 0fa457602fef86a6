package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/cardpass-core/internal/connection"
)

func TestDetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		source     StatsSource
		want       HealthStatus
		wantReason string
	}{
		{
			name: "no source",
			want: HealthHealthy,
		},
		{
			name:       "not ready",
			source:     &fakeStats{},
			want:       HealthStarting,
			wantReason: "loading readers",
		},
		{
			name: "all connected",
			source: &fakeStats{ready: true, stats: connection.Stats{
				Drivers: 2,
				States:  map[string]int{"reader_connected": 2, "idle": 1},
			}},
			want: HealthHealthy,
		},
		{
			name: "some connecting",
			source: &fakeStats{ready: true, stats: connection.Stats{
				Drivers: 3,
				States:  map[string]int{"reader_connected": 1, "connecting": 2},
			}},
			want:       HealthDegraded,
			wantReason: "1 of 3 readers connected",
		},
		{
			name:   "no drivers",
			source: &fakeStats{ready: true, stats: connection.Stats{States: map[string]int{}}},
			want:   HealthHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthReporter(HealthReporterConfig{Source: tt.source})
			got, reason := h.determineStatus()
			if got != tt.want {
				t.Errorf("status = %q, want %q", got, tt.want)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestHealthReporterDefaults(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if h.interval != DefaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.interval, DefaultHealthInterval)
	}
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher = %v", err)
	}
}

func TestHealthReporterPublishNow(t *testing.T) {
	pub := newFakePublisher()
	src := &fakeStats{ready: true, stats: connection.Stats{
		Readers: 2, Drivers: 1, States: map[string]int{"reader_connected": 1},
	}}
	h := NewHealthReporter(HealthReporterConfig{
		SiteID:    "site-001",
		Version:   "1.2.3",
		Publisher: pub,
		Source:    src,
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	msg, ok := pub.last()
	if !ok {
		t.Fatal("nothing published")
	}
	if msg.topic != "cardpass/system/health" || !msg.retained {
		t.Errorf("published %q retained=%v", msg.topic, msg.retained)
	}
	hm := msg.v.(HealthMessage)
	if hm.Status != HealthHealthy || hm.SiteID != "site-001" || hm.Version != "1.2.3" {
		t.Errorf("health message = %+v", hm)
	}
	if !hm.Ready || hm.Stats.Readers != 2 {
		t.Errorf("stats = %+v ready=%v", hm.Stats, hm.Ready)
	}
}

func TestHealthReporterLoopAndStop(t *testing.T) {
	pub := newFakePublisher()
	h := NewHealthReporter(HealthReporterConfig{
		SiteID:    "site-001",
		Interval:  10 * time.Millisecond,
		Publisher: pub,
		Source:    &fakeStats{ready: true, stats: connection.Stats{States: map[string]int{}}},
	})
	h.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.all()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("published %d health messages, want at least 3", len(pub.all()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Stop()
	h.Stop()

	msg, _ := pub.last()
	if hm := msg.v.(HealthMessage); hm.Status != HealthStopping {
		t.Errorf("final status = %q, want stopping", hm.Status)
	}

	n := len(pub.all())
	time.Sleep(30 * time.Millisecond)
	if len(pub.all()) != n {
		t.Error("health published after Stop")
	}
}

func TestHealthReporterSkipsWhenDisconnected(t *testing.T) {
	pub := newFakePublisher()
	pub.connected = false
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub, Source: &fakeStats{}})

	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() = %v", err)
	}
	if len(pub.all()) != 0 {
		t.Error("published while disconnected")
	}
}

func TestHealthMessageStartingReason(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{Source: &fakeStats{}})
	status, reason := h.determineStatus()
	hm := h.buildMessage(status, reason)
	if hm.Ready || !strings.Contains(hm.Reason, "loading") {
		t.Errorf("health message = %+v", hm)
	}
}
